// Package singer reads the Singer message stream a target consumes and
// writes the state checkpoints it emits.
package singer

import "encoding/json"

// MessageType is the "type" of a Singer message
type MessageType string

// Message types understood by the target. Other types are ignored.
const (
	TypeSchema MessageType = "SCHEMA"
	TypeRecord MessageType = "RECORD"
	TypeState  MessageType = "STATE"
)

// Message is one line of the input stream
type Message struct {
	Type          MessageType     `json:"type"`
	Stream        string          `json:"stream,omitempty"`
	Schema        json.RawMessage `json:"schema,omitempty"`
	KeyProperties []string        `json:"key_properties,omitempty"`
	Record        json.RawMessage `json:"record,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	TimeExtracted string          `json:"time_extracted,omitempty"`

	// Line is the 1-based input line the message was read from
	Line int `json:"-"`
}

// HasRecord reports whether a RECORD message carries a JSON object
func (m *Message) HasRecord() bool {
	for _, b := range m.Record {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
