// Package entity holds the per-stream handlers that turn Singer records into
// OIC REST calls.
package entity

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Record is one upstream RECORD message. Immutable once dispatched.
type Record struct {
	Stream string
	Fields map[string]any
	Raw    json.RawMessage
	// KeyProperties come from the stream's SCHEMA message, when one was seen
	KeyProperties []string
}

// NewRecord parses raw as a JSON object
func NewRecord(stream string, raw json.RawMessage, keyProperties []string) (*Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("record for stream %s is not a JSON object: %w", stream, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("record for stream %s is null", stream)
	}
	return &Record{
		Stream:        stream,
		Fields:        fields,
		Raw:           raw,
		KeyProperties: keyProperties,
	}, nil
}

// Get returns the value at a gjson path
func (r *Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Raw, path)
}

// String returns the first non-empty value among paths, as a string
func (r *Record) String(paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			if s := v.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

// Value returns the first present, non-null value among paths
func (r *Record) Value(paths ...string) any {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v.Value()
		}
	}
	return nil
}
