package singer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
)

const bookmarksKey = "bookmarks"

// State is the value of a STATE message split into per-stream bookmarks and
// everything else
type State struct {
	Bookmarks map[string]json.RawMessage
	Other     map[string]json.RawMessage
}

// ParseState decodes a STATE value. A value without bookmarks is valid.
func ParseState(value json.RawMessage) (*State, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(value, &top); err != nil {
		return nil, fmt.Errorf("state value is not a JSON object: %w", err)
	}

	s := &State{Bookmarks: map[string]json.RawMessage{}, Other: map[string]json.RawMessage{}}
	for k, v := range top {
		if k != bookmarksKey {
			s.Other[k] = v
			continue
		}
		if err := json.Unmarshal(v, &s.Bookmarks); err != nil {
			return nil, fmt.Errorf("state bookmarks are not a JSON object: %w", err)
		}
		if s.Bookmarks == nil {
			s.Bookmarks = map[string]json.RawMessage{}
		}
	}
	return s, nil
}

// Clone returns a deep copy of the maps
func (s *State) Clone() *State {
	return &State{Bookmarks: maps.Clone(s.Bookmarks), Other: maps.Clone(s.Other)}
}

// MarshalJSON encodes the state back into a single object
func (s *State) MarshalJSON() ([]byte, error) {
	top := make(map[string]any, len(s.Other)+1)
	for k, v := range s.Other {
		top[k] = v
	}
	if len(s.Bookmarks) > 0 {
		top[bookmarksKey] = s.Bookmarks
	}
	return json.Marshal(top)
}

// StateWriter emits state values, one JSON object per line. Consecutive
// identical states are written once.
type StateWriter struct {
	w    io.Writer
	last []byte
}

// NewStateWriter creates a StateWriter on w
func NewStateWriter(w io.Writer) *StateWriter {
	return &StateWriter{w: w}
}

// Write emits s unless it equals the previously written state
func (sw *StateWriter) Write(s *State) (bool, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("failed to encode state: %w", err)
	}
	if bytes.Equal(data, sw.last) {
		return false, nil
	}
	if _, err := sw.w.Write(append(data, '\n')); err != nil {
		return false, fmt.Errorf("failed to write state: %w", err)
	}
	sw.last = data
	return true, nil
}

// Last returns the last written state, or nil
func (sw *StateWriter) Last() json.RawMessage {
	return sw.last
}
