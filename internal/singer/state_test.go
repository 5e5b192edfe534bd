package singer

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseState(t *testing.T) {
	t.Parallel()

	s, err := ParseState(json.RawMessage(`{"bookmarks":{"connections":{"id":"C9"}},"currently_syncing":"connections"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"C9"}`, string(s.Bookmarks["connections"]))
	assert.JSONEq(t, `"connections"`, string(s.Other["currently_syncing"]))

	empty, err := ParseState(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, empty.Bookmarks)

	_, err = ParseState(json.RawMessage(`"nope"`))
	assert.Error(t, err)
	_, err = ParseState(json.RawMessage(`{"bookmarks":[1]}`))
	assert.Error(t, err)
}

func TestState_MarshalJSON(t *testing.T) {
	t.Parallel()

	s := &State{
		Bookmarks: map[string]json.RawMessage{"lookups": json.RawMessage(`{"name": "L1"}`)},
		Other:     map[string]json.RawMessage{"version": json.RawMessage(`2`)},
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bookmarks":{"lookups":{"name":"L1"}},"version":2}`, string(data))

	clone := s.Clone()
	clone.Bookmarks["projects"] = json.RawMessage(`{}`)
	assert.NotContains(t, s.Bookmarks, "projects")

	data, err = json.Marshal(&State{Other: map[string]json.RawMessage{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestStateWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := NewStateWriter(&buf)

	s1 := &State{Bookmarks: map[string]json.RawMessage{"connections": json.RawMessage(`{"id":"C1"}`)}}
	written, err := w.Write(s1)
	require.NoError(t, err)
	assert.True(t, written)

	written, err = w.Write(s1.Clone())
	require.NoError(t, err)
	assert.False(t, written, "identical states are written once")

	s2 := &State{Bookmarks: map[string]json.RawMessage{"connections": json.RawMessage(`{"id":"C2"}`)}}
	written, err = w.Write(s2)
	require.NoError(t, err)
	assert.True(t, written)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"bookmarks":{"connections":{"id":"C2"}}}`, lines[1])
	assert.JSONEq(t, lines[1], string(w.Last()))
}
