package singer

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`{"type":"SCHEMA","stream":"connections","schema":{"properties":{"id":{"type":"string"}}},"key_properties":["id"]}`,
		``,
		`{"type":"RECORD","stream":"connections","record":{"id":"C1"}}`,
		`   `,
		`{"type":"ACTIVATE_VERSION","stream":"connections","version":1}`,
		`{"type":"STATE","value":{"bookmarks":{"connections":{"id":"C1"}}}}`,
	}, "\n")

	r := NewReader(strings.NewReader(input))

	msg, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeSchema, msg.Type)
	assert.Equal(t, []string{"id"}, msg.KeyProperties)
	assert.Equal(t, 1, msg.Line)

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeRecord, msg.Type)
	assert.True(t, msg.HasRecord())
	assert.Equal(t, 3, msg.Line)

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, MessageType("ACTIVATE_VERSION"), msg.Type)

	msg, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, TypeState, msg.Type)
	assert.JSONEq(t, `{"bookmarks":{"connections":{"id":"C1"}}}`, string(msg.Value))
	assert.Equal(t, 6, msg.Line)

	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "truncated json", input: `{"type":"RECORD","stream":`},
		{name: "not an object", input: `["RECORD"]`},
		{name: "missing type", input: `{"stream":"connections"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := NewReader(strings.NewReader(`{"type":"STATE","value":{}}` + "\n" + tt.input + "\n"))
			_, err := r.Next()
			require.NoError(t, err)

			_, err = r.Next()
			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, 2, parseErr.Line)
		})
	}
}

func TestReader_LongLines(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("A", 1<<20)
	r := NewReader(strings.NewReader(`{"type":"RECORD","stream":"packages","record":{"archive_content":"` + big + `"}}`))

	msg, err := r.Next()
	require.NoError(t, err)
	assert.Greater(t, len(msg.Record), 1<<20)
}

func TestMessage_HasRecord(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Message{Record: []byte(` {"a":1}`)}).HasRecord())
	assert.False(t, (&Message{Record: []byte(`null`)}).HasRecord())
	assert.False(t, (&Message{Record: []byte(`[1]`)}).HasRecord())
	assert.False(t, (&Message{}).HasRecord())
}
