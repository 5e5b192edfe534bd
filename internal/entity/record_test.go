package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord(t *testing.T, stream, raw string, keyProperties ...string) *Record {
	t.Helper()
	rec, err := NewRecord(stream, json.RawMessage(raw), keyProperties)
	require.NoError(t, err)
	return rec
}

func TestNewRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "object", raw: `{"id":"C1"}`},
		{name: "empty object", raw: `{}`},
		{name: "null", raw: `null`, wantErr: true},
		{name: "array", raw: `[1,2]`, wantErr: true},
		{name: "garbage", raw: `{"id":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, err := NewRecord("connections", json.RawMessage(tt.raw), nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "connections", rec.Stream)
			assert.NotNil(t, rec.Fields)
		})
	}
}

func TestRecord_Accessors(t *testing.T) {
	t.Parallel()

	rec := newTestRecord(t, "connections",
		`{"id":"","code":"C1","nested":{"n":3},"flag":false,"none":null,"list":[1,2]}`)

	assert.Equal(t, "C1", rec.String("id", "code"), "empty strings fall through")
	assert.Equal(t, "3", rec.String("nested.n"))
	assert.Equal(t, "", rec.String("missing", "none"))

	assert.Equal(t, false, rec.Value("flag"))
	assert.Equal(t, []any{float64(1), float64(2)}, rec.Value("list"))
	assert.Nil(t, rec.Value("none"))
	assert.Equal(t, "", rec.Value("id"), "present empty strings are values")
}
