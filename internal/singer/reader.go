package singer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ParseError reports an input line that is not a JSON object
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: invalid Singer message: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Reader decodes newline-delimited Singer messages. Lines are not length
// limited since records may carry base64 archives.
type Reader struct {
	r    *bufio.Reader
	line int
}

// NewReader creates a Reader over r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next message, skipping blank lines. It returns io.EOF at
// the end of the input and a *ParseError for malformed lines.
func (r *Reader) Next() (*Message, error) {
	for {
		raw, err := r.r.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			return nil, err
		}
		r.line++

		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}

		msg := &Message{Line: r.line}
		if jsonErr := json.Unmarshal(raw, msg); jsonErr != nil {
			return nil, &ParseError{Line: r.line, Err: jsonErr}
		}
		if msg.Type == "" {
			return nil, &ParseError{Line: r.line, Err: errors.New(`missing "type"`)}
		}
		// A final line without newline is still a message
		return msg, nil
	}
}
