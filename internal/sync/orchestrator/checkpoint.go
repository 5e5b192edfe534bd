package orchestrator

import (
	"encoding/json"
	"log/slog"

	"github.com/stacklok/oic-target/internal/singer"
)

// checkpointer decides which bookmarks may be emitted. A stream that had a
// FAILED batch keeps the bookmark it had when the failure was seen, so a
// restarted run replays its records.
type checkpointer struct {
	writer *singer.StateWriter
	// emitted is the last state written downstream
	emitted *singer.State
	// held maps failed streams to their frozen bookmark; nil means none was emitted
	held map[string]json.RawMessage
}

func newCheckpointer(w *singer.StateWriter) *checkpointer {
	return &checkpointer{
		writer:  w,
		emitted: &singer.State{},
		held:    make(map[string]json.RawMessage),
	}
}

// hold freezes the bookmarks of streams with a failed batch
func (c *checkpointer) hold(streams ...string) {
	for _, stream := range streams {
		if _, ok := c.held[stream]; ok {
			continue
		}
		c.held[stream] = c.emitted.Bookmarks[stream]
		slog.Warn("Holding back bookmark of stream with a failed batch", "stream", stream)
	}
}

// emit writes the received state with held bookmarks restored. It reports
// whether anything was written.
func (c *checkpointer) emit(received *singer.State) (bool, error) {
	next := received.Clone()
	if next.Bookmarks == nil && len(c.held) > 0 {
		next.Bookmarks = make(map[string]json.RawMessage)
	}
	for stream, bookmark := range c.held {
		if bookmark == nil {
			delete(next.Bookmarks, stream)
			continue
		}
		next.Bookmarks[stream] = bookmark
	}

	written, err := c.writer.Write(next)
	if err != nil {
		return false, err
	}
	if written {
		c.emitted = next
	}
	return written, nil
}
