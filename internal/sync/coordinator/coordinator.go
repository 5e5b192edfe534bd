package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/stacklok/oic-target/internal/entity"
	pkgsync "github.com/stacklok/oic-target/internal/sync"
	"github.com/stacklok/oic-target/internal/telemetry"
)

// ErrClosed is returned when records are submitted after Close
var ErrClosed = errors.New("coordinator is closed")

// Coordinator batches records per stream and executes the batches
type Coordinator interface {
	// Submit adds a record to its stream's open batch, handing the batch to
	// the stream's lane when it is full. It blocks while the lane's queue is
	// full and fails once the run hit a fatal error.
	Submit(ctx context.Context, rec *entity.Record) error

	// Flush hands every open batch to its lane and waits until all submitted
	// batches are terminal. It returns the batches finished since the
	// previous Flush.
	Flush(ctx context.Context) ([]*BatchResult, error)

	// Close flushes and stops all lanes
	Close(ctx context.Context) ([]*BatchResult, error)

	// Err returns the first fatal error, if any
	Err() error
}

// DefaultCoordinator is the default implementation of Coordinator
type DefaultCoordinator struct {
	dispatcher pkgsync.Dispatcher
	batchSize  func(stream string) int
	maxErrors  int
	maxWorkers int
	queueDepth int
	tracer     trace.Tracer
	metrics    *telemetry.SyncMetrics
	identify   func(*entity.Record) string

	sem      *semaphore.Weighted
	lanes    map[string]*lane
	running  errgroup.Group
	inflight sync.WaitGroup
	closed   bool

	mu      sync.Mutex
	results []*BatchResult
	fatal   error
}

var _ Coordinator = (*DefaultCoordinator)(nil)

// lane runs the batches of one stream in submission order
type lane struct {
	stream string
	size   int
	open   []*entity.Record
	queue  chan *batch
}

// batch is a unit of work handed to a lane
type batch struct {
	id      string
	stream  string
	records []*entity.Record
	// ctx is the context of the call that sealed the batch
	ctx context.Context
}

// New creates a new coordinator with injected dependencies
func New(dispatcher pkgsync.Dispatcher, opts ...Option) *DefaultCoordinator {
	c := &DefaultCoordinator{
		dispatcher: dispatcher,
		maxWorkers: 1,
		queueDepth: DefaultQueueDepth,
		lanes:      make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxWorkers < 1 {
		c.maxWorkers = 1
	}
	if c.queueDepth < 1 {
		c.queueDepth = 1
	}
	c.sem = semaphore.NewWeighted(int64(c.maxWorkers))
	return c
}

// Submit implements Coordinator
func (c *DefaultCoordinator) Submit(ctx context.Context, rec *entity.Record) error {
	if c.closed {
		return ErrClosed
	}
	if err := c.Err(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := c.lane(rec.Stream)
	l.open = append(l.open, rec)
	if len(l.open) >= l.size {
		return c.seal(ctx, l)
	}
	return nil
}

// Flush implements Coordinator
func (c *DefaultCoordinator) Flush(ctx context.Context) ([]*BatchResult, error) {
	if c.closed {
		return nil, ErrClosed
	}
	var sealErr error
	for _, l := range c.lanes {
		if len(l.open) == 0 {
			continue
		}
		// Keep sealing after a failure so every open record gets a result
		if err := c.seal(ctx, l); err != nil && sealErr == nil {
			sealErr = err
		}
	}
	if sealErr != nil {
		return c.take(), sealErr
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return c.take(), ctx.Err()
	case <-ctx.Done():
		return c.take(), ctx.Err()
	}
}

// Close implements Coordinator
func (c *DefaultCoordinator) Close(ctx context.Context) ([]*BatchResult, error) {
	if c.closed {
		return nil, nil
	}
	results, err := c.Flush(ctx)
	c.closed = true
	for _, l := range c.lanes {
		close(l.queue)
	}
	_ = c.running.Wait()
	// Batches that finished after a cancelled Flush gave up waiting
	return append(results, c.take()...), err
}

// Err implements Coordinator
func (c *DefaultCoordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

func (c *DefaultCoordinator) setFatal(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal == nil {
		c.fatal = err
	}
}

func (c *DefaultCoordinator) lane(stream string) *lane {
	if l, ok := c.lanes[stream]; ok {
		return l
	}
	size := DefaultBatchSize
	if c.batchSize != nil {
		size = c.batchSize(stream)
	}
	if size < 1 {
		size = 1
	}
	l := &lane{stream: stream, size: size, queue: make(chan *batch, c.queueDepth)}
	c.lanes[stream] = l

	c.running.Go(func() error {
		c.run(l)
		return nil
	})
	slog.Debug("Started stream lane", "stream", stream, "batch_size", size)
	return l
}

// seal turns the open records of l into a PENDING batch and queues it
func (c *DefaultCoordinator) seal(ctx context.Context, l *lane) error {
	b := &batch{id: uuid.NewString(), stream: l.stream, records: l.open, ctx: ctx}
	l.open = nil

	c.inflight.Add(1)
	select {
	case l.queue <- b:
		return nil
	case <-ctx.Done():
		// The batch never reached its lane
		c.finish(c.abandoned(b, pkgsync.ReasonCancelled, "run cancelled before the batch was queued"))
		return ctx.Err()
	}
}

func (c *DefaultCoordinator) run(l *lane) {
	for b := range l.queue {
		c.finish(c.process(b))
	}
}

func (c *DefaultCoordinator) finish(res *BatchResult) {
	c.mu.Lock()
	c.results = append(c.results, res)
	c.mu.Unlock()
	c.inflight.Done()
}

func (c *DefaultCoordinator) take() []*BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	results := c.results
	c.results = nil
	return results
}
