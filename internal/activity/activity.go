// Package activity implements the non-blocking, batched usage-event logger.
//
// Generalizes the request logger's buffered-channel / batch-flush / dropped-
// counter shape to the full per-request billing event (tokens, cost, latency,
// finish reason) and decouples the flush target behind a Sink, so the same
// pipeline can write to slog (the open-source default) or to ClickHouse (the
// managed deployment's analytics store) without touching the hot path.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Event is one billed or attempted request.
type Event struct {
	ID               uuid.UUID
	UserID           string
	SessionID        string
	Endpoint         string
	Provider         string
	Model            string
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
	CostUSD          float64
	LatencyMs        uint32
	FinishReason     string
	Cached           bool
	Metadata         map[string]string
	CreatedAt        time.Time
}

// Sink persists a batch of events. Implementations must not block the
// caller for long — Flush is called from the logger's own background
// goroutine, never from the request path.
type Sink interface {
	Flush(ctx context.Context, events []Event) error
}

// SlogSink writes each event as a structured log line. The default sink for
// deployments without an analytics store configured.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink creates a Sink backed by the given logger, defaulting to a
// JSON stdout logger when log is nil.
func NewSlogSink(log *slog.Logger) *SlogSink {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &SlogSink{log: log}
}

func (s *SlogSink) Flush(ctx context.Context, events []Event) error {
	for _, e := range events {
		s.log.InfoContext(ctx, "activity",
			slog.String("id", e.ID.String()),
			slog.String("user_id", e.UserID),
			slog.String("endpoint", e.Endpoint),
			slog.String("provider", e.Provider),
			slog.String("model", e.Model),
			slog.Uint64("prompt_tokens", uint64(e.PromptTokens)),
			slog.Uint64("completion_tokens", uint64(e.CompletionTokens)),
			slog.Uint64("total_tokens", uint64(e.TotalTokens)),
			slog.Float64("cost_usd", e.CostUSD),
			slog.Uint64("latency_ms", uint64(e.LatencyMs)),
			slog.String("finish_reason", e.FinishReason),
			slog.Bool("cached", e.Cached),
			slog.Time("created_at", normalizeTime(e.CreatedAt)),
		)
	}
	return nil
}

// Logger batches Events off the hot path and flushes them to a Sink. Entries
// submitted after the internal buffer (10 000) is full are dropped and
// counted in DroppedEvents rather than blocking the caller.
type Logger struct {
	ch        chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	baseCtx context.Context
	sink    Sink
}

// New creates a Logger flushing to sink. A nil sink defaults to NewSlogSink(nil).
func New(ctx context.Context, sink Sink) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("activity: context must not be nil")
	}
	if sink == nil {
		sink = NewSlogSink(nil)
	}

	l := &Logger{
		ch:      make(chan Event, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		sink:    sink,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Record submits an event for asynchronous flushing. Never blocks.
func (l *Logger) Record(e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	select {
	case l.ch <- e:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

// DroppedEvents returns the count of events dropped because the internal
// buffer was full.
func (l *Logger) DroppedEvents() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Close stops the background flusher after draining the current buffer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := l.sink.Flush(ctx, batch); err != nil {
			slog.ErrorContext(ctx, "activity: flush failed", slog.String("error", err.Error()))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
