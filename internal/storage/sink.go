package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kalshi_go/pkg/quant"
)

// Kind names the append-only stream a record belongs to.
type Kind string

const (
	KindSignal     Kind = "signal"
	KindOrder      Kind = "order"
	KindOrderEvent Kind = "order_event"
	KindArbitrage  Kind = "arbitrage"
	KindAlert      Kind = "alert"
)

// Record is one fire-and-forget write from the decision path.
type Record struct {
	Kind    Kind            `json:"kind"`
	Key     string          `json:"key"` // Ticker or event ticker
	Ts      quant.TimeStamp `json:"ts"`
	Payload any             `json:"payload"`
}

// Backend persists batches of records.
type Backend interface {
	Write(ctx context.Context, recs []Record) error
	Close() error
}

// Appender accepts records without blocking.
type Appender interface {
	Append(rec Record) bool
}

// Discard drops every record. Used when persistence is disabled.
type Discard struct{}

// Append implements Appender.
func (Discard) Append(Record) bool { return true }

// AsyncSink decouples the decision path from persistence latency and failures.
// Records are queued into a bounded channel and written in batches by one goroutine.
type AsyncSink struct {
	backends     []Backend
	queue        chan Record
	batchSize    int
	flushEvery   time.Duration
	writeTimeout time.Duration

	dropped atomic.Uint64
	failed  atomic.Uint64
	OnDrop  func(kind Kind)

	wg     sync.WaitGroup
	mu     sync.RWMutex // Guards queue close against concurrent Append
	closed bool
}

// NewAsyncSink creates a sink that fans out to every backend.
func NewAsyncSink(capacity int, backends ...Backend) *AsyncSink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &AsyncSink{
		backends:     backends,
		queue:        make(chan Record, capacity),
		batchSize:    64,
		flushEvery:   250 * time.Millisecond,
		writeTimeout: 5 * time.Second,
	}
}

// Start launches the writer goroutine. It drains the queue after ctx is done.
func (s *AsyncSink) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Append enqueues a record. A full queue drops the record and returns false.
func (s *AsyncSink) Append(rec Record) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	if rec.Ts == 0 {
		rec.Ts = quant.Now()
	}
	select {
	case s.queue <- rec:
		return true
	default:
		s.dropped.Add(1)
		if s.OnDrop != nil {
			s.OnDrop(rec.Kind)
		}
		return false
	}
}

// Dropped returns the number of records lost to a full queue.
func (s *AsyncSink) Dropped() uint64 { return s.dropped.Load() }

// Failed returns the number of failed batch writes.
func (s *AsyncSink) Failed() uint64 { return s.failed.Load() }

// Close stops accepting records, waits for the writer to drain and closes every backend.
func (s *AsyncSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()

	var firstErr error
	for _, b := range s.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *AsyncSink) run(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("SINK_WRITER_PANIC", slog.Any("panic", r))
		}
	}()

	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	batch := make([]Record, 0, s.batchSize)
	for {
		select {
		case rec, ok := <-s.queue:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			// Keep draining until Close closes the queue.
			ctx = context.Background()
		}
	}
}

func (s *AsyncSink) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	for _, b := range s.backends {
		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		err := b.Write(ctx, batch)
		cancel()
		if err != nil {
			s.failed.Add(1)
			slog.Warn("Sink write failed", slog.Int("records", len(batch)), slog.Any("error", err))
		}
	}
}
