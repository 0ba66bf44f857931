package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"krakefactory/pkg/domain"
)

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) record(level, msg string) {
	c.mu.Lock()
	c.calls = append(c.calls, level+":"+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.record("d", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.record("i", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.record("w", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.record("e", msg) }

func (c *captureLogger) has(call string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// steppingClock returns start, start+step, start+2*step, ... on successive calls.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

var errForced = errors.New("forced insert failure")

// failingStore wraps a store so selected inserts fail inside the transaction.
type failingStore struct {
	domain.PersistentStore
	failUnpowered bool
	failPowered   bool
	failRun       bool
}

func (f *failingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) error {
	return f.PersistentStore.RunInTransaction(ctx, func(tx domain.Transaction) error {
		return fn(&failingTx{Transaction: tx, store: f})
	})
}

type failingTx struct {
	domain.Transaction
	store *failingStore
}

func (t *failingTx) InsertTestRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error) {
	if t.store.failRun {
		return domain.TestRun{}, errForced
	}
	return t.Transaction.InsertTestRun(ctx, run)
}

func (t *failingTx) InsertUnpoweredResult(ctx context.Context, r domain.UnpoweredResult) (int64, error) {
	if t.store.failUnpowered {
		return 0, errForced
	}
	return t.Transaction.InsertUnpoweredResult(ctx, r)
}

func (t *failingTx) InsertPoweredResult(ctx context.Context, r domain.PoweredResult) (int64, error) {
	if t.store.failPowered {
		return 0, errForced
	}
	return t.Transaction.InsertPoweredResult(ctx, r)
}
