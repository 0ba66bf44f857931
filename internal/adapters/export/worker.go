package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"krakefactory/internal/blob"
	"krakefactory/internal/core"
	"krakefactory/pkg/domain"
)

// Status describes the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultQueueSize bounds pending jobs when no size is configured.
const DefaultQueueSize = 32

// Finished records are dropped once older than the retention or beyond the
// newest DefaultMaxFinished.
const (
	DefaultRetention   = 24 * time.Hour
	DefaultMaxFinished = 256
)

// ErrQueueFull is returned by Enqueue when the worker cannot accept more jobs.
var ErrQueueFull = errors.New("export queue full")

// Artifact is the stored output of a finished job.
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks one export job.
type Record struct {
	ID          string     `json:"id"`
	Format      Format     `json:"format"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RequestedBy string     `json:"requested_by"`
	Rows        int        `json:"rows"`
	Artifact    *Artifact  `json:"artifact,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input is an enqueue request.
type Input struct {
	Format      Format `json:"format"`
	RequestedBy string `json:"requested_by"`
}

// SummarySource provides the rows to export; *core.Service satisfies it.
type SummarySource interface {
	ListSummaries(ctx context.Context) ([]domain.SummaryRow, error)
}

// Scheduler queues exports and exposes their status.
type Scheduler interface {
	Enqueue(ctx context.Context, input Input) (Record, error)
	Get(id string) (Record, bool)
}

// Worker renders inventory exports in the background and stores them in a blob store.
type Worker struct {
	source SummarySource
	store  blob.Store
	logger core.Logger
	now    func() time.Time

	queue       chan string
	mu          sync.RWMutex
	jobs        map[string]*Record
	retention   time.Duration
	maxFinished int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WorkerOption customises a Worker.
type WorkerOption func(*Worker)

// WithLogger sets the worker logger.
func WithLogger(l core.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock replaces the time source used to stamp records.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithQueueSize bounds the number of pending jobs.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.queue = make(chan string, n)
		}
	}
}

// WithRetention sets how long finished records stay queryable.
func WithRetention(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.retention = d
		}
	}
}

// WithMaxFinished caps the number of finished records kept.
func WithMaxFinished(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxFinished = n
		}
	}
}

// NewWorker constructs an export worker. Call Start to begin processing.
func NewWorker(source SummarySource, store blob.Store, opts ...WorkerOption) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source: source,
		store:  store,
		logger: discardLogger{},
		now:    time.Now,
		queue:  make(chan string, DefaultQueueSize),
		jobs:   make(map[string]*Record),
		ctx:    ctx,
		cancel: cancel,

		retention:   DefaultRetention,
		maxFinished: DefaultMaxFinished,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing export requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates input and schedules a job, returning the queued record.
func (w *Worker) Enqueue(_ context.Context, input Input) (Record, error) {
	format := Format(strings.ToLower(strings.TrimSpace(string(input.Format))))
	if format == "" {
		format = FormatCSV
	}
	if !format.Valid() {
		return Record{}, domain.ValidationError{Field: "format", Message: fmt.Sprintf("format %q is not supported", input.Format)}
	}
	if w.ctx.Err() != nil {
		return Record{}, errors.New("export worker stopped")
	}

	now := w.now().UTC()
	record := &Record{
		ID:          uuid.NewString(),
		Format:      format,
		Status:      StatusQueued,
		RequestedBy: strings.TrimSpace(input.RequestedBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.pruneLocked(now)
	w.jobs[record.ID] = record
	snapshot := record.copy()
	w.mu.Unlock()

	select {
	case w.queue <- record.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, record.ID)
		w.mu.Unlock()
		return Record{}, ErrQueueFull
	}
	w.logger.Info("export queued", "export_id", record.ID, "format", format, "requested_by", record.RequestedBy)
	return snapshot, nil
}

// Get returns a snapshot of the export record.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	record, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return record.copy(), true
}

func (w *Worker) process(id string) {
	w.mu.RLock()
	record, ok := w.jobs[id]
	var format Format
	if ok {
		format = record.Format
	}
	w.mu.RUnlock()
	if !ok {
		return
	}

	w.update(id, func(r *Record) { r.Status = StatusRunning })

	rows, err := w.source.ListSummaries(w.ctx)
	if err != nil {
		w.fail(id, "list summaries", err)
		return
	}
	var buf bytes.Buffer
	if err := Render(&buf, format, rows); err != nil {
		w.fail(id, "render "+string(format), err)
		return
	}
	key := "exports/" + id + "." + string(format)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(buf.Bytes()), blob.PutOptions{
		ContentType: format.ContentType(),
		Metadata:    map[string]string{"export_id": id, "rows": strconv.Itoa(len(rows))},
	})
	if err != nil {
		w.fail(id, "store artifact", err)
		return
	}
	url := info.URL
	if url == "" {
		if signed, err := w.store.PresignURL(w.ctx, key, blob.SignedURLOptions{}); err == nil {
			url = signed
		}
	}

	now := w.now().UTC()
	w.update(id, func(r *Record) {
		r.Status = StatusSucceeded
		r.Error = ""
		r.Rows = len(rows)
		r.Artifact = &Artifact{Key: key, ContentType: format.ContentType(), SizeBytes: info.Size, URL: url, CreatedAt: now}
		r.CompletedAt = &now
	})
	w.logger.Info("export succeeded", "export_id", id, "format", format, "rows", len(rows), "key", key)
}

func (w *Worker) update(id string, mutate func(*Record)) {
	now := w.now().UTC()
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.jobs[id]
	if !ok {
		return
	}
	mutate(record)
	record.UpdatedAt = now
	if record.CompletedAt != nil {
		w.pruneLocked(now)
	}
}

// pruneLocked evicts finished records past the retention, then the oldest
// finished ones beyond maxFinished. Queued and running jobs are never evicted.
func (w *Worker) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	var finished []*Record
	for id, r := range w.jobs {
		if r.CompletedAt == nil {
			continue
		}
		if r.CompletedAt.Before(cutoff) {
			delete(w.jobs, id)
			continue
		}
		finished = append(finished, r)
	}
	if len(finished) <= w.maxFinished {
		return
	}
	slices.SortFunc(finished, func(a, b *Record) int { return a.CompletedAt.Compare(*b.CompletedAt) })
	for _, r := range finished[:len(finished)-w.maxFinished] {
		delete(w.jobs, r.ID)
	}
}

// fail records stage as the public reason; err only reaches the log.
func (w *Worker) fail(id, stage string, err error) {
	now := w.now().UTC()
	w.update(id, func(r *Record) {
		r.Status = StatusFailed
		r.Error = stage + " failed"
		r.CompletedAt = &now
	})
	w.logger.Error("export failed", "export_id", id, "stage", stage, "error", err)
}

func (r *Record) copy() Record {
	dup := *r
	if r.Artifact != nil {
		a := *r.Artifact
		dup.Artifact = &a
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		dup.CompletedAt = &t
	}
	return dup
}

type discardLogger struct{}

func (discardLogger) Debug(string, ...any) {}
func (discardLogger) Info(string, ...any)  {}
func (discardLogger) Warn(string, ...any)  {}
func (discardLogger) Error(string, ...any) {}
