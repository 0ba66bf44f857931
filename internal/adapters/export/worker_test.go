package export

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"krakefactory/internal/blob"
	"krakefactory/internal/core"
	"krakefactory/pkg/domain"
)

type staticSource struct {
	rows []domain.SummaryRow
	err  error
}

func (s staticSource) ListSummaries(context.Context) ([]domain.SummaryRow, error) {
	return s.rows, s.err
}

type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) add(m string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(m string, _ ...any) { l.add(m) }
func (l *recordingLogger) Info(m string, _ ...any)  { l.add(m) }
func (l *recordingLogger) Warn(m string, _ ...any)  { l.add(m) }
func (l *recordingLogger) Error(m string, _ ...any) { l.add(m) }

func waitFor(t *testing.T, w *Worker, id string, want Status) Record {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, ok := w.Get(id)
		if !ok {
			t.Fatalf("record %s vanished", id)
		}
		if rec.Status == want {
			return rec
		}
		if rec.Status == StatusFailed || rec.Status == StatusSucceeded {
			t.Fatalf("record reached %s (%s), wanted %s", rec.Status, rec.Error, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", want)
	return Record{}
}

func TestWorkerExportsFromService(t *testing.T) {
	svc := core.NewInMemoryService()
	ctx := context.Background()
	for _, serial := range []string{"BRD-1", "BRD-2"} {
		if _, err := svc.SubmitTestRun(ctx, domain.Submission{Board: domain.Board{SerialNumber: serial}}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	store := blob.NewMemory()
	w := NewWorker(svc, store, WithQueueSize(4))
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })

	queued, err := w.Enqueue(ctx, Input{Format: " CSV ", RequestedBy: "ana"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if queued.Status != StatusQueued || queued.Format != FormatCSV || queued.ID == "" {
		t.Fatalf("unexpected queued record %+v", queued)
	}

	done := waitFor(t, w, queued.ID, StatusSucceeded)
	if done.Rows != 2 || done.Artifact == nil || done.CompletedAt == nil {
		t.Fatalf("unexpected finished record %+v", done)
	}
	if done.Artifact.Key != "exports/"+queued.ID+".csv" {
		t.Fatalf("unexpected key %s", done.Artifact.Key)
	}
	_, rc, err := store.Get(ctx, done.Artifact.Key)
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "BRD-2,") {
		t.Fatalf("unexpected artifact %q", body)
	}
}

func TestWorkerSignsURLWhenStoreHasNone(t *testing.T) {
	store := blob.NewMockS3ForTests()
	w := NewWorker(staticSource{}, store)
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	rec, err := w.Enqueue(context.Background(), Input{Format: FormatXLSX})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	done := waitFor(t, w, rec.ID, StatusSucceeded)
	if !strings.Contains(done.Artifact.URL, "X-Amz-Signature") {
		t.Fatalf("expected presigned url, got %q", done.Artifact.URL)
	}
	if done.Artifact.ContentType != FormatXLSX.ContentType() || done.Rows != 0 {
		t.Fatalf("unexpected artifact %+v", done.Artifact)
	}
}

func TestWorkerRecordsFailureOpaquely(t *testing.T) {
	logger := &recordingLogger{}
	w := NewWorker(staticSource{err: errors.New("db password=hunter2 refused")}, blob.NewMemory(), WithLogger(logger))
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	rec, err := w.Enqueue(context.Background(), Input{Format: FormatJSON})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed := waitFor(t, w, rec.ID, StatusFailed)
	if failed.Error != "list summaries failed" || strings.Contains(failed.Error, "hunter2") {
		t.Fatalf("unexpected public error %q", failed.Error)
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if logger.msgs[len(logger.msgs)-1] != "export failed" {
		t.Fatalf("expected failure logged, got %v", logger.msgs)
	}
}

func TestWorkerEnqueueValidation(t *testing.T) {
	w := NewWorker(staticSource{}, blob.NewMemory())
	if _, err := w.Enqueue(context.Background(), Input{Format: "pdf"}); !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	rec, err := w.Enqueue(context.Background(), Input{})
	if err != nil || rec.Format != FormatCSV {
		t.Fatalf("empty format should default to csv: %+v %v", rec, err)
	}
	if _, ok := w.Get("missing"); ok {
		t.Fatalf("unexpected record")
	}
}

func TestWorkerQueueFull(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewWorker(staticSource{}, blob.NewMemory(), WithQueueSize(1), WithClock(func() time.Time { return fixed }))
	first, err := w.Enqueue(context.Background(), Input{})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if !first.CreatedAt.Equal(fixed) {
		t.Fatalf("clock not applied")
	}
	if _, err := w.Enqueue(context.Background(), Input{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestWorkerStopRejectsNewJobs(t *testing.T) {
	w := NewWorker(staticSource{}, blob.NewMemory())
	w.Start()
	if err := w.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := w.Enqueue(context.Background(), Input{}); err == nil {
		t.Fatalf("expected stopped worker to reject jobs")
	}
}

func TestWorkerEvictsFinishedRecords(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	w := NewWorker(staticSource{}, blob.NewMemory(),
		WithQueueSize(8), WithClock(clock), WithMaxFinished(2), WithRetention(time.Hour))
	ctx := context.Background()

	var ids []string
	for range 3 {
		rec, err := w.Enqueue(ctx, Input{})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		w.process(rec.ID)
		ids = append(ids, rec.ID)
		now = now.Add(time.Minute)
	}
	if _, ok := w.Get(ids[0]); ok {
		t.Fatalf("oldest finished record should be evicted beyond the cap")
	}
	for _, id := range ids[1:] {
		if rec, ok := w.Get(id); !ok || rec.Status != StatusSucceeded {
			t.Fatalf("record %s should be kept: %+v", id, rec)
		}
	}

	now = now.Add(2 * time.Hour)
	pending, err := w.Enqueue(ctx, Input{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	for _, id := range ids[1:] {
		if _, ok := w.Get(id); ok {
			t.Fatalf("record %s should expire after the retention", id)
		}
	}
	if rec, ok := w.Get(pending.ID); !ok || rec.Status != StatusQueued {
		t.Fatalf("queued record must survive pruning: %+v", rec)
	}
}
