package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"krakefactory/internal/adapters/export"
	"krakefactory/internal/adapters/httpapi"
	"krakefactory/internal/blob"
	"krakefactory/internal/core"
	"krakefactory/internal/infra/persistence/sqlite"
)

// TestIntegrationHTTPStack drives the public API over a real listener, a
// sqlite database and a mocked S3 bucket.
func TestIntegrationHTTPStack(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "stack.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc := core.NewService(store)
	bucket := blob.NewMockS3ForTests()
	worker := export.NewWorker(svc, bucket, export.WithQueueSize(4))
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })

	api := httpapi.New(svc, httpapi.WithExports(worker), httpapi.WithBlobStore(bucket))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	for _, body := range []string{
		`{"board":{"serial_number":"BRD-100","batch":"B7"},"test_run":{"overall_result":"PASS"}}`,
		`{"board":{"serial_number":"BRD-200"},"test_run":{"overall_result":"FAIL"},"unpowered":{"res_tp103_tp101_5v":0}}`,
		`{"board":{"serial_number":"BRD-100","batch":"ignored"},"test_run":{"overall_result":"PASS","comments":"retest"}}`,
	} {
		resp, err := http.Post(srv.URL+"/api/test-run", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("submit status %d", resp.StatusCode)
		}
	}

	var detail struct {
		Board struct {
			Batch *string `json:"batch"`
		} `json:"board"`
		TestRuns []struct {
			Comments *string `json:"comments"`
		} `json:"test_runs"`
	}
	getJSON(t, srv.URL+"/api/board/BRD-100", &detail)
	if detail.Board.Batch == nil || *detail.Board.Batch != "B7" {
		t.Fatalf("board attributes must come from the first submission: %+v", detail.Board)
	}
	if len(detail.TestRuns) != 2 || detail.TestRuns[0].Comments == nil || *detail.TestRuns[0].Comments != "retest" {
		t.Fatalf("expected newest run first: %+v", detail.TestRuns)
	}

	var rows []map[string]any
	getJSON(t, srv.URL+"/api/test-runs", &rows)
	if len(rows) != 3 || rows[0]["serial_number"] != "BRD-100" || rows[1]["serial_number"] != "BRD-200" {
		t.Fatalf("unexpected summaries: %+v", rows)
	}

	label := postLabel(t, srv.URL, "BRD-200")
	if label.Header.Get("Content-Type") != "application/pdf" {
		t.Fatalf("label content type %q", label.Header.Get("Content-Type"))
	}
	key := label.Header.Get("X-Label-Key")
	if !strings.HasPrefix(key, "labels/BRD-200/") {
		t.Fatalf("unexpected label key %q", key)
	}
	if _, err := bucket.Head(ctx, key); err != nil {
		t.Fatalf("label not archived: %v", err)
	}

	resp, err := http.Post(srv.URL+"/api/exports", "application/json", strings.NewReader(`{"format":"csv","requested_by":"integration"}`))
	if err != nil {
		t.Fatalf("create export: %v", err)
	}
	var created struct {
		Export export.Record `json:"export"`
	}
	decode(t, resp, &created)

	deadline := time.Now().Add(5 * time.Second)
	var done struct {
		Export export.Record `json:"export"`
	}
	for time.Now().Before(deadline) {
		getJSON(t, srv.URL+"/api/exports/"+created.Export.ID, &done)
		if done.Export.Status == export.StatusSucceeded || done.Export.Status == export.StatusFailed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if done.Export.Status != export.StatusSucceeded || done.Export.Artifact == nil {
		t.Fatalf("export did not succeed: %+v", done.Export)
	}
	if done.Export.Artifact.URL == "" {
		t.Fatalf("expected presigned artifact URL")
	}
	_, rc, err := bucket.Get(ctx, done.Export.Artifact.Key)
	if err != nil {
		t.Fatalf("artifact get: %v", err)
	}
	csvBody, _ := io.ReadAll(rc)
	_ = rc.Close()
	if got := strings.Count(strings.TrimSpace(string(csvBody)), "\n"); got != 3 {
		t.Fatalf("expected header plus 3 rows, got %d newlines:\n%s", got, csvBody)
	}
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	decode(t, resp, v)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func postLabel(t *testing.T, base, serial string) *http.Response {
	t.Helper()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("png: %v", err)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("serial", serial)
	fw, err := mw.CreateFormFile("qr_image", "qr.png")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	_, _ = fw.Write(img.Bytes())
	_ = mw.Close()

	resp, err := http.Post(base+"/api/labels/qr-image-pdf", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post label: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("label status %d", resp.StatusCode)
	}
	return resp
}
