package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"krakefactory/internal/blob/core"
)

func newMockStore(t *testing.T) (*Store, *MockTransport) {
	t.Helper()
	rt := NewMockTransport()
	store, err := New(context.Background(), Config{
		Bucket:          MockBucket,
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: rt},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return store, rt
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestPutGetCarriesMetadata(t *testing.T) {
	store, rt := newMockStore(t)
	ctx := context.Background()
	_, err := store.Put(ctx, "exports/job-1.xlsx", bytes.NewReader([]byte("xlsx-bytes")), core.PutOptions{
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Metadata:    map[string]string{"format": "xlsx"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	info, rc, err := store.Get(ctx, "exports/job-1.xlsx")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "xlsx-bytes" {
		t.Fatalf("unexpected body %q", body)
	}
	if info.Metadata["format"] != "xlsx" || info.ETag != "mock-etag" || info.Size != 10 {
		t.Fatalf("unexpected info %+v", info)
	}
	if rt.Requests[http.MethodPut] != 1 {
		t.Fatalf("expected one upload, got %d", rt.Requests[http.MethodPut])
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	store, rt := newMockStore(t)
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("1"), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, "k", strings.NewReader("2"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if rt.Requests[http.MethodPut] != 1 {
		t.Fatalf("second put must not upload")
	}
}

func TestMissingObjects(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	existed, err := store.Delete(ctx, "nope")
	if err != nil || existed {
		t.Fatalf("delete missing: %v %v", existed, err)
	}
}

func TestPresignURL(t *testing.T) {
	store, _ := newMockStore(t)
	ctx := context.Background()
	url, err := store.PresignURL(ctx, "labels/BRD-1/a.pdf", core.SignedURLOptions{Expiry: 5 * time.Minute})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "mock.s3.local/"+MockBucket+"/labels/BRD-1/a.pdf") || !strings.Contains(url, "X-Amz-Expires=300") {
		t.Fatalf("unexpected url %s", url)
	}
	if _, err := store.PresignURL(ctx, "k", core.SignedURLOptions{Method: "DELETE"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestListOrdersKeys(t *testing.T) {
	store := NewMockForTests()
	ctx := context.Background()
	for _, k := range []string{"labels/z.pdf", "labels/a.pdf", "exports/q.csv"} {
		if _, err := store.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "labels/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "labels/a.pdf" || list[1].Size != int64(len("labels/z.pdf")) {
		t.Fatalf("unexpected list %+v", list)
	}
	if store.Bucket() != MockBucket || store.Driver() != core.DriverS3 {
		t.Fatalf("unexpected identity")
	}
}

func TestDecodeChunked(t *testing.T) {
	in := []byte("5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n")
	if got := string(decodeChunked(in)); got != "hello world" {
		t.Fatalf("unexpected decode %q", got)
	}
}
