package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"krakefactory/internal/blob/core"
)

func TestStoreRoundTripAndIsolation(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(func() time.Time { return fixed })
	ctx := context.Background()
	md := map[string]string{"serial": "BRD-7"}
	info, err := s.Put(ctx, "labels/BRD-7/x.pdf", strings.NewReader("pdf"), core.PutOptions{ContentType: "application/pdf", Metadata: md})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	md["serial"] = "changed"
	if !info.LastModified.Equal(fixed) || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}

	got, rc, err := s.Get(ctx, "labels/BRD-7/x.pdf")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "pdf" || got.Metadata["serial"] != "BRD-7" {
		t.Fatalf("stored copy mutated: %q %+v", b, got)
	}
	if _, err := s.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.PresignURL(ctx, "labels/BRD-7/x.pdf", core.SignedURLOptions{}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	if _, err := s.Put(ctx, "../x", strings.NewReader(""), core.PutOptions{}); err == nil {
		t.Fatalf("expected invalid key")
	}
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
}
