// Package blob exposes the artifact store used for label PDFs and inventory
// exports. Callers depend on Store; only this package imports the backends.
package blob

import (
	"context"
	"fmt"
	"time"

	"krakefactory/internal/blob/core"
	"krakefactory/internal/config"
	"krakefactory/internal/infra/blob/fs"
	memorystore "krakefactory/internal/infra/blob/memory"
	infraS3 "krakefactory/internal/infra/blob/s3"
)

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrExists      = core.ErrExists
	ErrNotFound    = core.ErrNotFound
)

// Open selects a Store from cfg.Driver (fs when empty).
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem returns a filesystem-backed Store rooted at root.
func NewFilesystem(root string, opts ...fs.Option) (Store, error) {
	return fs.New(root, opts...)
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New(time.Now) }

// S3Config configures NewS3.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests exposes the fake-transport S3 store to other packages' tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
