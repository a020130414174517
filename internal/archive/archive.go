// Package archive stores audit exports durably outside the library
// snapshot path. Exports are immutable: a key is written once and never
// overwritten. Three drivers are provided behind a factory: local
// filesystem (default), S3-compatible object storage, and an in-memory
// store for tests.
package archive

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies an archive backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrUnsupported indicates an operation isn't supported by a driver.
var ErrUnsupported = errors.New("archive: operation unsupported by driver")

// PutOptions configures an export write.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored export.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the interface all archive backends implement. Put fails when the
// key already exists.
type Store interface {
	Driver() Driver
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
}

func cloneMetadata(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
