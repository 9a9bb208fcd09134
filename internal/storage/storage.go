// Package storage uploads directory exports to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jjudge-oj/authserver/config"
)

// ErrDisabled is returned by NewBackend when no object store is configured.
var ErrDisabled = errors.New("object storage disabled")

// Object is a fully buffered upload. Exports are small enough to hold in
// memory, which lets every backend send an exact content length.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	// Metadata is stored as user metadata on the object.
	Metadata map[string]string
}

// ObjectStorage defines the object operations used for directory exports.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, obj Object) error
	Bucket() string
}

// Storage wraps an ObjectStorage backend and validates objects before they
// reach it.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// NewBackend connects to the object store selected by cfg.Backend.
func NewBackend(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case config.StorageBackendMinio:
		client, err := NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StorageBackendGCS:
		client, err := NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.StorageBackendNone, "":
		return nil, ErrDisabled
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads obj. Keys must be relative and non-empty.
func (s *Storage) Put(ctx context.Context, obj Object) error {
	if err := validateKey(obj.Key); err != nil {
		return err
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return s.backend.Put(ctx, obj)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

func validateKey(key string) error {
	switch {
	case strings.TrimSpace(key) == "":
		return errors.New("object key is required")
	case strings.HasPrefix(key, "/"):
		return fmt.Errorf("object key %q must be relative", key)
	case strings.Contains(key, ".."):
		return fmt.Errorf("object key %q must not contain '..'", key)
	}
	return nil
}
