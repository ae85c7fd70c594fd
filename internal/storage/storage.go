// Package storage abstracts the object store holding manifests and
// produced artifacts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrObjectExists is returned by PutIfAbsent when the key is taken.
var ErrObjectExists = errors.New("object already exists")

// ErrObjectNotFound is returned by Get for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStore is the get/put-by-key collaborator interface. Presign
// produces a time-limited URL workers and browsers can fetch directly.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// PutIfAbsent writes only when the key does not exist yet, returning
	// ErrObjectExists otherwise. This is the write-once primitive the
	// manifest store builds on.
	PutIfAbsent(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
