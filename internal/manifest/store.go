// Package manifest persists write-once job manifests in object storage.
// A manifest freezes a job's inputs at submission time; workers read it
// instead of querying application state.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/storage"
)

// ErrAlreadyExists is returned when writing a manifest for a jobId that
// already has one. Re-runs must allocate a new jobId instead.
var ErrAlreadyExists = errors.New("manifest already exists")

// ErrNotFound is returned when no manifest is stored for a jobId.
var ErrNotFound = errors.New("manifest not found")

// Store reads and writes manifests at deterministic keys.
type Store struct {
	objects storage.ObjectStore
}

// NewStore creates a manifest store on top of an object store.
func NewStore(objects storage.ObjectStore) *Store {
	return &Store{objects: objects}
}

// Key returns the deterministic storage key for a job's manifest.
func Key(jobID string) string {
	return fmt.Sprintf("manifests/%s.json", jobID)
}

// Write persists a manifest exactly once. The conditional put guarantees
// a worker can never observe a manifest racing with dispatcher writes.
func (s *Store) Write(ctx context.Context, m models.Manifest) error {
	if m.JobID == "" {
		return errors.New("manifest missing job id")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	err = s.objects.PutIfAbsent(ctx, Key(m.JobID), data, "application/json")
	if errors.Is(err, storage.ErrObjectExists) {
		return fmt.Errorf("%w: job %s", ErrAlreadyExists, m.JobID)
	}
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Get loads the manifest for a job.
func (s *Store) Get(ctx context.Context, jobID string) (*models.Manifest, error) {
	data, err := s.objects.Get(ctx, Key(jobID))
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &m, nil
}

// PresignURL returns a time-limited URL the worker pool can hand to
// engines that fetch the manifest directly.
func (s *Store) PresignURL(ctx context.Context, jobID string, ttl time.Duration) (string, error) {
	return s.objects.Presign(ctx, Key(jobID), ttl)
}
