package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// InsertJobEvent appends one row to the audit/idempotency log.
// Returns ErrDuplicateEvent when the dedup key already exists; two
// concurrent deliveries race to insert and exactly one succeeds. The
// loser must not apply domain side effects.
func (c *Client) InsertJobEvent(ctx context.Context, ev models.JobEvent) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE job_event CONTENT {
			dedup_key: $dedup_key,
			kind: $kind,
			job_id: $job_id,
			task_id: $task_id,
			purpose: $purpose,
			status: $status,
			source: $source,
			event_seq: $event_seq,
			event_id: $event_id,
			event_ts: $event_ts,
			message: $message,
			payload: $payload,
			created_at: time::now()
		}
	`, map[string]any{
		"dedup_key": ev.DedupKey,
		"kind":      string(ev.Kind),
		"job_id":    ev.JobID,
		"task_id":   ev.TaskID,
		"purpose":   ev.Purpose,
		"status":    string(ev.Status),
		"source":    string(ev.Source),
		"event_seq": ev.EventSeq,
		"event_id":  ev.EventID,
		"event_ts":  ev.EventTs,
		"message":   ev.Message,
		"payload":   ev.Payload,
	})
	if err != nil {
		wrapped := wrapQueryError(err)
		if errors.Is(wrapped, ErrDuplicateEvent) {
			return wrapped
		}
		return fmt.Errorf("insert job event: %w", wrapped)
	}
	return nil
}

// DeleteJobEvent removes an event row by dedup key. The applier calls it
// to compensate when domain writes fail after the insert won the race,
// so the sender's retry is not swallowed as a duplicate.
func (c *Client) DeleteJobEvent(ctx context.Context, dedupKey string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE job_event WHERE dedup_key = $dedup_key
	`, map[string]any{"dedup_key": dedupKey})
	if err != nil {
		return fmt.Errorf("delete job event: %w", err)
	}
	return nil
}

// LatestEventSeq returns the highest event_seq recorded for a job, or
// nil when no event carried a sequence number.
func (c *Client) LatestEventSeq(ctx context.Context, jobID string) (*int64, error) {
	results, err := surrealdb.Query[[]struct {
		EventSeq int64 `json:"event_seq"`
	}](ctx, c.db, `
		SELECT event_seq FROM job_event
		WHERE job_id = $job_id AND event_seq != NONE
		ORDER BY event_seq DESC LIMIT 1
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("latest event seq: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0].EventSeq, nil
}

// LatestEventTime returns the created_at of the most recent event for a
// job, or nil when the job has no events yet.
func (c *Client) LatestEventTime(ctx context.Context, jobID string) (*time.Time, error) {
	results, err := surrealdb.Query[[]struct {
		CreatedAt time.Time `json:"created_at"`
	}](ctx, c.db, `
		SELECT created_at FROM job_event WHERE job_id = $job_id
		ORDER BY created_at DESC LIMIT 1
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("latest event time: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0].CreatedAt, nil
}

// ListJobEvents returns all events for a job ordered oldest first.
func (c *Client) ListJobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	results, err := surrealdb.Query[[]models.JobEvent](ctx, c.db, `
		SELECT * FROM job_event WHERE job_id = $job_id ORDER BY created_at ASC
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("list job events: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}
