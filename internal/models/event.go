package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// EventSource records which path produced a job event.
type EventSource string

const (
	SourceCallback   EventSource = "callback"
	SourceReconciler EventSource = "reconciler"
)

// JobEvent is one row of the append-only audit/idempotency log.
// DedupKey carries a UNIQUE index; a duplicate insert is dropped, never
// overwritten, and that conflict is the dedup mechanism.
type JobEvent struct {
	ID        surrealmodels.RecordID `json:"id,omitempty"`
	DedupKey  string                 `json:"dedup_key"`
	Kind      TaskKind               `json:"kind"`
	JobID     string                 `json:"job_id"`
	TaskID    *string                `json:"task_id,omitempty"`
	Purpose   string                 `json:"purpose"`
	Status    TaskStatus             `json:"status"`
	Source    EventSource            `json:"source"`
	EventSeq  *int64                 `json:"event_seq,omitempty"`
	EventID   *string                `json:"event_id,omitempty"`
	EventTs   *time.Time             `json:"event_ts,omitempty"`
	Message   *string                `json:"message,omitempty"`
	Payload   map[string]any         `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EventDedupKey derives the stable idempotency key for a delivery.
// Preference order: eventSeq, then eventId, then the event timestamp.
// Two deliveries reporting the same (source, kind, jobId, eventSeq) must
// map to the same key so exactly one insert wins.
func EventDedupKey(source EventSource, kind TaskKind, jobID string, seq *int64, eventID string, ts time.Time) string {
	prefix := fmt.Sprintf("%s:%s:%s", source, kind, jobID)
	switch {
	case seq != nil:
		return fmt.Sprintf("%s:%d", prefix, *seq)
	case eventID != "":
		return fmt.Sprintf("%s:event:%s", prefix, eventID)
	default:
		return fmt.Sprintf("%s:ts:%d", prefix, ts.UnixNano())
	}
}
