// Package models defines data structures for the orchestration database.
package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// TaskKind identifies the type of work a task performs.
type TaskKind string

const (
	KindDownload         TaskKind = "download"
	KindCommentsDownload TaskKind = "comments_download"
	KindChannelSync      TaskKind = "channel_sync"
	KindRenderSubtitles  TaskKind = "render_subtitles"
	KindRenderInfo       TaskKind = "render_info"
	KindASR              TaskKind = "asr"
	KindProxyCheck       TaskKind = "proxy_check"
	KindThreadRender     TaskKind = "thread_render"
)

// TaskStatus is the lifecycle state of a task, mirrored by the
// worker-reported job status.
type TaskStatus string

const (
	StatusQueued           TaskStatus = "queued"
	StatusFetchingMetadata TaskStatus = "fetching_metadata"
	StatusPreparing        TaskStatus = "preparing"
	StatusRunning          TaskStatus = "running"
	StatusUploading        TaskStatus = "uploading"
	StatusCompleted        TaskStatus = "completed"
	StatusFailed           TaskStatus = "failed"
	StatusCanceled         TaskStatus = "canceled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Phase is an optional sub-state carried by running jobs. It is used only
// for progress labeling, never for dedup.
type Phase string

const (
	PhaseFetchingMetadata Phase = "fetching_metadata"
	PhasePreparing        Phase = "preparing"
	PhaseRunning          Phase = "running"
	PhaseUploading        Phase = "uploading"
)

// TargetType classifies the logical subject a task acts on.
type TargetType string

const (
	TargetMedia   TargetType = "media"
	TargetChannel TargetType = "channel"
	TargetThread  TargetType = "thread"
	TargetSystem  TargetType = "system"
)

// Task is one record per submitted unit of work.
type Task struct {
	ID         surrealmodels.RecordID `json:"id"`
	OwnerID    *string                `json:"owner_id,omitempty"` // nil means system task
	Kind       TaskKind               `json:"kind"`
	TargetType TargetType             `json:"target_type"`
	TargetID   string                 `json:"target_id"`
	Status     TaskStatus             `json:"status"`
	Phase      *Phase                 `json:"phase,omitempty"`
	JobID      *string                `json:"job_id,omitempty"` // nil until the worker accepts
	Purpose    string                 `json:"purpose"`
	Engine     string                 `json:"engine"`
	Progress   float64                `json:"progress"`
	Payload    map[string]any         `json:"payload,omitempty"`
	Error      *string                `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// IsValidTransition enforces the allowed task state machine edges.
// Terminal states accept nothing; every non-terminal state may fail or be
// canceled at any point.
func IsValidTransition(from, to TaskStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCanceled {
		return true
	}

	switch from {
	case StatusQueued:
		return to == StatusFetchingMetadata || to == StatusPreparing ||
			to == StatusRunning || to == StatusCompleted
	case StatusFetchingMetadata:
		return to == StatusPreparing || to == StatusRunning || to == StatusCompleted
	case StatusPreparing:
		return to == StatusRunning || to == StatusUploading || to == StatusCompleted
	case StatusRunning:
		return to == StatusUploading || to == StatusCompleted
	case StatusUploading:
		return to == StatusCompleted
	default:
		return false
	}
}
