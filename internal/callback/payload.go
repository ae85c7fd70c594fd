// Package callback receives, authenticates and applies worker-reported
// job status transitions.
package callback

import (
	"fmt"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// SchemaVersion is the callback payload schema this receiver accepts.
const SchemaVersion = 1

// Purposes understood by the dispatcher and callback receiver. Purpose is
// free-text business intent on the wire but routing is an explicit switch,
// so unknown purposes are rejected at validation time.
const (
	PurposeDownload     = "download"
	PurposeComments     = "comments"
	PurposeASR          = "asr"
	PurposeRender       = "render"
	PurposeRenderThread = "render_thread"
	PurposeProxyCheck   = "proxy_check"
	PurposeCredential   = "credential"
)

// Payload is the callback body POSTed by workers.
type Payload struct {
	SchemaVersion int               `json:"schemaVersion"`
	JobID         string            `json:"jobId"`
	MediaID       string            `json:"mediaId"`
	Status        models.TaskStatus `json:"status"`
	Phase         *models.Phase     `json:"phase,omitempty"`
	Progress      float64           `json:"progress"`
	Engine        string            `json:"engine"`
	Purpose       string            `json:"purpose"`
	EventSeq      *int64            `json:"eventSeq,omitempty"`
	EventID       string            `json:"eventId,omitempty"`
	EventTs       int64             `json:"eventTs,omitempty"` // unix milliseconds
	Ts            int64             `json:"ts,omitempty"`      // unix milliseconds, credential variant only
	Outputs       *models.Outputs   `json:"outputs,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// EventTime returns the payload's event timestamp, falling back to now.
func (p Payload) EventTime() time.Time {
	if p.EventTs > 0 {
		return time.UnixMilli(p.EventTs)
	}
	return time.Now().UTC()
}

// Validate checks schema version and required fields, returning one issue
// per missing field.
func (p Payload) Validate() []string {
	var issues []string
	if p.SchemaVersion != SchemaVersion {
		issues = append(issues, fmt.Sprintf("unsupported schemaVersion %d", p.SchemaVersion))
	}
	if p.JobID == "" {
		issues = append(issues, "jobId is required")
	}
	if p.MediaID == "" {
		issues = append(issues, "mediaId is required")
	}
	if p.Status == "" {
		issues = append(issues, "status is required")
	}
	if p.Engine == "" {
		issues = append(issues, "engine is required")
	}
	if p.Purpose == "" {
		issues = append(issues, "purpose is required")
	}
	if _, ok := purposeKind(p.Purpose); p.Purpose != "" && !ok {
		issues = append(issues, fmt.Sprintf("unknown purpose %q", p.Purpose))
	}
	// Job-status callbacks dedup on eventSeq monotonicity; the credential
	// variant carries ts instead and is checked against the replay window.
	if p.Purpose == PurposeCredential {
		if p.Ts == 0 {
			issues = append(issues, "ts is required")
		}
	} else if p.EventSeq == nil {
		issues = append(issues, "eventSeq is required")
	}
	return issues
}

// purposeKind maps a purpose to the task kind used for dedup keys when the
// owning task cannot be loaded.
func purposeKind(purpose string) (models.TaskKind, bool) {
	switch purpose {
	case PurposeDownload:
		return models.KindDownload, true
	case PurposeComments:
		return models.KindCommentsDownload, true
	case PurposeASR:
		return models.KindASR, true
	case PurposeRender:
		return models.KindRenderSubtitles, true
	case PurposeRenderThread:
		return models.KindThreadRender, true
	case PurposeProxyCheck:
		return models.KindProxyCheck, true
	case PurposeCredential:
		return models.KindChannelSync, true
	default:
		return "", false
	}
}
