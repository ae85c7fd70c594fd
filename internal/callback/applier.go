package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/billing"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/db"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/storage"
)

// Store is the persistence surface the applier needs. *db.Client
// satisfies it; tests supply an in-memory fake.
type Store interface {
	FindTaskByJobID(ctx context.Context, jobID string) (*models.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, phase *models.Phase, progress float64, errMsg *string) error
	InsertJobEvent(ctx context.Context, ev models.JobEvent) error
	DeleteJobEvent(ctx context.Context, dedupKey string) error
	LatestEventSeq(ctx context.Context, jobID string) (*int64, error)
	UpdateMediaOutputs(ctx context.Context, id string, outputs models.Outputs) error
	SetMediaError(ctx context.Context, id, message string) error
	UpdateThreadRender(ctx context.Context, id, videoKey string) error
	SetThreadError(ctx context.Context, id, message string) error
	RecordProxyResult(ctx context.Context, id string, status models.ProxyTestStatus, testedAt time.Time, responseTimeMs *int64) error
}

// Applier turns an authenticated status report into exactly-once state
// changes. The callback receiver and the reconciler both feed it, so a
// late worker delivery and a reconciler sweep can never double-apply.
type Applier struct {
	store   Store
	objects storage.ObjectStore
	charger billing.Charger
	logger  *slog.Logger
}

// NewApplier creates an applier. charger may be billing.Noop{}.
func NewApplier(store Store, objects storage.ObjectStore, charger billing.Charger, logger *slog.Logger) *Applier {
	if charger == nil {
		charger = billing.Noop{}
	}
	return &Applier{store: store, objects: objects, charger: charger, logger: logger}
}

// Apply records the delivery in the event log and, if this delivery won
// the insert race, applies task and domain side effects. It returns
// false when the delivery was a duplicate or out of order.
//
// The dedup key is always derived with the callback source even when the
// reconciler is calling. The source column records the true origin; the
// key must collide across origins so a reconciler-applied terminal state
// blocks a late-arriving worker callback for the same sequence.
func (a *Applier) Apply(ctx context.Context, source models.EventSource, p Payload) (bool, error) {
	task, err := a.store.FindTaskByJobID(ctx, p.JobID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return false, fmt.Errorf("find task: %w", err)
	}

	kind, _ := purposeKind(p.Purpose)
	var taskID *string
	if task != nil {
		kind = task.Kind
		id := models.MustRecordIDString(task.ID)
		taskID = &id
	} else {
		a.logger.Warn("callback for unknown job", "job_id", p.JobID, "purpose", p.Purpose)
	}

	// Sequence numbers are monotonic per job. A delivery at or below the
	// newest applied seq is stale even when its dedup key is fresh, so a
	// replayed "running" can never roll progress backwards.
	if p.EventSeq != nil {
		latest, err := a.store.LatestEventSeq(ctx, p.JobID)
		if err != nil {
			return false, fmt.Errorf("latest event seq: %w", err)
		}
		if latest != nil && *p.EventSeq <= *latest {
			a.logger.Debug("stale delivery dropped",
				"job_id", p.JobID, "event_seq", *p.EventSeq, "latest_seq", *latest)
			return false, nil
		}
	}

	eventTs := p.EventTime()
	ev := models.JobEvent{
		DedupKey: models.EventDedupKey(models.SourceCallback, kind, p.JobID, p.EventSeq, p.EventID, eventTs),
		Kind:     kind,
		JobID:    p.JobID,
		TaskID:   taskID,
		Purpose:  p.Purpose,
		Status:   p.Status,
		Source:   source,
		EventSeq: p.EventSeq,
		EventTs:  &eventTs,
		Payload:  p.Metadata,
	}
	if p.EventID != "" {
		ev.EventID = &p.EventID
	}
	if p.Error != "" {
		ev.Message = &p.Error
	}

	if err := a.store.InsertJobEvent(ctx, ev); err != nil {
		if errors.Is(err, db.ErrDuplicateEvent) {
			a.logger.Debug("duplicate delivery dropped", "job_id", p.JobID, "dedup_key", ev.DedupKey)
			return false, nil
		}
		return false, fmt.Errorf("record event: %w", err)
	}

	if task != nil {
		if task.Status.IsTerminal() {
			a.logger.Warn("status for finished task ignored", "job_id", p.JobID, "status", p.Status)
			return false, nil
		}
		if task.Status != p.Status && !models.IsValidTransition(task.Status, p.Status) {
			a.logger.Warn("ignoring out-of-order status",
				"job_id", p.JobID, "from", task.Status, "to", p.Status)
			return false, nil
		}
	}

	// Domain writes run before the task turns terminal. A failed write
	// drops the event row again so the sender's retry re-enters instead
	// of being swallowed as a duplicate of a half-applied delivery.
	if err := a.applyDomain(ctx, p); err != nil {
		a.dropEvent(ctx, ev.DedupKey)
		return false, err
	}

	if task != nil {
		var errMsg *string
		if p.Error != "" {
			errMsg = &p.Error
		}
		err := a.store.UpdateTaskStatus(ctx, models.MustRecordIDString(task.ID), p.Status, p.Phase, p.Progress, errMsg)
		if errors.Is(err, db.ErrTaskTerminal) {
			// A concurrent delivery finished the task between our snapshot
			// and this write; the domain writes above are idempotent.
			a.logger.Warn("task finished concurrently", "job_id", p.JobID, "status", p.Status)
			return true, nil
		}
		if err != nil {
			a.dropEvent(ctx, ev.DedupKey)
			return false, fmt.Errorf("update task: %w", err)
		}
	}

	// Billing runs last: a charge must never precede a durable transition.
	if p.Status == models.StatusCompleted {
		a.chargeCompleted(ctx, task, p.Purpose)
	}
	return true, nil
}

// dropEvent compensates a failed apply so the dedup gate reopens for a
// retry of the same delivery. A failed delete is logged, not raised:
// the task is still non-terminal, so the reconciler repairs it later.
func (a *Applier) dropEvent(ctx context.Context, dedupKey string) {
	if err := a.store.DeleteJobEvent(ctx, dedupKey); err != nil {
		a.logger.Error("compensating event delete failed", "dedup_key", dedupKey, "error", err)
	}
}

func (a *Applier) applyDomain(ctx context.Context, p Payload) error {
	switch p.Status {
	case models.StatusCompleted:
		return a.applyCompleted(ctx, p)
	case models.StatusFailed:
		return a.applyFailed(ctx, p)
	}
	// Progress updates and cancellation leave domain records untouched.
	return nil
}

func (a *Applier) applyCompleted(ctx context.Context, p Payload) error {
	switch p.Purpose {
	case PurposeDownload, PurposeRender, PurposeComments:
		if p.Outputs != nil {
			if err := a.store.UpdateMediaOutputs(ctx, p.MediaID, *p.Outputs); err != nil {
				return err
			}
		}

	case PurposeASR:
		outputs := models.Outputs{}
		if p.Outputs != nil {
			outputs = *p.Outputs
		}
		// Workers that inline the transcript instead of uploading it get
		// it persisted here, under a deterministic key.
		if text, ok := p.Metadata["transcript"].(string); ok && text != "" && outputs.Words == nil {
			key := fmt.Sprintf("media/%s/transcript.txt", p.MediaID)
			if err := a.objects.Put(ctx, key, []byte(text), "text/plain"); err != nil {
				return fmt.Errorf("persist transcript: %w", err)
			}
			outputs.Words = &models.OutputRef{Key: key}
		}
		if err := a.store.UpdateMediaOutputs(ctx, p.MediaID, outputs); err != nil {
			return err
		}

	case PurposeRenderThread:
		if p.Outputs == nil || p.Outputs.Video == nil {
			return fmt.Errorf("thread render completed without a video output for job %s", p.JobID)
		}
		if err := a.store.UpdateThreadRender(ctx, p.MediaID, p.Outputs.Video.Key); err != nil {
			return err
		}

	case PurposeProxyCheck:
		return a.applyProxyResult(ctx, p, models.ProxySuccess)

	case PurposeCredential:
		// Credential refreshes carry no domain record; the event row is
		// the whole point.
	}
	return nil
}

func (a *Applier) applyFailed(ctx context.Context, p Payload) error {
	message := p.Error
	if message == "" {
		message = "job failed"
	}

	switch p.Purpose {
	case PurposeDownload, PurposeRender, PurposeComments, PurposeASR:
		return a.store.SetMediaError(ctx, p.MediaID, message)
	case PurposeRenderThread:
		return a.store.SetThreadError(ctx, p.MediaID, message)
	case PurposeProxyCheck:
		return a.applyProxyResult(ctx, p, models.ProxyFailed)
	}
	return nil
}

func (a *Applier) applyProxyResult(ctx context.Context, p Payload, status models.ProxyTestStatus) error {
	proxyID, _ := p.Metadata["proxyId"].(string)
	if proxyID == "" {
		proxyID = p.MediaID
	}

	var responseTime *int64
	if status == models.ProxySuccess {
		if ms, ok := p.Metadata["responseTimeMs"].(float64); ok {
			v := int64(ms)
			responseTime = &v
		}
	}
	return a.store.RecordProxyResult(ctx, proxyID, status, p.EventTime(), responseTime)
}

// chargeCompleted bills the billable purposes once the transition is
// durable.
func (a *Applier) chargeCompleted(ctx context.Context, task *models.Task, purpose string) {
	switch purpose {
	case PurposeDownload, PurposeASR, PurposeRenderThread:
		a.charge(ctx, task, purpose, 1)
	}
}

// charge bills the task owner for completed work. Billing failure never
// fails the callback: the artifact already exists and the transition is
// already durable, so the miss is logged and reconciled out of band.
func (a *Applier) charge(ctx context.Context, task *models.Task, purpose string, units int64) {
	if task == nil || task.OwnerID == nil {
		return
	}
	if err := a.charger.ChargeUsage(ctx, *task.OwnerID, purpose, units); err != nil {
		if errors.Is(err, billing.ErrInsufficientBalance) {
			a.logger.Warn("owner balance exhausted, usage not charged",
				"owner_id", *task.OwnerID, "purpose", purpose)
			return
		}
		a.logger.Error("charge failed", "owner_id", *task.OwnerID, "purpose", purpose, "error", err)
	}
}
