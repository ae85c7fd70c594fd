// Package dispatch submits work to the external worker pool and keeps
// the task table's active-uniqueness invariant.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/workerpool"
)

// SupersededReason is recorded on tasks canceled by a newer submission.
const SupersededReason = "superseded by a newer task"

// ErrNotCancelable is returned by Cancel for tasks already finished.
var ErrNotCancelable = errors.New("task is not cancelable")

// ErrForbidden is returned when a caller cancels a task they do not own.
var ErrForbidden = errors.New("task belongs to another owner")

// Store is the persistence surface the dispatcher needs. *db.Client
// satisfies it.
type Store interface {
	FindActiveTasks(ctx context.Context, ownerID *string, kind models.TaskKind, targetType models.TargetType, targetID string) ([]models.Task, error)
	CreateTask(ctx context.Context, id string, t models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	MarkTaskCanceled(ctx context.Context, id, reason string) error
	MarkTaskStarted(ctx context.Context, id, jobID string) error
	MarkTaskFailed(ctx context.Context, id, message string) error
}

// Jobs is the worker-pool surface the dispatcher needs.
type Jobs interface {
	StartJob(ctx context.Context, req workerpool.StartJobRequest) (*workerpool.StartJobResponse, error)
	CancelJob(ctx context.Context, jobID, reason string) error
}

// Manifests persists the write-once job manifest.
type Manifests interface {
	Write(ctx context.Context, m models.Manifest) error
}

// ProxyPicker chooses the outbound proxy for download jobs.
// *proxycheck.Engine satisfies it.
type ProxyPicker interface {
	DefaultProxyForDownload(ctx context.Context) (string, error)
}

// Dispatcher submits tasks and supersedes stale ones.
type Dispatcher struct {
	store     Store
	jobs      Jobs
	manifests Manifests
	proxies   ProxyPicker
	logger    *slog.Logger
}

// New creates a dispatcher.
func New(store Store, jobs Jobs, manifests Manifests, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, jobs: jobs, manifests: manifests, logger: logger}
}

// SetProxyPicker routes download jobs through the picked proxy. Without a
// picker downloads go direct.
func (d *Dispatcher) SetProxyPicker(p ProxyPicker) {
	d.proxies = p
}

// EnqueueRequest describes one unit of work to submit.
type EnqueueRequest struct {
	OwnerID    *string
	Kind       models.TaskKind
	TargetType models.TargetType
	TargetID   string
	Purpose    string
	Engine     string
	Title      string
	Inputs     models.ManifestInputs
	Outputs    models.ManifestOutputs
	Options    map[string]any
}

func (r EnqueueRequest) validate() error {
	if r.Kind == "" {
		return errors.New("kind is required")
	}
	if r.TargetType == "" || r.TargetID == "" {
		return errors.New("target is required")
	}
	if r.Purpose == "" {
		return errors.New("purpose is required")
	}
	if r.Engine == "" {
		return errors.New("engine is required")
	}
	return nil
}

// Enqueue supersedes any active task for the same logical target, creates
// a fresh queued task, freezes the manifest and hands the job to the
// worker pool. At most one active task per (owner, kind, target) exists
// afterwards.
func (d *Dispatcher) Enqueue(ctx context.Context, req EnqueueRequest) (taskID, jobID string, err error) {
	if err := req.validate(); err != nil {
		return "", "", fmt.Errorf("enqueue: %w", err)
	}

	stale, err := d.store.FindActiveTasks(ctx, req.OwnerID, req.Kind, req.TargetType, req.TargetID)
	if err != nil {
		return "", "", fmt.Errorf("find active tasks: %w", err)
	}
	for _, old := range stale {
		oldID := models.MustRecordIDString(old.ID)
		if err := d.store.MarkTaskCanceled(ctx, oldID, SupersededReason); err != nil {
			return "", "", fmt.Errorf("supersede task %s: %w", oldID, err)
		}
		d.logger.Info("task superseded", "task_id", oldID, "kind", old.Kind, "target_id", old.TargetID)

		if old.JobID != nil {
			// Best effort: the worker's own timeout reaps jobs we fail
			// to reach here.
			if err := d.jobs.CancelJob(ctx, *old.JobID, SupersededReason); err != nil {
				d.logger.Warn("worker cancel failed", "job_id", *old.JobID, "error", err)
			}
		}
	}

	taskID = uuid.New().String()
	jobID = uuid.New().String()

	if err := d.store.CreateTask(ctx, taskID, models.Task{
		OwnerID:    req.OwnerID,
		Kind:       req.Kind,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		Purpose:    req.Purpose,
		Engine:     req.Engine,
		Payload:    req.Options,
	}); err != nil {
		return "", "", fmt.Errorf("create task: %w", err)
	}

	// The manifest must be durable before the pool can accept the job;
	// a worker that starts instantly still finds its inputs.
	if err := d.manifests.Write(ctx, models.Manifest{
		JobID:    jobID,
		TargetID: req.TargetID,
		Purpose:  req.Purpose,
		Engine:   req.Engine,
		Inputs:   req.Inputs,
		Outputs:  req.Outputs,
		Options:  req.Options,
	}); err != nil {
		return d.failEnqueue(ctx, taskID, jobID, fmt.Errorf("write manifest: %w", err))
	}

	if _, err := d.jobs.StartJob(ctx, workerpool.StartJobRequest{
		JobID:   jobID,
		MediaID: req.TargetID,
		Engine:  req.Engine,
		Purpose: req.Purpose,
		Title:   req.Title,
		Options: d.jobOptions(ctx, req),
	}); err != nil {
		return d.failEnqueue(ctx, taskID, jobID, fmt.Errorf("start job: %w", err))
	}

	if err := d.store.MarkTaskStarted(ctx, taskID, jobID); err != nil {
		// The job is running but the task row never learned its job id, so
		// no callback or reconciler sweep can ever resolve it. Stop the job
		// and fail the task instead of leaving it queued forever.
		if cancelErr := d.jobs.CancelJob(ctx, jobID, "task record lost"); cancelErr != nil {
			d.logger.Warn("worker cancel failed", "job_id", jobID, "error", cancelErr)
		}
		return d.failEnqueue(ctx, taskID, jobID, fmt.Errorf("mark task started: %w", err))
	}

	d.logger.Info("task enqueued",
		"task_id", taskID, "job_id", jobID, "kind", req.Kind, "target_id", req.TargetID)
	return taskID, jobID, nil
}

// jobOptions augments the caller's options with a healthy outbound proxy
// for download work. The manifest keeps the caller's options untouched;
// proxy routing is runtime transport, not a frozen input.
func (d *Dispatcher) jobOptions(ctx context.Context, req EnqueueRequest) map[string]any {
	if d.proxies == nil || (req.Kind != models.KindDownload && req.Kind != models.KindCommentsDownload) {
		return req.Options
	}

	proxyID, err := d.proxies.DefaultProxyForDownload(ctx)
	if err != nil {
		d.logger.Warn("proxy selection failed, downloading direct", "error", err)
		return req.Options
	}
	if proxyID == "" {
		return req.Options
	}

	options := make(map[string]any, len(req.Options)+1)
	for k, v := range req.Options {
		options[k] = v
	}
	options["proxyId"] = proxyID
	return options
}

// failEnqueue resolves the freshly created task to failed and re-raises.
func (d *Dispatcher) failEnqueue(ctx context.Context, taskID, jobID string, cause error) (string, string, error) {
	if err := d.store.MarkTaskFailed(ctx, taskID, cause.Error()); err != nil {
		d.logger.Error("marking task failed after enqueue error",
			"task_id", taskID, "error", err, "cause", cause)
	}
	d.logger.Error("enqueue failed", "task_id", taskID, "job_id", jobID, "error", cause)
	return "", "", cause
}

// Cancel resolves an active task to canceled on behalf of its owner and
// asks the pool to stop the job. ownerID nil means an operator call that
// may cancel anything.
func (d *Dispatcher) Cancel(ctx context.Context, taskID string, ownerID *string) error {
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	if ownerID != nil && (task.OwnerID == nil || *task.OwnerID != *ownerID) {
		return ErrForbidden
	}
	if task.Status.IsTerminal() {
		return ErrNotCancelable
	}

	if err := d.store.MarkTaskCanceled(ctx, taskID, "canceled by user"); err != nil {
		return fmt.Errorf("mark task canceled: %w", err)
	}
	if task.JobID != nil {
		if err := d.jobs.CancelJob(ctx, *task.JobID, "canceled by user"); err != nil {
			d.logger.Warn("worker cancel failed", "job_id", *task.JobID, "error", err)
		}
	}
	d.logger.Info("task canceled", "task_id", taskID)
	return nil
}
