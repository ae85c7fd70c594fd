// Package reconcile sweeps tasks whose workers went quiet and resolves
// them from the pool's status endpoint.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/callback"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/workerpool"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	StaleRunningTasks(ctx context.Context, cutoff time.Time) ([]models.Task, error)
}

// Jobs is the worker-pool surface the reconciler needs.
type Jobs interface {
	JobStatusWithRetry(ctx context.Context, jobID string, maxElapsed time.Duration) (*workerpool.StatusDoc, error)
}

// Reconciler periodically resolves tasks that stopped receiving
// callbacks. Every resolution goes through the same applier as a live
// callback, so the two paths can never double-apply.
type Reconciler struct {
	store     Store
	jobs      Jobs
	applier   *callback.Applier
	interval  time.Duration
	staleness time.Duration
	pollMax   time.Duration
	logger    *slog.Logger
}

// New creates a reconciler. interval is how often to sweep; staleness is
// how long a task may go without an event before it is polled.
func New(store Store, jobs Jobs, applier *callback.Applier, interval, staleness time.Duration, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleness <= 0 {
		staleness = 5 * time.Minute
	}
	return &Reconciler{
		store:     store,
		jobs:      jobs,
		applier:   applier,
		interval:  interval,
		staleness: staleness,
		pollMax:   30 * time.Second,
		logger:    logger,
	}
}

// Run sweeps until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", "interval", r.interval, "staleness", r.staleness)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				r.logger.Error("reconcile sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce polls every stale task once and applies what the pool
// reports. It returns how many task states were actually advanced.
// Per-task upstream failures are transient and left for the next sweep.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-r.staleness)
	tasks, err := r.store.StaleRunningTasks(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale tasks: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	r.logger.Info("reconciling stale tasks", "count", len(tasks))

	applied := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}
		if task.JobID == nil {
			continue
		}

		doc, err := r.jobs.JobStatusWithRetry(ctx, *task.JobID, r.pollMax)
		if err != nil {
			r.logger.Warn("job status poll failed, retrying next sweep",
				"job_id", *task.JobID, "error", err)
			continue
		}

		ok, err := r.applier.Apply(ctx, models.SourceReconciler, payloadFromStatus(task, doc))
		if err != nil {
			r.logger.Error("applying reconciled status",
				"job_id", *task.JobID, "error", err)
			continue
		}
		if ok {
			applied++
			r.logger.Info("task reconciled",
				"task_id", models.MustRecordIDString(task.ID),
				"job_id", *task.JobID, "status", doc.Status)
		}
	}
	return applied, nil
}

// payloadFromStatus shapes a polled status document like the callback
// the worker would have sent. When the pool reports no event sequence,
// the dedup key falls back to a per-status event id so repeated sweeps
// of an unchanged job stay no-ops.
func payloadFromStatus(task models.Task, doc *workerpool.StatusDoc) callback.Payload {
	p := callback.Payload{
		SchemaVersion: callback.SchemaVersion,
		JobID:         doc.JobID,
		MediaID:       task.TargetID,
		Status:        doc.Status,
		Phase:         doc.Phase,
		Progress:      doc.Progress,
		Engine:        task.Engine,
		Purpose:       task.Purpose,
		EventSeq:      doc.EventSeq,
		Error:         doc.Message,
	}
	if p.EventSeq == nil {
		p.EventID = fmt.Sprintf("poll-%s-%s", doc.JobID, doc.Status)
	}
	if len(doc.Outputs) > 0 {
		p.Outputs = outputsFromDoc(doc.Outputs)
	}
	return p
}

func outputsFromDoc(docs map[string]workerpool.OutputRefDoc) *models.Outputs {
	out := &models.Outputs{}
	for name, ref := range docs {
		r := &models.OutputRef{Key: ref.Key, URL: ref.URL}
		switch name {
		case "video":
			out.Video = r
		case "audio":
			out.Audio = r
		case "metadata":
			out.Metadata = r
		case "vtt":
			out.VTT = r
		case "words":
			out.Words = r
		case "comments":
			out.Comments = r
		}
	}
	return out
}
