package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// taskFields is the projection shared by all task queries.
const taskFields = `id, owner_id, kind, target_type, target_id, status, phase, job_id,
	purpose, engine, progress, payload, error, created_at, started_at, finished_at`

// CreateTask inserts a new task row in status queued with progress 0.
func (c *Client) CreateTask(ctx context.Context, id string, t models.Task) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("task", $id) CONTENT {
			owner_id: $owner_id,
			kind: $kind,
			target_type: $target_type,
			target_id: $target_id,
			status: 'queued',
			purpose: $purpose,
			engine: $engine,
			progress: 0.0,
			payload: $payload,
			created_at: time::now()
		}
	`, map[string]any{
		"id":          id,
		"owner_id":    t.OwnerID,
		"kind":        string(t.Kind),
		"target_type": string(t.TargetType),
		"target_id":   t.TargetID,
		"purpose":     t.Purpose,
		"engine":      t.Engine,
		"payload":     t.Payload,
	})
	if err != nil {
		return fmt.Errorf("create task: %w", wrapQueryError(err))
	}
	return nil
}

// GetTask retrieves a task by ID. Returns ErrNotFound if absent.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM type::record("task", $id)
	`, taskFields), map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// FindTaskByJobID retrieves the task owning a worker job.
// Returns ErrNotFound if no task recorded that job id.
func (c *Client) FindTaskByJobID(ctx context.Context, jobID string) (*models.Task, error) {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM task WHERE job_id = $job_id LIMIT 1
	`, taskFields), map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("find task by job: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// FindActiveTasks returns all non-terminal tasks for the same logical
// target. The dispatcher cancels these before creating a replacement.
func (c *Client) FindActiveTasks(ctx context.Context, ownerID *string, kind models.TaskKind, targetType models.TargetType, targetID string) ([]models.Task, error) {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM task
		WHERE owner_id = $owner_id
			AND kind = $kind
			AND target_type = $target_type
			AND target_id = $target_id
			AND status NOT IN ['completed', 'failed', 'canceled']
	`, taskFields), map[string]any{
		"owner_id":    ownerID,
		"kind":        string(kind),
		"target_type": string(targetType),
		"target_id":   targetID,
	})
	if err != nil {
		return nil, fmt.Errorf("find active tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// ListTasks returns tasks for an owner, most recent first. A nil owner
// lists system tasks.
func (c *Client) ListTasks(ctx context.Context, ownerID *string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	results, err := surrealdb.Query[[]models.Task](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM task WHERE owner_id = $owner_id
		ORDER BY created_at DESC LIMIT $limit
	`, taskFields), map[string]any{"owner_id": ownerID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// MarkTaskStarted records the accepted job id and started_at.
func (c *Client) MarkTaskStarted(ctx context.Context, id, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("task", $id) SET
			job_id = $job_id,
			started_at = time::now()
		WHERE finished_at IS NONE
	`, map[string]any{"id": id, "job_id": jobID})
	if err != nil {
		return fmt.Errorf("mark task started: %w", err)
	}
	return nil
}

// MarkTaskFailed resolves a task to failed with finished_at set.
func (c *Client) MarkTaskFailed(ctx context.Context, id, message string) error {
	return c.finishTask(ctx, id, models.StatusFailed, message)
}

// MarkTaskCanceled resolves a task to canceled with the given reason.
func (c *Client) MarkTaskCanceled(ctx context.Context, id, reason string) error {
	return c.finishTask(ctx, id, models.StatusCanceled, reason)
}

func (c *Client) finishTask(ctx context.Context, id string, status models.TaskStatus, message string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("task", $id) SET
			status = $status,
			error = $message,
			finished_at = time::now()
		WHERE finished_at IS NONE
	`, map[string]any{"id": id, "status": string(status), "message": message})
	if err != nil {
		return fmt.Errorf("finish task: %w", err)
	}
	return nil
}

// UpdateTaskStatus applies a reported status transition. Terminal statuses
// also set finished_at; updates against an already-terminal task are
// refused with ErrTaskTerminal.
func (c *Client) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, phase *models.Phase, progress float64, errMsg *string) error {
	current, err := c.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.FinishedAt != nil || current.Status.IsTerminal() {
		return ErrTaskTerminal
	}

	sql := `
		UPDATE type::record("task", $id) SET
			status = $status,
			phase = $phase,
			progress = $progress,
			error = $error
		WHERE finished_at IS NONE
	`
	if status.IsTerminal() {
		sql = `
			UPDATE type::record("task", $id) SET
				status = $status,
				phase = NONE,
				progress = $progress,
				error = $error,
				finished_at = time::now()
			WHERE finished_at IS NONE
		`
	}

	vars := map[string]any{
		"id":       id,
		"status":   string(status),
		"phase":    phase,
		"progress": progress,
		"error":    errMsg,
	}
	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// StaleRunningTasks returns tasks that have a job id, are non-terminal and
// have seen no job event since the cutoff. These are reconciler candidates.
func (c *Client) StaleRunningTasks(ctx context.Context, cutoff time.Time) ([]models.Task, error) {
	results, err := surrealdb.Query[[]models.Task](ctx, c.db, fmt.Sprintf(`
		SELECT %s FROM task
		WHERE job_id IS NOT NONE
			AND status NOT IN ['completed', 'failed', 'canceled']
			AND (SELECT VALUE count() FROM job_event WHERE job_id = $parent.job_id AND created_at > $cutoff GROUP ALL)[0] IS NONE
	`, taskFields), map[string]any{"cutoff": cutoff})
	if err != nil {
		return nil, fmt.Errorf("stale running tasks: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}
