package dispatch_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/db"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/dispatch"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/workerpool"
)

type fakeStore struct {
	tasks      map[string]*models.Task
	canceled   map[string]string
	failed     map[string]string
	startedErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tasks:    map[string]*models.Task{},
		canceled: map[string]string{},
		failed:   map[string]string{},
	}
}

func (s *fakeStore) addActive(id, jobID string, kind models.TaskKind, owner *string, targetID string) {
	s.tasks[id] = &models.Task{
		ID:         surrealmodels.NewRecordID("task", id),
		OwnerID:    owner,
		Kind:       kind,
		TargetType: models.TargetMedia,
		TargetID:   targetID,
		Status:     models.StatusRunning,
		JobID:      &jobID,
	}
}

func (s *fakeStore) FindActiveTasks(_ context.Context, ownerID *string, kind models.TaskKind, targetType models.TargetType, targetID string) ([]models.Task, error) {
	var out []models.Task
	for _, t := range s.tasks {
		if t.Status.IsTerminal() || t.Kind != kind || t.TargetType != targetType || t.TargetID != targetID {
			continue
		}
		if (ownerID == nil) != (t.OwnerID == nil) {
			continue
		}
		if ownerID != nil && *ownerID != *t.OwnerID {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *fakeStore) CreateTask(_ context.Context, id string, t models.Task) error {
	t.ID = surrealmodels.NewRecordID("task", id)
	t.Status = models.StatusQueued
	s.tasks[id] = &t
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	copy := *t
	return &copy, nil
}

func (s *fakeStore) MarkTaskCanceled(_ context.Context, id, reason string) error {
	s.canceled[id] = reason
	if t, ok := s.tasks[id]; ok {
		t.Status = models.StatusCanceled
	}
	return nil
}

func (s *fakeStore) MarkTaskStarted(_ context.Context, id, jobID string) error {
	if s.startedErr != nil {
		return s.startedErr
	}
	if t, ok := s.tasks[id]; ok {
		t.JobID = &jobID
	}
	return nil
}

func (s *fakeStore) MarkTaskFailed(_ context.Context, id, message string) error {
	s.failed[id] = message
	if t, ok := s.tasks[id]; ok {
		t.Status = models.StatusFailed
	}
	return nil
}

type fakeJobs struct {
	started     []workerpool.StartJobRequest
	canceled    []string
	startErr    error
	cancelErr   error
	manifestChk func(jobID string) bool
}

func (j *fakeJobs) StartJob(_ context.Context, req workerpool.StartJobRequest) (*workerpool.StartJobResponse, error) {
	if j.startErr != nil {
		return nil, j.startErr
	}
	if j.manifestChk != nil && !j.manifestChk(req.JobID) {
		return nil, errors.New("manifest missing at start time")
	}
	j.started = append(j.started, req)
	return &workerpool.StartJobResponse{JobID: req.JobID}, nil
}

func (j *fakeJobs) CancelJob(_ context.Context, jobID, _ string) error {
	j.canceled = append(j.canceled, jobID)
	return j.cancelErr
}

type fakeManifests struct {
	written map[string]models.Manifest
	err     error
}

func (m *fakeManifests) Write(_ context.Context, man models.Manifest) error {
	if m.err != nil {
		return m.err
	}
	if m.written == nil {
		m.written = map[string]models.Manifest{}
	}
	m.written[man.JobID] = man
	return nil
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func baseRequest(owner *string) dispatch.EnqueueRequest {
	return dispatch.EnqueueRequest{
		OwnerID:    owner,
		Kind:       models.KindDownload,
		TargetType: models.TargetMedia,
		TargetID:   "media-1",
		Purpose:    "download",
		Engine:     "ytdlp",
		Inputs:     models.ManifestInputs{SourceURL: "https://example.com/v/1"},
	}
}

func TestEnqueueHappyPath(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobs{}
	manifests := &fakeManifests{}
	d := dispatch.New(store, jobs, manifests, discard())

	owner := "user-1"
	taskID, jobID, err := d.Enqueue(context.Background(), baseRequest(&owner))
	require.NoError(t, err)
	require.NotEmpty(t, taskID)
	require.NotEmpty(t, jobID)

	task, err := store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, jobID, *task.JobID)

	require.Contains(t, manifests.written, jobID)
	assert.Equal(t, "https://example.com/v/1", manifests.written[jobID].Inputs.SourceURL)

	require.Len(t, jobs.started, 1)
	assert.Equal(t, jobID, jobs.started[0].JobID)
}

func TestEnqueueSupersedesActiveTask(t *testing.T) {
	store := newFakeStore()
	owner := "user-1"
	store.addActive("old-task", "old-job", models.KindDownload, &owner, "media-1")
	jobs := &fakeJobs{}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())

	taskID, _, err := d.Enqueue(context.Background(), baseRequest(&owner))
	require.NoError(t, err)
	assert.NotEqual(t, "old-task", taskID)

	assert.Equal(t, dispatch.SupersededReason, store.canceled["old-task"])
	assert.Equal(t, []string{"old-job"}, jobs.canceled)

	active, err := store.FindActiveTasks(context.Background(), &owner, models.KindDownload, models.TargetMedia, "media-1")
	require.NoError(t, err)
	require.Len(t, active, 1, "exactly one active task per (owner, kind, target)")
	assert.Equal(t, taskID, models.MustRecordIDString(active[0].ID))
}

func TestEnqueueWorkerCancelFailureIsSwallowed(t *testing.T) {
	store := newFakeStore()
	owner := "user-1"
	store.addActive("old-task", "old-job", models.KindDownload, &owner, "media-1")
	jobs := &fakeJobs{cancelErr: errors.New("pool unreachable")}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())

	_, _, err := d.Enqueue(context.Background(), baseRequest(&owner))
	require.NoError(t, err, "a failed best-effort cancel never blocks the new submission")
	assert.Equal(t, dispatch.SupersededReason, store.canceled["old-task"])
}

func TestEnqueueManifestPersistedBeforeStart(t *testing.T) {
	store := newFakeStore()
	manifests := &fakeManifests{}
	jobs := &fakeJobs{}
	jobs.manifestChk = func(jobID string) bool {
		_, ok := manifests.written[jobID]
		return ok
	}
	d := dispatch.New(store, jobs, manifests, discard())

	_, _, err := d.Enqueue(context.Background(), baseRequest(nil))
	require.NoError(t, err)
}

type fakePicker struct {
	proxyID string
	err     error
}

func (p *fakePicker) DefaultProxyForDownload(context.Context) (string, error) {
	return p.proxyID, p.err
}

func TestEnqueueRoutesDownloadThroughProxy(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobs{}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())
	d.SetProxyPicker(&fakePicker{proxyID: "proxy-7"})

	_, _, err := d.Enqueue(context.Background(), baseRequest(nil))
	require.NoError(t, err)

	require.Len(t, jobs.started, 1)
	assert.Equal(t, "proxy-7", jobs.started[0].Options["proxyId"])
}

func TestEnqueueProxyPickFailureDownloadsDirect(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobs{}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())
	d.SetProxyPicker(&fakePicker{err: errors.New("db down")})

	_, _, err := d.Enqueue(context.Background(), baseRequest(nil))
	require.NoError(t, err, "proxy selection is best effort")

	require.Len(t, jobs.started, 1)
	assert.NotContains(t, jobs.started[0].Options, "proxyId")
}

func TestEnqueueStartFailureMarksTaskFailed(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobs{startErr: errors.New("pool rejected the job")}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())

	_, _, err := d.Enqueue(context.Background(), baseRequest(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool rejected")

	require.Len(t, store.failed, 1)
	for _, msg := range store.failed {
		assert.Contains(t, msg, "pool rejected the job")
	}
}

func TestEnqueueMarkStartedFailureResolvesTask(t *testing.T) {
	store := newFakeStore()
	store.startedErr = errors.New("db write lost")
	jobs := &fakeJobs{}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())

	_, _, err := d.Enqueue(context.Background(), baseRequest(nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark task started")

	// The task must not stay queued with no job id: nothing would ever
	// resolve it. It fails and the running job is stopped.
	require.Len(t, store.failed, 1)
	for id := range store.failed {
		assert.Equal(t, models.StatusFailed, store.tasks[id].Status)
	}
	require.Len(t, jobs.started, 1)
	assert.Equal(t, []string{jobs.started[0].JobID}, jobs.canceled)
}

func TestEnqueueManifestFailureMarksTaskFailed(t *testing.T) {
	store := newFakeStore()
	jobs := &fakeJobs{}
	d := dispatch.New(store, jobs, &fakeManifests{err: errors.New("bucket gone")}, discard())

	_, _, err := d.Enqueue(context.Background(), baseRequest(nil))
	require.Error(t, err)
	assert.Empty(t, jobs.started, "start-job is never called without a durable manifest")
	assert.Len(t, store.failed, 1)
}

func TestEnqueueValidation(t *testing.T) {
	d := dispatch.New(newFakeStore(), &fakeJobs{}, &fakeManifests{}, discard())

	req := baseRequest(nil)
	req.Engine = ""
	_, _, err := d.Enqueue(context.Background(), req)
	assert.Error(t, err)
}

func TestCancelOwnedTask(t *testing.T) {
	store := newFakeStore()
	owner := "user-1"
	store.addActive("t1", "job-1", models.KindDownload, &owner, "media-1")
	jobs := &fakeJobs{}
	d := dispatch.New(store, jobs, &fakeManifests{}, discard())

	require.NoError(t, d.Cancel(context.Background(), "t1", &owner))
	assert.Equal(t, models.StatusCanceled, store.tasks["t1"].Status)
	assert.Equal(t, []string{"job-1"}, jobs.canceled)
}

func TestCancelForeignTaskForbidden(t *testing.T) {
	store := newFakeStore()
	owner := "user-1"
	store.addActive("t1", "job-1", models.KindDownload, &owner, "media-1")
	d := dispatch.New(store, &fakeJobs{}, &fakeManifests{}, discard())

	other := "user-2"
	err := d.Cancel(context.Background(), "t1", &other)
	assert.ErrorIs(t, err, dispatch.ErrForbidden)
}

func TestCancelFinishedTask(t *testing.T) {
	store := newFakeStore()
	owner := "user-1"
	store.addActive("t1", "job-1", models.KindDownload, &owner, "media-1")
	store.tasks["t1"].Status = models.StatusCompleted
	d := dispatch.New(store, &fakeJobs{}, &fakeManifests{}, discard())

	err := d.Cancel(context.Background(), "t1", &owner)
	assert.ErrorIs(t, err, dispatch.ErrNotCancelable)
}
