package server_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/db"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/dispatch"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/metrics"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/proxycheck"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/relay"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/server"
)

const apiToken = "test-token"

type fakeStore struct {
	tasks   map[string]*models.Task
	proxies []models.Proxy
	created []models.Proxy
}

func (f *fakeStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) ListTasks(_ context.Context, ownerID *string, _ int) ([]models.Task, error) {
	var out []models.Task
	for _, t := range f.tasks {
		if (ownerID == nil) != (t.OwnerID == nil) {
			continue
		}
		if ownerID != nil && *t.OwnerID != *ownerID {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeStore) FindTaskByJobID(_ context.Context, jobID string) (*models.Task, error) {
	for _, t := range f.tasks {
		if t.JobID != nil && *t.JobID == jobID {
			return t, nil
		}
	}
	return nil, db.ErrNotFound
}

func (f *fakeStore) ListJobEvents(context.Context, string) ([]models.JobEvent, error) {
	return nil, nil
}

func (f *fakeStore) ListProxies(context.Context) ([]models.Proxy, error) {
	out := make([]models.Proxy, len(f.proxies))
	copy(out, f.proxies)
	return out, nil
}

func (f *fakeStore) CreateProxy(_ context.Context, id string, p models.Proxy) error {
	p.ID = surrealmodels.NewRecordID("proxy", id)
	f.created = append(f.created, p)
	return nil
}

type fakeDispatcher struct {
	lastReq   dispatch.EnqueueRequest
	cancelErr error
	canceled  []string
}

func (f *fakeDispatcher) Enqueue(_ context.Context, req dispatch.EnqueueRequest) (string, string, error) {
	f.lastReq = req
	return "task-1", "job-1", nil
}

func (f *fakeDispatcher) Cancel(_ context.Context, taskID string, _ *string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, taskID)
	return nil
}

type fakeChecker struct{ summary proxycheck.Summary }

func (f *fakeChecker) RunChecksNow(context.Context, int) (proxycheck.Summary, error) {
	return f.summary, nil
}

func newTestServer(store *fakeStore, dispatcher *fakeDispatcher, checker *fakeChecker) *server.Server {
	logger := slog.New(slog.DiscardHandler)
	return server.New("127.0.0.1:0", server.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Checker:    checker,
		Callback:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		Relay:      nil,
		Metrics:    metrics.NewCollector(),
		Auth:       server.NewTokenAuthenticator(apiToken),
	}, logger)
}

func doRequest(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+apiToken)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(&fakeStore{tasks: map[string]*models.Task{}}, &fakeDispatcher{}, &fakeChecker{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	srv := newTestServer(&fakeStore{tasks: map[string]*models.Task{}}, &fakeDispatcher{}, &fakeChecker{})

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnqueuePropagatesOwner(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv := newTestServer(&fakeStore{tasks: map[string]*models.Task{}}, dispatcher, &fakeChecker{})

	body := `{"kind":"download","targetType":"media","targetId":"media-1","purpose":"download","engine":"ytdlp","inputs":{"source_url":"https://example.com/v/1"}}`
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/tasks", "user-1", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "task-1", resp["taskId"])
	assert.Equal(t, "job-1", resp["jobId"])

	require.NotNil(t, dispatcher.lastReq.OwnerID)
	assert.Equal(t, "user-1", *dispatcher.lastReq.OwnerID)
	assert.Equal(t, models.KindDownload, dispatcher.lastReq.Kind)
}

func TestGetTaskOwnership(t *testing.T) {
	owner := "user-1"
	jobID := "job-1"
	store := &fakeStore{tasks: map[string]*models.Task{
		"t1": {
			ID:      surrealmodels.NewRecordID("task", "t1"),
			OwnerID: &owner,
			Kind:    models.KindDownload,
			Status:  models.StatusRunning,
			JobID:   &jobID,
		},
	}}
	srv := newTestServer(store, &fakeDispatcher{}, &fakeChecker{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/tasks/t1", "user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/tasks/t1", "user-2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Operator calls carry no owner header and may read anything.
	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/tasks/t1", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, srv.Handler(), http.MethodGet, "/api/tasks/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelTaskErrorMapping(t *testing.T) {
	store := &fakeStore{tasks: map[string]*models.Task{}}

	srv := newTestServer(store, &fakeDispatcher{cancelErr: dispatch.ErrNotCancelable}, &fakeChecker{})
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/tasks/t1/cancel", "user-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	srv = newTestServer(store, &fakeDispatcher{cancelErr: dispatch.ErrForbidden}, &fakeChecker{})
	rec = doRequest(t, srv.Handler(), http.MethodPost, "/api/tasks/t1/cancel", "user-1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	dispatcher := &fakeDispatcher{}
	srv = newTestServer(store, dispatcher, &fakeChecker{})
	rec = doRequest(t, srv.Handler(), http.MethodPost, "/api/tasks/t1/cancel", "user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"t1"}, dispatcher.canceled)
}

func TestListProxiesRedactsCredentials(t *testing.T) {
	user := "u"
	pass := "hunter2"
	store := &fakeStore{proxies: []models.Proxy{{
		ID:       surrealmodels.NewRecordID("proxy", "p1"),
		Server:   "proxy.example.com",
		Port:     8080,
		Protocol: "http",
		Username: &user,
		Password: &pass,
	}}, tasks: map[string]*models.Task{}}
	srv := newTestServer(store, &fakeDispatcher{}, &fakeChecker{})

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/proxies", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "proxy.example.com")
}

func TestCreateProxyOperatorOnly(t *testing.T) {
	store := &fakeStore{tasks: map[string]*models.Task{}}
	srv := newTestServer(store, &fakeDispatcher{}, &fakeChecker{})

	body := `{"server":"p.example.com","port":1080,"protocol":"socks5"}`
	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/proxies", "user-1", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv.Handler(), http.MethodPost, "/api/proxies", "", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, store.created, 1)
	assert.Equal(t, "p.example.com", store.created[0].Server)
}

func TestCheckProxies(t *testing.T) {
	checker := &fakeChecker{summary: proxycheck.Summary{Checked: 4, Succeeded: 3, Failed: 1, BestProxy: "p2"}}
	srv := newTestServer(&fakeStore{tasks: map[string]*models.Task{}}, &fakeDispatcher{}, checker)

	rec := doRequest(t, srv.Handler(), http.MethodPost, "/api/proxies/check", "", `{"concurrency":3}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary proxycheck.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 4, summary.Checked)
	assert.Equal(t, "p2", summary.BestProxy)
}

type fakeStreams struct{ payload string }

func (f *fakeStreams) StreamEvents(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.payload)), nil
}

// The upgrade runs over a real TCP listener and through Handler's full
// middleware chain; a response writer that hides net/http's Hijacker
// would break it.
func TestJobStreamWebSocketUpgrade(t *testing.T) {
	owner := "user-1"
	jobID := "job-1"
	store := &fakeStore{tasks: map[string]*models.Task{
		"t1": {
			ID:      surrealmodels.NewRecordID("task", "t1"),
			OwnerID: &owner,
			Kind:    models.KindDownload,
			Status:  models.StatusRunning,
			JobID:   &jobID,
		},
	}}
	streams := &fakeStreams{payload: "event: progress\ndata: {\"progress\":0.5}\n\n"}
	logger := slog.New(slog.DiscardHandler)
	srv := server.New("127.0.0.1:0", server.Deps{
		Store:      store,
		Dispatcher: &fakeDispatcher{},
		Checker:    &fakeChecker{},
		Callback:   http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }),
		Relay:      relay.New(streams, logger),
		Metrics:    metrics.NewCollector(),
		Auth:       server.NewTokenAuthenticator(apiToken),
	}, logger)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiToken)
	header.Set("X-Owner-ID", owner)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/jobs/" + jobID + "/stream"

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"progress":0.5`)
}

func TestStatsReflectDispatches(t *testing.T) {
	srv := newTestServer(&fakeStore{tasks: map[string]*models.Task{}}, &fakeDispatcher{}, &fakeChecker{})

	body := `{"kind":"download","targetType":"media","targetId":"m","purpose":"download","engine":"ytdlp"}`
	doRequest(t, srv.Handler(), http.MethodPost, "/api/tasks", "user-1", body)

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/api/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Dispatch)
	assert.Equal(t, int64(1), snap.Dispatch.Count)
}
