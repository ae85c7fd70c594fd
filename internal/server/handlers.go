package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/db"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/dispatch"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/metrics"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type enqueueBody struct {
	Kind       models.TaskKind        `json:"kind"`
	TargetType models.TargetType      `json:"targetType"`
	TargetID   string                 `json:"targetId"`
	Purpose    string                 `json:"purpose"`
	Engine     string                 `json:"engine"`
	Title      string                 `json:"title,omitempty"`
	Inputs     models.ManifestInputs  `json:"inputs"`
	Outputs    models.ManifestOutputs `json:"outputs"`
	Options    map[string]any         `json:"options,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body enqueueBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}

	caller := CallerFromContext(r.Context())
	start := time.Now()
	taskID, jobID, err := s.deps.Dispatcher.Enqueue(r.Context(), dispatch.EnqueueRequest{
		OwnerID:    caller.OwnerID,
		Kind:       body.Kind,
		TargetType: body.TargetType,
		TargetID:   body.TargetID,
		Purpose:    body.Purpose,
		Engine:     body.Engine,
		Title:      body.Title,
		Inputs:     body.Inputs,
		Outputs:    body.Outputs,
		Options:    body.Options,
	})
	if err != nil {
		s.deps.Metrics.RecordFailure(metrics.OpDispatch)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	s.deps.Metrics.RecordTiming(metrics.OpDispatch, time.Since(start))

	writeJSON(w, http.StatusCreated, map[string]string{"taskId": taskID, "jobId": jobID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	caller := CallerFromContext(r.Context())
	owner := caller.OwnerID
	if caller.Operator {
		if q := r.URL.Query().Get("owner"); q != "" {
			owner = &q
		}
	}

	start := time.Now()
	tasks, err := s.deps.Store.ListTasks(r.Context(), owner, 0)
	if err != nil {
		s.logger.Error("listing tasks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	s.deps.Metrics.RecordTiming(metrics.OpDBQuery, time.Since(start))

	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.loadOwnedTask(w, r, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	caller := CallerFromContext(r.Context())
	err := s.deps.Dispatcher.Cancel(r.Context(), r.PathValue("id"), caller.OwnerID)
	switch {
	case errors.Is(err, db.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "task not found"})
	case errors.Is(err, dispatch.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
	case errors.Is(err, dispatch.ErrNotCancelable):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "task already finished"})
	case err != nil:
		s.logger.Error("canceling task", "task_id", r.PathValue("id"), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := s.deps.Store.ListProxies(r.Context())
	if err != nil {
		s.logger.Error("listing proxies", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	// Credentials never leave the service.
	for i := range proxies {
		proxies[i].Password = nil
	}
	if proxies == nil {
		proxies = []models.Proxy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"proxies": proxies})
}

type createProxyBody struct {
	Server   string  `json:"server"`
	Port     int     `json:"port"`
	Protocol string  `json:"protocol"`
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
}

func (s *Server) handleCreateProxy(w http.ResponseWriter, r *http.Request) {
	caller := CallerFromContext(r.Context())
	if !caller.Operator {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "operator only"})
		return
	}

	var body createProxyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if body.Server == "" || body.Port <= 0 || body.Protocol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "server, port and protocol are required"})
		return
	}

	id := uuid.New().String()
	if err := s.deps.Store.CreateProxy(r.Context(), id, models.Proxy{
		Server:   body.Server,
		Port:     body.Port,
		Protocol: body.Protocol,
		Username: body.Username,
		Password: body.Password,
	}); err != nil {
		s.logger.Error("creating proxy", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleCheckProxies(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Concurrency int `json:"concurrency"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
			return
		}
	}

	start := time.Now()
	summary, err := s.deps.Checker.RunChecksNow(r.Context(), body.Concurrency)
	if err != nil {
		s.deps.Metrics.RecordFailure(metrics.OpProbe)
		s.logger.Error("running proxy checks", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	s.deps.Metrics.RecordTiming(metrics.OpProbe, time.Since(start))

	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, ok := s.loadOwnedTaskByJob(w, r, jobID); !ok {
		return
	}

	events, err := s.deps.Store.ListJobEvents(r.Context(), jobID)
	if err != nil {
		s.logger.Error("listing job events", "job_id", jobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}
	if events == nil {
		events = []models.JobEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, ok := s.loadOwnedTaskByJob(w, r, jobID); !ok {
		return
	}
	s.deps.Relay.ServeJob(w, r, jobID)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

// loadOwnedTask fetches a task and enforces that the caller may see it,
// writing the error response itself when not.
func (s *Server) loadOwnedTask(w http.ResponseWriter, r *http.Request, id string) (*models.Task, bool) {
	task, err := s.deps.Store.GetTask(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "task not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("loading task", "task_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return nil, false
	}
	return s.checkOwnership(w, r, task)
}

func (s *Server) loadOwnedTaskByJob(w http.ResponseWriter, r *http.Request, jobID string) (*models.Task, bool) {
	task, err := s.deps.Store.FindTaskByJobID(r.Context(), jobID)
	if errors.Is(err, db.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "job not found"})
		return nil, false
	}
	if err != nil {
		s.logger.Error("loading task by job", "job_id", jobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return nil, false
	}
	return s.checkOwnership(w, r, task)
}

func (s *Server) checkOwnership(w http.ResponseWriter, r *http.Request, task *models.Task) (*models.Task, bool) {
	caller := CallerFromContext(r.Context())
	if caller.Operator {
		return task, true
	}
	if task.OwnerID == nil || caller.OwnerID == nil || *task.OwnerID != *caller.OwnerID {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
		return nil, false
	}
	return task, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
