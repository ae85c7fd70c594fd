// Package client provides a REST client for the orchestrator server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/metrics"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/proxycheck"
)

// Client is a REST client for the orchestrator server.
type Client struct {
	baseURL    string
	token      string
	ownerID    string
	httpClient *http.Client
}

// New creates a new client.
// If baseURL is empty, uses VGO_SERVER_URL env var or defaults to localhost:8686.
// The API token comes from VGO_API_TOKEN when token is empty.
func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("VGO_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8686"
	}
	if token == "" {
		token = os.Getenv("VGO_API_TOKEN")
	}

	timeout := 2 * time.Minute
	if t := os.Getenv("VGO_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ownerID: os.Getenv("VGO_OWNER_ID"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// do sends one authenticated request and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.ownerID != "" {
		req.Header.Set("X-Owner-ID", c.ownerID)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server error: %s - %s", resp.Status, apiErr.Error)
		}
		return fmt.Errorf("server error: %s - %s", resp.Status, string(respBody))
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// EnqueueInput is the input for submitting a task.
type EnqueueInput struct {
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

// EnqueueResult identifies the created task and its worker job.
type EnqueueResult struct {
	TaskID string `json:"taskId"`
	JobID  string `json:"jobId"`
}

// Enqueue submits a new task.
func (c *Client) Enqueue(ctx context.Context, input EnqueueInput) (*EnqueueResult, error) {
	var result EnqueueResult
	if err := c.do(ctx, http.MethodPost, "/api/tasks", input, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTasks returns the caller's tasks, most recent first.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var result struct {
		Tasks []models.Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &result); err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// GetTask retrieves one task by ID.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask cancels an active task.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// ListProxies returns all proxy candidates with credentials redacted.
func (c *Client) ListProxies(ctx context.Context) ([]models.Proxy, error) {
	var result struct {
		Proxies []models.Proxy `json:"proxies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/proxies", nil, &result); err != nil {
		return nil, err
	}
	return result.Proxies, nil
}

// CheckProxies runs health checks now. concurrency 0 uses the stored
// settings.
func (c *Client) CheckProxies(ctx context.Context, concurrency int) (*proxycheck.Summary, error) {
	payload := map[string]int{"concurrency": concurrency}
	var summary proxycheck.Summary
	if err := c.do(ctx, http.MethodPost, "/api/proxies/check", payload, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// ListJobEvents returns the recorded event log for a job.
func (c *Client) ListJobEvents(ctx context.Context, jobID string) ([]models.JobEvent, error) {
	var result struct {
		Events []models.JobEvent `json:"events"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(jobID)+"/events", nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// GetStats returns in-memory runtime statistics (resets on server restart).
func (c *Client) GetStats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// WatchEvents opens the job event stream over WebSocket and invokes
// onEvent with each raw SSE event block. Return an error from onEvent to
// abort.
func (c *Client) WatchEvents(ctx context.Context, jobID string, onEvent func(event string) error) error {
	wsURL := c.baseURL + "/api/jobs/" + url.PathEscape(jobID) + "/stream"
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	if c.ownerID != "" {
		header.Set("X-Owner-ID", c.ownerID)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := onEvent(string(message)); err != nil {
			return err
		}
	}
}
