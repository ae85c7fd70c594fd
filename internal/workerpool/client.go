// Package workerpool provides the HTTP client for the external worker
// pool. The pool is an untrusted, possibly-slow peer: every call carries
// an explicit timeout and an HMAC signature over the exact body bytes.
package workerpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/signing"
)

// SignatureHeader carries the hex HMAC-SHA256 digest of the request body.
const SignatureHeader = "x-signature"

// Client talks to the worker pool's job API.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// New creates a worker-pool client. The timeout bounds every non-streaming
// round trip so a hung worker never blocks an enqueue call.
func New(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartJobRequest is the body of the start-job call.
type StartJobRequest struct {
	JobID   string         `json:"jobId"`
	MediaID string         `json:"mediaId"`
	Engine  string         `json:"engine"`
	Purpose string         `json:"purpose"`
	Title   string         `json:"title,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// StartJobResponse is the body of a successful start-job reply.
type StartJobResponse struct {
	JobID string `json:"jobId"`
}

// OutputRefDoc is one artifact pointer in a status document.
type OutputRefDoc struct {
	Key string `json:"key"`
	URL string `json:"url,omitempty"`
}

// StatusDoc is the worker pool's job status document. EventSeq is the
// sequence of the latest event the pool emitted for this job; carrying
// it lets a poll-driven update share an idempotency key with the
// callback it mirrors.
type StatusDoc struct {
	JobID    string                  `json:"jobId"`
	Status   models.TaskStatus       `json:"status"`
	Phase    *models.Phase           `json:"phase,omitempty"`
	Progress float64                 `json:"progress"`
	EventSeq *int64                  `json:"eventSeq,omitempty"`
	Outputs  map[string]OutputRefDoc `json:"outputs,omitempty"`
	Message  string                  `json:"message,omitempty"`
}

// StartJob asks the pool to begin a job. The manifest for jobId must
// already be persisted before this is called.
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) (*StartJobResponse, error) {
	var resp StartJobResponse
	if err := c.post(ctx, "/jobs", req, &resp); err != nil {
		return nil, fmt.Errorf("start job: %w", err)
	}
	return &resp, nil
}

// CancelJob asks the pool to stop a job. Callers treat failures as
// best-effort; the job will be reaped by its own timeout.
func (c *Client) CancelJob(ctx context.Context, jobID, reason string) error {
	body := map[string]string{"jobId": jobID}
	if reason != "" {
		body["reason"] = reason
	}
	if err := c.post(ctx, "/jobs/"+jobID+"/cancel", body, nil); err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	return nil
}

// JobStatus fetches the pool's status document for a job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*StatusDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("job status: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("job status: %s - %s", resp.Status, string(body))
	}

	var doc StatusDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal status: %w", err)
	}
	return &doc, nil
}

// JobStatusWithRetry polls job status with exponential backoff, for
// callers that treat upstream failure as transient (the reconciler).
func (c *Client) JobStatusWithRetry(ctx context.Context, jobID string, maxElapsed time.Duration) (*StatusDoc, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = maxElapsed

	var doc *StatusDoc
	operation := func() error {
		var err error
		doc, err = c.JobStatus(ctx, jobID)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return doc, nil
}

// StreamEvents opens the pool's SSE stream for a job. The caller owns the
// returned body and must close it; canceling ctx aborts the stream.
func (c *Client) StreamEvents(ctx context.Context, jobID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// No client-level timeout here: the stream is long-lived and bounded
	// by ctx instead.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("open stream: %s", resp.Status)
	}
	return resp.Body, nil
}

// post sends a signed JSON POST and decodes the response into out when
// out is non-nil.
func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signing.Sign(c.secret, body))

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
		return fmt.Errorf("worker pool error: %s - %s", resp.Status, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
