package workerpool_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/signing"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/workerpool"
)

func TestStartJobSignsExactBodyBytes(t *testing.T) {
	var gotSig string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs", r.URL.Path)
		gotSig = r.Header.Get(workerpool.SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		json.NewEncoder(w).Encode(workerpool.StartJobResponse{JobID: "job-1"})
	}))
	defer srv.Close()

	client := workerpool.New(srv.URL, "s3cret", 5*time.Second)
	resp, err := client.StartJob(context.Background(), workerpool.StartJobRequest{
		JobID:   "job-1",
		MediaID: "media-1",
		Engine:  "ytdlp",
		Purpose: "download",
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)

	assert.True(t, signing.Verify("s3cret", gotBody, gotSig),
		"signature must verify against the exact bytes the server received")
}

func TestStartJobUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := workerpool.New(srv.URL, "s3cret", 5*time.Second)
	_, err := client.StartJob(context.Background(), workerpool.StartJobRequest{JobID: "job-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCancelJobPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := workerpool.New(srv.URL, "s3cret", 5*time.Second)
	require.NoError(t, client.CancelJob(context.Background(), "job-9", "superseded by a newer task"))
	assert.Equal(t, "/jobs/job-9/cancel", gotPath)
}

func TestJobStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/jobs/job-2", r.URL.Path)
		json.NewEncoder(w).Encode(workerpool.StatusDoc{
			JobID:    "job-2",
			Status:   models.StatusCompleted,
			Progress: 1,
			Outputs: map[string]workerpool.OutputRefDoc{
				"vtt": {Key: "media/m/sub.vtt"},
			},
		})
	}))
	defer srv.Close()

	client := workerpool.New(srv.URL, "s3cret", 5*time.Second)
	doc, err := client.JobStatus(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	assert.Equal(t, "media/m/sub.vtt", doc.Outputs["vtt"].Key)
}

func TestJobStatusWithRetryRecovers(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(workerpool.StatusDoc{JobID: "job-3", Status: models.StatusRunning})
	}))
	defer srv.Close()

	client := workerpool.New(srv.URL, "s3cret", 5*time.Second)
	doc, err := client.JobStatusWithRetry(context.Background(), "job-3", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, doc.Status)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestStreamEventsCancellation(t *testing.T) {
	streamStarted := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(streamStarted)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := workerpool.New(srv.URL, "s3cret", 5*time.Second)

	body, err := client.StreamEvents(ctx, "job-4")
	require.NoError(t, err)
	defer body.Close()

	<-streamStarted
	cancel()

	_, err = io.ReadAll(body)
	assert.Error(t, err, "canceling the context must abort the stream read")
}
