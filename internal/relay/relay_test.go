package relay_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/relay"
)

// scriptedStream replays canned SSE bytes, then blocks until closed.
type scriptedStream struct {
	events   string
	hold     bool
	closedCh chan struct{}
}

func (s *scriptedStream) StreamEvents(ctx context.Context, jobID string) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go func() {
		io.WriteString(pw, s.events)
		if !s.hold {
			pw.Close()
			return
		}
		select {
		case <-ctx.Done():
		case <-s.closedCh:
		}
		pw.CloseWithError(ctx.Err())
	}()
	return pr, nil
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func sseEvents() string {
	return "event: status\ndata: {\"status\":\"running\",\"progress\":0.4}\n\n" +
		"event: status\ndata: {\"status\":\"completed\",\"progress\":1}\n\n"
}

func newRelayServer(streams relay.Streams) *httptest.Server {
	rl := relay.New(streams, discard())
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.ServeJob(w, r, "job-1")
	}))
}

func TestSSEPassThrough(t *testing.T) {
	srv := newRelayServer(&scriptedStream{events: sseEvents()})
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, sseEvents(), string(body), "events pass through byte for byte")
}

func TestSSEClientDisconnectTearsDownUpstream(t *testing.T) {
	stream := &scriptedStream{events: sseEvents(), hold: true, closedCh: make(chan struct{})}
	srv := newRelayServer(stream)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "event: status")

	cancel()

	// The handler must return once the caller is gone; the test server
	// would hang on Close otherwise.
	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, reader)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("relay kept streaming after client disconnect")
	}
}

func TestUpstreamFailure(t *testing.T) {
	rl := relay.New(failingStreams{}, discard())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.ServeJob(w, r, "job-1")
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

type failingStreams struct{}

func (failingStreams) StreamEvents(context.Context, string) (io.ReadCloser, error) {
	return nil, io.ErrUnexpectedEOF
}

func TestWebSocketForwardsEventsAsMessages(t *testing.T) {
	srv := newRelayServer(&scriptedStream{events: sseEvents()})
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"status":"running"`)

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(second), `"status":"completed"`)

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "the relay closes the socket when the stream ends")
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
