// Package relay streams worker-pool job events through to API callers.
// The orchestrator sits between browsers and the pool, so events pass
// through verbatim instead of being re-modeled.
package relay

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Streams is the upstream event source. *workerpool.Client satisfies it.
type Streams interface {
	StreamEvents(ctx context.Context, jobID string) (io.ReadCloser, error)
}

// Relay forwards one job's event stream to an HTTP caller, as SSE for
// plain requests and as text messages for WebSocket upgrades.
type Relay struct {
	streams  Streams
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a relay.
func New(streams Streams, logger *slog.Logger) *Relay {
	return &Relay{
		streams: streams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Cross-origin browsers are fine: the route is bearer-authenticated.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeJob streams events for one job until the upstream closes or the
// caller goes away. The caller's request context bounds the upstream
// read, so a disconnected client tears the pool connection down too.
func (rl *Relay) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if websocket.IsWebSocketUpgrade(r) {
		rl.serveWebSocket(w, r, jobID)
		return
	}
	rl.serveSSE(w, r, jobID)
}

func (rl *Relay) serveSSE(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	upstream, err := rl.streams.StreamEvents(r.Context(), jobID)
	if err != nil {
		rl.logger.Warn("opening upstream event stream", "job_id", jobID, "error", err)
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
		// A blank line terminates one SSE event; flush per event, not
		// per line.
		if line == "" {
			flusher.Flush()
		}
	}
	flusher.Flush()

	if err := scanner.Err(); err != nil && r.Context().Err() == nil {
		rl.logger.Warn("upstream event stream ended", "job_id", jobID, "error", err)
	}
}

func (rl *Relay) serveWebSocket(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data; reads only surface the close frame.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	upstream, err := rl.streams.StreamEvents(ctx, jobID)
	if err != nil {
		rl.logger.Warn("opening upstream event stream", "job_id", jobID, "error", err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "upstream unavailable"))
		return
	}
	defer upstream.Close()

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	var event strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			event.WriteString(line)
			event.WriteString("\n")
			continue
		}
		if event.Len() == 0 {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(event.String())); err != nil {
			return
		}
		event.Reset()
	}
	if event.Len() > 0 {
		conn.WriteMessage(websocket.TextMessage, []byte(event.String()))
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"))
}
