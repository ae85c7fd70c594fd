package callback

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/signing"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/workerpool"
)

const maxBodyBytes = 1 << 20

// DefaultReplayWindow bounds how old a credential-variant timestamp may
// be. Job-status callbacks are not window-checked; their dedup is the
// event log.
const DefaultReplayWindow = 5 * time.Minute

// Receiver is the HTTP endpoint workers POST status transitions to.
type Receiver struct {
	secret  string
	applier *Applier
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewReceiver creates the callback endpoint handler.
func NewReceiver(secret string, applier *Applier, logger *slog.Logger) *Receiver {
	return &Receiver{
		secret:  secret,
		applier: applier,
		window:  DefaultReplayWindow,
		now:     time.Now,
		logger:  logger,
	}
}

// ServeHTTP implements the delivery contract: a bad signature is the only
// hard rejection for a parseable request, a syntactically broken body is
// acknowledged and dropped so the worker stops retrying garbage, and a
// valid body is applied exactly once.
func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}

	if !signing.Verify(rc.secret, body, r.Header.Get(workerpool.SignatureHeader)) {
		rc.logger.Warn("callback signature rejected", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid signature"})
		return
	}

	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		// Authenticated but malformed. Acknowledge so the sender does not
		// retry a body that will never parse.
		rc.logger.Warn("malformed callback body dropped", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "ignored": true})
		return
	}

	if issues := p.Validate(); len(issues) > 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload", "issues": issues})
		return
	}

	if p.Purpose == PurposeCredential {
		age := rc.now().Sub(time.UnixMilli(p.Ts))
		if age > rc.window || age < -rc.window {
			rc.logger.Warn("credential callback outside replay window", "job_id", p.JobID, "age", age)
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "request expired"})
			return
		}
	}

	applied, err := rc.applier.Apply(r.Context(), models.SourceCallback, p)
	if err != nil {
		rc.logger.Error("callback apply failed", "job_id", p.JobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
		return
	}

	resp := map[string]any{"ok": true}
	if !applied {
		resp["duplicate"] = true
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
