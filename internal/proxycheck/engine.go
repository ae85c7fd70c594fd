// Package proxycheck probes candidate proxies and records their health.
package proxycheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// Store is the persistence surface the engine needs. *db.Client
// satisfies it.
type Store interface {
	ListProxies(ctx context.Context) ([]models.Proxy, error)
	GetProxy(ctx context.Context, id string) (*models.Proxy, error)
	GetProxyCheckSettings(ctx context.Context) (models.ProxyCheckSettings, error)
	RecordProxyResult(ctx context.Context, id string, status models.ProxyTestStatus, testedAt time.Time, responseTimeMs *int64) error
}

// Prober performs one health probe through a proxy, returning the
// response time on success.
type Prober interface {
	Probe(ctx context.Context, p models.Proxy, settings models.ProxyCheckSettings) (int64, error)
}

// Summary reports the outcome of one full check run.
type Summary struct {
	Checked   int    `json:"checked"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	BestProxy string `json:"best_proxy,omitempty"`
}

// Engine runs health checks over the proxy pool with bounded
// concurrency.
type Engine struct {
	store          Store
	prober         Prober
	defaultProxyID string
	logger         *slog.Logger
}

// New creates an engine. A nil prober gets the HTTP range-GET prober.
// defaultProxyID may be empty; it only biases DefaultProxyForDownload.
func New(store Store, prober Prober, defaultProxyID string, logger *slog.Logger) *Engine {
	if prober == nil {
		prober = httpProber{}
	}
	return &Engine{store: store, prober: prober, defaultProxyID: defaultProxyID, logger: logger}
}

// RunChecksNow probes every candidate once and records each result.
// concurrency <= 0 falls back to the stored settings; either way the
// value is clamped. Workers share a cursor, so at most `concurrency`
// probes are in flight at any instant regardless of candidate count.
func (e *Engine) RunChecksNow(ctx context.Context, concurrency int) (Summary, error) {
	settings, err := e.store.GetProxyCheckSettings(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load settings: %w", err)
	}
	if concurrency > 0 {
		settings.Concurrency = concurrency
	}
	settings = settings.Clamped()

	proxies, err := e.store.ListProxies(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list proxies: %w", err)
	}
	if len(proxies) == 0 {
		return Summary{}, nil
	}

	var (
		cursor    atomic.Int64
		succeeded atomic.Int64
		wg        sync.WaitGroup
	)

	workers := settings.Concurrency
	if workers > len(proxies) {
		workers = len(proxies)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(proxies) || ctx.Err() != nil {
					return
				}
				if e.checkOne(ctx, proxies[idx], settings) {
					succeeded.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	summary := Summary{
		Checked:   len(proxies),
		Succeeded: int(succeeded.Load()),
		Failed:    len(proxies) - int(succeeded.Load()),
	}

	// Re-read so the ranking sees the fresh results.
	if fresh, err := e.store.ListProxies(ctx); err == nil {
		summary.BestProxy = PickBestSuccessProxyID(fresh)
	}

	e.logger.Info("proxy check run finished",
		"checked", summary.Checked, "succeeded", summary.Succeeded, "failed", summary.Failed)
	return summary, nil
}

func (e *Engine) checkOne(ctx context.Context, p models.Proxy, settings models.ProxyCheckSettings) bool {
	probeCtx, cancel := context.WithTimeout(ctx, time.Duration(settings.TimeoutMs)*time.Millisecond)
	defer cancel()

	id := models.MustRecordIDString(p.ID)
	testedAt := time.Now().UTC()

	ms, err := e.prober.Probe(probeCtx, p, settings)
	if err != nil {
		e.logger.Debug("proxy probe failed", "proxy_id", id, "error", err)
		if recErr := e.store.RecordProxyResult(ctx, id, models.ProxyFailed, testedAt, nil); recErr != nil {
			e.logger.Error("recording proxy result", "proxy_id", id, "error", recErr)
		}
		return false
	}

	if ms < 0 {
		ms = 0
	}
	if err := e.store.RecordProxyResult(ctx, id, models.ProxySuccess, testedAt, &ms); err != nil {
		e.logger.Error("recording proxy result", "proxy_id", id, "error", err)
	}
	return true
}

// DefaultProxyForDownload returns the proxy id download tasks should
// route through: the configured default when it is currently healthy,
// otherwise the best-ranked healthy candidate. Empty means direct.
func (e *Engine) DefaultProxyForDownload(ctx context.Context) (string, error) {
	if e.defaultProxyID != "" {
		p, err := e.store.GetProxy(ctx, e.defaultProxyID)
		if err == nil && p.TestStatus == models.ProxySuccess {
			return e.defaultProxyID, nil
		}
		if err != nil {
			e.logger.Warn("configured default proxy unavailable", "proxy_id", e.defaultProxyID, "error", err)
		}
	}

	proxies, err := e.store.ListProxies(ctx)
	if err != nil {
		return "", fmt.Errorf("list proxies: %w", err)
	}
	return PickBestSuccessProxyID(proxies), nil
}

// httpProber issues a ranged GET through the candidate proxy.
type httpProber struct{}

func (httpProber) Probe(ctx context.Context, p models.Proxy, settings models.ProxyCheckSettings) (int64, error) {
	transport := &http.Transport{
		Proxy:             http.ProxyURL(p.URL()),
		DisableKeepAlives: true,
	}
	client := &http.Client{Transport: transport}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, settings.TestURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", settings.ProbeBytes-1))

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errors.New("probe: " + resp.Status)
	}
	if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, int64(settings.ProbeBytes))); err != nil {
		return 0, fmt.Errorf("read probe body: %w", err)
	}
	return time.Since(start).Milliseconds(), nil
}
