package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// CreateProxy inserts a new proxy candidate in status pending.
func (c *Client) CreateProxy(ctx context.Context, id string, p models.Proxy) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("proxy", $id) CONTENT {
			server: $server,
			port: $port,
			protocol: $protocol,
			username: $username,
			password: $password,
			test_status: 'pending',
			created_at: time::now()
		}
	`, map[string]any{
		"id":       id,
		"server":   p.Server,
		"port":     p.Port,
		"protocol": p.Protocol,
		"username": p.Username,
		"password": p.Password,
	})
	if err != nil {
		return fmt.Errorf("create proxy: %w", wrapQueryError(err))
	}
	return nil
}

// ListProxies returns all proxy candidates.
func (c *Client) ListProxies(ctx context.Context) ([]models.Proxy, error) {
	results, err := surrealdb.Query[[]models.Proxy](ctx, c.db, `
		SELECT * FROM proxy ORDER BY created_at ASC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}

	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// GetProxy retrieves a proxy by ID. Returns ErrNotFound if absent.
func (c *Client) GetProxy(ctx context.Context, id string) (*models.Proxy, error) {
	results, err := surrealdb.Query[[]models.Proxy](ctx, c.db, `
		SELECT * FROM type::record("proxy", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get proxy: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, ErrNotFound
	}
	return &(*results)[0].Result[0], nil
}

// RecordProxyResult stores the outcome of one health probe.
// responseTimeMs is nil for failed probes.
func (c *Client) RecordProxyResult(ctx context.Context, id string, status models.ProxyTestStatus, testedAt time.Time, responseTimeMs *int64) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("proxy", $id) SET
			test_status = $status,
			last_tested_at = $tested_at,
			response_time_ms = $response_time_ms
	`, map[string]any{
		"id":               id,
		"status":           string(status),
		"tested_at":        testedAt,
		"response_time_ms": responseTimeMs,
	})
	if err != nil {
		return fmt.Errorf("record proxy result: %w", err)
	}
	return nil
}

// GetProxyCheckSettings loads the singleton settings row, falling back to
// defaults when none is stored. The result is always clamped.
func (c *Client) GetProxyCheckSettings(ctx context.Context) (models.ProxyCheckSettings, error) {
	results, err := surrealdb.Query[[]models.ProxyCheckSettings](ctx, c.db, `
		SELECT test_url, timeout_ms, probe_bytes, concurrency
		FROM type::record("proxy_check_settings", "default")
	`, nil)
	if err != nil {
		return models.ProxyCheckSettings{}, fmt.Errorf("get proxy check settings: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return models.DefaultProxyCheckSettings(), nil
	}
	return (*results)[0].Result[0].Clamped(), nil
}

// SaveProxyCheckSettings upserts the singleton settings row. Each field is
// clamped to its safe range before the write.
func (c *Client) SaveProxyCheckSettings(ctx context.Context, s models.ProxyCheckSettings) error {
	s = s.Clamped()
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("proxy_check_settings", "default") SET
			test_url = $test_url,
			timeout_ms = $timeout_ms,
			probe_bytes = $probe_bytes,
			concurrency = $concurrency
	`, map[string]any{
		"test_url":    s.TestURL,
		"timeout_ms":  s.TimeoutMs,
		"probe_bytes": s.ProbeBytes,
		"concurrency": s.Concurrency,
	})
	if err != nil {
		return fmt.Errorf("save proxy check settings: %w", err)
	}
	return nil
}
