package models

import (
	"fmt"
	"net/url"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// ProxyTestStatus is the outcome of the most recent health probe.
type ProxyTestStatus string

const (
	ProxyPending ProxyTestStatus = "pending"
	ProxySuccess ProxyTestStatus = "success"
	ProxyFailed  ProxyTestStatus = "failed"
)

// Proxy is a candidate outbound network path. Rows are mutated exclusively
// by the health-check engine's result recording.
type Proxy struct {
	ID             surrealmodels.RecordID `json:"id"`
	Server         string                 `json:"server"`
	Port           int                    `json:"port"`
	Protocol       string                 `json:"protocol"` // http, https, socks5
	Username       *string                `json:"username,omitempty"`
	Password       *string                `json:"password,omitempty"`
	LastTestedAt   *time.Time             `json:"last_tested_at,omitempty"`
	TestStatus     ProxyTestStatus        `json:"test_status"`
	ResponseTimeMs *int64                 `json:"response_time_ms,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// URL builds the proxy URL including credentials when present.
func (p Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Protocol,
		Host:   fmt.Sprintf("%s:%d", p.Server, p.Port),
	}
	if p.Username != nil && *p.Username != "" {
		if p.Password != nil {
			u.User = url.UserPassword(*p.Username, *p.Password)
		} else {
			u.User = url.User(*p.Username)
		}
	}
	return u
}

// Proxy check settings bounds. Each field is clamped independently on
// write so a bad value never disables checking entirely.
const (
	MinProxyTimeoutMs   = 1000
	MaxProxyTimeoutMs   = 60000
	MinProxyProbeBytes  = 1024
	MaxProxyProbeBytes  = 10 << 20
	MinProxyConcurrency = 1
	MaxProxyConcurrency = 20

	DefaultProxyTimeoutMs   = 10000
	DefaultProxyProbeBytes  = 64 << 10
	DefaultProxyConcurrency = 5
)

// ProxyCheckSettings is the singleton health-check configuration.
type ProxyCheckSettings struct {
	TestURL     string `json:"test_url"`
	TimeoutMs   int    `json:"timeout_ms"`
	ProbeBytes  int    `json:"probe_bytes"`
	Concurrency int    `json:"concurrency"`
}

// DefaultProxyCheckSettings returns settings used when none are stored.
func DefaultProxyCheckSettings() ProxyCheckSettings {
	return ProxyCheckSettings{
		TestURL:     "https://www.gstatic.com/generate_204",
		TimeoutMs:   DefaultProxyTimeoutMs,
		ProbeBytes:  DefaultProxyProbeBytes,
		Concurrency: DefaultProxyConcurrency,
	}
}

// Clamped returns a copy with every field forced into its safe range.
func (s ProxyCheckSettings) Clamped() ProxyCheckSettings {
	out := s
	if out.TestURL == "" {
		out.TestURL = DefaultProxyCheckSettings().TestURL
	}
	out.TimeoutMs = clampInt(out.TimeoutMs, MinProxyTimeoutMs, MaxProxyTimeoutMs)
	out.ProbeBytes = clampInt(out.ProbeBytes, MinProxyProbeBytes, MaxProxyProbeBytes)
	out.Concurrency = clampInt(out.Concurrency, MinProxyConcurrency, MaxProxyConcurrency)
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
