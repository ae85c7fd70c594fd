package proxycheck_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/db"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/proxycheck"
)

type fakeProxyStore struct {
	mu       sync.Mutex
	proxies  []models.Proxy
	settings models.ProxyCheckSettings
}

func (s *fakeProxyStore) ListProxies(context.Context) ([]models.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Proxy, len(s.proxies))
	copy(out, s.proxies)
	return out, nil
}

func (s *fakeProxyStore) GetProxy(_ context.Context, id string) (*models.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.proxies {
		if models.MustRecordIDString(s.proxies[i].ID) == id {
			p := s.proxies[i]
			return &p, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeProxyStore) GetProxyCheckSettings(context.Context) (models.ProxyCheckSettings, error) {
	return s.settings.Clamped(), nil
}

func (s *fakeProxyStore) RecordProxyResult(_ context.Context, id string, status models.ProxyTestStatus, testedAt time.Time, responseTimeMs *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.proxies {
		if models.MustRecordIDString(s.proxies[i].ID) == id {
			s.proxies[i].TestStatus = status
			s.proxies[i].LastTestedAt = &testedAt
			s.proxies[i].ResponseTimeMs = responseTimeMs
			return nil
		}
	}
	return db.ErrNotFound
}

// gaugeProber tracks the highest number of probes in flight at once.
type gaugeProber struct {
	inFlight atomic.Int64
	peak     atomic.Int64
	result   func(p models.Proxy) (int64, error)
}

func (g *gaugeProber) Probe(_ context.Context, p models.Proxy, _ models.ProxyCheckSettings) (int64, error) {
	cur := g.inFlight.Add(1)
	for {
		peak := g.peak.Load()
		if cur <= peak || g.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	g.inFlight.Add(-1)

	if g.result != nil {
		return g.result(p)
	}
	return 100, nil
}

func proxyLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestRunChecksNowBoundedConcurrency(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	for i := 0; i < 10; i++ {
		store.proxies = append(store.proxies,
			proxy(string(rune('a'+i)), models.ProxyPending, nil, time.Now()))
	}

	prober := &gaugeProber{}
	engine := proxycheck.New(store, prober, "", proxyLogger())

	summary, err := engine.RunChecksNow(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Checked)
	assert.Equal(t, 10, summary.Succeeded)
	assert.LessOrEqual(t, prober.peak.Load(), int64(3),
		"never more than the requested concurrency in flight")
	assert.Greater(t, prober.peak.Load(), int64(1), "workers actually run in parallel")
}

func TestRunChecksNowRecordsResults(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	store.proxies = []models.Proxy{
		proxy("good", models.ProxyPending, nil, time.Now()),
		proxy("bad", models.ProxyPending, nil, time.Now()),
	}

	prober := &gaugeProber{result: func(p models.Proxy) (int64, error) {
		if models.MustRecordIDString(p.ID) == "bad" {
			return 0, errors.New("connect refused")
		}
		return 230, nil
	}}
	engine := proxycheck.New(store, prober, "", proxyLogger())

	summary, err := engine.RunChecksNow(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, "good", summary.BestProxy)

	good, err := store.GetProxy(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, models.ProxySuccess, good.TestStatus)
	require.NotNil(t, good.ResponseTimeMs)
	assert.Equal(t, int64(230), *good.ResponseTimeMs)
	require.NotNil(t, good.LastTestedAt)

	bad, err := store.GetProxy(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, models.ProxyFailed, bad.TestStatus)
	assert.Nil(t, bad.ResponseTimeMs)
}

func TestRunChecksNowNegativeTimeTruncated(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	store.proxies = []models.Proxy{proxy("skewed", models.ProxyPending, nil, time.Now())}

	prober := &gaugeProber{result: func(models.Proxy) (int64, error) { return -40, nil }}
	engine := proxycheck.New(store, prober, "", proxyLogger())

	_, err := engine.RunChecksNow(context.Background(), 1)
	require.NoError(t, err)

	p, err := store.GetProxy(context.Background(), "skewed")
	require.NoError(t, err)
	require.NotNil(t, p.ResponseTimeMs)
	assert.Equal(t, int64(0), *p.ResponseTimeMs)
}

func TestRunChecksNowEmptyPool(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	engine := proxycheck.New(store, &gaugeProber{}, "", proxyLogger())

	summary, err := engine.RunChecksNow(context.Background(), 5)
	require.NoError(t, err)
	assert.Zero(t, summary.Checked)
}

func TestDefaultProxyForDownloadPrefersHealthyDefault(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	store.proxies = []models.Proxy{
		proxy("fast", models.ProxySuccess, ms(50), time.Now()),
		proxy("preferred", models.ProxySuccess, ms(400), time.Now()),
	}
	engine := proxycheck.New(store, &gaugeProber{}, "preferred", proxyLogger())

	id, err := engine.DefaultProxyForDownload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "preferred", id, "a healthy configured default beats a faster candidate")
}

func TestDefaultProxyForDownloadFallsBackToBest(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	store.proxies = []models.Proxy{
		proxy("fast", models.ProxySuccess, ms(50), time.Now()),
		proxy("preferred", models.ProxyFailed, nil, time.Now()),
	}
	engine := proxycheck.New(store, &gaugeProber{}, "preferred", proxyLogger())

	id, err := engine.DefaultProxyForDownload(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fast", id, "an unhealthy default falls back to the best candidate")
}

func TestDefaultProxyForDownloadNoHealthyProxies(t *testing.T) {
	store := &fakeProxyStore{settings: models.DefaultProxyCheckSettings()}
	store.proxies = []models.Proxy{proxy("down", models.ProxyFailed, nil, time.Now())}
	engine := proxycheck.New(store, &gaugeProber{}, "", proxyLogger())

	id, err := engine.DefaultProxyForDownload(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id, "empty id means direct connection")
}
