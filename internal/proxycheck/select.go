package proxycheck

import (
	"math"

	"github.com/sujianqingfeng/vid-genius-orchestrator/internal/models"
)

// PickBestSuccessProxyID ranks healthy proxies by measured response time
// ascending, treating a missing measurement as slowest. Ties go to the
// most recently created proxy. Returns "" when no proxy is healthy.
func PickBestSuccessProxyID(proxies []models.Proxy) string {
	bestID := ""
	bestTime := math.Inf(1)
	var best models.Proxy

	for _, p := range proxies {
		if p.TestStatus != models.ProxySuccess {
			continue
		}

		t := math.Inf(1)
		if p.ResponseTimeMs != nil {
			t = float64(*p.ResponseTimeMs)
		}

		switch {
		case bestID == "", t < bestTime:
		case t == bestTime && p.CreatedAt.After(best.CreatedAt):
		default:
			continue
		}
		bestID = models.MustRecordIDString(p.ID)
		bestTime = t
		best = p
	}
	return bestID
}
