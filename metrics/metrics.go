// Package metrics exposes Prometheus collectors for the session core.
//
// A nil *Collector is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector groups the session core's Prometheus metrics
type Collector struct {
	cacheLookups *prometheus.CounterVec
	refreshes    *prometheus.CounterVec
	lockWait     prometheus.Histogram
	handshakes   *prometheus.HistogramVec
	logouts      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slashauth",
			Name:      "cache_lookups_total",
			Help:      "Token cache lookups by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slashauth",
			Name:      "token_refreshes_total",
			Help:      "Network token refreshes by outcome.",
		}, []string{"outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "slashauth",
			Name:      "refresh_lock_wait_seconds",
			Help:      "Time spent acquiring the cross-context refresh lock.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		handshakes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "slashauth",
			Name:      "handshake_duration_seconds",
			Help:      "Session channel handshake duration by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "slashauth",
			Name:      "logouts_total",
			Help:      "Session teardowns by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(c.cacheLookups, c.refreshes, c.lockWait, c.handshakes, c.logouts)
	}
	return c
}

func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.cacheLookups.WithLabelValues(result).Inc()
}

func (c *Collector) Refresh(outcome string) {
	if c == nil {
		return
	}
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) LockWait(d time.Duration) {
	if c == nil {
		return
	}
	c.lockWait.Observe(d.Seconds())
}

func (c *Collector) Handshake(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.handshakes.WithLabelValues(outcome).Observe(d.Seconds())
}

func (c *Collector) Logout(reason string) {
	if c == nil {
		return
	}
	c.logouts.WithLabelValues(reason).Inc()
}
