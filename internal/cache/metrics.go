package cache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters are process-lifetime and never reset; the Metrics
// struct below additionally keeps a resettable window for the stats endpoint.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_cache_hits_total",
		Help: "Total number of billing cache hits (any tier)",
	})

	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_cache_misses_total",
		Help: "Total number of billing cache misses",
	})

	cacheSetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_cache_sets_total",
		Help: "Total number of billing cache writes",
	})

	cacheDeletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_cache_deletes_total",
		Help: "Total number of billing cache deletions",
	})

	cacheErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_cache_errors_total",
		Help: "Total number of swallowed cache store errors",
	})
)

// Metrics tracks cache effectiveness over a resettable window.
// All methods are safe for concurrent use.
type Metrics struct {
	mu        sync.Mutex
	hits      uint64
	misses    uint64
	sets      uint64
	deletes   uint64
	errors    uint64
	lastReset time.Time
}

// Stats is a point-in-time snapshot of Metrics.
type Stats struct {
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	Sets        uint64    `json:"sets"`
	Deletes     uint64    `json:"deletes"`
	Errors      uint64    `json:"errors"`
	HitRate     float64   `json:"hit_rate"`
	PeriodStart time.Time `json:"period_start"`
}

func NewMetrics() *Metrics {
	return &Metrics{lastReset: time.Now().UTC()}
}

func (m *Metrics) RecordHit() {
	cacheHitsTotal.Inc()
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *Metrics) RecordMiss() {
	cacheMissesTotal.Inc()
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *Metrics) RecordSet() {
	cacheSetsTotal.Inc()
	m.mu.Lock()
	m.sets++
	m.mu.Unlock()
}

func (m *Metrics) RecordDelete() {
	cacheDeletesTotal.Inc()
	m.mu.Lock()
	m.deletes++
	m.mu.Unlock()
}

func (m *Metrics) RecordError() {
	cacheErrorsTotal.Inc()
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

// HitRate returns hits/(hits+misses) as a percentage, 0 when no lookups
// have been recorded yet.
func (m *Metrics) HitRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hitRateLocked()
}

func (m *Metrics) hitRateLocked() float64 {
	total := m.hits + m.misses
	if total == 0 {
		return 0
	}
	return float64(m.hits) / float64(total) * 100
}

func (m *Metrics) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:        m.hits,
		Misses:      m.misses,
		Sets:        m.sets,
		Deletes:     m.deletes,
		Errors:      m.errors,
		HitRate:     m.hitRateLocked(),
		PeriodStart: m.lastReset,
	}
}

// Reset zeroes all window counters. The new period start is guaranteed to be
// strictly after the previous one even when calls land on the same clock tick.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits, m.misses, m.sets, m.deletes, m.errors = 0, 0, 0, 0, 0

	now := time.Now().UTC()
	if !now.After(m.lastReset) {
		now = m.lastReset.Add(time.Nanosecond)
	}
	m.lastReset = now
}
