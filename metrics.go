package authority

import (
	"sync/atomic"
	"time"

	"github.com/mapvision/authority/internal/flows"
)

// MetricID identifies one engine counter or histogram.
type MetricID uint16

const (
	MetricRegisterSuccess MetricID = iota
	MetricRegisterFailure
	MetricLoginSuccess
	MetricLoginFailure
	MetricLoginLocked
	MetricSessionCreated
	MetricSessionInvalidated
	MetricSessionVerifyFailure
	MetricSubnetMismatch
	MetricTokenIssued
	MetricTokenConsumed
	MetricTokenInvalid
	MetricEmailVerified
	MetricPasswordResetRequest
	MetricPasswordResetComplete
	MetricPasswordChanged
	MetricAccountToggled
	MetricRateLimitHit
	MetricPasswordHashUpgraded
	MetricPermissionDenied
	MetricValidationFailure
	MetricStorageFailure
	MetricNotificationSent
	MetricNotificationFailed
	MetricNotificationSuppressed
	MetricMaintenanceRun
	MetricSessionsSwept
	// MetricVerifySessionLatency is the only histogram.
	MetricVerifySessionLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled *Metrics
// ignores every call.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter. Histogram
// buckets are non-cumulative, bounded at 5, 10, 25, 50, 100, 250, 500ms and
// +Inf.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics describes the newmetrics operation and its observable behavior.
//
// NewMetrics does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc describes the inc operation and its observable behavior.
//
// Inc is safe for concurrent use and never blocks.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only MetricVerifySessionLatency
// carries a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricVerifySessionLatency {
		return
	}

	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot describes the snapshot operation and its observable behavior.
//
// Snapshot does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if id == MetricVerifySessionLatency {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricVerifySessionLatency].buckets[i])
		}
		s.Histograms[MetricVerifySessionLatency] = buckets
	}

	return s
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}

// flowMetrics maps the flow-level metric slots to engine IDs.
func flowMetrics() flows.Metrics {
	return flows.Metrics{
		RegisterSuccess:       int(MetricRegisterSuccess),
		RegisterFailure:       int(MetricRegisterFailure),
		LoginSuccess:          int(MetricLoginSuccess),
		LoginFailure:          int(MetricLoginFailure),
		LoginLocked:           int(MetricLoginLocked),
		SessionCreated:        int(MetricSessionCreated),
		SessionInvalidated:    int(MetricSessionInvalidated),
		TokenIssued:           int(MetricTokenIssued),
		TokenConsumed:         int(MetricTokenConsumed),
		TokenInvalid:          int(MetricTokenInvalid),
		EmailVerified:         int(MetricEmailVerified),
		PasswordResetRequest:  int(MetricPasswordResetRequest),
		PasswordResetComplete: int(MetricPasswordResetComplete),
		PasswordChanged:       int(MetricPasswordChanged),
		AccountToggled:        int(MetricAccountToggled),
		RateLimited:           int(MetricRateLimitHit),
		PasswordHashUpgraded:  int(MetricPasswordHashUpgraded),
		MaintenanceRun:        int(MetricMaintenanceRun),
		SessionsSwept:         int(MetricSessionsSwept),
		PermissionDenied:      int(MetricPermissionDenied),
		ValidationFailure:     int(MetricValidationFailure),
		StorageFailure:        int(MetricStorageFailure),
	}
}
