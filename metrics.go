package goCred

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts failed logins of any classification.
	MetricLoginFailure
	// MetricLoginBadCredentials counts BadCredentials failures.
	MetricLoginBadCredentials
	// MetricLoginCredentialsExpired counts logins diverted to the change flow.
	MetricLoginCredentialsExpired
	// MetricAccountLocked counts accounts locked by the failure counter.
	MetricAccountLocked
	// MetricAccountUnlocked counts administrative unlocks.
	MetricAccountUnlocked
	// MetricDirectoryFailure counts directory search failures.
	MetricDirectoryFailure
	// MetricAssertionAccepted counts SAML assertions admitted.
	MetricAssertionAccepted
	// MetricAssertionRejected counts SAML assertions rejected post-assertion.
	MetricAssertionRejected
	// MetricPasswordChangeSuccess counts applied password changes.
	MetricPasswordChangeSuccess
	// MetricPasswordChangeRejected counts changes refused by the policy.
	MetricPasswordChangeRejected
	// MetricPasswordResetSuccess counts applied token resets.
	MetricPasswordResetSuccess
	// MetricPasswordResetInvalidToken counts resets with an unknown or inactive token.
	MetricPasswordResetInvalidToken
	// MetricResetTokenIssued counts issued reset tokens.
	MetricResetTokenIssued
	// MetricResetTokenBurned counts burned reset tokens.
	MetricResetTokenBurned
	// MetricTemporaryPassword counts generated temporary passwords.
	MetricTemporaryPassword
	// MetricSessionLogin counts recorded LOGIN events.
	MetricSessionLogin
	// MetricSessionLogout counts recorded LOGOUT events.
	MetricSessionLogout
	// MetricSessionImpersonation counts recorded IMPERSONATION events.
	MetricSessionImpersonation
	// MetricSessionDuplicate counts session events skipped as duplicates.
	MetricSessionDuplicate
	// MetricEmailSent counts delivered notifications.
	MetricEmailSent
	// MetricEmailDryRun counts notifications logged instead of sent.
	MetricEmailDryRun
	// MetricAuthLatency is the histogram of Login durations.
	MetricAuthLatency
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

// Metrics is a fixed set of lock-free counters and one latency histogram.
// A nil or disabled Metrics ignores all writes.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
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

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d in the histogram of id. Only MetricAuthLatency carries
// a histogram.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || id >= metricIDCount {
		return
	}
	if id != MetricAuthLatency {
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

// Snapshot copies every counter. A disabled Metrics yields empty maps.
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
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := 0; i < histBucketCount; i++ {
			buckets[i] = atomic.LoadUint64(&m.histograms[MetricAuthLatency].buckets[i])
		}
		s.Histograms[MetricAuthLatency] = buckets
	}

	return s
}

// Upper bounds in ms: 25, 50, 100, 250, 500, 1000, 2500, +Inf.
func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 25:
		return 0
	case ms <= 50:
		return 1
	case ms <= 100:
		return 2
	case ms <= 250:
		return 3
	case ms <= 500:
		return 4
	case ms <= 1000:
		return 5
	case ms <= 2500:
		return 6
	default:
		return 7
	}
}
