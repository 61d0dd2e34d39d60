package gateway

import (
	"sync"
	"time"
)

const statsDateLayout = "2006-01-02"

// UsageStats accumulates process-wide request statistics. Every update
// is atomic with respect to concurrent callers, including the daily
// counter rollover: after any update completes,
// successful + failed == total holds.
type UsageStats struct {
	mu sync.Mutex

	totalRequests       int64
	successfulRequests  int64
	failedRequests      int64
	totalResponseTimeMs int64
	todayRequests       int64
	lastRequestDate     string

	failuresByReason map[string]int64
	providers        map[string]*ProviderUsage

	now func() time.Time
}

// ProviderUsage is the per-provider attempt/outcome breakdown.
type ProviderUsage struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// StatsSnapshot is an immutable copy of the counters.
type StatsSnapshot struct {
	TotalRequests       int64                    `json:"total_requests"`
	SuccessfulRequests  int64                    `json:"successful_requests"`
	FailedRequests      int64                    `json:"failed_requests"`
	TotalResponseTimeMs int64                    `json:"total_response_time_ms"`
	AverageLatencyMs    float64                  `json:"average_latency_ms"`
	TodayRequests       int64                    `json:"today_requests"`
	LastRequestDate     string                   `json:"last_request_date"`
	FailuresByReason    map[string]int64         `json:"failures_by_reason"`
	Providers           map[string]ProviderUsage `json:"providers"`
}

// NewUsageStats creates an empty accountant.
func NewUsageStats() *UsageStats {
	return &UsageStats{
		failuresByReason: make(map[string]int64),
		providers:        make(map[string]*ProviderUsage),
		now:              time.Now,
	}
}

// RecordAttempt counts an admitted call attempt against a provider.
func (s *UsageStats) RecordAttempt(providerID string) {
	s.mu.Lock()
	s.providerLocked(providerID).Attempts++
	s.mu.Unlock()
}

// RecordSuccess records one successful outcome with its latency.
// Cache hits are recorded here with latency 0.
func (s *UsageStats) RecordSuccess(providerID string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollDateLocked()
	s.totalRequests++
	s.successfulRequests++
	s.totalResponseTimeMs += latencyMs
	s.todayRequests++
	s.providerLocked(providerID).Successes++
}

// RecordFailure records one failed outcome, tagged with the failure
// reason so rate-limited rejections stay distinguishable from provider
// errors.
func (s *UsageStats) RecordFailure(providerID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollDateLocked()
	s.totalRequests++
	s.failedRequests++
	s.todayRequests++
	s.failuresByReason[reason]++
	s.providerLocked(providerID).Failures++
}

// Snapshot returns a copy of the current counters.
func (s *UsageStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		TotalRequests:       s.totalRequests,
		SuccessfulRequests:  s.successfulRequests,
		FailedRequests:      s.failedRequests,
		TotalResponseTimeMs: s.totalResponseTimeMs,
		TodayRequests:       s.todayRequests,
		LastRequestDate:     s.lastRequestDate,
		FailuresByReason:    make(map[string]int64, len(s.failuresByReason)),
		Providers:           make(map[string]ProviderUsage, len(s.providers)),
	}
	if s.successfulRequests > 0 {
		snap.AverageLatencyMs = float64(s.totalResponseTimeMs) / float64(s.successfulRequests)
	}
	for reason, n := range s.failuresByReason {
		snap.FailuresByReason[reason] = n
	}
	for id, usage := range s.providers {
		snap.Providers[id] = *usage
	}
	return snap
}

// rollDateLocked resets the daily counter the first time an update is
// observed on a new date. Runs under the same lock as the counter
// updates so two concurrent requests cannot both reset it.
func (s *UsageStats) rollDateLocked() {
	today := s.now().Format(statsDateLayout)
	if today != s.lastRequestDate {
		s.todayRequests = 0
		s.lastRequestDate = today
	}
}

func (s *UsageStats) providerLocked(id string) *ProviderUsage {
	usage, ok := s.providers[id]
	if !ok {
		usage = &ProviderUsage{}
		s.providers[id] = usage
	}
	return usage
}
