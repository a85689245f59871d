package provider

import (
	"strings"
	"sync"
	"time"
)

// HealthMonitor tracks request outcomes and failure patterns for one provider
type HealthMonitor struct {
	mu                   sync.RWMutex
	provider             string
	totalRequests        int64
	successfulRequests   int64
	failedRequests       int64
	consecutiveFailures  int64
	lastFailureTime      time.Time
	lastSuccessTime      time.Time
	recentFailures       []FailureRecord
	maxRecentFailures    int
	failureThreshold     float64 // failure rate above which the provider is unhealthy
	consecutiveThreshold int64
	now                  func() time.Time
}

// FailureRecord is one failed provider request
type FailureRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Error     string    `json:"error"`
	Category  string    `json:"category"`
}

// HealthStatus is the reported state of a provider
type HealthStatus struct {
	Provider            string          `json:"provider"`
	IsHealthy           bool            `json:"is_healthy"`
	TotalRequests       int64           `json:"total_requests"`
	SuccessfulRequests  int64           `json:"successful_requests"`
	FailedRequests      int64           `json:"failed_requests"`
	SuccessRate         float64         `json:"success_rate"`
	ConsecutiveFailures int64           `json:"consecutive_failures"`
	LastFailureTime     *time.Time      `json:"last_failure_time,omitempty"`
	LastSuccessTime     *time.Time      `json:"last_success_time,omitempty"`
	RecentFailures      []FailureRecord `json:"recent_failures"`
	FailurePatterns     map[string]int  `json:"failure_patterns"`
	HealthIssues        []string        `json:"health_issues"`
	RecommendedActions  []string        `json:"recommended_actions"`
}

// NewHealthMonitor creates a monitor for the named provider
func NewHealthMonitor(provider string) *HealthMonitor {
	return &HealthMonitor{
		provider:             provider,
		maxRecentFailures:    50,
		failureThreshold:     0.2,
		consecutiveThreshold: 5,
		recentFailures:       make([]FailureRecord, 0, 50),
		now:                  time.Now,
	}
}

// Provider returns the monitored provider name
func (h *HealthMonitor) Provider() string {
	return h.provider
}

// RecordSuccess records a successful request
func (h *HealthMonitor) RecordSuccess(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.successfulRequests++
	h.consecutiveFailures = 0
	h.lastSuccessTime = h.now()
}

// RecordFailure records a request that failed after all retries
func (h *HealthMonitor) RecordFailure(target, errorMsg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.failedRequests++
	h.consecutiveFailures++
	h.lastFailureTime = h.now()

	h.recentFailures = append(h.recentFailures, FailureRecord{
		Timestamp: h.lastFailureTime,
		Target:    target,
		Error:     errorMsg,
		Category:  categorizeError(errorMsg),
	})
	if len(h.recentFailures) > h.maxRecentFailures {
		h.recentFailures = h.recentFailures[1:]
	}
}

// GetHealthStatus returns the current health status
func (h *HealthMonitor) GetHealthStatus() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := HealthStatus{
		Provider:            h.provider,
		TotalRequests:       h.totalRequests,
		SuccessfulRequests:  h.successfulRequests,
		FailedRequests:      h.failedRequests,
		ConsecutiveFailures: h.consecutiveFailures,
		RecentFailures:      make([]FailureRecord, len(h.recentFailures)),
		FailurePatterns:     map[string]int{},
		HealthIssues:        []string{},
		RecommendedActions:  []string{},
	}
	copy(status.RecentFailures, h.recentFailures)

	if h.totalRequests > 0 {
		status.SuccessRate = float64(h.successfulRequests) / float64(h.totalRequests)
	} else {
		status.SuccessRate = 1.0
	}
	if !h.lastFailureTime.IsZero() {
		t := h.lastFailureTime
		status.LastFailureTime = &t
	}
	if !h.lastSuccessTime.IsZero() {
		t := h.lastSuccessTime
		status.LastSuccessTime = &t
	}

	status.IsHealthy = true

	if h.totalRequests >= 10 && status.SuccessRate < (1.0-h.failureThreshold) {
		status.IsHealthy = false
		status.HealthIssues = append(status.HealthIssues, "High failure rate detected (>20%)")
		status.RecommendedActions = append(status.RecommendedActions,
			"Check "+h.provider+" availability and API credentials")
	}

	if h.consecutiveFailures >= h.consecutiveThreshold {
		status.IsHealthy = false
		status.HealthIssues = append(status.HealthIssues, "Multiple consecutive failures detected")
		status.RecommendedActions = append(status.RecommendedActions,
			"Pause the pipeline and verify "+h.provider+" rate limits")
	}

	if !h.lastSuccessTime.IsZero() && h.consecutiveFailures > 0 && h.now().Sub(h.lastSuccessTime) > time.Hour {
		status.IsHealthy = false
		status.HealthIssues = append(status.HealthIssues, "No successful requests in the last hour")
		status.RecommendedActions = append(status.RecommendedActions,
			"Check network connectivity to "+h.provider)
	}

	h.analyzeFailurePatterns(&status)
	return status
}

// analyzeFailurePatterns flags an error category that dominates recent failures
func (h *HealthMonitor) analyzeFailurePatterns(status *HealthStatus) {
	for _, f := range h.recentFailures {
		status.FailurePatterns[f.Category]++
	}
	if len(h.recentFailures) < 3 {
		return
	}

	total := len(h.recentFailures)
	for category, count := range status.FailurePatterns {
		if float64(count)/float64(total) <= 0.5 {
			continue
		}
		switch category {
		case "timeout":
			status.HealthIssues = append(status.HealthIssues, "Frequent timeout errors detected")
			status.RecommendedActions = append(status.RecommendedActions,
				"Increase request timeouts or reduce pipeline concurrency")
		case "rate_limit":
			status.HealthIssues = append(status.HealthIssues, "Rate limiting detected")
			status.RecommendedActions = append(status.RecommendedActions,
				"Lower the provider request rate")
		case "authentication":
			status.HealthIssues = append(status.HealthIssues, "Authentication errors detected")
			status.RecommendedActions = append(status.RecommendedActions,
				"Verify the API key or User-Agent contact string")
		case "network":
			status.HealthIssues = append(status.HealthIssues, "Network connectivity issues detected")
			status.RecommendedActions = append(status.RecommendedActions,
				"Check network connectivity and DNS resolution")
		case "server":
			status.HealthIssues = append(status.HealthIssues, "Provider server errors detected")
			status.RecommendedActions = append(status.RecommendedActions,
				"Retry later; the provider is returning 5xx responses")
		}
	}
}

// categorizeError buckets an error message
func categorizeError(errorMsg string) string {
	msg := strings.ToLower(errorMsg)

	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return "rate_limit"
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return "authentication"
	case strings.Contains(msg, "status code 5"):
		return "server"
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "dns"):
		return "network"
	}
	return "other"
}

// Reset clears all recorded data
func (h *HealthMonitor) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests = 0
	h.successfulRequests = 0
	h.failedRequests = 0
	h.consecutiveFailures = 0
	h.lastFailureTime = time.Time{}
	h.lastSuccessTime = time.Time{}
	h.recentFailures = h.recentFailures[:0]
}

// IsHealthy reports whether the provider is within healthy parameters
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetHealthStatus().IsHealthy
}

// GetFailureRate returns failed / total requests
func (h *HealthMonitor) GetFailureRate() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.totalRequests == 0 {
		return 0.0
	}
	return float64(h.failedRequests) / float64(h.totalRequests)
}
