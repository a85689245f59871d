package provider

import (
	"testing"
	"time"
)

func TestHealthMonitor_RecordSuccessAndFailure(t *testing.T) {
	monitor := NewHealthMonitor("fmp")

	if !monitor.IsHealthy() {
		t.Error("Expected new monitor to be healthy")
	}

	monitor.RecordSuccess("income-statement")
	monitor.RecordSuccess("cash-flow-statement")
	monitor.RecordSuccess("balance-sheet-statement")

	status := monitor.GetHealthStatus()
	if status.Provider != "fmp" {
		t.Errorf("Expected provider fmp, got %s", status.Provider)
	}
	if status.TotalRequests != 3 || status.SuccessfulRequests != 3 {
		t.Errorf("Expected 3/3 requests, got %d/%d", status.SuccessfulRequests, status.TotalRequests)
	}
	if status.SuccessRate != 1.0 {
		t.Errorf("Expected 100%% success rate, got %.2f", status.SuccessRate)
	}

	monitor.RecordFailure("company-screener", "network error")

	status = monitor.GetHealthStatus()
	if status.TotalRequests != 4 || status.FailedRequests != 1 {
		t.Errorf("Expected 4 total / 1 failed, got %d / %d", status.TotalRequests, status.FailedRequests)
	}
	if status.SuccessRate != 0.75 {
		t.Errorf("Expected 75%% success rate, got %.2f", status.SuccessRate)
	}
	if len(status.RecentFailures) != 1 || status.RecentFailures[0].Category != "network" {
		t.Errorf("Expected 1 categorized recent failure, got %+v", status.RecentFailures)
	}
}

func TestHealthMonitor_ConsecutiveFailures(t *testing.T) {
	monitor := NewHealthMonitor("edgar")

	for i := 0; i < 6; i++ {
		monitor.RecordFailure("submissions", "error")
	}

	status := monitor.GetHealthStatus()
	if status.IsHealthy {
		t.Error("Expected monitor to be unhealthy after consecutive failures")
	}
	if status.ConsecutiveFailures != 6 {
		t.Errorf("Expected 6 consecutive failures, got %d", status.ConsecutiveFailures)
	}
	if !contains(status.HealthIssues, "Multiple consecutive failures detected") {
		t.Error("Expected consecutive failure health issue")
	}

	monitor.RecordSuccess("submissions")
	if monitor.GetHealthStatus().ConsecutiveFailures != 0 {
		t.Error("Expected consecutive failures to reset after success")
	}
}

func TestHealthMonitor_HighFailureRate(t *testing.T) {
	monitor := NewHealthMonitor("fmp")

	for i := 0; i < 5; i++ {
		monitor.RecordSuccess("x")
	}
	for i := 0; i < 10; i++ {
		monitor.RecordFailure("x", "error")
	}
	monitor.RecordSuccess("x")

	status := monitor.GetHealthStatus()
	if status.IsHealthy {
		t.Error("Expected monitor to be unhealthy due to high failure rate")
	}
	if !contains(status.HealthIssues, "High failure rate detected (>20%)") {
		t.Error("Expected high failure rate health issue")
	}
}

func TestHealthMonitor_FailurePatternAnalysis(t *testing.T) {
	monitor := NewHealthMonitor("edgar")

	for i := 0; i < 10; i++ {
		monitor.RecordFailure("doc", "unexpected status code 429 from https://www.sec.gov")
	}

	status := monitor.GetHealthStatus()
	if !contains(status.HealthIssues, "Rate limiting detected") {
		t.Error("Expected rate limit pattern to be detected")
	}
	if !contains(status.RecommendedActions, "Lower the provider request rate") {
		t.Error("Expected rate limit recommended action")
	}
	if status.FailurePatterns["rate_limit"] != 10 {
		t.Errorf("Expected 10 rate_limit failures, got %d", status.FailurePatterns["rate_limit"])
	}
}

func TestHealthMonitor_StaleSuccess(t *testing.T) {
	monitor := NewHealthMonitor("fmp")
	clock := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	monitor.now = func() time.Time { return clock }

	monitor.RecordSuccess("x")
	clock = clock.Add(2 * time.Hour)
	monitor.RecordFailure("x", "error")

	if !contains(monitor.GetHealthStatus().HealthIssues, "No successful requests in the last hour") {
		t.Error("Expected stale success issue")
	}
}

func TestHealthMonitor_RecentFailuresLimit(t *testing.T) {
	monitor := NewHealthMonitor("fmp")

	for i := 0; i < 60; i++ {
		monitor.RecordFailure("x", "error")
	}

	status := monitor.GetHealthStatus()
	if len(status.RecentFailures) != monitor.maxRecentFailures {
		t.Errorf("Expected recent failures to be limited to %d, got %d",
			monitor.maxRecentFailures, len(status.RecentFailures))
	}
}

func TestHealthMonitor_Reset(t *testing.T) {
	monitor := NewHealthMonitor("fmp")
	monitor.RecordSuccess("x")
	monitor.RecordFailure("x", "error")

	monitor.Reset()

	status := monitor.GetHealthStatus()
	if status.TotalRequests != 0 || status.SuccessfulRequests != 0 || status.FailedRequests != 0 {
		t.Errorf("Expected counters to be 0 after reset, got %+v", status)
	}
	if len(status.RecentFailures) != 0 {
		t.Errorf("Expected recent failures to be empty after reset, got %d", len(status.RecentFailures))
	}
}

func TestHealthMonitor_FailureRateCalculation(t *testing.T) {
	monitor := NewHealthMonitor("fmp")

	if monitor.GetFailureRate() != 0.0 {
		t.Error("Expected 0% failure rate with no requests")
	}

	monitor.RecordSuccess("x")
	monitor.RecordSuccess("x")
	monitor.RecordFailure("x", "error")
	monitor.RecordFailure("x", "error")

	if rate := monitor.GetFailureRate(); rate != 0.5 {
		t.Errorf("Expected failure rate 0.50, got %.2f", rate)
	}
}

func TestCategorizeError(t *testing.T) {
	testCases := []struct {
		error    string
		expected string
	}{
		{"connection timeout", "timeout"},
		{"context deadline exceeded", "timeout"},
		{"rate limit exceeded", "rate_limit"},
		{"unexpected status code 429 from x", "rate_limit"},
		{"unauthorized access", "authentication"},
		{"HTTP 401", "authentication"},
		{"HTTP 403", "authentication"},
		{"unexpected status code 503 from x", "server"},
		{"network unreachable", "network"},
		{"DNS resolution failed", "network"},
		{"connection refused", "network"},
		{"unknown error", "other"},
	}

	for _, tc := range testCases {
		if result := categorizeError(tc.error); result != tc.expected {
			t.Errorf("categorizeError(%q) = %q, expected %q", tc.error, result, tc.expected)
		}
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
