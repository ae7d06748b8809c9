package repositories

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const defaultDependencyTimeout = 1500 * time.Millisecond

// HealthStatus summarises a dependency probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyCheck describes a dependency probe executed during readiness checks.
type DependencyCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthCheckResult is the outcome of one dependency probe.
type HealthCheckResult struct {
	Status    HealthStatus `json:"status"`
	Detail    string       `json:"detail,omitempty"`
	LatencyMS int64        `json:"latencyMs"`
	CheckedAt time.Time    `json:"checkedAt"`
}

// HealthReport aggregates dependency probe results.
type HealthReport struct {
	Status      HealthStatus                 `json:"status"`
	Checks      map[string]HealthCheckResult `json:"checks"`
	GeneratedAt time.Time                    `json:"generatedAt"`
}

// HealthChecker runs registered dependency checks concurrently.
type HealthChecker struct {
	checks []DependencyCheck
	now    func() time.Time
}

// NewHealthChecker validates the supplied checks. A nil clock defaults to time.Now.
func NewHealthChecker(checks []DependencyCheck, clock func() time.Time) (*HealthChecker, error) {
	if len(checks) == 0 {
		return nil, errors.New("health: at least one dependency check is required")
	}
	for _, check := range checks {
		if strings.TrimSpace(check.Name) == "" || check.Check == nil {
			return nil, errors.New("health: dependency checks require a name and a function")
		}
	}
	if clock == nil {
		clock = time.Now
	}
	return &HealthChecker{checks: append([]DependencyCheck(nil), checks...), now: clock}, nil
}

// Collect probes every dependency and rolls the results into a report.
func (h *HealthChecker) Collect(ctx context.Context) HealthReport {
	results := make(map[string]HealthCheckResult, len(h.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range h.checks {
		wg.Add(1)
		go func(check DependencyCheck) {
			defer wg.Done()
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = defaultDependencyTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := h.now()
			err := check.Check(checkCtx)
			end := h.now()

			result := HealthCheckResult{Status: HealthStatusOK, LatencyMS: end.Sub(start).Milliseconds(), CheckedAt: end}
			switch {
			case err == nil:
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				result.Status = HealthStatusError
				result.Detail = "timeout"
			default:
				result.Status = HealthStatusDegraded
				result.Detail = err.Error()
			}

			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()

	status := HealthStatusOK
	for _, result := range results {
		if result.Status == HealthStatusError {
			status = HealthStatusError
			break
		}
		if result.Status == HealthStatusDegraded {
			status = HealthStatusDegraded
		}
	}
	return HealthReport{Status: status, Checks: results, GeneratedAt: h.now()}
}
