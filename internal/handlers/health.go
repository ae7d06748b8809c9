package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/tomato-food/api/internal/platform/httpx"
	"github.com/tomato-food/api/internal/repositories"
)

const defaultReadinessTimeout = 5 * time.Second

// BuildInfo is reported by the liveness probe.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	checker *repositories.HealthChecker
	build   BuildInfo
	now     func() time.Time
	timeout time.Duration
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// NewHealthHandlers constructs probe handlers. Without a checker readiness always reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		now:     time.Now,
		timeout: defaultReadinessTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

// WithHealthChecker sets the dependency checks run by /readyz.
func WithHealthChecker(checker *repositories.HealthChecker) HealthOption {
	return func(h *HealthHandlers) {
		h.checker = checker
	}
}

// WithHealthBuildInfo sets the build metadata echoed by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

// WithReadinessTimeout bounds the total time spent in dependency checks.
func WithReadinessTimeout(timeout time.Duration) HealthOption {
	return func(h *HealthHandlers) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

type healthResponse struct {
	Status      repositories.HealthStatus                 `json:"status"`
	Uptime      string                                    `json:"uptime"`
	Version     string                                    `json:"version,omitempty"`
	CommitSHA   string                                    `json:"commitSha,omitempty"`
	Environment string                                    `json:"environment,omitempty"`
	Timestamp   string                                    `json:"timestamp"`
	Checks      map[string]repositories.HealthCheckResult `json:"checks,omitempty"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, h.baseResponse(repositories.HealthStatusOK))
}

// Readyz runs the dependency checks and answers 503 unless every check passed.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.checker == nil {
		httpx.WriteJSON(w, http.StatusOK, h.baseResponse(repositories.HealthStatusOK))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	report := h.checker.Collect(ctx)
	payload := h.baseResponse(report.Status)
	payload.Checks = report.Checks

	status := http.StatusOK
	if report.Status != repositories.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, payload)
}

func (h *HealthHandlers) baseResponse(status repositories.HealthStatus) healthResponse {
	now := h.now()
	return healthResponse{
		Status:      status,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}
