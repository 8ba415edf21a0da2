package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status     Status                     `json:"status"`
	Timestamp  string                     `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// CheckFunc probes a single dependency.
type CheckFunc func(ctx context.Context) error

// Checker performs health checks on the service's dependencies. Optional
// collaborators (database, redis, storage) register a check only when
// configured; a nil check is reported as degraded rather than failing
// readiness, because the service can run without them.
type Checker struct {
	required     map[string]CheckFunc
	optional     map[string]CheckFunc
	version      string
	checkTimeout time.Duration
}

// CheckerConfig holds configuration for the health checker
type CheckerConfig struct {
	// Extractor verifies the yt-dlp binary responds.
	Extractor CheckFunc
	// Workspace verifies the download directory is writable.
	Workspace CheckFunc

	Database CheckFunc
	Redis    CheckFunc
	Storage  CheckFunc

	Version string
	Timeout time.Duration
}

// NewChecker creates a new health checker
func NewChecker(cfg *CheckerConfig) *Checker {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	c := &Checker{
		required:     make(map[string]CheckFunc),
		optional:     make(map[string]CheckFunc),
		version:      cfg.Version,
		checkTimeout: timeout,
	}
	if cfg.Extractor != nil {
		c.required["extractor"] = cfg.Extractor
	}
	if cfg.Workspace != nil {
		c.required["workspace"] = cfg.Workspace
	}
	c.optional["database"] = cfg.Database
	c.optional["redis"] = cfg.Redis
	c.optional["storage"] = cfg.Storage
	return c
}

func (c *Checker) runCheck(ctx context.Context, check CheckFunc) ComponentHealth {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	if err := check(ctx); err != nil {
		return ComponentHealth{
			Status:   StatusUnhealthy,
			Message:  err.Error(),
			Duration: time.Since(start).String(),
		}
	}

	return ComponentHealth{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
}

// Check performs a basic health check (liveness)
func (c *Checker) Check(ctx context.Context) *HealthResponse {
	return &HealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   c.version,
	}
}

// DeepCheck performs a comprehensive health check (readiness)
func (c *Checker) DeepCheck(ctx context.Context) *HealthResponse {
	response := &HealthResponse{
		Status:     StatusHealthy,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    c.version,
		Components: make(map[string]ComponentHealth),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	run := func(name string, check CheckFunc) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.runCheck(ctx, check)
			mu.Lock()
			response.Components[name] = result
			mu.Unlock()
		}()
	}

	for name, check := range c.required {
		run(name, check)
	}
	for name, check := range c.optional {
		if check == nil {
			mu.Lock()
			response.Components[name] = ComponentHealth{
				Status:  StatusDegraded,
				Message: "not configured",
			}
			mu.Unlock()
			continue
		}
		run(name, check)
	}

	wg.Wait()

	// Only required components can fail readiness; broken optional
	// collaborators degrade the service but jobs still run.
	for name := range c.required {
		if response.Components[name].Status == StatusUnhealthy {
			response.Status = StatusUnhealthy
		}
	}
	if response.Status == StatusHealthy {
		for name, check := range c.optional {
			if check == nil {
				continue
			}
			if response.Components[name].Status != StatusHealthy {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

// Handler provides HTTP handlers for health endpoints
type Handler struct {
	checker *Checker
}

// NewHandler creates a new health handler
func NewHandler(checker *Checker) *Handler {
	return &Handler{checker: checker}
}

// LivenessHandler handles liveness probe requests
func (h *Handler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if response.Status != StatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// ReadinessHandler handles readiness probe requests
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := h.checker.DeepCheck(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if response.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// HealthHandler handles basic health check requests (legacy /health endpoint)
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("deep") == "true" {
		h.ReadinessHandler(w, r)
		return
	}
	h.LivenessHandler(w, r)
}
