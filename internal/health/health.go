package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the overall health status
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusError    Status = "error"
)

// ComponentStatus represents the health of a single component
type ComponentStatus struct {
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthReport represents the complete health status of the system
type HealthReport struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
	Uptime     float64                    `json:"uptime_seconds"`
}

// Checker is the main health monitoring service. It tracks one component per
// adapter plus one "persistence.<target>" component per persistence target
// reported to UpdatePersistenceStatus, and derives an overall Status from the rules in the capture
// component design: capture active on at least one adapter, seconds since
// the last observed packet, and whether permissions are granted where the
// platform requires them.
type Checker struct {
	mu         sync.RWMutex
	components map[string]ComponentStatus
	startTime  time.Time
	thresholds Thresholds
}

// Thresholds defines health status thresholds
type Thresholds struct {
	// IdleDegraded is how long an adapter can go without an observed packet
	// while its worker is still marked active before it is flagged degraded.
	IdleDegraded time.Duration
}

// DefaultThresholds returns sensible default thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IdleDegraded: 5 * time.Minute,
	}
}

// NewChecker creates a new health checker
func NewChecker(thresholds Thresholds) *Checker {
	if thresholds.IdleDegraded == 0 {
		thresholds = DefaultThresholds()
	}
	return &Checker{
		components: make(map[string]ComponentStatus),
		startTime:  time.Now(),
		thresholds: thresholds,
	}
}

// UpdateComponent updates the status of a specific component directly.
func (c *Checker) UpdateComponent(name string, status ComponentStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status.Timestamp = time.Now()
	c.components[name] = status
}

// UpdateAdapterStatus records the capture health of one adapter: whether its
// worker is currently active, when the last packet was observed on it,
// whether the platform denied capture permission, and the running
// decode-error sample counters for diagnostics.
func (c *Checker) UpdateAdapterStatus(adapter string, active bool, lastPacketAt time.Time, permissionDenied bool, decodeErrorsTotal, decodeErrorsSampled int64) {
	status := ComponentStatus{
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"active":                active,
			"decode_errors_total":   decodeErrorsTotal,
			"decode_errors_sampled": decodeErrorsSampled,
		},
	}

	if !lastPacketAt.IsZero() {
		status.Details["last_packet_at"] = lastPacketAt.Format(time.RFC3339)
		status.Details["idle_seconds"] = int64(time.Since(lastPacketAt).Seconds())
	}

	switch {
	case permissionDenied:
		status.Status = StatusDegraded
		status.Message = "capture permission denied"
	case !active:
		status.Status = StatusDegraded
		status.Message = "adapter not capturing"
	case !lastPacketAt.IsZero() && time.Since(lastPacketAt) > c.thresholds.IdleDegraded:
		status.Status = StatusDegraded
		status.Message = "no packets observed within idle threshold"
	default:
		status.Status = StatusOK
		status.Message = "capturing"
	}

	c.UpdateComponent("adapter."+adapter, status)
}

// UpdatePersistenceStatus records the health of the session/day-store/
// lifetime-state writers: the last successful flush time and the last
// write error, if any.
func (c *Checker) UpdatePersistenceStatus(target string, lastFlush time.Time, err error) {
	status := ComponentStatus{
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"target": target,
		},
	}

	if !lastFlush.IsZero() {
		status.Details["last_flush_at"] = lastFlush.Format(time.RFC3339)
	}

	if err != nil {
		status.Status = StatusError
		status.Message = err.Error()
	} else {
		status.Status = StatusOK
		status.Message = "persisting"
	}

	c.UpdateComponent("persistence."+target, status)
}

// GetReport generates a complete health report
func (c *Checker) GetReport() HealthReport {
	c.mu.RLock()
	defer c.mu.RUnlock()

	components := make(map[string]ComponentStatus, len(c.components))
	for k, v := range c.components {
		components[k] = v
	}

	return HealthReport{
		Status:     c.calculateOverallStatus(components),
		Timestamp:  time.Now(),
		Components: components,
		Uptime:     time.Since(c.startTime).Seconds(),
	}
}

// calculateOverallStatus determines the overall system status from component
// statuses. It is error when adapters are tracked but none of them is ok, or
// when any persistence component reports an error; otherwise any degraded
// component pulls the overall status down to degraded.
func (c *Checker) calculateOverallStatus(components map[string]ComponentStatus) Status {
	if len(components) == 0 {
		return StatusOK
	}

	adapterTotal, adapterOK := 0, 0
	hasDegraded := false
	hasPersistenceError := false

	for name, component := range components {
		if len(name) >= 8 && name[:8] == "adapter." {
			adapterTotal++
			if component.Status == StatusOK {
				adapterOK++
			}
		}
		if len(name) >= 12 && name[:12] == "persistence." && component.Status == StatusError {
			hasPersistenceError = true
		}
		if component.Status == StatusDegraded {
			hasDegraded = true
		}
	}

	if adapterTotal > 0 && adapterOK == 0 {
		return StatusError
	}
	if hasPersistenceError {
		return StatusError
	}
	if hasDegraded {
		return StatusDegraded
	}

	return StatusOK
}

// HTTPHandler creates an HTTP handler for the full health report.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.GetReport()

		w.Header().Set("Content-Type", "application/json")

		switch report.Status {
		case StatusOK, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		case StatusError:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler returns a simple liveness probe (always 200 if the process
// is running and answering requests).
func (c *Checker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessHandler returns a readiness probe (200 only if overall status is OK).
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.GetReport()

		w.Header().Set("Content-Type", "application/json")

		if report.Status == StatusOK {
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
			})
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status":          "not_ready",
				"current_status":  string(report.Status),
			})
		}
	}
}

// StartHTTPServer starts the health check HTTP server. It exposes liveness
// and readiness only — never traffic or host data, which stays behind the
// GUI's own command surface.
func (c *Checker) StartHTTPServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.HTTPHandler())
	mux.HandleFunc("/health/live", c.LivenessHandler())
	mux.HandleFunc("/health/ready", c.ReadinessHandler())

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}
