package handler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/trainflow-renewal/internal/service"
	appErrors "github.com/noah-isme/trainflow-renewal/pkg/errors"
	"github.com/noah-isme/trainflow-renewal/pkg/response"
)

const defaultReadinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	checks  map[string]ReadinessCheck
	timeout time.Duration
}

// NewMetricsHandler constructs a metrics handler. Checks are run by Ready.
func NewMetricsHandler(metrics *service.MetricsService, checks map[string]ReadinessCheck) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, checks: checks, timeout: defaultReadinessTimeout}
}

// Register mounts the ops routes.
func (h *MetricsHandler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports liveness along with a snapshot of engine counters.
func (h *MetricsHandler) Health(c *gin.Context) {
	response.JSON(c, http.StatusOK, gin.H{"status": "ok"}, map[string]interface{}{"metrics": h.metrics.Snapshot()})
}

// Ready runs every readiness check and fails if any dependency is unreachable.
func (h *MetricsHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]interface{}, len(names))
	var failed []string
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			failed = append(failed, name)
			continue
		}
		results[name] = "ok"
	}

	if len(failed) > 0 {
		err := appErrors.Clone(appErrors.ErrStoreUnavailable, fmt.Sprintf("dependencies not ready: %v", failed))
		response.Error(c, err, map[string]interface{}{"checks": results})
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": "ready"}, map[string]interface{}{"checks": results})
}
