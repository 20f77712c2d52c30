package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trainflow-renewal/internal/middleware"
	"github.com/noah-isme/trainflow-renewal/internal/service"
)

type envelope struct {
	Data  map[string]interface{} `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

func newOpsRouter(metrics *service.MetricsService, checks map[string]ReadinessCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Metrics(metrics))
	NewMetricsHandler(metrics, checks).Register(r)
	return r
}

func TestMetricsHandlerHealth(t *testing.T) {
	metrics := service.NewMetricsService()
	r := newOpsRouter(metrics, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Data["status"])
	assert.Contains(t, body.Meta, "metrics")
	assert.Equal(t, uint64(1), metrics.Snapshot().RequestsTotal)
}

func TestMetricsHandlerReady(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	r := newOpsRouter(service.NewMetricsService(), map[string]ReadinessCheck{"postgres": ok, "redis": ok})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Data["status"])
	assert.Equal(t, map[string]interface{}{"postgres": "ok", "redis": "ok"}, body.Meta["checks"])
}

func TestMetricsHandlerReadyReportsFailedDependency(t *testing.T) {
	r := newOpsRouter(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("dial tcp: connection refused") },
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	assert.Equal(t, "STORE_UNAVAILABLE", body.Error.Code)
	checks := body.Meta["checks"].(map[string]interface{})
	assert.Equal(t, "ok", checks["postgres"])
	assert.Contains(t, checks["redis"], "connection refused")
}

func TestMetricsHandlerPrometheus(t *testing.T) {
	r := newOpsRouter(service.NewMetricsService(), nil)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `http_requests_total{method="GET",path="/health",status="200"} 1`)

	noMetrics := newOpsRouter(nil, nil)
	rec = httptest.NewRecorder()
	noMetrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
