package routes_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/abdulhad-eng/home-fair-share/internal/infra/config"
	"github.com/abdulhad-eng/home-fair-share/internal/transport/http/handlers"
	httproutes "github.com/abdulhad-eng/home-fair-share/internal/transport/http/routes"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthFunc func(ctx context.Context) error

func (f healthFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config:        cfg,
		Logger:        zaptest.NewLogger(t),
		MetricsSource: prometheus.NewRegistry(),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config:        cfg,
		Logger:        zaptest.NewLogger(t),
		MetricsSource: prometheus.NewRegistry(),
		Database:      pingFunc(func(context.Context) error { return nil }),
		Cache:         healthFunc(func(context.Context) error { return errors.New("redis down") }),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/readyz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	var body handlers.ReadinessResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if body.Checks["database"] != "ok" || body.Checks["redis"] != "redis down" {
		t.Fatalf("unexpected checks %+v", body.Checks)
	}
}

func TestMetricsEndpointServesGatherer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "roomie_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	r := httproutes.Register(httproutes.Dependencies{
		Config:        &config.AppConfig{App: config.AppSettings{Env: "test"}},
		Logger:        zaptest.NewLogger(t),
		MetricsSource: registry,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/metrics", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "roomie_test_total 1") {
		t.Fatalf("unexpected metrics response %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthRoutesRequireGateway(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := httproutes.Register(httproutes.Dependencies{
		Config:        &config.AppConfig{App: config.AppSettings{Env: "test"}},
		Logger:        zaptest.NewLogger(t),
		MetricsSource: prometheus.NewRegistry(),
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/v1/auth/sign-in", strings.NewReader(`{}`))

	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a gateway, got %d", w.Code)
	}
}
