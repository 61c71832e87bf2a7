package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-receivables/internal/ar"
	"github.com/odyssey-erp/odyssey-receivables/internal/observability"
	"github.com/odyssey-erp/odyssey-receivables/jobs"
)

func newTestRouter(t *testing.T, readiness map[string]Pinger) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := ar.NewService(nil, logger)
	return NewRouter(RouterParams{
		Logger:     logger,
		Config:     &Config{RateLimitPerMinute: 1000},
		ARHandler:  ar.NewHandler(logger, svc),
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    observability.NewMetrics(),
		Readiness:  readiness,
	})
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, target, nil))
	return rr
}

func TestRouterHealthAndSecurityHeaders(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.NotEmpty(t, rr.Header().Get("X-Ratelimit-Limit"))
}

func TestRouterReadiness(t *testing.T) {
	router := newTestRouter(t, map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rr := serve(router, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.JSONEq(t, `{"postgres":"ok","redis":"connection refused"}`, rr.Body.String())
}

func TestRouterMountsReceivablesAndMetrics(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := serve(router, http.MethodGet, "/finance/ar/documents/abc")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(router, http.MethodGet, "/jobs/health")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, http.MethodGet, "/nope")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(router, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `odyssey_http_requests_total{code="400",route="/finance/ar/documents/{id}`), rr.Body.String())
}
