package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-gateway/internal/health"
)

func okCheck(context.Context) error { return nil }

func TestLive(t *testing.T) {
	rr := httptest.NewRecorder()
	health.Handler{}.Live(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

func TestReadySuccess(t *testing.T) {
	h := health.Handler{Checks: []health.Check{
		{Name: "redis", Run: okCheck},
		{Name: "postgres", Run: okCheck},
		{Name: "erp", Run: okCheck},
	}}
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, map[string]string{"redis": "ok", "postgres": "ok", "erp": "ok"}, status)
}

func TestReadyFailure(t *testing.T) {
	h := health.Handler{Checks: []health.Check{
		{Name: "redis", Run: okCheck},
		{Name: "erp", Run: func(context.Context) error { return errors.New("circuit open") }},
	}}
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	require.Equal(t, "circuit open", status["erp"])
}

func TestReadyCheckTimeout(t *testing.T) {
	h := health.Handler{Checks: []health.Check{{
		Name:    "postgres",
		Timeout: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}}}
	rr := httptest.NewRecorder()
	h.Ready(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReadinessAfterShutdown(t *testing.T) {
	h := health.Handler{Checks: []health.Check{{Name: "redis", Run: okCheck}}}
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)

	health.SetReady(false)
	t.Cleanup(func() { health.SetReady(true) })
	rr := httptest.NewRecorder()
	h.Ready(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	health.SetReady(true)
	rr = httptest.NewRecorder()
	h.Ready(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}
