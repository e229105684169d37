package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kassa/backend/internal/config"
	"kassa/backend/internal/metrics"
)

type readyFunc func(ctx context.Context) error

func (f readyFunc) Ready(ctx context.Context) error { return f(ctx) }

type refreshFunc func(ctx context.Context) error

func (f refreshFunc) Refresh(ctx context.Context) error { return f(ctx) }

func TestReadyz(t *testing.T) {
	healthy := newMux(metrics.New(), readyFunc(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := newMux(metrics.New(), readyFunc(func(context.Context) error { return errors.New("db down") }))
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ReceiptCreated()
	mux := newMux(m, readyFunc(func(context.Context) error { return nil }))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kassa_receipts_created_total")
}

func TestLoggerConfigOverrides(t *testing.T) {
	lc := loggerConfig(config.Config{Env: "production", LogLevel: "warn"})
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "json", lc.Format)

	lc = loggerConfig(config.Config{Env: "development"})
	assert.Equal(t, "console", lc.Format)
}

func TestScheduleRateRefresh(t *testing.T) {
	s := gocron.NewScheduler(time.UTC)
	err := scheduleRateRefresh(s, "00:05", refreshFunc(func(context.Context) error { return nil }), zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, s.Jobs(), 1)

	bad := gocron.NewScheduler(time.UTC)
	err = scheduleRateRefresh(bad, "25:99", refreshFunc(func(context.Context) error { return nil }), zap.NewNop())
	assert.Error(t, err)
}
