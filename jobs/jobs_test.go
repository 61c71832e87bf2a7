package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-receivables/internal/ar"
	jobmetrics "github.com/odyssey-erp/odyssey-receivables/internal/jobs"
	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

type refresherFunc func(ctx context.Context, asOf time.Time) (ar.AgingSummary, error)

func (f refresherFunc) RefreshAging(ctx context.Context, asOf time.Time) (ar.AgingSummary, error) {
	return f(ctx, asOf)
}

type purgerFunc func(ctx context.Context, olderThan time.Duration) error

func (f purgerFunc) Cleanup(ctx context.Context, olderThan time.Duration) error {
	return f(ctx, olderThan)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestARAgingRefreshUsesPayloadDate(t *testing.T) {
	var got time.Time
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewARAgingRefreshJob(refresherFunc(func(_ context.Context, asOf time.Time) (ar.AgingSummary, error) {
		got = asOf
		return ar.AgingSummary{
			TotalAmount: money.MustParse("10"),
			Buckets:     []ar.AgingBucket{{Key: ar.BucketCurrent, Count: 2}, {Key: ar.Bucket0To30, Count: 1}},
		}, nil
	}), quietLogger(), metrics)

	task, err := NewARAgingRefreshTask(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, "2024-06-30", got.Format("2006-01-02"))

	body, err := json.Marshal(ARAgingRefreshPayload{})
	require.NoError(t, err)
	job.clock = func() time.Time { return time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC) }
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskARAgingRefresh, body)))
	require.Equal(t, "2025-01-02", got.Format("2006-01-02"))
}

func TestARAgingRefreshRejectsBadPayload(t *testing.T) {
	job := NewARAgingRefreshJob(refresherFunc(func(context.Context, time.Time) (ar.AgingSummary, error) {
		t.Fatal("refresher must not run")
		return ar.AgingSummary{}, nil
	}), quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), asynq.NewTask(TaskARAgingRefresh, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	err = job.Handle(context.Background(), asynq.NewTask(TaskARAgingRefresh, []byte(`{"as_of":"30/06/2024"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestARAgingRefreshPropagatesFailure(t *testing.T) {
	boom := errors.New("redis down")
	job := NewARAgingRefreshJob(refresherFunc(func(context.Context, time.Time) (ar.AgingSummary, error) {
		return ar.AgingSummary{}, boom
	}), quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewARAgingRefreshTask(time.Time{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)

	var unset *ARAgingRefreshJob
	require.Error(t, unset.Handle(context.Background(), task))
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	var got time.Duration
	job := NewIdempotencyCleanupJob(purgerFunc(func(_ context.Context, olderThan time.Duration) error {
		got = olderThan
		return nil
	}), quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, got)

	task, err = NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, got)
}

func TestJobHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, quietLogger()).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var health queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &health))
	require.Equal(t, QueueDefault, health.Queue)
}

type enqueuerFunc func(ctx context.Context, asOf time.Time) (*asynq.TaskInfo, error)

func (f enqueuerFunc) EnqueueARAgingRefresh(ctx context.Context, asOf time.Time) (*asynq.TaskInfo, error) {
	return f(ctx, asOf)
}

func TestTriggerAgingRefreshEndpoint(t *testing.T) {
	var queued []time.Time
	handler := NewHandler(nil, quietLogger())
	handler.SetEnqueuer(enqueuerFunc(func(_ context.Context, asOf time.Time) (*asynq.TaskInfo, error) {
		if len(queued) > 0 && queued[len(queued)-1].Equal(asOf) {
			return nil, asynq.ErrDuplicateTask
		}
		queued = append(queued, asOf)
		return &asynq.TaskInfo{ID: "t-1", Queue: QueueDefault, Type: TaskARAgingRefresh}, nil
	}))
	r := chi.NewRouter()
	handler.MountRoutes(r)

	post := func(target string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, target, nil))
		return rr
	}

	rr := post("/ar-aging/refresh?as_of=2024-06-30")
	require.Equal(t, http.StatusAccepted, rr.Code)
	var got enqueuedTask
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, enqueuedTask{ID: "t-1", Queue: QueueDefault, Type: TaskARAgingRefresh}, got)
	require.Equal(t, []time.Time{time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)}, queued)

	require.Equal(t, http.StatusConflict, post("/ar-aging/refresh?as_of=2024-06-30").Code)
	require.Equal(t, http.StatusBadRequest, post("/ar-aging/refresh?as_of=30/06/2024").Code)

	r = chi.NewRouter()
	NewHandler(nil, quietLogger()).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/ar-aging/refresh", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestJobMetricsRecordedPerRun(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	job := NewIdempotencyCleanupJob(purgerFunc(func(context.Context, time.Duration) error {
		return errors.New("pg down")
	}), quietLogger(), metrics)
	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))

	count, err := testutil.GatherAndCount(registry, "odyssey_jobs_failures_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
