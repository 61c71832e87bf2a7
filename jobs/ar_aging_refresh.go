package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-receivables/internal/ar"
	jobmetrics "github.com/odyssey-erp/odyssey-receivables/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AgingRefresher rebuilds portfolio aging for an as-of date.
type AgingRefresher interface {
	RefreshAging(ctx context.Context, asOf time.Time) (ar.AgingSummary, error)
}

// ARAgingRefreshJob keeps the portfolio aging cache warm after the day rolls over.
type ARAgingRefreshJob struct {
	Aging   AgingRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewARAgingRefreshJob wires dependencies for the refresh handler.
func NewARAgingRefreshJob(aging AgingRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *ARAgingRefreshJob {
	return &ARAgingRefreshJob{
		Aging:   aging,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskARAgingRefresh tasks.
func (j *ARAgingRefreshJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Aging == nil {
		return errors.New("ar aging refresh: handler not configured")
	}
	var payload ARAgingRefreshPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("ar aging refresh: decode payload: %w", asynq.SkipRetry)
	}
	asOf := j.now()
	if payload.AsOf != "" {
		parsed, err := time.Parse(payloadDateLayout, payload.AsOf)
		if err != nil {
			return fmt.Errorf("ar aging refresh: as_of %q: %w", payload.AsOf, asynq.SkipRetry)
		}
		asOf = parsed
	}

	tracker := j.metrics().Track(TaskARAgingRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("as_of", asOf.Format(payloadDateLayout)))
	start := time.Now()
	summary, err := j.Aging.RefreshAging(ctx, asOf)
	if err != nil {
		logger.Error("refresh aging", slog.Any("error", err))
		return err
	}
	documents := 0
	for _, bucket := range summary.Buckets {
		documents += bucket.Count
	}
	j.metrics().AddItems(TaskARAgingRefresh, documents)
	logger.Info("refreshed aging",
		slog.Int("documents", documents),
		slog.String("total", summary.TotalAmount.String()),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ARAgingRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskARAgingRefresh))
	}
	return slog.Default().With(slog.String("job", TaskARAgingRefresh))
}

func (j *ARAgingRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ARAgingRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
