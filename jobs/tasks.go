package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskARAgingRefresh rebuilds the cached portfolio aging report.
	TaskARAgingRefresh = "ar:aging:refresh"
	// TaskIdempotencyCleanup purges expired Idempotency-Key records.
	TaskIdempotencyCleanup = "ar:idempotency:cleanup"
)

const payloadDateLayout = "2006-01-02"

// ARAgingRefreshPayload selects the as-of date to rebuild. An empty AsOf means
// the run date.
type ARAgingRefreshPayload struct {
	AsOf string `json:"as_of,omitempty"`
}

// NewARAgingRefreshTask constructs an Asynq task for the aging refresh.
func NewARAgingRefreshTask(asOf time.Time) (*asynq.Task, error) {
	payload := ARAgingRefreshPayload{}
	if !asOf.IsZero() {
		payload.AsOf = asOf.Format(payloadDateLayout)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskARAgingRefresh, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention applied by the purge.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for key cleanup.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
