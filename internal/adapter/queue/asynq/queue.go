// Package asynqadp adapts the asynq task queue: the client side enqueues
// evaluation tasks under deterministic ids, the worker side runs them with
// classified retries and dead-letter capture.
package asynqadp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fairyhunter13/global-credit-core/internal/observability"
	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// TaskProcessApplication is the queue task that evaluates one application.
const TaskProcessApplication = "process_credit_application"

type Queue struct {
	client   *asynq.Client
	maxRetry int
	timeout  time.Duration
}

func New(redisURL string, maxRetry int, timeout time.Duration) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return &Queue{client: asynq.NewClient(opt), maxRetry: maxRetry, timeout: timeout}, nil
}

// EnqueueProcess schedules an evaluation task under jobID. The id is the
// dedup key: if a task with the same id is already queued or running, the
// in-flight one wins and its id is returned without error.
func (q *Queue) EnqueueProcess(ctx domain.Context, payload domain.ProcessTaskPayload, jobID string) (string, error) {
	b, _ := json.Marshal(payload)
	t := asynq.NewTask(TaskProcessApplication, b)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.TaskID(jobID),
		asynq.MaxRetry(q.maxRetry),
		asynq.Timeout(q.timeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return jobID, nil
		}
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueJob(TaskProcessApplication)
	return info.ID, nil
}

func (q *Queue) Close() error { return q.client.Close() }
