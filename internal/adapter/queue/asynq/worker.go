package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fairyhunter13/global-credit-core/internal/observability"
	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Processor runs the evaluation pipeline for one queued application.
type Processor interface {
	ProcessApplication(ctx domain.Context, payload domain.ProcessTaskPayload) error
}

// RetryPolicy shapes the delay between task attempts.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// Delay returns the wait before attempt n+1: exponential growth capped at
// MaxDelay, optionally drawn uniformly from (0, delay] so synchronized
// failures do not retry in lockstep.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(n)))
	if d <= 0 || d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d))) + time.Millisecond
	}
	return d
}

type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor Processor
	pending   domain.PendingJobRepository
	failed    domain.FailedJobRepository
	maxRetry  int
}

func NewWorker(redisURL string, processor Processor, pending domain.PendingJobRepository, failed domain.FailedJobRepository, concurrency, maxRetry int, policy RetryPolicy) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	w := &Worker{processor: processor, pending: pending, failed: failed, maxRetry: maxRetry}
	w.server = asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		RetryDelayFunc: func(n int, _ error, _ *asynq.Task) time.Duration {
			return policy.Delay(n)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(w.handleError),
	})
	w.mux = asynq.NewServeMux()
	w.mux.HandleFunc(TaskProcessApplication, w.handleProcess)
	return w, nil
}

func (w *Worker) handleProcess(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	observability.StartTask(TaskProcessApplication)

	var p domain.ProcessTaskPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		observability.FailTask(TaskProcessApplication, time.Since(start))
		return fmt.Errorf("%w: %w", domain.Permanent(domain.ErrTypeValidation, err), asynq.SkipRetry)
	}

	// Continue the trace the API side injected at enqueue time.
	if len(p.TraceContext) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(p.TraceContext))
	}
	tracer := otel.Tracer("queue.worker")
	ctx, span := tracer.Start(ctx, "ProcessApplication")
	defer span.End()

	if err := w.processor.ProcessApplication(ctx, p); err != nil {
		observability.FailTask(TaskProcessApplication, time.Since(start))
		if _, permanent, _ := domain.ClassifyTaskError(err); permanent {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if id, ok := asynq.GetTaskID(ctx); ok {
		if err := w.pending.MarkCompletedByQueueJobID(ctx, id); err != nil {
			slog.Warn("pending job completion not recorded",
				slog.String("queue_job_id", id), slog.Any("error", err))
		}
	}
	observability.CompleteTask(TaskProcessApplication, time.Since(start))
	slog.Info("application task completed", slog.String("application_id", p.ApplicationID))
	return nil
}

// handleError runs after every failed attempt. Intermediate failures only
// log; once the task is out of attempts (or was marked permanent) it is
// written to the dead-letter table and the outbox row is closed as FAILED.
func (w *Worker) handleError(ctx context.Context, task *asynq.Task, err error) {
	taskID, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	if !terminalFailure(err, retried, maxRetry) {
		slog.Warn("task attempt failed",
			slog.String("task", task.Type()),
			slog.String("queue_job_id", taskID),
			slog.Int("retried", retried),
			slog.Int("max_retry", maxRetry),
			slog.Any("error", err))
		return
	}
	w.recordFailure(ctx, task, taskID, err, retried, maxRetry)
}

// terminalFailure reports whether the task is out of attempts: either the
// error was marked permanent or the retry budget is spent.
func terminalFailure(err error, retried, maxRetry int) bool {
	return errors.Is(err, asynq.SkipRetry) || retried >= maxRetry
}

// recordFailure writes the dead-letter row and closes the outbox row.
// Bookkeeping faults are logged, never rethrown.
func (w *Worker) recordFailure(ctx context.Context, task *asynq.Task, taskID string, err error, retried, maxRetry int) {
	errType, _, retryable := domain.ClassifyTaskError(err)
	slog.Error("task failed terminally, moving to dead letter queue",
		slog.String("task", task.Type()),
		slog.String("queue_job_id", taskID),
		slog.String("error_type", errType),
		slog.Bool("is_retryable", retryable),
		slog.Any("error", err))

	// The task context may itself be the reason we are here (deadline,
	// shutdown), so the bookkeeping gets a detached one.
	dbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	fj := domain.FailedJob{
		JobID:        taskID,
		TaskName:     task.Type(),
		JobArgs:      taskArgs(task.Payload()),
		ErrorType:    errType,
		ErrorMessage: err.Error(),
		Traceback:    fmt.Sprintf("%+v", err),
		RetryCount:   retried,
		MaxRetries:   maxRetry,
		IsRetryable:  retryable,
		Metadata:     taskMetadata(task.Payload()),
	}
	if _, ierr := w.failed.Insert(dbCtx, fj); ierr != nil {
		slog.Error("dead letter insert failed",
			slog.String("queue_job_id", taskID), slog.Any("error", ierr))
	}
	if taskID != "" {
		if merr := w.pending.MarkFailedByQueueJobID(dbCtx, taskID, err.Error()); merr != nil {
			slog.Error("pending job failure not recorded",
				slog.String("queue_job_id", taskID), slog.Any("error", merr))
		}
	}
}

func taskArgs(payload []byte) map[string]any {
	args := map[string]any{}
	if err := json.Unmarshal(payload, &args); err != nil {
		return map[string]any{"raw": string(payload)}
	}
	return args
}

func taskMetadata(payload []byte) map[string]any {
	var p domain.ProcessTaskPayload
	if err := json.Unmarshal(payload, &p); err != nil || len(p.TraceContext) == 0 {
		return nil
	}
	return map[string]any{"trace_context": p.TraceContext}
}

func (w *Worker) Start(ctx context.Context) error { return w.server.Start(w.mux) }
func (w *Worker) Stop()                           { w.server.Shutdown() }
