package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
	"github.com/fairyhunter13/global-credit-core/internal/usecase"
)

func pendingRow() domain.PendingJob {
	appID := uuid.New()
	return domain.PendingJob{
		ID:            uuid.New(),
		ApplicationID: appID,
		TaskName:      domain.ProcessTask,
		JobArgs:       map[string]any{"application_id": appID.String()},
		Status:        domain.PendingJobPending,
	}
}

func TestOutboxService_Drain(t *testing.T) {
	t.Parallel()

	rows := []domain.PendingJob{pendingRow(), pendingRow()}
	var gotLimit int
	pending := &pendingRepoStub{fetchFn: func(limit int) ([]domain.PendingJob, error) {
		gotLimit = limit
		return rows, nil
	}}
	var enqueuedIDs []string
	var payloads []domain.ProcessTaskPayload
	q := &queueStub{enqueueFn: func(p domain.ProcessTaskPayload, jobID string) (string, error) {
		payloads = append(payloads, p)
		enqueuedIDs = append(enqueuedIDs, jobID)
		return jobID, nil
	}}
	var marked []string
	pending.markEnqFn = func(id uuid.UUID, queueJobID string) (bool, error) {
		marked = append(marked, queueJobID)
		return true, nil
	}

	svc := usecase.NewOutboxService(pending, q, 50)
	n, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 50, gotLimit)

	require.Len(t, enqueuedIDs, 2)
	for i, row := range rows {
		assert.Equal(t, domain.RealtimeJobID(row.ApplicationID.String()), enqueuedIDs[i])
		assert.Equal(t, row.ApplicationID.String(), payloads[i].ApplicationID)
	}
	assert.Equal(t, enqueuedIDs, marked)
}

func TestOutboxService_Drain_EnqueueFailureIsRowScoped(t *testing.T) {
	t.Parallel()

	rows := []domain.PendingJob{pendingRow(), pendingRow()}
	pending := &pendingRepoStub{fetchFn: func(int) ([]domain.PendingJob, error) { return rows, nil }}
	calls := 0
	q := &queueStub{enqueueFn: func(_ domain.ProcessTaskPayload, jobID string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("queue down")
		}
		return jobID, nil
	}}
	var failedRow uuid.UUID
	var failedMsg string
	pending.markFailFn = func(id uuid.UUID, msg string) error {
		failedRow, failedMsg = id, msg
		return nil
	}

	svc := usecase.NewOutboxService(pending, q, 50)
	n, err := svc.Drain(context.Background())
	require.NoError(t, err, "a bad row never stalls the batch")
	assert.Equal(t, 1, n)
	assert.Equal(t, rows[0].ID, failedRow)
	assert.Contains(t, failedMsg, "queue down")
}

func TestOutboxService_Drain_LostClaimNotCounted(t *testing.T) {
	t.Parallel()

	pending := &pendingRepoStub{
		fetchFn:   func(int) ([]domain.PendingJob, error) { return []domain.PendingJob{pendingRow()}, nil },
		markEnqFn: func(uuid.UUID, string) (bool, error) { return false, nil },
	}

	svc := usecase.NewOutboxService(pending, &queueStub{}, 50)
	n, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "the realtime path already claimed the row")
}

func TestOutboxService_Drain_MarkEnqueuedFault(t *testing.T) {
	t.Parallel()

	pending := &pendingRepoStub{
		fetchFn:   func(int) ([]domain.PendingJob, error) { return []domain.PendingJob{pendingRow()}, nil },
		markEnqFn: func(uuid.UUID, string) (bool, error) { return false, errors.New("update failed") },
	}

	svc := usecase.NewOutboxService(pending, &queueStub{}, 50)
	n, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutboxService_Drain_FetchFault(t *testing.T) {
	t.Parallel()

	pending := &pendingRepoStub{fetchFn: func(int) ([]domain.PendingJob, error) {
		return nil, errors.New("query failed")
	}}
	svc := usecase.NewOutboxService(pending, &queueStub{}, 50)
	_, err := svc.Drain(context.Background())
	assert.ErrorContains(t, err, "query failed")
}

func TestOutboxService_Drain_Empty(t *testing.T) {
	t.Parallel()

	enqueued := false
	q := &queueStub{enqueueFn: func(domain.ProcessTaskPayload, string) (string, error) {
		enqueued = true
		return "", nil
	}}
	svc := usecase.NewOutboxService(&pendingRepoStub{}, q, 50)
	n, err := svc.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, enqueued)
}
