package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/possync/internal/outbox/domain"
	"github.com/davicafu/possync/tests/mocks"
)

func TestOutboxService_CreatePendingOperation(t *testing.T) {
	// ARRANGE
	repo := new(mocks.MockOutboxRepository)
	trigger := new(mocks.MockSyncTrigger)

	var enqueued domain.PendingOperation
	repo.On("Enqueue", mock.Anything, mock.AnythingOfType("domain.PendingOperation")).
		Run(func(args mock.Arguments) {
			enqueued = args.Get(1).(domain.PendingOperation)
		}).Return(nil).Once()
	repo.On("CountByStatus", mock.Anything, domain.StatusPending).Return(1, nil)
	repo.On("CountByStatus", mock.Anything, domain.StatusFailed).Return(0, nil)
	trigger.On("TriggerSync").Return().Once()

	service := NewOutboxService(repo, trigger, zap.NewNop())

	// ACT
	id, err := service.CreatePendingOperation(context.Background(), json.RawMessage(`{"amount": 10}`))

	// ASSERT: escritura durable + trigger de sincronización
	require.NoError(t, err)
	_, parseErr := uuid.Parse(id)
	assert.NoError(t, parseErr)

	assert.Equal(t, id, enqueued.ID)
	assert.Equal(t, domain.StatusPending, enqueued.Status)
	assert.Equal(t, 0, enqueued.RetryCount)

	repo.AssertExpectations(t)
	trigger.AssertExpectations(t)
}

func TestOutboxService_CreatePendingOperation_StorageErrorPropagates(t *testing.T) {
	// Un fallo de escritura durable es fatal para el caller: la venta no
	// está confirmada y el error nunca se traga.
	repo := new(mocks.MockOutboxRepository)
	trigger := new(mocks.MockSyncTrigger)

	storageErr := errors.New("disk full")
	repo.On("Enqueue", mock.Anything, mock.Anything).Return(storageErr).Once()

	service := NewOutboxService(repo, trigger, zap.NewNop())

	_, err := service.CreatePendingOperation(context.Background(), json.RawMessage(`{"amount": 10}`))

	assert.ErrorIs(t, err, storageErr)
	trigger.AssertNotCalled(t, "TriggerSync")
}

func TestOutboxService_RetryFailed(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	trigger := new(mocks.MockSyncTrigger)

	failed := []domain.PendingOperation{
		{ID: "tx-1", Status: domain.StatusFailed, RetryCount: 5},
		{ID: "tx-2", Status: domain.StatusFailed, RetryCount: 5},
	}

	repo.On("ListByStatus", mock.Anything, domain.StatusFailed).Return(failed, nil).Once()
	repo.On("SetStatus", mock.Anything, "tx-1", domain.StatusPending).Return(nil).Once()
	repo.On("SetStatus", mock.Anything, "tx-2", domain.StatusPending).Return(nil).Once()
	repo.On("CountByStatus", mock.Anything, domain.StatusPending).Return(2, nil)
	repo.On("CountByStatus", mock.Anything, domain.StatusFailed).Return(0, nil)
	trigger.On("TriggerSync").Return().Once()

	service := NewOutboxService(repo, trigger, zap.NewNop())

	err := service.RetryFailed(context.Background())

	assert.NoError(t, err)
	repo.AssertExpectations(t)
	trigger.AssertExpectations(t)
}

func TestOutboxService_RetryFailed_NothingToRetry(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)
	trigger := new(mocks.MockSyncTrigger)

	repo.On("ListByStatus", mock.Anything, domain.StatusFailed).
		Return([]domain.PendingOperation{}, nil).Once()

	service := NewOutboxService(repo, trigger, zap.NewNop())

	assert.NoError(t, service.RetryFailed(context.Background()))
	trigger.AssertNotCalled(t, "TriggerSync")
}

func TestOutboxService_SubscribeCounts(t *testing.T) {
	repo := new(mocks.MockOutboxRepository)

	repo.On("Enqueue", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("CountByStatus", mock.Anything, domain.StatusPending).Return(3, nil)
	repo.On("CountByStatus", mock.Anything, domain.StatusFailed).Return(1, nil)

	service := NewOutboxService(repo, nil, zap.NewNop())
	counts := service.SubscribeCounts(1)

	_, err := service.CreatePendingOperation(context.Background(), json.RawMessage(`{"amount": 10}`))
	require.NoError(t, err)

	select {
	case got := <-counts:
		assert.Equal(t, Counts{Pending: 3, Failed: 1}, got)
	case <-time.After(time.Second):
		t.Fatal("no llegó la actualización de contadores")
	}
}
