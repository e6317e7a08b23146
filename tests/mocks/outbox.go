package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davicafu/possync/internal/outbox/domain"
)

// MockOutboxRepository simula el repo del outbox
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Enqueue(ctx context.Context, op domain.PendingOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *MockOutboxRepository) ListByStatus(ctx context.Context, status domain.Status) ([]domain.PendingOperation, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]domain.PendingOperation), args.Error(1)
}

func (m *MockOutboxRepository) SetStatus(ctx context.Context, id string, status domain.Status) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockOutboxRepository) IncrementRetryAndRequeue(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

func (m *MockOutboxRepository) PurgeSynced(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// MockBatchSender simula la entrega de lotes al ledger
type MockBatchSender struct {
	mock.Mock
}

func (m *MockBatchSender) SubmitBatch(ctx context.Context, items []domain.BatchItem) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

// MockPublisher simula un publisher de eventos de integración
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event interface{}) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockSyncTrigger simula el trigger del sync engine
type MockSyncTrigger struct {
	mock.Mock
}

func (m *MockSyncTrigger) TriggerSync() {
	m.Called()
}
