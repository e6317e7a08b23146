package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/davicafu/possync/internal/outbox/domain"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, InitSQLite(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func newOp(id string, createdAt time.Time) domain.PendingOperation {
	return domain.PendingOperation{
		ID:        id,
		Payload:   json.RawMessage(fmt.Sprintf(`{"sale":%q}`, id)),
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
	}
}

func TestOutboxRepoSQLite_EnqueueAndList(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	op := newOp("tx-1", time.Now().UTC())
	require.NoError(t, repo.Enqueue(ctx, op))

	// Visible inmediatamente como pending, con retry_count 0
	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-1", pending[0].ID)
	assert.Equal(t, domain.StatusPending, pending[0].Status)
	assert.Equal(t, 0, pending[0].RetryCount)
	assert.JSONEq(t, string(op.Payload), string(pending[0].Payload))
}

func TestOutboxRepoSQLite_ListByStatus_FIFO(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	base := time.Now().UTC()
	// Insertamos desordenado a propósito
	require.NoError(t, repo.Enqueue(ctx, newOp("tx-c", base.Add(2*time.Second))))
	require.NoError(t, repo.Enqueue(ctx, newOp("tx-a", base)))
	require.NoError(t, repo.Enqueue(ctx, newOp("tx-b", base.Add(time.Second))))

	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	// La venta más antigua sale primero
	assert.Equal(t, "tx-a", pending[0].ID)
	assert.Equal(t, "tx-b", pending[1].ID)
	assert.Equal(t, "tx-c", pending[2].ID)
}

func TestOutboxRepoSQLite_Enqueue_IdempotentReplace(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	createdAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	original := newOp("tx-1", createdAt)
	require.NoError(t, repo.Enqueue(ctx, original))

	// Re-encolar el mismo id reemplaza payload y estado...
	replacement := newOp("tx-1", time.Now().UTC())
	replacement.Payload = json.RawMessage(`{"sale":"corrected"}`)
	require.NoError(t, repo.Enqueue(ctx, replacement))

	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.JSONEq(t, `{"sale":"corrected"}`, string(pending[0].Payload))

	// ...pero created_at nunca cambia
	assert.Equal(t, createdAt, pending[0].CreatedAt)
}

func TestOutboxRepoSQLite_StatusTransitions(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newOp("tx-1", time.Now().UTC())))

	// pending -> synced
	require.NoError(t, repo.SetStatus(ctx, "tx-1", domain.StatusSynced))
	synced, err := repo.ListByStatus(ctx, domain.StatusSynced)
	require.NoError(t, err)
	require.Len(t, synced, 1)

	// id inexistente
	err = repo.SetStatus(ctx, "no-such-id", domain.StatusSynced)
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)
}

func TestOutboxRepoSQLite_IncrementRetryAndRequeue(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newOp("tx-1", time.Now().UTC())))
	require.NoError(t, repo.MarkFailed(ctx, "tx-1"))

	// Devuelve el contador ya persistido tras cada incremento
	count, err := repo.IncrementRetryAndRequeue(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = repo.IncrementRetryAndRequeue(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].RetryCount)

	// id inexistente
	_, err = repo.IncrementRetryAndRequeue(ctx, "no-such-id")
	assert.ErrorIs(t, err, domain.ErrOperationNotFound)
}

func TestOutboxRepoSQLite_MarkFailed_KeepsRetryCount(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newOp("tx-1", time.Now().UTC())))
	_, err := repo.IncrementRetryAndRequeue(ctx, "tx-1")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, "tx-1"))

	failed, err := repo.ListByStatus(ctx, domain.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RetryCount)
}

func TestOutboxRepoSQLite_CountByStatus(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newOp("tx-1", time.Now().UTC())))
	require.NoError(t, repo.Enqueue(ctx, newOp("tx-2", time.Now().UTC())))
	require.NoError(t, repo.Enqueue(ctx, newOp("tx-3", time.Now().UTC())))
	require.NoError(t, repo.MarkFailed(ctx, "tx-3"))

	pending, err := repo.CountByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	failed, err := repo.CountByStatus(ctx, domain.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestOutboxRepoSQLite_PurgeSynced(t *testing.T) {
	repo := NewOutboxRepoSQLite(setupTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newOp("tx-1", time.Now().UTC())))
	require.NoError(t, repo.Enqueue(ctx, newOp("tx-2", time.Now().UTC())))
	require.NoError(t, repo.SetStatus(ctx, "tx-1", domain.StatusSynced))

	purged, err := repo.PurgeSynced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	// El pending sobrevive a la purga
	pending, err := repo.ListByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "tx-2", pending[0].ID)

	synced, err := repo.ListByStatus(ctx, domain.StatusSynced)
	require.NoError(t, err)
	assert.Empty(t, synced)
}
