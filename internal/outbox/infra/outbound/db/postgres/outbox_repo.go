package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// Driver pgx en modo database/sql, registrado por el cmd que abre la conexión.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/davicafu/possync/internal/outbox/domain"
)

// OutboxRepoPostgres implementa la interfaz domain.OutboxRepository para
// despliegues de tipo kiosco, donde varios terminales comparten una base de
// datos local de tienda en lugar del fichero SQLite del dispositivo.
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

// InitPostgres crea la tabla pending_operations si no existe.
func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS pending_operations (
            id TEXT PRIMARY KEY,
            payload TEXT NOT NULL,
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            created_at BIGINT NOT NULL
        )
    `)
	return err
}

func (r *OutboxRepoPostgres) Enqueue(ctx context.Context, op domain.PendingOperation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_operations (id, payload, status, retry_count, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (id) DO UPDATE SET
		     payload     = EXCLUDED.payload,
		     status      = EXCLUDED.status,
		     retry_count = EXCLUDED.retry_count`,
		op.ID, string(op.Payload), string(op.Status), op.RetryCount, op.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue pending operation %s: %w", op.ID, err)
	}
	return nil
}

func (r *OutboxRepoPostgres) ListByStatus(ctx context.Context, status domain.Status) ([]domain.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload, status, retry_count, created_at
		 FROM pending_operations WHERE status=$1 ORDER BY created_at ASC`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.PendingOperation
	for rows.Next() {
		var op domain.PendingOperation
		var payloadStr, statusStr string
		var createdAtMillis int64

		if err := rows.Scan(&op.ID, &payloadStr, &statusStr, &op.RetryCount, &createdAtMillis); err != nil {
			return nil, err
		}

		op.Payload = []byte(payloadStr)
		op.Status = domain.Status(statusStr)
		op.CreatedAt = time.UnixMilli(createdAtMillis).UTC()

		ops = append(ops, op)
	}

	return ops, rows.Err()
}

func (r *OutboxRepoPostgres) SetStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return checkAffected(res, id)
}

func (r *OutboxRepoPostgres) IncrementRetryAndRequeue(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE pending_operations SET status=$1, retry_count=retry_count+1
		 WHERE id=$2
		 RETURNING retry_count`,
		string(domain.StatusPending), id).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s", domain.ErrOperationNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status=$1 WHERE id=$2`,
		string(domain.StatusFailed), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return checkAffected(res, id)
}

func (r *OutboxRepoPostgres) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE status=$1`, string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

func (r *OutboxRepoPostgres) PurgeSynced(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE status=$1`, string(domain.StatusSynced))
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced operations: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	return int(rows), nil
}

func checkAffected(res sql.Result, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOperationNotFound, id)
	}
	return nil
}

// Verificación en tiempo de compilación.
var _ domain.OutboxRepository = (*OutboxRepoPostgres)(nil)
