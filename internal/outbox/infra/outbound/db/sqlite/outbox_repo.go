package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	_ "modernc.org/sqlite"

	"github.com/davicafu/possync/internal/outbox/domain"
)

// OutboxRepoSQLite implementa la interfaz domain.OutboxRepository sobre la
// base de datos local del terminal. Es el almacenamiento primario: la venta
// tiene que estar en disco antes de devolver el control al caller.
type OutboxRepoSQLite struct {
	db *sql.DB
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

// InitSQLite crea la tabla pending_operations si no existe.
// created_at se guarda como epoch en milisegundos para que el ORDER BY
// sea estable entre drivers.
func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS pending_operations (
            id TEXT PRIMARY KEY,
            payload TEXT NOT NULL,
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            created_at INTEGER NOT NULL
        )
    `)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
        CREATE INDEX IF NOT EXISTS idx_pending_operations_status
        ON pending_operations (status, created_at)
    `)
	return err
}

// Enqueue inserta la operación de forma durable. Re-encolar el mismo id
// reemplaza el registro pero conserva el created_at original.
func (r *OutboxRepoSQLite) Enqueue(ctx context.Context, op domain.PendingOperation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_operations (id, payload, status, retry_count, created_at)
         VALUES (?,?,?,?,?)
         ON CONFLICT(id) DO UPDATE SET
             payload     = excluded.payload,
             status      = excluded.status,
             retry_count = excluded.retry_count`,
		op.ID, string(op.Payload), string(op.Status), op.RetryCount, op.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue pending operation %s: %w", op.ID, err)
	}
	return nil
}

// ListByStatus devuelve las operaciones en ese estado, FIFO por created_at.
func (r *OutboxRepoSQLite) ListByStatus(ctx context.Context, status domain.Status) ([]domain.PendingOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload, status, retry_count, created_at
         FROM pending_operations
         WHERE status = ?
         ORDER BY created_at ASC`, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.PendingOperation
	for rows.Next() {
		var op domain.PendingOperation
		var payloadStr string // el payload se lee como TEXT en SQLite
		var statusStr string
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

func (r *OutboxRepoSQLite) SetStatus(ctx context.Context, id string, status domain.Status) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return checkAffected(res, id)
}

// IncrementRetryAndRequeue suma 1 al contador, deja la operación en pending
// y devuelve el contador ya persistido.
func (r *OutboxRepoSQLite) IncrementRetryAndRequeue(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE pending_operations SET status = ?, retry_count = retry_count + 1
         WHERE id = ?
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

// MarkFailed marca failed sin tocar retry_count.
func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE pending_operations SET status = ? WHERE id = ?`,
		string(domain.StatusFailed), id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return checkAffected(res, id)
}

func (r *OutboxRepoSQLite) CountByStatus(ctx context.Context, status domain.Status) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_operations WHERE status = ?`, string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// PurgeSynced elimina los registros ya sincronizados y devuelve cuántos borró.
func (r *OutboxRepoSQLite) PurgeSynced(ctx context.Context) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM pending_operations WHERE status = ?`, string(domain.StatusSynced))
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
var _ domain.OutboxRepository = (*OutboxRepoSQLite)(nil)
