package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ---------- Errores de dominio ----------
var (
	ErrOperationNotFound = errors.New("pending operation not found")
	ErrEmptyPayload      = errors.New("empty payload")
)

// Status es el estado de una operación pendiente.
// Enumeración cerrada: un estado inválido no es representable.
type Status string

const (
	StatusPending Status = "pending"
	StatusFailed  Status = "failed"
	StatusSynced  Status = "synced"
)

// PendingOperation representa una venta registrada offline, a la espera de
// ser entregada al ledger remoto. El id es la clave de idempotencia que se
// presenta al servidor; created_at se fija una vez y nunca cambia.
//
// Máquina de estados:
//
//	pending --(lote entregado)--------------------> synced  [terminal]
//	pending --(fallo, retry+1 < MaxRetries)-------> pending
//	pending --(fallo, retry+1 >= MaxRetries)------> failed  [terminal hasta reintento manual]
//	failed  --(reintento manual, retry se conserva)-> pending
type PendingOperation struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"` // cuerpo opaco, el esquema lo define el caller
	Status     Status          `json:"status"`
	RetryCount int             `json:"retry_count"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewPendingOperation crea una operación lista para encolar.
func NewPendingOperation(payload json.RawMessage) (PendingOperation, error) {
	if len(payload) == 0 {
		return PendingOperation{}, ErrEmptyPayload
	}
	return PendingOperation{
		ID:         uuid.NewString(),
		Payload:    payload,
		Status:     StatusPending,
		RetryCount: 0,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// ---------- Interfaces (Ports) ----------

// OutboxRepository define la persistencia durable del outbox transaccional.
// Los errores de almacenamiento se propagan siempre: el caller decide si la
// venta queda como no-confirmada o si muestra un error.
type OutboxRepository interface {
	// Enqueue inserta la operación de forma durable. Si el id ya existe,
	// reemplaza el registro de forma idempotente conservando created_at.
	Enqueue(ctx context.Context, op PendingOperation) error

	// ListByStatus devuelve las operaciones en ese estado, ordenadas por
	// created_at ascendente (FIFO: la venta más antigua se sincroniza primero).
	ListByStatus(ctx context.Context, status Status) ([]PendingOperation, error)

	// SetStatus debe devolver ErrOperationNotFound si el registro no existe.
	SetStatus(ctx context.Context, id string, status Status) error

	// IncrementRetryAndRequeue suma 1 al contador de reintentos, deja la
	// operación de nuevo en pending y devuelve el contador ya almacenado.
	// La decisión de agotamiento se toma sobre ese valor, no sobre una
	// copia en memoria.
	IncrementRetryAndRequeue(ctx context.Context, id string) (int, error)

	// MarkFailed marca la operación como failed sin tocar el contador.
	MarkFailed(ctx context.Context, id string) error

	CountByStatus(ctx context.Context, status Status) (int, error)

	// PurgeSynced elimina los registros synced. Es seguro: synced es
	// terminal y el id de idempotencia ya no hace falta.
	PurgeSynced(ctx context.Context) (int, error)
}

// BatchItem es la tupla {id, payload} que viaja en una petición de lote.
type BatchItem struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// BatchSender entrega un lote completo al servicio remoto.
// Devuelve nil si el servidor aplicó el lote (éxito o duplicado idempotente);
// cualquier otro resultado es un fallo de lote completo.
type BatchSender interface {
	SubmitBatch(ctx context.Context, items []BatchItem) error
}
