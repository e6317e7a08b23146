package events

import (
	"encoding/json"
	"time"

	sharedBus "github.com/davicafu/possync/internal/shared/bus"
)

// Tipos de evento de integración que emite el núcleo de sincronización.
const (
	TransactionSyncedType = "transaction.synced"
)

// Base de todos los eventos de integración
type IntegrationEvent struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"` // contenido específico del evento
}

// TransactionSynced se emite cuando el ledger remoto confirma una operación.
type TransactionSynced struct {
	IntegrationEvent
	operationID string
}

// PartitionKey agrupa los eventos de una misma operación en la misma partición.
func (e TransactionSynced) PartitionKey() string { return e.operationID }

// Verificación en tiempo de compilación.
var _ sharedBus.Keyer = TransactionSynced{}

// TransactionSyncedData es el contenido específico del evento.
type TransactionSyncedData struct {
	OperationID string `json:"operation_id"`
}

// NewTransactionSynced construye el evento de integración ya serializado.
func NewTransactionSynced(operationID string) (TransactionSynced, error) {
	data, err := json.Marshal(TransactionSyncedData{OperationID: operationID})
	if err != nil {
		return TransactionSynced{}, err
	}
	return TransactionSynced{
		IntegrationEvent: IntegrationEvent{
			Type:      TransactionSyncedType,
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
		operationID: operationID,
	}, nil
}
