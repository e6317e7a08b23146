package application

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/davicafu/possync/internal/outbox/domain"
)

// Counts son los dos números que la UI necesita para sus badges.
type Counts struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// SyncTrigger pide un run al sync engine sin bloquear.
type SyncTrigger interface {
	TriggerSync()
}

// OutboxService define los casos de uso del outbox que consumen los
// colaboradores de UI: encolar una venta, reintentar las fallidas y
// observar los contadores.
type OutboxService struct {
	repo    domain.OutboxRepository
	trigger SyncTrigger // opcional
	log     *zap.Logger

	mu          sync.RWMutex
	subscribers []chan Counts
}

// NewOutboxService constructor
func NewOutboxService(repo domain.OutboxRepository, trigger SyncTrigger, log *zap.Logger) *OutboxService {
	return &OutboxService{
		repo:    repo,
		trigger: trigger,
		log:     log,
	}
}

// CreatePendingOperation guarda la venta offline de forma durable y dispara
// un run de sincronización. Si la escritura durable falla, el error se
// propaga al caller: la venta NO está confirmada y nunca se traga en
// silencio.
func (s *OutboxService) CreatePendingOperation(ctx context.Context, payload json.RawMessage) (string, error) {
	op, err := domain.NewPendingOperation(payload)
	if err != nil {
		return "", err
	}

	if err := s.repo.Enqueue(ctx, op); err != nil {
		return "", fmt.Errorf("durable write failed: %w", err)
	}

	s.log.Info("💾 Venta guardada offline", zap.String("operation_id", op.ID))

	s.RefreshCounts(ctx)
	if s.trigger != nil {
		s.trigger.TriggerSync()
	}

	return op.ID, nil
}

// RetryFailed devuelve a pending todas las operaciones failed y dispara un
// run. El contador de reintentos NO se resetea: el reintento manual es una
// oportunidad extra, no una cuota nueva.
func (s *OutboxService) RetryFailed(ctx context.Context) error {
	failed, err := s.repo.ListByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to list failed operations: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}

	for _, op := range failed {
		if err := s.repo.SetStatus(ctx, op.ID, domain.StatusPending); err != nil {
			return fmt.Errorf("failed to requeue operation %s: %w", op.ID, err)
		}
	}

	s.log.Info("🔁 Operaciones fallidas re-encoladas", zap.Int("count", len(failed)))

	s.RefreshCounts(ctx)
	if s.trigger != nil {
		s.trigger.TriggerSync()
	}

	return nil
}

func (s *OutboxService) PendingCount(ctx context.Context) (int, error) {
	return s.repo.CountByStatus(ctx, domain.StatusPending)
}

func (s *OutboxService) FailedCount(ctx context.Context) (int, error) {
	return s.repo.CountByStatus(ctx, domain.StatusFailed)
}

// Counts devuelve la foto actual de los contadores.
func (s *OutboxService) Counts(ctx context.Context) (Counts, error) {
	pending, err := s.repo.CountByStatus(ctx, domain.StatusPending)
	if err != nil {
		return Counts{}, err
	}
	failed, err := s.repo.CountByStatus(ctx, domain.StatusFailed)
	if err != nil {
		return Counts{}, err
	}
	return Counts{Pending: pending, Failed: failed}, nil
}

// SubscribeCounts registra un observador de contadores. La entrega no
// bloquea: si el buffer del suscriptor está lleno solo pierde fotos
// intermedias, la siguiente publicación trae el estado al día.
func (s *OutboxService) SubscribeCounts(bufferSize int) <-chan Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	subChan := make(chan Counts, bufferSize)
	s.subscribers = append(s.subscribers, subChan)
	return subChan
}

// RefreshCounts relee los contadores y los difunde a los suscriptores.
// Se invoca tras cada mutación local y al final de cada run del engine.
func (s *OutboxService) RefreshCounts(ctx context.Context) {
	counts, err := s.Counts(ctx)
	if err != nil {
		s.log.Warn("⚠️ No se pudieron leer los contadores del outbox", zap.Error(err))
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, subChan := range s.subscribers {
		select {
		case subChan <- counts:
		default:
		}
	}
}
