package relayer

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/possync/internal/outbox/domain"
	sharedBus "github.com/davicafu/possync/internal/shared/bus"
	sharedEvents "github.com/davicafu/possync/internal/shared/events"
)

// ConnectivityChecker responde si el terminal tiene red ahora mismo.
// Tanto el tick periódico como el trigger bajo demanda se condicionan a él.
type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

// ProbeFunc adapta una función suelta al port de conectividad.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Online(ctx context.Context) bool { return f(ctx) }

// NewTCPProbe comprueba conectividad con un dial corto contra el host del
// ledger. Suficiente para decidir si merece la pena arrancar un run.
func NewTCPProbe(baseURL string) ConnectivityChecker {
	return ProbeFunc(func(ctx context.Context) bool {
		u, err := url.Parse(baseURL)
		if err != nil {
			return false
		}
		host := u.Host
		if u.Port() == "" {
			switch u.Scheme {
			case "https":
				host = net.JoinHostPort(u.Hostname(), "443")
			default:
				host = net.JoinHostPort(u.Hostname(), "80")
			}
		}
		d := net.Dialer{Timeout: 2 * time.Second}
		conn, err := d.DialContext(ctx, "tcp", host)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})
}

// SyncEngine drena el outbox en lotes contra el ledger remoto.
//
// Disparadores: un ticker periódico y TriggerSync() tras cada enqueue.
// Como mucho hay un run en vuelo: las peticiones que llegan con un run
// activo se descartan, no se encolan (coalescing). Eso elimina la necesidad
// de bloquear el outbox entre runs concurrentes; los enqueue que se crucen
// con un run simplemente entran en el siguiente.
type SyncEngine struct {
	repo         domain.OutboxRepository
	sender       domain.BatchSender
	publisher    sharedBus.EventPublisher // opcional
	connectivity ConnectivityChecker
	interval     time.Duration
	batchSize    int
	maxRetries   int
	log          *zap.Logger

	running  atomic.Bool
	trigger  chan struct{}
	afterRun func(ctx context.Context)
}

func NewSyncEngine(
	repo domain.OutboxRepository,
	sender domain.BatchSender,
	publisher sharedBus.EventPublisher,
	connectivity ConnectivityChecker,
	interval time.Duration,
	batchSize int,
	maxRetries int,
	log *zap.Logger,
) *SyncEngine {
	if connectivity == nil {
		connectivity = ProbeFunc(func(context.Context) bool { return true })
	}
	return &SyncEngine{
		repo:         repo,
		sender:       sender,
		publisher:    publisher,
		connectivity: connectivity,
		interval:     interval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
		log:          log,
		trigger:      make(chan struct{}, 1),
	}
}

// OnRunComplete registra un hook que se ejecuta al final de cada run, con
// los estados terminales ya aplicados. Lo usa la capa de aplicación para
// refrescar los contadores observables. Debe llamarse antes de Start.
func (e *SyncEngine) OnRunComplete(fn func(ctx context.Context)) {
	e.afterRun = fn
}

// Start inicia el bucle del engine en segundo plano.
func (e *SyncEngine) Start(ctx context.Context) {
	go e.loop(ctx)
}

func (e *SyncEngine) loop(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.log.Info("🚀 Sync engine iniciado", zap.Duration("interval", e.interval))

	for {
		select {
		case <-ctx.Done():
			e.log.Info("🛑 Sync engine detenido.")
			return
		case <-ticker.C:
			_ = e.RunOnce(ctx)
		case <-e.trigger:
			_ = e.RunOnce(ctx)
		}
	}
}

// TriggerSync pide un run bajo demanda. No bloquea nunca; si ya hay un run
// activo la petición se descarta.
func (e *SyncEngine) TriggerSync() {
	if e.running.Load() {
		return // coalesced con el run en vuelo
	}
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// RunOnce ejecuta un run completo si no hay otro en vuelo y hay red.
// Devuelve nil solo si todos los lotes se aplicaron; el scheduler anfitrión
// decide el backoff cuando hay error.
func (e *SyncEngine) RunOnce(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return nil // ya hay un run activo
	}
	defer e.running.Store(false)

	if !e.connectivity.Online(ctx) {
		e.log.Debug("📴 Sin conectividad, run pospuesto")
		return nil
	}

	return e.run(ctx)
}

func (e *SyncEngine) run(ctx context.Context) error {
	pending, err := e.repo.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		e.log.Warn("⚠️ Error al leer operaciones pendientes", zap.Error(err))
		return err
	}

	if len(pending) > 0 {
		e.log.Info(fmt.Sprintf("📬 %d operaciones pendientes de sincronizar", len(pending)))
	}

	var runErr error
	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := e.deliverBatch(ctx, pending[start:end]); err != nil {
			runErr = err
		}
	}

	purged, err := e.repo.PurgeSynced(ctx)
	if err != nil {
		e.log.Warn("⚠️ No se pudieron purgar las operaciones sincronizadas", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	} else if purged > 0 {
		e.log.Info("🧹 Operaciones sincronizadas purgadas", zap.Int("count", purged))
	}

	if e.afterRun != nil {
		e.afterRun(ctx)
	}

	return runErr
}

// deliverBatch envía un lote y aplica el resultado a cada operación.
// El lote entero comparte destino: o todas synced, o todas a la ruta de
// reintento acotado.
func (e *SyncEngine) deliverBatch(ctx context.Context, batch []domain.PendingOperation) error {
	items := make([]domain.BatchItem, len(batch))
	for i, op := range batch {
		items[i] = domain.BatchItem{ID: op.ID, Payload: op.Payload}
	}

	if err := e.sender.SubmitBatch(ctx, items); err != nil {
		e.log.Warn("⚠️ Fallo de entrega de lote",
			zap.Int("size", len(batch)),
			zap.Error(err),
		)
		e.requeueOrFail(ctx, batch)
		return err
	}

	for _, op := range batch {
		if err := e.repo.SetStatus(ctx, op.ID, domain.StatusSynced); err != nil {
			e.log.Warn("⚠️ No se pudo marcar la operación como synced",
				zap.String("operation_id", op.ID),
				zap.Error(err),
			)
			continue
		}
		e.publishSynced(ctx, op.ID)
	}

	e.log.Info("✅ Lote aplicado por el ledger", zap.Int("size", len(batch)))
	return nil
}

// requeueOrFail incrementa el contador de cada operación del lote fallido y
// marca failed las que agotan el presupuesto de reintentos. El contador se
// conserva al marcar failed: un reintento manual que vuelve a fallar regresa
// directo a failed, sin cuota nueva.
func (e *SyncEngine) requeueOrFail(ctx context.Context, batch []domain.PendingOperation) {
	for _, op := range batch {
		newCount, err := e.repo.IncrementRetryAndRequeue(ctx, op.ID)
		if err != nil {
			e.log.Warn("⚠️ No se pudo re-encolar la operación",
				zap.String("operation_id", op.ID),
				zap.Error(err),
			)
			continue
		}

		if newCount >= e.maxRetries {
			if err := e.repo.MarkFailed(ctx, op.ID); err != nil {
				e.log.Warn("⚠️ No se pudo marcar la operación como failed",
					zap.String("operation_id", op.ID),
					zap.Error(err),
				)
				continue
			}
			e.log.Warn("🛑 Reintentos agotados, operación marcada como failed",
				zap.String("operation_id", op.ID),
				zap.Int("retry_count", newCount),
			)
		}
	}
}

func (e *SyncEngine) publishSynced(ctx context.Context, operationID string) {
	if e.publisher == nil {
		return
	}
	evt, err := sharedEvents.NewTransactionSynced(operationID)
	if err != nil {
		return
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.log.Warn("⚠️ No se pudo publicar el evento de sincronización",
			zap.String("operation_id", operationID),
			zap.Error(err),
		)
	}
}
