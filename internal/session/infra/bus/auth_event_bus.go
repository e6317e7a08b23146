package bus

import (
	"sync"

	"github.com/davicafu/possync/internal/session/domain"
)

// authEventBuffer: con capacidad 1 basta. El consumidor re-comprueba la
// validez de la sesión en sus propios eventos de ciclo de vida, así que
// perder un evento repetido no pierde información.
const authEventBuffer = 1

// AuthEventBus difunde eventos de sesión a múltiples suscriptores.
// Publish nunca bloquea: si el buffer de un suscriptor está lleno, ese
// suscriptor pierde el evento (entrega a lo sumo una vez).
type AuthEventBus struct {
	mu          sync.RWMutex
	subscribers []chan domain.AuthEvent
}

func NewAuthEventBus() *AuthEventBus {
	return &AuthEventBus{subscribers: make([]chan domain.AuthEvent, 0)}
}

// Publish entrega el evento a todos los suscriptores sin bloquear al publicador.
func (b *AuthEventBus) Publish(event domain.AuthEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, subChan := range b.subscribers {
		select {
		case subChan <- event:
		default:
			// suscriptor saturado: el evento se descarta para él
		}
	}
}

// Subscribe registra un nuevo oyente y devuelve su canal de lectura.
func (b *AuthEventBus) Subscribe() <-chan domain.AuthEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	subChan := make(chan domain.AuthEvent, authEventBuffer)
	b.subscribers = append(b.subscribers, subChan)
	return subChan
}

// Verificación en tiempo de compilación.
var _ domain.AuthEventBus = (*AuthEventBus)(nil)
