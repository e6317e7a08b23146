package domain

import "errors"

var ErrNoSession = errors.New("no active session")

// RoleStaff es el rol por defecto cuando el token no declara ninguno.
const RoleStaff = "staff"

// Session es el par de tokens de la instalación más sus metadatos.
// Existe exactamente una por terminal y sobrevive a reinicios del proceso.
// Invariante: si AccessToken está vacío, RefreshToken se trata como
// inutilizable (estado de sesión cerrada).
type Session struct {
	AccessToken   string `json:"access_token"`
	RefreshToken  string `json:"refresh_token"`
	Role          string `json:"role"`
	SetupComplete bool   `json:"setup_complete"`
}

// ---------- Interfaces (Ports) ----------

// TokenStore es la vista que el resto del sistema tiene de la sesión.
// Solo lo mutan el transporte autenticado (al refrescar) y el colaborador
// de autenticación (login/logout).
type TokenStore interface {
	SaveTokens(accessToken, refreshToken string) error
	AccessToken() string
	RefreshToken() string
	Role() string
	SetupComplete() bool
	MarkSetupComplete() error
	ClearTokens() error
}

// AuthEvent es el evento de sesión. Enumeración cerrada de un solo valor:
// no lleva payload y no se persiste.
type AuthEvent int

const (
	// AuthEventSessionExpired se publica cuando un refresh falla de forma
	// irrecuperable y la sesión local se ha limpiado.
	AuthEventSessionExpired AuthEvent = iota
)

func (e AuthEvent) String() string {
	switch e {
	case AuthEventSessionExpired:
		return "session.expired"
	default:
		return "unknown"
	}
}

// AuthEventBus difunde eventos de sesión a los suscriptores interesados.
// La publicación nunca bloquea: entrega best-effort, a lo sumo una vez.
type AuthEventBus interface {
	Publish(event AuthEvent)
	Subscribe() <-chan AuthEvent
}
