package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davicafu/possync/internal/session/domain"
)

const refreshPath = "/auth/refresh"

// refreshTimeout acota la llamada de refresh; un refresh colgado bloquearía
// a todos los callers que esperan su resultado.
const refreshTimeout = 15 * time.Second

// AuthTransport envuelve todas las peticiones salientes: adjunta el bearer
// actual, y ante un 401 intenta exactamente un refresh compartido entre
// todos los callers concurrentes (single-flight). Si el refresh falla de
// forma irrecuperable limpia la sesión y publica SessionExpired.
//
// Los efectos laterales se limitan al TokenStore y al AuthEventBus: los
// fallos que no son de autenticación no se reintentan aquí, eso es cosa del
// caller (por ejemplo la ruta de reintentos del sync engine).
type AuthTransport struct {
	base    http.RoundTripper
	store   domain.TokenStore
	events  domain.AuthEventBus
	baseURL string
	log     *zap.Logger

	// refreshMu serializa la llamada de refresh: solo puede haber una en
	// vuelo por instancia de TokenStore.
	refreshMu sync.Mutex
	// refreshClient va directo contra el transporte base para no pasar la
	// petición de refresh por este mismo RoundTripper (evita recursión).
	refreshClient *http.Client
}

func NewAuthTransport(base http.RoundTripper, store domain.TokenStore, events domain.AuthEventBus, baseURL string, log *zap.Logger) *AuthTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &AuthTransport{
		base:          base,
		store:         store,
		events:        events,
		baseURL:       strings.TrimRight(baseURL, "/"),
		log:           log,
		refreshClient: &http.Client{Transport: base, Timeout: refreshTimeout},
	}
}

// NewHTTPClient construye el cliente que usan todos los callers de red.
func NewHTTPClient(store domain.TokenStore, events domain.AuthEventBus, baseURL string, timeout time.Duration, log *zap.Logger) *http.Client {
	return &http.Client{
		Transport: NewAuthTransport(nil, store, events, baseURL, log),
		Timeout:   timeout,
	}
}

func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	usedToken := t.store.AccessToken()

	// RoundTrip no debe mutar la petición original.
	authReq := req.Clone(req.Context())
	if usedToken != "" {
		authReq.Header.Set("Authorization", "Bearer "+usedToken)
	}

	resp, err := t.base.RoundTrip(authReq)
	if err != nil {
		return nil, err
	}

	// Solo interesa el 401 de peticiones normales; la propia llamada de
	// refresh nunca pasa por aquí, pero el guard evita recursión si alguien
	// construye la petición a mano.
	if resp.StatusCode != http.StatusUnauthorized || strings.Contains(req.URL.Path, refreshPath) {
		return resp, nil
	}

	refreshToken := t.store.RefreshToken()
	if usedToken == "" || refreshToken == "" {
		return resp, nil // sesión cerrada: no hay nada que refrescar
	}

	// Guardamos el cuerpo del 401 original por si hay que devolverlo.
	originalBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		originalBody = nil
	}

	newToken, refreshErr := t.refreshSingleFlight(req.Context(), usedToken, refreshToken)
	if refreshErr != nil {
		t.log.Warn("⚠️ Refresh de sesión fallido, se devuelve el 401 original", zap.Error(refreshErr))
		resp.Body = io.NopCloser(bytes.NewReader(originalBody))
		return resp, nil
	}

	// Un cuerpo sin GetBody ya se consumió en el primer intento y no se puede
	// rebobinar: la sesión quedó refrescada, pero el caller recibe su 401 y
	// decide si reenvía.
	if req.Body != nil && req.GetBody == nil {
		t.log.Warn("⚠️ Petición con cuerpo no rebobinable, no se reintenta tras el refresh")
		resp.Body = io.NopCloser(bytes.NewReader(originalBody))
		return resp, nil
	}

	// Reintentamos la petición original exactamente una vez con el token nuevo.
	retryReq := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		retryReq.Body = body
	}
	retryReq.Header.Set("Authorization", "Bearer "+newToken)

	return t.base.RoundTrip(retryReq)
}

// refreshSingleFlight garantiza una única llamada de refresh en vuelo.
// Los callers que esperaban el mutex releen el store al entrar: si el token
// cambió mientras esperaban, reutilizan el resultado del refresh ajeno sin
// emitir otra llamada de red.
func (t *AuthTransport) refreshSingleFlight(ctx context.Context, usedToken, refreshToken string) (string, error) {
	t.refreshMu.Lock()
	defer t.refreshMu.Unlock()

	current := t.store.AccessToken()
	if current == "" {
		// Otro caller ya intentó refrescar y la sesión quedó invalidada.
		return "", domain.ErrNoSession
	}
	if current != usedToken {
		// Otro caller refrescó mientras esperábamos: reutilizamos su token.
		return current, nil
	}

	tokens, err := t.callRefresh(ctx, refreshToken)
	if err != nil {
		// Refresh irrecuperable: sesión fuera y aviso a los suscriptores.
		if clearErr := t.store.ClearTokens(); clearErr != nil {
			t.log.Error("No se pudo limpiar la sesión local", zap.Error(clearErr))
		}
		t.events.Publish(domain.AuthEventSessionExpired)
		return "", err
	}

	if err := t.store.SaveTokens(tokens.AccessToken, tokens.RefreshToken); err != nil {
		return "", fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	t.log.Info("✅ Sesión refrescada")
	return tokens.AccessToken, nil
}

type authTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type refreshEnvelope struct {
	Success bool        `json:"success"`
	Data    *authTokens `json:"data"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (t *AuthTransport) callRefresh(ctx context.Context, refreshToken string) (*authTokens, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/api/v1"+refreshPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.refreshClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("refresh token rejected: status %d", resp.StatusCode)
	}

	var envelope refreshEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("invalid refresh response: %w", err)
	}
	if !envelope.Success || envelope.Data == nil || envelope.Data.AccessToken == "" {
		return nil, fmt.Errorf("refresh token rejected")
	}

	return envelope.Data, nil
}

// Verificación en tiempo de compilación.
var _ http.RoundTripper = (*AuthTransport)(nil)
