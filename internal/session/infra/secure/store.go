package secure

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"filippo.io/age"

	"github.com/davicafu/possync/internal/session/domain"
)

const (
	storeDirMode  = 0o700
	storeFileMode = 0o600
)

// SessionStore guarda la sesión cifrada en reposo: un blob JSON sellado con
// age (receptor scrypt derivado de la passphrase del terminal). El fichero
// completo se reescribe en cada mutación, así que el estado en disco siempre
// es consistente con el de memoria.
type SessionStore struct {
	path       string
	passphrase string

	mu      sync.RWMutex
	session domain.Session
}

// NewSessionStore abre (o crea) el almacén y carga la sesión persistida.
// Un fichero inexistente no es un error: es el estado de sesión cerrada.
func NewSessionStore(path, passphrase string) (*SessionStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session store path is empty")
	}
	if passphrase == "" {
		return nil, errors.New("session store passphrase is empty")
	}

	s := &SessionStore{path: filepath.Clean(path), passphrase: passphrase}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveTokens persiste el nuevo par de tokens. El rol se decodifica del
// payload del JWT de acceso; si no declara ninguno se asume staff.
func (s *SessionStore) SaveTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.AccessToken = accessToken
	s.session.RefreshToken = refreshToken
	s.session.Role = decodeRole(accessToken)
	return s.persistLocked()
}

func (s *SessionStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.AccessToken
}

// RefreshToken devuelve vacío si no hay token de acceso: sin acceso, el
// refresh token se considera inutilizable.
func (s *SessionStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.AccessToken == "" {
		return ""
	}
	return s.session.RefreshToken
}

func (s *SessionStore) Role() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session.Role == "" {
		return domain.RoleStaff
	}
	return s.session.Role
}

func (s *SessionStore) SetupComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session.SetupComplete
}

func (s *SessionStore) MarkSetupComplete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.SetupComplete = true
	return s.persistLocked()
}

// ClearTokens borra los tokens y el rol; setup_complete se conserva porque
// describe la instalación, no la sesión.
func (s *SessionStore) ClearTokens() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.AccessToken = ""
	s.session.RefreshToken = ""
	s.session.Role = ""
	return s.persistLocked()
}

// ---------- Persistencia ----------

func (s *SessionStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil // primera ejecución: sesión vacía
		}
		return fmt.Errorf("failed to read session store: %w", err)
	}

	identity, err := age.NewScryptIdentity(s.passphrase)
	if err != nil {
		return fmt.Errorf("failed to build scrypt identity: %w", err)
	}

	r, err := age.Decrypt(bytes.NewReader(data), identity)
	if err != nil {
		return fmt.Errorf("failed to decrypt session store: %w", err)
	}

	plaintext, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read decrypted session: %w", err)
	}

	if err := json.Unmarshal(plaintext, &s.session); err != nil {
		return fmt.Errorf("corrupt session store: %w", err)
	}
	return nil
}

func (s *SessionStore) persistLocked() error {
	plaintext, err := json.Marshal(s.session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	recipient, err := age.NewScryptRecipient(s.passphrase)
	if err != nil {
		return fmt.Errorf("failed to build scrypt recipient: %w", err)
	}

	var ciphertext bytes.Buffer
	w, err := age.Encrypt(&ciphertext, recipient)
	if err != nil {
		return fmt.Errorf("failed to start session encryption: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return fmt.Errorf("failed to encrypt session: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize session encryption: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), storeDirMode); err != nil {
		return fmt.Errorf("failed to create session store directory: %w", err)
	}
	if err := os.WriteFile(s.path, ciphertext.Bytes(), storeFileMode); err != nil {
		return fmt.Errorf("failed to write session store: %w", err)
	}
	return nil
}

// decodeRole extrae el claim "role" del payload del JWT, sin verificar la
// firma (la verificación es cosa del servidor; aquí solo se lee metadato).
func decodeRole(jwt string) string {
	parts := strings.Split(jwt, ".")
	if len(parts) != 3 {
		return domain.RoleStaff
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return domain.RoleStaff
	}

	var claims struct {
		Role string `json:"role"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil || claims.Role == "" {
		return domain.RoleStaff
	}
	return claims.Role
}

// Verificación en tiempo de compilación.
var _ domain.TokenStore = (*SessionStore)(nil)
