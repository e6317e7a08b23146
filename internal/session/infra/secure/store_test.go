package secure

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/possync/internal/session/domain"
)

func testJWT(t *testing.T, payload string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return header + "." + body + ".firma-no-verificada"
}

func newTestStore(t *testing.T) (*SessionStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.age")
	store, err := NewSessionStore(path, "passphrase-del-terminal")
	require.NoError(t, err)
	return store, path
}

func TestSessionStore_SaveAndReadTokens(t *testing.T) {
	store, _ := newTestStore(t)

	access := testJWT(t, `{"role":"manager"}`)
	require.NoError(t, store.SaveTokens(access, "refresh-1"))

	assert.Equal(t, access, store.AccessToken())
	assert.Equal(t, "refresh-1", store.RefreshToken())
	assert.Equal(t, "manager", store.Role())
}

func TestSessionStore_RoleDefaultsToStaff(t *testing.T) {
	store, _ := newTestStore(t)

	// Token sin claim de rol
	require.NoError(t, store.SaveTokens(testJWT(t, `{}`), "refresh-1"))
	assert.Equal(t, domain.RoleStaff, store.Role())

	// Token que ni siquiera es un JWT
	require.NoError(t, store.SaveTokens("not-a-jwt", "refresh-1"))
	assert.Equal(t, domain.RoleStaff, store.Role())
}

func TestSessionStore_PersistsAcrossRestart(t *testing.T) {
	store, path := newTestStore(t)

	access := testJWT(t, `{"role":"manager"}`)
	require.NoError(t, store.SaveTokens(access, "refresh-1"))
	require.NoError(t, store.MarkSetupComplete())

	// "Reinicio del proceso": nueva instancia sobre el mismo fichero
	reopened, err := NewSessionStore(path, "passphrase-del-terminal")
	require.NoError(t, err)

	assert.Equal(t, access, reopened.AccessToken())
	assert.Equal(t, "refresh-1", reopened.RefreshToken())
	assert.Equal(t, "manager", reopened.Role())
	assert.True(t, reopened.SetupComplete())
}

func TestSessionStore_EncryptedAtRest(t *testing.T) {
	store, path := newTestStore(t)

	require.NoError(t, store.SaveTokens(testJWT(t, `{}`), "refresh-secreto"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// El fichero no contiene los tokens en claro
	assert.NotContains(t, string(raw), "refresh-secreto")

	// Y una passphrase equivocada no lo abre
	_, err = NewSessionStore(path, "passphrase-equivocada")
	assert.Error(t, err)
}

func TestSessionStore_ClearTokens(t *testing.T) {
	store, path := newTestStore(t)

	require.NoError(t, store.SaveTokens(testJWT(t, `{"role":"manager"}`), "refresh-1"))
	require.NoError(t, store.MarkSetupComplete())
	require.NoError(t, store.ClearTokens())

	assert.Empty(t, store.AccessToken())
	assert.Empty(t, store.RefreshToken())
	assert.Equal(t, domain.RoleStaff, store.Role())

	// setup_complete describe la instalación y sobrevive al logout
	reopened, err := NewSessionStore(path, "passphrase-del-terminal")
	require.NoError(t, err)
	assert.True(t, reopened.SetupComplete())
	assert.Empty(t, reopened.AccessToken())
}

func TestSessionStore_NoAccessTokenMakesRefreshUnusable(t *testing.T) {
	store, _ := newTestStore(t)

	// Estado inconsistente forzado: solo refresh token. El invariante manda:
	// sin access token, el refresh se trata como inutilizable.
	require.NoError(t, store.SaveTokens("", "refresh-huerfano"))
	assert.Empty(t, store.RefreshToken())
}

func TestNewSessionStore_RejectsEmptyArguments(t *testing.T) {
	// Sin passphrase no hay cifrado posible: el constructor falla en vez de
	// degradar a texto claro.
	_, err := NewSessionStore(filepath.Join(t.TempDir(), "session.age"), "")
	assert.Error(t, err)

	_, err = NewSessionStore("", "passphrase-del-terminal")
	assert.Error(t, err)
}

func TestSessionStore_FirstRunIsEmptySession(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Empty(t, store.AccessToken())
	assert.Empty(t, store.RefreshToken())
	assert.False(t, store.SetupComplete())
}
