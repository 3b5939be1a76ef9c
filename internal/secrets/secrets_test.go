package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestResolveLiteral(t *testing.T) {
	r := NewResolver("")
	val, err := r.Resolve("postgres://localhost/db")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/db", val)
	assert.False(t, IsReference("plain"))
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("SCOREGATE_TEST_SECRET", "from-env")
	r := NewResolver("")

	val, err := r.Resolve("env:SCOREGATE_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", val)

	_, err = r.Resolve("env:SCOREGATE_DEFINITELY_UNSET")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveKeyring(t *testing.T) {
	keyring.MockInit()
	r := NewResolver("")

	require.NoError(t, r.Set("scoregate", "admin-token-hash", "hash-value"))
	val, err := r.Resolve("keyring:scoregate/admin-token-hash")
	require.NoError(t, err)
	assert.Equal(t, "hash-value", val)
	assert.True(t, IsReference("keyring:scoregate/admin-token-hash"))

	require.NoError(t, r.Delete("scoregate", "admin-token-hash"))
	_, err = r.Resolve("keyring:scoregate/admin-token-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveMalformedKeyringRef(t *testing.T) {
	keyring.MockInit()
	r := NewResolver("")
	for _, ref := range []string{"keyring:", "keyring:service", "keyring:/key", "keyring:service/"} {
		_, err := r.Resolve(ref)
		assert.Error(t, err, ref)
	}
}

func TestParseKeyringRef(t *testing.T) {
	service, key, err := ParseKeyringRef("keyring:scoregate/admin_token_hash")
	require.NoError(t, err)
	assert.Equal(t, "scoregate", service)
	assert.Equal(t, "admin_token_hash", key)

	_, _, err = ParseKeyringRef("env:FOO")
	assert.Error(t, err)
}

func TestFallbackFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets", "fallback.json")
	r := NewResolver(path)

	require.NoError(t, r.setFallback("scoregate", "dsn", "postgres://fallback"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	val, err := r.getFallback("scoregate", "dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback", val)

	// A keychain miss falls through to the fallback file.
	keyring.MockInit()
	val, err = r.Resolve("keyring:scoregate/dsn")
	require.NoError(t, err)
	assert.Equal(t, "postgres://fallback", val)

	require.NoError(t, r.deleteFallback("scoregate", "dsn"))
	_, err = r.getFallback("scoregate", "dsn")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsKeyringUnavailable(t *testing.T) {
	assert.False(t, isKeyringUnavailable(nil))
	assert.False(t, isKeyringUnavailable(assert.AnError))
	assert.True(t, isKeyringUnavailable(errString("failed to connect to DBus session")))
	assert.True(t, isKeyringUnavailable(errString("The name org.freedesktop.secrets was not provided: Secret Service unavailable")))
}

type errString string

func (e errString) Error() string { return string(e) }
