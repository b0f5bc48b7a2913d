package secret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvName(t *testing.T) {
	assert.Equal(t, "PAGEBUILDER_SECRET_CONN_1F2E_3A", EnvName("conn:1f2e-3a"))
}

func TestEnvStore(t *testing.T) {
	t.Setenv("PAGEBUILDER_SECRET_CONN_DB1", "from-env")
	s := NewEnvStore()

	v, err := s.Get("conn:db1")
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(v))

	require.NoError(t, s.Set("conn:db1", []byte("runtime")))
	v, _ = s.Get("conn:db1")
	assert.Equal(t, "runtime", string(v))

	require.NoError(t, s.Delete("conn:db1"))
	v, _ = s.Get("conn:db1")
	assert.Equal(t, "from-env", string(v))

	v, err = s.Get("conn:missing")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestKeychainStore_MissingBinary(t *testing.T) {
	k := &KeychainStore{bin: "pagebuilder-no-such-security-binary"}

	_, err := k.Get("conn:db1")
	assert.ErrorContains(t, err, "keychain get conn:db1")
	assert.ErrorContains(t, k.Set("conn:db1", []byte("pw")), "keychain set conn:db1")
	assert.ErrorContains(t, k.Delete("conn:db1"), "keychain delete conn:db1")
}
