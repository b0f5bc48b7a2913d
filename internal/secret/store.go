// Package secret keeps data connection passwords out of the database.
package secret

import (
	"os"
	"runtime"
	"strings"
	"sync"
)

// SecretStore stores sensitive values such as database passwords.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns empty slice and nil error if key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// Default returns the macOS Keychain on darwin and an EnvStore elsewhere.
func Default() SecretStore {
	if runtime.GOOS == "darwin" {
		return NewKeychainStore()
	}
	return NewEnvStore()
}

// EnvStore reads secrets from PAGEBUILDER_SECRET_<KEY> environment
// variables. Values set at runtime live in memory and shadow the
// environment until deleted.
type EnvStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewEnvStore() *EnvStore {
	return &EnvStore{values: make(map[string][]byte)}
}

// EnvName maps a key such as "conn:1f2e-3a" to PAGEBUILDER_SECRET_CONN_1F2E_3A.
func EnvName(key string) string {
	var b strings.Builder
	b.WriteString("PAGEBUILDER_SECRET_")
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (s *EnvStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = append([]byte(nil), value...)
	return nil
}

func (s *EnvStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok {
		return append([]byte(nil), v...), nil
	}
	if env, ok := os.LookupEnv(EnvName(key)); ok {
		return []byte(env), nil
	}
	return nil, nil
}

func (s *EnvStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
