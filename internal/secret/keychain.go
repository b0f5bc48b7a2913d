package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "pagebuilder-connections"

// errSecItemNotFound is the exit status of `security` for a missing item.
const errSecItemNotFound = 44

// KeychainStore keeps connection passwords in the macOS login keychain,
// one generic password per key under the pagebuilder-connections service.
type KeychainStore struct {
	// bin is the security CLI; tests on darwin may point it elsewhere.
	bin string
}

func NewKeychainStore() *KeychainStore {
	return &KeychainStore{bin: "security"}
}

func (k *KeychainStore) security(args ...string) ([]byte, error) {
	args = append(args, "-s", keychainService)
	return exec.Command(k.bin, args...).Output()
}

func notFound(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == errSecItemNotFound
}

// Set writes value under key, replacing an existing item (-U).
func (k *KeychainStore) Set(key string, value []byte) error {
	if _, err := k.security("add-generic-password", "-U", "-a", key, "-w", string(value)); err != nil {
		return fmt.Errorf("keychain set %s: %w", key, err)
	}
	return nil
}

// Get returns nil, nil for a key that was never stored.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.security("find-generic-password", "-a", key, "-w")
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get %s: %w", key, err)
	}
	return []byte(strings.TrimRight(string(out), "\n")), nil
}

// Delete is a no-op for a missing key.
func (k *KeychainStore) Delete(key string) error {
	if _, err := k.security("delete-generic-password", "-a", key); err != nil && !notFound(err) {
		return fmt.Errorf("keychain delete %s: %w", key, err)
	}
	return nil
}
