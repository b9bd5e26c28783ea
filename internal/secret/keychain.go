package secret

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "recordgrid"

// keychainNotFound is the exit code of `security` when an item is missing.
const keychainNotFound = 44

// KeychainStore implements SecretStore on the macOS Keychain through the
// `security` CLI.
type KeychainStore struct {
	service string
	run     func(args ...string) ([]byte, error)
}

// NewKeychainStore creates a new KeychainStore.
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{service: keychainService, run: runSecurity}
}

func runSecurity(args ...string) ([]byte, error) {
	return exec.Command("security", args...).Output()
}

// Set stores value, replacing any existing item for key.
func (k *KeychainStore) Set(key string, value []byte) error {
	_, err := k.run("add-generic-password", "-a", key, "-s", k.service, "-w", string(value), "-U")
	if err != nil {
		return fmt.Errorf("keychain set %s: %w", key, describeExit(err))
	}
	return nil
}

// Get returns nil and no error when the item does not exist.
func (k *KeychainStore) Get(key string) ([]byte, error) {
	out, err := k.run("find-generic-password", "-a", key, "-s", k.service, "-w")
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("keychain get %s: %w", key, describeExit(err))
	}
	return []byte(strings.TrimSpace(string(out))), nil
}

// Delete removes the item for key. A missing item is not an error.
func (k *KeychainStore) Delete(key string) error {
	_, err := k.run("delete-generic-password", "-a", key, "-s", k.service)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("keychain delete %s: %w", key, describeExit(err))
	}
	return nil
}

func isNotFound(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == keychainNotFound
}

func describeExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(exitErr.Stderr)), err)
	}
	return err
}
