package secret

import "fmt"

// SecretStore holds connection passwords outside the profile database.
type SecretStore interface {
	// Set stores a secret value under the given key.
	Set(key string, value []byte) error

	// Get retrieves the secret value for the given key.
	// Returns an empty slice and nil error if the key does not exist.
	Get(key string) ([]byte, error)

	// Delete removes the secret for the given key.
	Delete(key string) error
}

// ConnectionKey is the secret key holding the password of a connection profile.
func ConnectionKey(connectionID string) string {
	return "db:" + connectionID
}

// New returns the store for a configured backend name.
func New(backend string) (SecretStore, error) {
	switch backend {
	case "", "keychain":
		return NewKeychainStore(), nil
	case "env":
		return NewEnvStore(EnvPrefix), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}
