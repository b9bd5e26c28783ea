package secret

import (
	"errors"
	"os"
	"strings"
)

// EnvPrefix is the default prefix for EnvStore variables.
const EnvPrefix = "RECORDGRID_SECRET_"

// EnvStore reads secrets from environment variables. Key "db:crm-prod"
// maps to RECORDGRID_SECRET_DB_CRM_PROD. It is read-only.
type EnvStore struct {
	prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore creates an EnvStore reading variables with the given prefix.
func NewEnvStore(prefix string) *EnvStore {
	return &EnvStore{prefix: prefix, lookup: os.LookupEnv}
}

// VarName returns the environment variable consulted for key.
func (e *EnvStore) VarName(key string) string {
	var b strings.Builder
	b.WriteString(e.prefix)
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func (e *EnvStore) Get(key string) ([]byte, error) {
	if v, ok := e.lookup(e.VarName(key)); ok {
		return []byte(v), nil
	}
	return nil, nil
}

func (e *EnvStore) Set(key string, _ []byte) error {
	return errors.New("env secret store is read-only: set " + e.VarName(key))
}

func (e *EnvStore) Delete(string) error { return nil }
