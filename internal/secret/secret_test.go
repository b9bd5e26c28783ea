package secret

import (
	"errors"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvStore(t *testing.T) {
	t.Setenv("RECORDGRID_SECRET_DB_CRM_PROD", "hunter2")
	s := NewEnvStore(EnvPrefix)

	assert.Equal(t, "RECORDGRID_SECRET_DB_CRM_PROD", s.VarName(ConnectionKey("crm-prod")))

	v, err := s.Get(ConnectionKey("crm-prod"))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(v))

	v, err = s.Get(ConnectionKey("absent"))
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.Error(t, s.Set("db:x", []byte("y")))
	assert.NoError(t, s.Delete("db:x"))
}

func TestNew(t *testing.T) {
	s, err := New("env")
	require.NoError(t, err)
	assert.IsType(t, &EnvStore{}, s)

	s, err = New("")
	require.NoError(t, err)
	assert.IsType(t, &KeychainStore{}, s)

	_, err = New("vault")
	assert.Error(t, err)
}

func TestKeychainStore_Commands(t *testing.T) {
	var calls [][]string
	k := &KeychainStore{service: "test", run: func(args ...string) ([]byte, error) {
		calls = append(calls, args)
		return []byte("s3cret\n"), nil
	}}

	require.NoError(t, k.Set("db:a", []byte("pw")))
	v, err := k.Get("db:a")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(v))
	require.NoError(t, k.Delete("db:a"))

	require.Len(t, calls, 3)
	assert.Equal(t, []string{"add-generic-password", "-a", "db:a", "-s", "test", "-w", "pw", "-U"}, calls[0])
	assert.Equal(t, "find-generic-password", calls[1][0])
	assert.Equal(t, "delete-generic-password", calls[2][0])
}

func TestKeychainStore_Errors(t *testing.T) {
	k := &KeychainStore{service: "test", run: func(args ...string) ([]byte, error) {
		return nil, errors.New("boom")
	}}
	_, err := k.Get("db:a")
	assert.Error(t, err)
	assert.Error(t, k.Set("db:a", nil))
	assert.Error(t, k.Delete("db:a"))

	var exitErr *exec.ExitError
	assert.False(t, errors.As(err, &exitErr))
}
