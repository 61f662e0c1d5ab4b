package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	assert.Equal(t, "postgres", cfg.Image)
	assert.Equal(t, "latest", cfg.Version)
	assert.Equal(t, "mydb", cfg.Database)
	assert.Equal(t, "postgres", cfg.User)
	assert.Equal(t, "postgres", cfg.Password)
	assert.Equal(t, 0, cfg.Port)
	require.NotNil(t, cfg.WaitTime)
	assert.Equal(t, 30*time.Second, cfg.Wait())
	assert.Equal(t, "postgres:latest", cfg.ImageRef())
}

func TestConfigZeroWaitIsKept(t *testing.T) {
	t.Parallel()

	zero := time.Duration(0)
	cfg := Config{WaitTime: &zero}.WithDefaults()
	assert.Equal(t, time.Duration(0), cfg.Wait())

	// The resolved record owns its own copy.
	zero = time.Minute
	assert.Equal(t, time.Duration(0), cfg.Wait())
}

func TestConfigContainerSpec(t *testing.T) {
	t.Parallel()

	spec := Config{
		Database: "db",
		User:     "u",
		Password: "p",
		Port:     1234,
		Version:  "9.6",
	}.WithDefaults().ContainerSpec()

	assert.Equal(t, "postgres:9.6", spec.Image)
	assert.Equal(t, map[string]string{
		"POSTGRES_DB":       "db",
		"POSTGRES_USER":     "u",
		"POSTGRES_PASSWORD": "p",
	}, spec.Env)
	assert.Equal(t, map[string]int{"5432/tcp": 1234}, spec.Ports)
	assert.True(t, spec.AutoRemove)
	assert.Contains(t, spec.Labels, ManagedLabelKey)
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")

	var perr error = &ProvisioningError{Image: "postgres:16", Err: cause}
	assert.ErrorIs(t, perr, cause)
	assert.Equal(t, "provision postgres:16: boom", perr.Error())

	var rerr error = &ReadinessTimeoutError{ContainerID: "0123456789abcdef", Timeout: time.Second}
	assert.Equal(t, "container 0123456789ab not ready after 1s", rerr.Error())

	var terr error = &TeardownError{ContainerID: "abc", Err: ErrContainerGone}
	assert.ErrorIs(t, terr, ErrContainerGone)
}
