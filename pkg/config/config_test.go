package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleConfig struct {
	Host    string        `envconfig:"HOST" default:"0.0.0.0"`
	Port    int           `envconfig:"PORT" default:"8000"`
	Timeout time.Duration `envconfig:"TIMEOUT" default:"30s"`
}

// These tests mutate process env and package state; they run sequentially.

func TestNewReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CFGTEST_HOST=127.0.0.1\nCFGTEST_PORT=9100\n"), 0o600))

	SetEnvFile(path)
	t.Cleanup(func() {
		SetEnvFile("")
		os.Unsetenv("CFGTEST_HOST")
		os.Unsetenv("CFGTEST_PORT")
	})

	conf, err := New[sampleConfig]("CFGTEST")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", conf.Host)
	assert.Equal(t, 9100, conf.Port)
	assert.Equal(t, 30*time.Second, conf.Timeout)
}

func TestNewProcessEnvWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CFGWIN_PORT=9100\n"), 0o600))

	t.Setenv("CFGWIN_PORT", "7000")
	SetEnvFile(path)
	t.Cleanup(func() { SetEnvFile("") })

	conf, err := New[sampleConfig]("CFGWIN")
	require.NoError(t, err)
	assert.Equal(t, 7000, conf.Port)
}

func TestNewMissingExplicitFile(t *testing.T) {
	SetEnvFile(filepath.Join(t.TempDir(), "absent.env"))
	t.Cleanup(func() { SetEnvFile("") })

	_, err := New[sampleConfig]("CFGMISSING")
	require.Error(t, err)
}

func TestLookupSuffix(t *testing.T) {
	t.Setenv("WEATHER_MCP_URL", "http://localhost:8005/sse")
	t.Setenv("DASHBOARD_MCP_URL", "  ")

	got, err := LookupSuffix("_MCP_URL")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8005/sse", got["WEATHER"])
	_, ok := got["DASHBOARD"]
	assert.False(t, ok)
}
