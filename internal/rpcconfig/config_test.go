package rpcconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dkoosis/jsonrpc2x/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsWorkableDefaults(t *testing.T) {
	s := New()
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, 30, s.Endpoint.RequestTimeoutSeconds)
	assert.Equal(t, ":8080", s.Listen.Address)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, New(), s)
}

func TestLoadMergesYAMLOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
log:
  level: debug
listen:
  address: "127.0.0.1:9090"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", s.Log.Level)
	assert.Equal(t, "127.0.0.1:9090", s.Listen.Address)
	// Untouched field keeps its default.
	assert.Equal(t, 30, s.Endpoint.RequestTimeoutSeconds)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [this is not a mapping"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLogLevelMapsKnownStrings(t *testing.T) {
	cases := map[string]logging.Level{
		"debug": logging.LevelDebug,
		"info":  logging.LevelInfo,
		"warn":  logging.LevelWarn,
		"error": logging.LevelError,
		"":      logging.LevelInfo,
		"WARN":  logging.LevelWarn,
		"bogus": logging.LevelInfo,
	}
	for in, want := range cases {
		s := &Settings{Log: LogConfig{Level: in}}
		assert.Equal(t, want, s.LogLevel(), "input %q", in)
	}
}

func TestExpandPathLeavesAbsolutePathAlone(t *testing.T) {
	got, err := ExpandPath("/etc/jsonrpc2x/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/etc/jsonrpc2x/config.yaml", got)
}

func TestExpandPathExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	got, err := ExpandPath("~/jsonrpc2x/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "jsonrpc2x/config.yaml"), got)
}
