// Package rpcconfig loads the settings shared by this module's demo
// entrypoints: log verbosity, the outbound request timeout, and the
// address a transport should listen on.
package rpcconfig

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/dkoosis/jsonrpc2x/internal/logging"
)

// Settings is the configuration shared by the stdio and websocket demo
// peers.
type Settings struct {
	Log      LogConfig      `yaml:"log"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Listen   ListenConfig   `yaml:"listen"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// EndpointConfig controls outbound request behavior.
type EndpointConfig struct {
	// RequestTimeoutSeconds is passed by the demo peers to
	// jsonrpc2.WithRequestTimeout, which cancels a Request() still awaiting
	// its response once this many seconds have passed; zero means no
	// timeout is applied.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

// ListenConfig controls where the websocket demo peer listens.
type ListenConfig struct {
	Address string `yaml:"address"`
}

// New returns Settings populated with defaults sufficient to run either
// demo peer with no config file present.
func New() *Settings {
	return &Settings{
		Log: LogConfig{Level: "info"},
		Endpoint: EndpointConfig{
			RequestTimeoutSeconds: 30,
		},
		Listen: ListenConfig{Address: ":8080"},
	}
}

// Load reads and merges a YAML file at path onto a New() default. A missing
// file is not an error — it just means defaults apply.
func Load(path string) (*Settings, error) {
	s := New()
	if path == "" {
		return s, nil
	}

	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errors.Wrapf(err, "rpcconfig: failed to read %s", expanded)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, errors.Wrapf(err, "rpcconfig: failed to parse %s", expanded)
	}
	return s, nil
}

// LogLevel converts the configured log level string into a logging.Level,
// defaulting to Info on an unrecognized value.
func (s *Settings) LogLevel() logging.Level {
	switch strings.ToLower(s.Log.Level) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "rpcconfig: failed to get user home directory")
	}
	return filepath.Join(home, path[1:]), nil
}
