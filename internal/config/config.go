// Package config holds the relay server configuration.
//
// Values come from Default, then an optional YAML file, then command-line
// overrides; see Loader.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration of the relay server.
type Config struct {
	Server  ServerSection  `koanf:"server"`
	Log     LogSection     `koanf:"log"`
	Metrics MetricsSection `koanf:"metrics"`
}

// ServerSection configures the chat listener and its sessions.
type ServerSection struct {
	// Host is the interface the listener binds to.
	Host string `koanf:"host"`
	// Port is the listen port; it is taken from the command line.
	Port int `koanf:"port"`
	// PortMin and PortMax bound the accepted port argument, inclusive.
	PortMin int `koanf:"port_min"`
	PortMax int `koanf:"port_max"`
	// OutboxSize is how many frames may queue for one slow client before
	// deliveries to it fail.
	OutboxSize int `koanf:"outbox_size"`
	// MaxFrameSize bounds inbound frame payloads in bytes.
	MaxFrameSize int `koanf:"max_frame_size"`
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// IdleTimeout disconnects a client silent for that long. 0 disables it.
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	// MessageRate limits chat messages per second per session. 0 disables it.
	MessageRate float64 `koanf:"message_rate"`
	// MessageBurst is the burst allowed on top of MessageRate.
	MessageBurst int `koanf:"message_burst"`
	// ShutdownTimeout bounds how long Stop waits for sessions to finish.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr is the HTTP listen address for /metrics. Empty disables it.
	Addr string `koanf:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerSection{
			Host:            "localhost",
			PortMin:         10000,
			PortMax:         11000,
			OutboxSize:      64,
			MaxFrameSize:    64 * 1024,
			WriteTimeout:    10 * time.Second,
			MessageBurst:    1,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: LogSection{
			Level:  "info",
			Format: "json",
		},
	}
}

// Addr returns the host:port the server listens on.
func (s ServerSection) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// InvalidPortError reports a port argument that is not a number or falls
// outside the configured range.
type InvalidPortError struct {
	Value    string
	Min, Max int
}

func (e *InvalidPortError) Error() string {
	return fmt.Sprintf("ERR -arg 1: invalid port %q, want an integer in [%d, %d]", e.Value, e.Min, e.Max)
}

// InvalidArgumentError reports a missing or malformed positional argument.
// Position is 1-based.
type InvalidArgumentError struct {
	Position int
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("ERR -arg %d", e.Position)
	}
	return fmt.Sprintf("ERR -arg %d: %s", e.Position, e.Reason)
}

// ParsePort parses a port argument and checks it against [min, max].
func ParsePort(value string, min, max int) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || port < min || port > max {
		return 0, &InvalidPortError{Value: value, Min: min, Max: max}
	}
	return port, nil
}
