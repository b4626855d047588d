package config

import (
	"errors"
	"fmt"
	"strings"
)

// MaxFrameSizeLimit is the largest accepted server.max_frame_size.
const MaxFrameSizeLimit = 16 << 20

// Verify checks that cfg is usable. The port itself is checked by ParsePort.
func Verify(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	s := cfg.Server
	var errs []error

	if strings.TrimSpace(s.Host) == "" {
		errs = append(errs, errors.New("server.host must not be empty"))
	}
	if s.PortMin < 1 || s.PortMax > 65535 || s.PortMin > s.PortMax {
		errs = append(errs, fmt.Errorf("server port range [%d, %d] is invalid", s.PortMin, s.PortMax))
	}
	if s.OutboxSize < 1 {
		errs = append(errs, fmt.Errorf("server.outbox_size must be positive, got %d", s.OutboxSize))
	}
	if s.MaxFrameSize < 64 || s.MaxFrameSize > MaxFrameSizeLimit {
		errs = append(errs, fmt.Errorf("server.max_frame_size must be in [64, %d], got %d", MaxFrameSizeLimit, s.MaxFrameSize))
	}
	if s.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive, got %v", s.WriteTimeout))
	}
	if s.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout must not be negative, got %v", s.IdleTimeout))
	}
	if s.MessageRate < 0 {
		errs = append(errs, fmt.Errorf("server.message_rate must not be negative, got %v", s.MessageRate))
	}
	if s.MessageRate > 0 && s.MessageBurst < 1 {
		errs = append(errs, fmt.Errorf("server.message_burst must be positive when rate limiting, got %d", s.MessageBurst))
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive, got %v", s.ShutdownTimeout))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Log.Level))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", cfg.Log.Format))
	}

	return errors.Join(errs...)
}
