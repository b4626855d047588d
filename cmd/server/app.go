package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/andy6609/relay-chat/internal/chat"
	"github.com/andy6609/relay-chat/internal/config"
	"github.com/andy6609/relay-chat/internal/logging"
)

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:            "relay-server",
		Usage:           "relay chat messages between TCP clients",
		ArgsUsage:       "PORT",
		HideHelpCommand: true,
		Writer:          out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "serve Prometheus metrics on this address (disabled when empty)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "json or text",
			},
		},
		Action: func(c *cli.Context) error {
			return serve(c, out)
		},
	}
}

func serve(c *cli.Context, out io.Writer) error {
	if c.NArg() != 1 {
		return &config.InvalidArgumentError{Position: 1}
	}

	overrides := map[string]any{}
	for flag, key := range map[string]string{
		"metrics-addr": "metrics.addr",
		"log-level":    "log.level",
		"log-format":   "log.format",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	cfg, err := config.Load(config.WithConfigFile(c.String("config")), config.WithOverrides(overrides))
	if err != nil {
		return err
	}
	port, err := config.ParsePort(c.Args().First(), cfg.Server.PortMin, cfg.Server.PortMax)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, out)

	srv := chat.NewServer(cfg.Server, logger)
	if err := srv.Start(); err != nil {
		var be *chat.BindError
		if errors.As(err, &be) {
			return fmt.Errorf("ERR - cannot create ChatServer socket using port number %d: %w", port, be.Err)
		}
		return err
	}
	fmt.Fprintf(out, "ChatServer started with server IP: %s, port: %d\n", cfg.Server.Host, port)

	var metrics *http.Server
	if cfg.Metrics.Addr != "" {
		metrics = serveMetrics(cfg.Metrics.Addr, logger)
	}

	runErr := srv.Run(c.Context)

	if metrics != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := metrics.Shutdown(stopCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}
	if runErr != nil {
		return fmt.Errorf("shutdown: %w", runErr)
	}
	return nil
}

func serveMetrics(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hs := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", "addr", addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return hs
}
