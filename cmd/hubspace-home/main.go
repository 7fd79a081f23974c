package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"hubspace-go-home/internal/auth"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/coordinator"
	"hubspace-go-home/internal/store"
	"hubspace-go-home/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("hubspace-go-home starting", "version", version)

	tokens := auth.NewManager(cfg.API.TokenURL, auth.Credentials{
		Username: cfg.Account.Username,
		Password: cfg.Account.Password,
		ClientID: cfg.Account.ClientID,
	},
		auth.WithMargin(cfg.Auth.RefreshMargin),
		auth.WithPolicy(cfg.authPolicy()),
		auth.WithLogger(logger),
	)
	client := cloud.NewClient(cfg.API.BaseURL, tokens,
		cloud.WithTimeout(cfg.API.Timeout),
		cloud.WithLogger(logger),
	)

	db, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err, "driver", cfg.Store.Driver, "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer db.Close()

	// Telemetry recorder (no-op when built with no_history tag or disabled).
	hist, coordOpts := initHistory(cfg, logger)

	events := coordinator.NewEventBus(logger)
	coord, err := coordinator.New(client, client, db, events, logger, coordOpts...)
	if err != nil {
		logger.Error("create coordinator", "err", err)
		hist.Stop()
		db.Close()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discoveryDone := make(chan struct{})
	go func() {
		defer close(discoveryDone)
		coord.Run(ctx, cfg.Discovery.Interval, cfg.discoveryPolicy())
	}()

	var (
		webServer  *web.Server
		httpServer *http.Server
	)
	if cfg.Web.Enabled {
		webOpts := []web.ServerOption{web.WithVersion(version)}
		if cfg.Web.APIKey != "" {
			webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
		}
		if len(cfg.Web.AllowedOrigins) > 0 {
			webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
		}
		webServer = web.NewServer(coord, logger, webOpts...)

		httpServer = &http.Server{
			Addr:         cfg.Web.Listen,
			Handler:      webServer,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		go func() {
			logger.Info("web server starting", "addr", cfg.Web.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http server", "err", err)
			}
		}()
	}

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel()
	mqtt.Stop()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "err", err)
		}
		webServer.Stop()
	}
	select {
	case <-discoveryDone:
	case <-shutdownCtx.Done():
		logger.Warn("discovery did not stop in time")
	}
	hist.Stop()

	logger.Info("goodbye")
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
