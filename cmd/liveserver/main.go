package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jstrand/league-live/internal/archive"
	"github.com/jstrand/league-live/internal/auth"
	"github.com/jstrand/league-live/internal/config"
	"github.com/jstrand/league-live/internal/database"
	"github.com/jstrand/league-live/internal/live"
	"github.com/jstrand/league-live/internal/metrics"
	"github.com/jstrand/league-live/internal/relay"
	"github.com/jstrand/league-live/internal/server"
	"github.com/jstrand/league-live/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/liveserver.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting liveserver",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"listen_addr", cfg.Listen.Addr,
		"relay_url", cfg.Relay.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to the relay broker
	broker, closeBroker, err := relay.DialNATS(relay.NATSConfig{
		URL:           cfg.Relay.URL,
		User:          cfg.Relay.User,
		Password:      cfg.Relay.Password,
		Name:          "liveserver-" + cfg.Instance.ID,
		ConnectTries:  30,
		ReconnectWait: 2 * time.Second,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to relay broker", "error", err)
		os.Exit(1)
	}
	defer closeBroker()

	logger.Info("relay broker connected", "url", cfg.Relay.URL)

	// Token validation
	authenticator, err := auth.NewJWTAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		logger.Error("failed to create authenticator", "error", err)
		os.Exit(1)
	}

	mc := metrics.NewCollector()

	// Wire the messaging core
	svc := live.NewService(cfg, live.Deps{
		Broker:        broker,
		Authenticator: authenticator,
		Metrics:       mc,
		Logger:        logger,
	})

	// Optional delivered-event archive
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiver := archive.NewArchiver(archive.Config{
			InstanceID:    cfg.Instance.ID,
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, mc, logger)

		if err := archiver.Start(ctx); err != nil {
			logger.Error("failed to start archiver", "error", err)
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			archiver.Stop(shutdownCtx)
		}()

		svc.OnDelivered(archiver.Record)
		logger.Info("archive enabled")
	}

	// Start health/metrics server early so readiness can be watched
	healthPort := 8080
	if cfg.Metrics.Port > 0 {
		healthPort = cfg.Metrics.Port
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(svc, mc, cfg.Metrics.Path, logger),
	}

	go func() {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start the core
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		svc.Stop(shutdownCtx)
	}()

	// Start the WebSocket ingress
	ingress := server.NewServer(server.Config{
		Addr:         cfg.Listen.Addr,
		ReadLimit:    cfg.Listen.ReadLimit,
		WriteTimeout: cfg.Listen.WriteTimeout,
		PongTimeout:  cfg.Listen.PongTimeout,
		PingInterval: cfg.Listen.PingInterval,
		SendBuffer:   cfg.Listen.SendBuffer,
	}, svc, logger)

	if err := ingress.Start(ctx); err != nil {
		logger.Error("failed to start websocket server", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		ingress.Stop(shutdownCtx)
	}()

	logger.Info("liveserver running",
		"instance_id", cfg.Instance.ID,
		"ws_url", fmt.Sprintf("ws://localhost%s/ws", cfg.Listen.Addr),
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("liveserver stopped")
}

// createHealthHandler creates the HTTP handler for health checks and metrics.
func createHealthHandler(svc *live.Service, mc *metrics.Collector, metricsPath string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string                 `json:"status"`
			Version    string                 `json:"version"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.String(),
			Components: make(map[string]interface{}),
		}

		health.Components["connections"] = svc.Registry().Count()
		health.Components["rooms"] = svc.Rooms().RoomCount()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(health)
	})

	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle(metricsPath, mc.Handler())

	return mux
}
