// feedgather connects to a message stream and archives every inbound
// message to Postgres.
// Usage: go run ./cmd/feedgather --config configs/gatherer.local.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkrauss/wirefeed/internal/archive"
	"github.com/dkrauss/wirefeed/internal/config"
	"github.com/dkrauss/wirefeed/internal/database"
	"github.com/dkrauss/wirefeed/internal/socket"
	"github.com/dkrauss/wirefeed/internal/version"
	"github.com/dkrauss/wirefeed/internal/wire"
)

func main() {
	configPath := flag.String("config", "configs/gatherer.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting feedgather",
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
		"stream_url", cfg.Stream.URL,
		"channels", cfg.Stream.Channels,
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

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Postgres.Host,
		"port", cfg.Database.Postgres.Port,
		"database", cfg.Database.Postgres.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database.Postgres)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Archive pipeline
	buffer := archive.NewBuffer[socket.Message](cfg.Archive.BufferSize)
	writer := archive.NewWriter(cfg.Archive, buffer, pool, logger)
	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start archive writer", "error", err)
		os.Exit(1)
	}

	// Stream manager
	mgr, err := newStreamManager(cfg, buffer, logger)
	if err != nil {
		logger.Error("failed to create stream manager", "error", err)
		os.Exit(1)
	}

	if err := mgr.Connect(); err != nil {
		// The manager keeps retrying on its own when reconnect is
		// enabled; a dead endpoint at startup is not fatal.
		logger.Warn("initial connect failed", "error", err)
	}

	// Periodic stats
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := mgr.Stats()
				b := buffer.Stats()
				w := writer.Stats()
				logger.Info("stats",
					"state", s.State,
					"received", s.MessagesReceived,
					"sent", s.MessagesSent,
					"queue_depth", s.QueueDepth,
					"buffer_depth", b.Depth,
					"inserts", w.Inserts,
					"insert_errors", w.Errors,
				)
			}
		}
	}()

	logger.Info("feedgather running", "instance_id", cfg.Instance.ID)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	mgr.Close()
	buffer.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	writer.Stop(shutdownCtx)

	logger.Info("feedgather stopped")
}

// newStreamManager wires the socket manager to the archive buffer and
// re-establishes authentication and subscriptions on every open,
// including after reconnects.
func newStreamManager(cfg *config.GathererConfig, buffer *archive.Buffer[socket.Message], logger *slog.Logger) (*socket.Manager, error) {
	sc := socket.Config{
		URL:                  cfg.Stream.URL,
		Protocols:            cfg.Stream.Protocols,
		Reconnect:            cfg.Stream.Reconnect,
		MaxReconnectAttempts: cfg.Stream.MaxReconnectAttempts,
		ReconnectInterval:    cfg.Stream.ReconnectInterval,
		ReconnectMultiplier:  cfg.Stream.ReconnectMultiplier,
		ReconnectMaxInterval: cfg.Stream.ReconnectMaxInterval,
		PingInterval:         cfg.Stream.PingInterval,
		StaleTimeout:         cfg.Stream.StaleTimeout,
		WriteTimeout:         cfg.Stream.WriteTimeout,
		RequestTimeout:       cfg.Stream.RequestTimeout,
		QueueLimit:           cfg.Stream.QueueLimit,
	}

	var mgr *socket.Manager

	sc.OnMessage = func(msg socket.Message) {
		buffer.Push(msg)
	}
	sc.OnError = func(err error) {
		logger.Warn("stream error", "error", err)
	}
	sc.OnReconnect = func(attempt int, delay time.Duration) {
		logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	}
	sc.OnReconnectFailed = func() {
		logger.Error("reconnect attempts exhausted; manual restart required")
	}
	sc.OnOpen = func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if cfg.Stream.Token != "" {
				if err := mgr.Authenticate(ctx, map[string]string{"token": cfg.Stream.Token}); err != nil {
					logger.Error("authentication failed", "error", err)
					return
				}
			}

			for _, channel := range cfg.Stream.Channels {
				if err := mgr.Subscribe(ctx, channel, func(env wire.Envelope) {
					// Channel traffic is archived via the message
					// observer; nothing extra per channel.
				}); err != nil {
					logger.Error("subscribe failed", "channel", channel, "error", err)
				}
			}
		}()
	}

	m, err := socket.New(sc, logger)
	if err != nil {
		return nil, err
	}
	mgr = m
	return mgr, nil
}
