// streamtap is a diagnostic tool: it connects to a stream endpoint,
// subscribes the channels given on the command line, and prints every
// decoded message to stdout.
// Usage: go run ./cmd/streamtap --url ws://localhost:8080/feed --channels ticker,trades
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkrauss/wirefeed/internal/socket"
	"github.com/dkrauss/wirefeed/internal/wire"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/feed", "stream endpoint URL")
	channels := flag.String("channels", "", "comma-separated channels to subscribe")
	token := flag.String("token", "", "optional auth token")
	verbose := flag.Bool("verbose", false, "print raw payloads")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg := socket.DefaultConfig(*url)
	cfg.OnMessage = func(msg socket.Message) {
		printMessage(msg, *verbose)
	}
	cfg.OnError = func(err error) {
		logger.Warn("stream error", "error", err)
	}
	cfg.OnReconnect = func(attempt int, delay time.Duration) {
		logger.Info("reconnecting", "attempt", attempt, "delay", delay)
	}
	cfg.OnClose = func(code int, reason string, clean bool) {
		logger.Info("connection closed", "code", code, "reason", reason, "clean", clean)
	}

	mgr, err := socket.New(cfg, logger)
	if err != nil {
		logger.Error("invalid endpoint", "url", *url, "error", err)
		os.Exit(1)
	}

	if err := mgr.Connect(); err != nil {
		logger.Error("connect failed", "error", err)
		os.Exit(1)
	}

	setupCtx, setupCancel := context.WithTimeout(ctx, 15*time.Second)
	defer setupCancel()

	if *token != "" {
		if err := mgr.Authenticate(setupCtx, map[string]string{"token": *token}); err != nil {
			logger.Error("authentication failed", "error", err)
			os.Exit(1)
		}
		logger.Info("authenticated")
	}

	for _, channel := range splitChannels(*channels) {
		if err := mgr.Subscribe(setupCtx, channel, func(env wire.Envelope) {}); err != nil {
			logger.Error("subscribe failed", "channel", channel, "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed", "channel", channel)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := mgr.Stats()
				logger.Info("stats",
					"state", s.State,
					"received", s.MessagesReceived,
					"sent", s.MessagesSent,
					"handlers", s.HandlerCount,
				)
			}
		}
	}()

	<-ctx.Done()
	mgr.Close()
}

func printMessage(msg socket.Message, verbose bool) {
	ts := msg.ReceivedAt.Format(time.RFC3339Nano)
	if msg.Envelope == nil {
		fmt.Printf("%s  <raw>  %d bytes\n", ts, len(msg.Raw))
		if verbose {
			fmt.Printf("        %s\n", msg.Raw)
		}
		return
	}
	fmt.Printf("%s  %-20s  id=%s\n", ts, msg.Envelope.Type, msg.Envelope.ID)
	if verbose && len(msg.Envelope.Data) > 0 {
		fmt.Printf("        %s\n", msg.Envelope.Data)
	}
}

func splitChannels(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
