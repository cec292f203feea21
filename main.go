package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"orion/server/internal/config"
	"orion/server/internal/core"
	"orion/server/internal/httpapi"
	"orion/server/internal/metrics"
	"orion/server/internal/udp"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	httpPort := flag.Int("http-port", 0, "Reliable-channel listen port (overrides config)")
	udpPort := flag.Int("udp-port", 0, "Datagram listen port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// A .env file is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *httpPort != 0 {
		cfg.HTTPPort = *httpPort
	}
	if *udpPort != 0 {
		cfg.UDPPort = *udpPort
	}

	slog.Info("starting server", "version", Version, "http_port", cfg.HTTPPort, "udp_port", cfg.UDPPort)

	m := metrics.New(prometheus.DefaultRegisterer)
	sessions := core.NewSessionRegistry(m)
	lobbies := core.NewLobbyRegistry(cfg.UDPPort, core.MediationConfig{
		CaptureTimeout:   cfg.CaptureTimeout(),
		ReminderInterval: cfg.ReminderInterval(),
		ConnectTimeout:   cfg.ConnectTimeout(),
	}, m)

	listener, err := udp.Listen(cfg.UDPPort, sessions, lobbies, m)
	if err != nil {
		slog.Error("bind udp listener", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	go func() {
		if err := listener.Run(ctx); err != nil {
			slog.Error("udp listener error", "err", err)
			cancel()
		}
	}()

	go RunStats(ctx, sessions, lobbies, time.Minute)

	server := httpapi.New(sessions, lobbies)
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	slog.Info("listening", "addr", addr)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}

	// No closure notifications on shutdown; peers are being disconnected
	// anyway.
	lobbies.Shutdown()
	sessions.Shutdown()
	slog.Info("server stopped")
}
