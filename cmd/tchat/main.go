package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledzpl/tchat/internal/chat"
	"github.com/ledzpl/tchat/pkg/tcpserver"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components and manages the server lifecycle, so that
// deferred cleanup executes before the process exits.
func run() error {
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := chat.NewRegistry(log)

	if config.MetricsPort != nil {
		go serveMetrics(*config.MetricsPort, log)
	}

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := tcpserver.New(address, config.MaxSessions, config.ShutdownGrace, log)
	server.ForceClose = registry.Shutdown

	err := server.ListenAndServe(ctx, func(conn net.Conn) {
		chat.HandleConn(registry, conn, config.SendBufferSize, log)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Sessions that already terminated make this a no-op.
	registry.Shutdown()
	log.Info("Program stopped cleanly")

	return nil
}

func serveMetrics(port int, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	log.Info("Metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("Metrics server stopped", "error", err)
	}
}
