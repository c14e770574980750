// Command meshd runs one Genesis Mesh node: it loads configuration, joins
// or resumes membership in the mesh, and serves the peer wire protocol and
// control plane until told to stop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"genesismesh/config"
	"genesismesh/node"
	"genesismesh/observability/logging"
	telemetry "genesismesh/observability/otel"
)

// Exit codes, per spec.md section 6.
const (
	exitOK                     = 0
	exitConfigError            = 1
	exitTrustChainInvalid      = 2
	exitCertificateUnobtainable = 3
	exitFatalInternal          = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "./meshd.toml", "path to the node's configuration file")
	genesisFlag := flag.String("genesis", "", "override the configured genesis block path")
	listenFlag := flag.String("listen", "", "override the configured listen address")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("MESHD_ENV"))
	logger := logging.Setup("meshd", env)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "meshd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", slog.Any("error", err))
		return exitFatalInternal
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		return exitConfigError
	}
	if *genesisFlag != "" {
		cfg.GenesisFile = *genesisFlag
	}
	if *listenFlag != "" {
		cfg.ListenAddress = *listenFlag
	}

	n, err := node.New(cfg, logger)
	if err != nil {
		switch {
		case errors.Is(err, node.ErrTrustChainInvalid):
			logger.Error("trust chain verification failed", slog.Any("error", err))
			return exitTrustChainInvalid
		case errors.Is(err, node.ErrCertificateUnobtainable):
			logger.Error("join certificate permanently unobtainable", slog.Any("error", err))
			return exitCertificateUnobtainable
		case errors.Is(err, node.ErrChainBroken):
			logger.Error("audit log hash chain verification failed, refusing to start", slog.Any("error", err))
			return exitFatalInternal
		default:
			logger.Error("failed to construct node", slog.Any("error", err))
			return exitFatalInternal
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		logger.Error("failed to start node", slog.Any("error", err))
		return exitFatalInternal
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case <-n.ShutdownRequested():
		logger.Info("shutdown requested via control plane")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := n.Drain(drainCtx); err != nil {
		logger.Error("error during shutdown", slog.Any("error", err))
		return exitFatalInternal
	}

	fmt.Fprintln(os.Stdout, "meshd stopped cleanly")
	return exitOK
}
