// Command hybridkeyd is the hybrid key-derivation daemon: it loads node and
// peer configuration, brings up the mutually-authenticated peer channel and
// the agent-facing dispatcher, and serves health and metrics endpoints until
// asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hybridkeyd/hybridkeyd/pkg/certs"
	"github.com/hybridkeyd/hybridkeyd/pkg/config"
	"github.com/hybridkeyd/hybridkeyd/pkg/dispatcher"
	"github.com/hybridkeyd/hybridkeyd/pkg/healthz"
	"github.com/hybridkeyd/hybridkeyd/pkg/logging"
	"github.com/hybridkeyd/hybridkeyd/pkg/metrics"
	"github.com/hybridkeyd/hybridkeyd/pkg/peermanager"
	"github.com/hybridkeyd/hybridkeyd/pkg/session"
	"github.com/hybridkeyd/hybridkeyd/pkg/telemetry"
	"github.com/hybridkeyd/hybridkeyd/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		serveCommand()
	case "version":
		fmt.Println(version.Full())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hybridkeyd - hybrid QKD/PQC key-derivation daemon

USAGE:
    hybridkeyd <command> [options]

COMMANDS:
    serve     Run the daemon (peer channel, agent dispatcher, health/metrics)
    version   Print version information
    help      Show this help message

CONFIGURATION:
    hybridkeyd reads its node configuration from the path named by CFGFILE
    and its trusted-peers table from TRUSTED_PEERS_INFO.

EXAMPLES:
    CFGFILE=/etc/hybridkeyd/node.json \
    TRUSTED_PEERS_INFO=/etc/hybridkeyd/peers.json \
    hybridkeyd serve --log-level info --log-format json`)
}

func serveCommand() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error, silent")
	logFormat := fs.String("log-format", "json", "Log format: text or json")
	healthAddr := fs.String("health-addr", ":9091", "Health/metrics listen address. Empty disables")
	tracing := fs.String("tracing", "none", "Tracing mode: none, simple, otel (requires -tags otel)")

	fs.Usage = func() {
		fmt.Println(`USAGE: hybridkeyd serve [options]

OPTIONS:`)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])

	logger := logging.NewLogger(
		logging.WithLevel(logging.ParseLevel(*logLevel)),
		logging.WithFormat(parseLogFormat(*logFormat)),
		logging.WithName("hybridkeyd"),
	)
	logging.SetLogger(logger)

	if err := run(logger, *healthAddr, *tracing); err != nil {
		logger.Error("fatal startup error", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}
}

func parseLogFormat(s string) logging.Format {
	if s == "json" {
		return logging.FormatJSON
	}
	return logging.FormatText
}

func configureTracing(mode string, logger *logging.Logger) {
	switch mode {
	case "simple":
		telemetry.SetTracer(telemetry.NewSimpleTracer())
	case "otel":
		if telemetry.OTelEnabled() {
			telemetry.SetTracer(telemetry.NewOTelTracer("hybridkeyd"))
			return
		}
		logger.Warn("otel tracing requires building with -tags otel; falling back to no-op")
	case "none", "":
	default:
		logger.Warn("unknown tracing mode, using no-op", logging.Fields{"mode": mode})
	}
}

func run(logger *logging.Logger, healthAddr, tracingMode string) error {
	configureTracing(tracingMode, logger)

	cfg, peers, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	serverTLS, err := certs.ServerConfig(cfg.CACertPath, cfg.NodeCertPath, cfg.NodeKeyPath)
	if err != nil {
		return fmt.Errorf("build server tls config: %w", err)
	}
	clientTLS, err := certs.ClientConfig(cfg.CACertPath, cfg.NodeCertPath, cfg.NodeKeyPath)
	if err != nil {
		return fmt.Errorf("build client tls config: %w", err)
	}

	collector := metrics.NewCollector(metrics.Labels{"uuid": cfg.UUID})
	metrics.SetGlobal(collector)

	pm := peermanager.New(cfg.PeerAddress, serverTLS, clientTLS,
		peermanager.WithLogger(logger),
		peermanager.WithMetrics(collector),
	)
	if err := pm.Start(); err != nil {
		return fmt.Errorf("start peer manager: %w", err)
	}

	sessionCfg := session.Config{
		LocalUUID:  cfg.UUID,
		Peers:      peers,
		Dialer:     pm,
		QKDAddress: cfg.QKDAddress,
		UseMockQKD: cfg.UseMockQKD,
		Logger:     logger,
		Metrics:    collector,
	}

	disp := dispatcher.New(cfg.AgentAddress, sessionCfg, dispatcher.WithLogger(logger))
	if err := disp.Start(); err != nil {
		return fmt.Errorf("start agent dispatcher: %w", err)
	}

	var healthSrv *http.Server
	if healthAddr != "" {
		checker := healthz.New(version.String(), disp, pm)
		mux := http.NewServeMux()
		mux.Handle("/healthz", checker.Handler())
		mux.Handle("/livez", checker.LivenessHandler())
		mux.Handle("/metrics", metrics.NewPrometheusExporter(collector, "hybridkeyd").Handler())
		healthSrv = &http.Server{Addr: healthAddr, Handler: mux}
		go func() {
			if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server stopped unexpectedly", logging.Fields{"error": err.Error()})
			}
		}()
		logger.Info("health server started", logging.Fields{"address": healthAddr})
	}

	logger.Info("hybridkeyd started", logging.Fields{
		"uuid":          cfg.UUID,
		"agent_address": cfg.AgentAddress.String(),
		"peer_address":  cfg.PeerAddress.String(),
	})

	waitForShutdownSignal()
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if healthSrv != nil {
		_ = healthSrv.Shutdown(ctx)
	}
	if err := disp.Shutdown(ctx); err != nil {
		logger.Warn("dispatcher shutdown error", logging.Fields{"error": err.Error()})
	}
	if err := pm.Shutdown(ctx); err != nil {
		logger.Warn("peer manager shutdown error", logging.Fields{"error": err.Error()})
	}

	logger.Info("hybridkeyd stopped")
	return nil
}

const shutdownTimeout = 15 * time.Second

func waitForShutdownSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
