// Package main implements the entry point for the edge synchronization
// engine: it keeps entity definitions consistent between the central
// instance and its fleet of edge gateways over NATS.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/edgesync/config"
	"github.com/c360/edgesync/downlink"
	"github.com/c360/edgesync/engine"
	"github.com/c360/edgesync/eventlog"
	"github.com/c360/edgesync/fanout"
	"github.com/c360/edgesync/health"
	"github.com/c360/edgesync/metric"
	"github.com/c360/edgesync/naming"
	"github.com/c360/edgesync/natsclient"
	"github.com/c360/edgesync/notify"
	"github.com/c360/edgesync/registry"
	"github.com/c360/edgesync/store"
	"github.com/c360/edgesync/uplink"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "edgesync"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting edge sync engine",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"nats_urls", cfg.NATS.URLs)

	ctx := context.Background()

	client, err := connectNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("nats close", "error", err)
		}
	}()

	metricsRegistry := metric.NewRegistry()

	eng, err := buildEngine(ctx, cfg, client, metricsRegistry, logger)
	if err != nil {
		return err
	}

	monitor := health.NewMonitor()
	monitor.RegisterCheck("nats", func() health.Status {
		if !client.IsHealthy() {
			return health.Unhealthy("nats", "connection down or circuit open")
		}
		return health.Healthy("nats", "connected")
	})
	monitor.RegisterCheck("workers", func() health.Status {
		stats := eng.Stats()
		if stats.QueueDepth >= stats.QueueSize {
			return health.Degraded("workers", "uplink queue full").
				WithDetails(map[string]any{"dropped": stats.Dropped})
		}
		return health.Healthy("workers", "processing").
			WithDetails(map[string]any{"queue_depth": stats.QueueDepth, "processed": stats.Processed})
	})

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg.Metrics.Addr, metricsRegistry, monitor, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	// Block until a shutdown signal, then quiesce: in-flight applies finish,
	// queued event log entries stay durable for the next run.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", "signal", sig.String())

	return eng.Stop()
}

func connectNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create nats client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("connected to NATS", "urls", cfg.NATS.URLs)
	return client, nil
}

// buildEngine opens the stores and the event log, then assembles processors,
// converters, fan-out, and the drainer into a runnable engine.
func buildEngine(ctx context.Context, cfg *config.Config, client *natsclient.Client,
	metricsRegistry *metric.Registry, logger *slog.Logger) (*engine.Engine, error) {

	chains, err := store.NewRuleChains(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open rule chain store: %w", err)
	}
	fields, err := store.NewCalculatedFields(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open calculated field store: %w", err)
	}
	views, err := store.NewEntityViews(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open entity view store: %w", err)
	}
	edges, err := store.NewEdges(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open edge store: %w", err)
	}
	relations, err := store.NewRelations(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open relation store: %w", err)
	}
	refs, err := store.NewRefs(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open reference registry: %w", err)
	}

	log, err := eventlog.NewJetStreamLog(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}

	deps := &uplink.Deps{
		Resolver:   naming.NewResolver(cfg.Sync.SuffixLength),
		Dispatcher: fanout.New(log, relations, edges, cfg.Sync.FanoutPageSize, metricsRegistry.Sync, logger),
		Notifier:   notify.New(client, logger),
		Relations:  relations,
		Metrics:    metricsRegistry.Sync,
		Logger:     logger,
	}

	reg := registry.New()
	for _, p := range []uplink.Processor{
		uplink.NewRuleChainProcessor(deps, chains, cfg.Limits.MaxRuleChains),
		uplink.NewCalculatedFieldProcessor(deps, fields, refs, cfg.Limits.MaxCalculatedFields),
		uplink.NewEntityViewProcessor(deps, views, refs, cfg.Limits.MaxEntityViews),
		uplink.NewEdgeProcessor(deps, edges),
	} {
		if err := reg.RegisterProcessor(p); err != nil {
			return nil, fmt.Errorf("register processor: %w", err)
		}
	}
	for _, c := range []downlink.Converter{
		downlink.NewRuleChainConverter(chains, edges),
		downlink.NewCalculatedFieldConverter(fields),
		downlink.NewEntityViewConverter(views, edges, relations),
		downlink.NewEdgeConverter(edges),
	} {
		if err := reg.RegisterConverter(c); err != nil {
			return nil, fmt.Errorf("register converter: %w", err)
		}
	}

	drainer := downlink.NewDrainer(log, reg, client, cfg.Sync.ProtoVersion,
		cfg.Sync.DrainBatch, cfg.Sync.DrainInterval, metricsRegistry.Sync, logger)

	return engine.New(client, reg, drainer, engine.Options{
		Workers:     cfg.Workers.Count,
		QueueSize:   cfg.Workers.QueueSize,
		StopTimeout: cfg.Workers.StopTimeout,
	}, logger), nil
}

func startMetricsServer(addr string, metricsRegistry *metric.Registry,
	monitor *health.Monitor, logger *slog.Logger) *http.Server {

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		metricsRegistry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	mux.HandleFunc("/healthz", health.Handler(monitor))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
