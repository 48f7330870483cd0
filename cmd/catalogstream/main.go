// Package main implements a standalone catalog browsing client: it follows
// a paged HTTP catalog endpoint, reconciles a live change feed into the
// view, and reports the resulting list on an interval. It doubles as a
// smoke-test harness for the library against real backends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/c360/catalogstream/feed"
	"github.com/c360/catalogstream/metric"
	"github.com/c360/catalogstream/session"
)

const (
	version = "0.1.0"
	appName = "catalogstream"
)

type cliConfig struct {
	configPath  string
	sourceURL   string
	natsURL     string
	natsBucket  string
	wsURL       string
	metricsAddr string
	interval    time.Duration
	logLevel    string
	logFormat   string
	showVersion bool
}

func parseFlags() *cliConfig {
	cfg := &cliConfig{}
	flag.StringVar(&cfg.configPath, "config", "", "path to session config JSON (optional)")
	flag.StringVar(&cfg.sourceURL, "source", "", "paged catalog endpoint, e.g. https://api.example.com/listings")
	flag.StringVar(&cfg.natsURL, "nats-url", "", "NATS server URL for the KV change feed")
	flag.StringVar(&cfg.natsBucket, "nats-bucket", "catalog-changes", "KV bucket carrying change events")
	flag.StringVar(&cfg.wsURL, "ws-url", "", "WebSocket change feed URL (alternative to NATS)")
	flag.StringVar(&cfg.metricsAddr, "metrics-addr", "", "address for the Prometheus metrics endpoint, e.g. :9090")
	flag.DurationVar(&cfg.interval, "interval", 10*time.Second, "view report interval")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.StringVar(&cfg.logFormat, "log-format", "text", "log format: text or json")
	flag.BoolVar(&cfg.showVersion, "version", false, "print version and exit")
	flag.Parse()
	return cfg
}

func setupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func main() {
	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		return nil
	}
	if cli.sourceURL == "" {
		return fmt.Errorf("-source is required")
	}

	logger := setupLogger(cli.logLevel, cli.logFormat)
	slog.SetDefault(logger)
	logger.Info("starting catalog browser", "version", version, "source", cli.sourceURL)

	sessionCfg, err := loadSessionConfig(cli.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewRegistry()
	if cli.metricsAddr != "" {
		startMetricsServer(cli.metricsAddr, registry, logger)
	}

	changeFeed, err := buildFeed(ctx, cli, registry, logger)
	if err != nil {
		return fmt.Errorf("build change feed: %w", err)
	}

	s, err := session.New(session.Deps{
		Source:  newHTTPSource(cli.sourceURL, nil),
		Feed:    changeFeed,
		Config:  sessionCfg,
		Logger:  logger,
		Metrics: registry,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := s.Initialize(); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	reportLoop(ctx, s, cli.interval, logger)

	logger.Info("shutting down")
	return s.Stop(10 * time.Second)
}

// loadSessionConfig reads and validates the config file, or returns defaults
func loadSessionConfig(path string) (session.Config, error) {
	if path == "" {
		return session.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return session.Config{}, err
	}
	return session.ParseConfig(data)
}

// buildFeed wires the configured change transport, preferring NATS KV
func buildFeed(ctx context.Context, cli *cliConfig, registry *metric.Registry,
	logger *slog.Logger) (feed.Feed, error) {
	switch {
	case cli.natsURL != "":
		kvFeed, err := feed.ConnectKVFeed(ctx, feed.NATSConfig{
			URL:    cli.natsURL,
			Bucket: cli.natsBucket,
		}, registry, logger)
		if err != nil {
			return nil, err
		}
		if err := kvFeed.Start(ctx); err != nil {
			return nil, err
		}
		return kvFeed, nil

	case cli.wsURL != "":
		wsFeed, err := feed.NewWebSocketFeed(feed.WebSocketConfig{URL: cli.wsURL}, registry, logger)
		if err != nil {
			return nil, err
		}
		if err := wsFeed.Start(ctx); err != nil {
			return nil, err
		}
		return wsFeed, nil

	default:
		logger.Warn("no change feed configured, view will only follow explicit loads")
		return nil, nil
	}
}

// startMetricsServer exposes the Prometheus endpoint in the background
func startMetricsServer(addr string, registry *metric.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
}

// reportLoop logs the view state and pulls the next page until cancelled
func reportLoop(ctx context.Context, s *session.Session, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := s.Snapshot()
			logger.Info("view",
				"items", len(st.Items),
				"page", st.CurrentPage,
				"total", st.TotalCount,
				"has_more", st.HasMore)
			if st.HasMore && !st.IsLoadingMore {
				if err := s.LoadMore(ctx); err != nil {
					logger.Warn("load more failed", "error", err)
				}
			}
		}
	}
}
