// Package main provides the entry point for the msgbridge service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	adminserver "github.com/txn2/msgbridge/internal/server"
	"github.com/txn2/msgbridge/pkg/bridge"
	"github.com/txn2/msgbridge/pkg/client"
	"github.com/txn2/msgbridge/pkg/credential"
	"github.com/txn2/msgbridge/pkg/health"
	"github.com/txn2/msgbridge/pkg/manager"
	"github.com/txn2/msgbridge/pkg/session"
	"github.com/txn2/msgbridge/pkg/sink"
	pgsink "github.com/txn2/msgbridge/pkg/sink/postgres"
)

const shutdownTimeout = 10 * time.Second

var logLevel = new(slog.LevelVar)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type serverOptions struct {
	configPath  string
	address     string
	gatewayURL  string
	watchConfig bool
	showVersion bool
}

func parseFlags() serverOptions {
	opts := serverOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.address, "address", "", "Admin server address (overrides config)")
	flag.StringVar(&opts.gatewayURL, "gateway", "", "Messaging gateway URL (overrides config)")
	flag.BoolVar(&opts.watchConfig, "watch-config", false, "Reload config file on change")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version and exit")
	flag.Parse()
	return opts
}

func setupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx
}

func run() error {
	opts := parseFlags()

	if opts.showVersion {
		fmt.Printf("msgbridge version %s\n", adminserver.Version)
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	setLogLevel(cfg.Log.Level)

	ctx := setupSignalHandler()

	statusSink, closeDB, err := buildSink(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer closeDB()

	reg := session.NewRegistry()
	creds := credential.NewStore(cfg.Credentials.Dir)
	factory := &client.WSFactory{BaseURL: cfg.Gateway.URL}

	mgr := manager.New(manager.Config{
		MaxAttempts:    cfg.Manager.MaxAttempts,
		BaseDelay:      cfg.Manager.BaseDelay,
		MaxDelay:       cfg.Manager.MaxDelay,
		SettleDelay:    cfg.Manager.SettleDelay,
		ConnectTimeout: cfg.Manager.ConnectTimeout,
		KeepAlive:      cfg.Manager.KeepAlive,
	}, creds, factory, reg, statusSink)
	defer func() { _ = mgr.Close() }()

	mon := manager.NewMonitor(reg, manager.MonitorConfig{
		Interval:       cfg.Monitor.Interval,
		StaleThreshold: cfg.Monitor.StaleThreshold,
	})
	mon.Start()
	defer func() { _ = mon.Close() }()

	checker := health.NewChecker()
	checker.SetSessionCounter(reg.Len)

	if opts.watchConfig && opts.configPath != "" {
		err := bridge.Watch(ctx, opts.configPath, func(next *bridge.Config) {
			setLogLevel(next.Log.Level)
		})
		if err != nil {
			slog.Warn("config watch disabled", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           adminserver.New(mgr, checker).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("admin server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	checker.SetReady()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		checker.SetDraining()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

func loadConfig(opts serverOptions) (*bridge.Config, error) {
	cfg := bridge.DefaultConfig()
	if opts.configPath != "" {
		loaded, err := bridge.LoadConfig(opts.configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}
	if opts.address != "" {
		cfg.Server.Address = opts.address
	}
	if opts.gatewayURL != "" {
		cfg.Gateway.URL = opts.gatewayURL
	}
	if cfg.Gateway.URL == "" {
		return nil, fmt.Errorf("gateway url is required (config gateway.url or -gateway flag)")
	}
	return cfg, nil
}

// buildSink returns the configured status sink. Without a DSN the sink is
// disabled; the in-memory registry remains authoritative either way.
func buildSink(dsn string) (sink.Sink, func(), error) {
	if dsn == "" {
		slog.Info("no database configured, status sink disabled")
		return sink.Noop{}, func() {}, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := pgsink.Migrate(db); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return pgsink.New(db), func() { _ = db.Close() }, nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}
