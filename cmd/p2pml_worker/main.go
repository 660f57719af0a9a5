package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/p2pml_bridge/internal/api"
	"github.com/dgnsrekt/p2pml_bridge/internal/cdp"
	"github.com/dgnsrekt/p2pml_bridge/internal/config"
	"github.com/dgnsrekt/p2pml_bridge/internal/intercept"
	"github.com/dgnsrekt/p2pml_bridge/internal/journal"
	"github.com/dgnsrekt/p2pml_bridge/internal/netutil"
	"github.com/dgnsrekt/p2pml_bridge/internal/relay"
	"github.com/dgnsrekt/p2pml_bridge/internal/transport"
	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

// VERSION is reported to pages in ready messages. Set with
// -ldflags "-X main.VERSION=...".
var VERSION = "dev"

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		slog.Error("failed to load worker config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("worker config loaded",
		"version", VERSION,
		"bind_addr", cfg.BindAddr,
		"proxy_bind_addr", cfg.ProxyBindAddr,
		"platform", cfg.Platform,
		"fetch_timeout_ms", cfg.FetchTimeout.Milliseconds(),
		"sweep_interval_ms", cfg.SweepInterval.Milliseconds(),
		"port_auto_fallback", cfg.PortAutoFallback,
		"port_candidates", cfg.PortCandidates,
		"journal_file", cfg.JournalFile,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	broker := relay.NewBroker()
	observers := []worker.Observer{relay.NewObserver(broker)}
	stats := api.Stats{Subscribers: broker.ClientCount}

	if cfg.JournalFile != "" {
		j, err := journal.Open(cfg.JournalFile, cfg.JournalBufSize, cfg.JournalMaxMB)
		if err != nil {
			slog.Error("failed to open journal", "file", cfg.JournalFile, "error", err)
			os.Exit(1)
		}
		defer func() { _ = j.Close() }()
		observers = append(observers, j)
		stats.JournalDrops = j.Dropped
	}

	hub := transport.NewHub()
	stats.Connections = hub.ConnectionCount

	var platform worker.Platform = hub
	var cdpClient *cdp.Client
	if cfg.Platform == config.PlatformCDP {
		icfg, err := config.LoadIntercept(cfg.InterceptConfig)
		if err != nil {
			slog.Error("failed to load intercept config", "file", cfg.InterceptConfig, "error", err)
			os.Exit(1)
		}
		cdpClient = cdp.NewClient(cfg, icfg)
		if err := cdpClient.Connect(context.Background()); err != nil {
			slog.Error("failed to connect to Chromium", "cdp_url", cfg.CDPURL(), "error", err)
			os.Exit(1)
		}
		defer func() { _ = cdpClient.Close() }()
		platform = cdpClient
	}

	reg := worker.NewRegistry(platform, worker.Options{
		Version:      VERSION,
		FetchTimeout: cfg.FetchTimeout,
		Observer:     worker.Observers(observers...),
	})
	if cdpClient != nil {
		cdpClient.Route(reg)
	}

	adminLn, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}
	proxyLn, err := netutil.Listen(cfg.ProxyBindAddr, nil, false)
	if err != nil {
		slog.Error("failed to bind proxy address", "addr", cfg.ProxyBindAddr, "error", err)
		os.Exit(1)
	}

	router := chi.NewMux()
	router.Handle("/port", hub.Handler(reg))
	router.Mount("/", api.NewServer(reg, stats, relay.SSEHandler(broker)))

	adminSrv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	proxySrv := &http.Server{Handler: intercept.NewHandler(reg, http.DefaultTransport), ReadHeaderTimeout: 10 * time.Second}

	serve(adminSrv, adminLn, "worker listening", "docs", "http://"+adminLn.Addr().String()+"/docs")
	serve(proxySrv, proxyLn, "intercepting proxy listening")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := reg.Activate(ctx); err != nil {
		slog.Error("worker activation failed", "error", err)
	}
	go sweep(ctx, reg, cfg.SweepInterval)

	<-ctx.Done()
	slog.Info("worker shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reg.Shutdown()
	if err := proxySrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("proxy shutdown failed", "error", err)
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker shutdown failed", "error", err)
	}
}

func serve(srv *http.Server, ln net.Listener, msg string, attrs ...any) {
	go func() {
		slog.Info(msg, append([]any{"addr", ln.Addr().String()}, attrs...)...)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "addr", ln.Addr().String(), "error", err)
			os.Exit(1)
		}
	}()
}

// sweep claims newly opened pages and reclaims sessions whose page is gone.
func sweep(ctx context.Context, reg *worker.Registry, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := reg.Activate(ctx); err != nil {
				slog.Warn("periodic activation failed", "error", err)
			}
			if err := reg.Collect(ctx, ""); err != nil {
				slog.Warn("periodic garbage pass failed", "error", err)
			}
		}
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
