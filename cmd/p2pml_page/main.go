package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/p2pml_bridge/internal/config"
	"github.com/dgnsrekt/p2pml_bridge/internal/origin"
	"github.com/dgnsrekt/p2pml_bridge/internal/pagebridge"
)

func main() {
	cfg, err := config.LoadPage()
	if err != nil {
		slog.Error("failed to load page config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("page config loaded",
		"worker_url", cfg.WorkerURL,
		"client_id", cfg.ClientID,
		"stream_url", cfg.StreamURL,
		"worker_active", cfg.WorkerActive,
		"resolve_timeout_ms", cfg.ResolveTimeout.Milliseconds(),
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridge := pagebridge.New(pagebridge.WebSocketDialer(cfg.WorkerURL), pagebridge.Options{
		ClientID:       cfg.ClientID,
		Resolver:       origin.NewResolver(&http.Client{Timeout: cfg.ResolveTimeout}),
		ResolveTimeout: cfg.ResolveTimeout,
		OnFetch: func(url string) {
			slog.Info("worker requested fetch", "url", url)
		},
	})
	defer bridge.Destroy()

	version, err := bridge.Init(ctx, cfg.StreamURL, cfg.WorkerActive).Wait(ctx)
	if err != nil {
		slog.Error("bridge init failed", "worker_url", cfg.WorkerURL, "error", err)
		return
	}
	slog.Info("worker is intercepting", "stream_url", cfg.StreamURL, "worker_version", version)

	<-ctx.Done()
	slog.Info("page shutting down")
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
