package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Platform names accepted by WORKER_PLATFORM.
const (
	PlatformPort = "port"
	PlatformCDP  = "cdp"
)

// WorkerConfig holds configuration for the background worker.
type WorkerConfig struct {
	// Listeners
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	ProxyBindAddr    string

	// Interception behaviour
	Platform      string
	FetchTimeout  time.Duration
	SweepInterval time.Duration

	// CDP platform
	CDPAddress      string
	CDPPort         int
	CDPLaunch       bool
	TabURLFilter    string
	InterceptConfig string

	// Observability
	LogLevel       string
	LogFile        string
	JournalFile    string
	JournalMaxMB   int
	JournalBufSize int
}

// PageConfig holds configuration for a page-side bridge process.
type PageConfig struct {
	WorkerURL      string
	ClientID       string
	StreamURL      string
	WorkerActive   bool
	ResolveTimeout time.Duration
	LogLevel       string
	LogFile        string
}

// LoadWorker reads worker configuration from environment variables and an
// optional .env file.
func LoadWorker() (*WorkerConfig, error) {
	loadDotEnv()

	cfg := &WorkerConfig{
		BindAddr:         getEnvOrDefault("WORKER_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:   getEnvListOrDefault("WORKER_PORT_CANDIDATES", []string{"127.0.0.1:8191", "127.0.0.1:8192"}),
		PortAutoFallback: getEnvBoolOrDefault("WORKER_PORT_AUTO_FALLBACK", true),
		ProxyBindAddr:    getEnvOrDefault("WORKER_PROXY_BIND_ADDR", "127.0.0.1:8193"),
		Platform:         strings.ToLower(getEnvOrDefault("WORKER_PLATFORM", PlatformPort)),
		FetchTimeout:     time.Duration(getEnvIntOrDefault("WORKER_FETCH_TIMEOUT_MS", 0)) * time.Millisecond,
		SweepInterval:    time.Duration(getEnvIntOrDefault("WORKER_SWEEP_INTERVAL_MS", 30000)) * time.Millisecond,
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		CDPLaunch:        getEnvBoolOrDefault("CDP_LAUNCH", false),
		TabURLFilter:     getEnvOrDefault("CDP_TAB_URL_FILTER", ""),
		InterceptConfig:  getEnvOrDefault("WORKER_INTERCEPT_CONFIG", "./config/intercept.yaml"),
		LogLevel:         strings.ToLower(getEnvOrDefault("WORKER_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("WORKER_LOG_FILE", "logs/p2pml_worker.log"),
		JournalFile:      getEnvOrDefault("WORKER_JOURNAL_FILE", ""),
		JournalMaxMB:     getEnvIntOrDefault("WORKER_JOURNAL_MAX_MB", 50),
		JournalBufSize:   getEnvIntOrDefault("WORKER_JOURNAL_BUFFER_SIZE", 1024),
	}

	switch cfg.Platform {
	case PlatformPort, PlatformCDP:
	default:
		return nil, fmt.Errorf("config: WORKER_PLATFORM must be %q or %q, got %q", PlatformPort, PlatformCDP, cfg.Platform)
	}
	if cfg.FetchTimeout < 0 {
		cfg.FetchTimeout = 0
	}
	if cfg.SweepInterval > 0 && cfg.SweepInterval < time.Second {
		cfg.SweepInterval = time.Second
	}
	if cfg.JournalMaxMB < 1 {
		cfg.JournalMaxMB = 1
	}
	return cfg, nil
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *WorkerConfig) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

// LoadPage reads page-side bridge configuration.
func LoadPage() (*PageConfig, error) {
	loadDotEnv()

	cfg := &PageConfig{
		WorkerURL:      getEnvOrDefault("PAGE_WORKER_URL", "ws://127.0.0.1:8190/port"),
		ClientID:       getEnvOrDefault("PAGE_CLIENT_ID", ""),
		StreamURL:      getEnvOrDefault("PAGE_STREAM_URL", ""),
		WorkerActive:   getEnvBoolOrDefault("PAGE_WORKER_ACTIVE", true),
		ResolveTimeout: time.Duration(getEnvIntOrDefault("PAGE_RESOLVE_TIMEOUT_MS", 15000)) * time.Millisecond,
		LogLevel:       strings.ToLower(getEnvOrDefault("PAGE_LOG_LEVEL", "info")),
		LogFile:        getEnvOrDefault("PAGE_LOG_FILE", "logs/p2pml_page.log"),
	}
	if cfg.StreamURL == "" {
		return nil, fmt.Errorf("config: PAGE_STREAM_URL is required")
	}
	if cfg.ResolveTimeout < time.Second {
		cfg.ResolveTimeout = time.Second
	}
	return cfg, nil
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
