// Package config holds the runtime configuration for the agentmux engine.
// Values come from the environment (optionally via a .env file loaded in
// main) with built-in defaults; Validate catches misconfiguration at startup
// instead of at first use.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var sessionPrefixRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config is the umbrella configuration object used throughout the engine.
type Config struct {
	// HTTPPort is the port the control API listens on.
	HTTPPort string

	// APIBase is the externally reachable base URL of the control API.
	// Written into each worker's context file so workers can call back.
	APIBase string

	// MaxConcurrent is the cap on simultaneously running workers.
	MaxConcurrent int

	// ProjectsRoot, when set, confines worker project paths to this
	// directory tree. Empty allows any absolute path.
	ProjectsRoot string

	// SessionPrefix is the tmux session name prefix. Session names are
	// derived as "<prefix>-<worker id>". Fixed per deployment.
	SessionPrefix string

	// BackendCommand is the assistant CLI launched inside each session.
	BackendCommand string

	// DefaultCols and DefaultRows are the pane geometry for new sessions.
	DefaultCols int
	DefaultRows int

	// AutoCleanupDelay is how long a completed worker lingers before the
	// periodic cleanup kills it.
	AutoCleanupDelay time.Duration

	// StaleWorkerThreshold is the inactivity age after which a running
	// worker is logged as stale (but not killed).
	StaleWorkerThreshold time.Duration

	// CaptureTick is the pane polling interval of the capture loop.
	CaptureTick time.Duration

	// HealthTick is the per-worker health monitor interval.
	HealthTick time.Duration

	// SentinelInterval is the self-diagnostics interval.
	SentinelInterval time.Duration

	// CleanupInterval is the periodic lifecycle cleanup interval.
	CleanupInterval time.Duration

	// SnapshotPath is the worker snapshot file for crash recovery.
	SnapshotPath string

	// OutputDBPath is the sqlite database holding output sessions/chunks.
	OutputDBPath string

	// OutputRetentionDays is how many days of output chunks the daily
	// sweep retains.
	OutputRetentionDays int

	// OllamaURL is the optional local summariser endpoint. Must resolve
	// to loopback; empty disables summarisation.
	OllamaURL string

	// ProviderKeys holds opaque API keys for completion providers,
	// keyed by provider name. Parsed from PROVIDER_KEYS ("name=key,...").
	ProviderKeys map[string]string
}

// Default returns the built-in configuration defaults.
func Default() *Config {
	return &Config{
		HTTPPort:             "3100",
		APIBase:              "http://localhost:3100",
		MaxConcurrent:        100,
		SessionPrefix:        "agentmux",
		BackendCommand:       "claude",
		DefaultCols:          120,
		DefaultRows:          40,
		AutoCleanupDelay:     30 * time.Second,
		StaleWorkerThreshold: 30 * time.Minute,
		CaptureTick:          1 * time.Second,
		HealthTick:           10 * time.Second,
		SentinelInterval:     5 * time.Minute,
		CleanupInterval:      60 * time.Second,
		SnapshotPath:         "agentmux-state.json",
		OutputDBPath:         "agentmux-output.db",
		OutputRetentionDays:  7,
		ProviderKeys:         map[string]string{},
	}
}

// Load builds a Config from the environment on top of the defaults.
func Load() (*Config, error) {
	cfg := Default()

	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.APIBase = getEnv("API_BASE", cfg.APIBase)
	cfg.MaxConcurrent = getEnvInt("MAX_CONCURRENT", cfg.MaxConcurrent)
	cfg.ProjectsRoot = getEnv("PROJECTS_ROOT", cfg.ProjectsRoot)
	cfg.SessionPrefix = getEnv("SESSION_PREFIX", cfg.SessionPrefix)
	cfg.BackendCommand = getEnv("BACKEND_COMMAND", cfg.BackendCommand)
	cfg.DefaultCols = getEnvInt("DEFAULT_COLS", cfg.DefaultCols)
	cfg.DefaultRows = getEnvInt("DEFAULT_ROWS", cfg.DefaultRows)
	cfg.AutoCleanupDelay = getEnvMillis("AUTO_CLEANUP_DELAY_MS", cfg.AutoCleanupDelay)
	cfg.StaleWorkerThreshold = getEnvMillis("STALE_WORKER_THRESHOLD_MS", cfg.StaleWorkerThreshold)
	cfg.CaptureTick = getEnvMillis("CAPTURE_TICK_MS", cfg.CaptureTick)
	cfg.HealthTick = getEnvMillis("HEALTH_TICK_MS", cfg.HealthTick)
	cfg.SentinelInterval = getEnvMillis("SENTINEL_INTERVAL_MS", cfg.SentinelInterval)
	cfg.SnapshotPath = getEnv("SNAPSHOT_PATH", cfg.SnapshotPath)
	cfg.OutputDBPath = getEnv("OUTPUT_DB_PATH", cfg.OutputDBPath)
	cfg.OutputRetentionDays = getEnvInt("OUTPUT_RETENTION_DAYS", cfg.OutputRetentionDays)
	cfg.OllamaURL = getEnv("OLLAMA_URL", cfg.OllamaURL)
	cfg.ProviderKeys = parseProviderKeys(os.Getenv("PROVIDER_KEYS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT must be >= 1, got %d", c.MaxConcurrent)
	}
	if c.SessionPrefix == "" {
		return fmt.Errorf("SESSION_PREFIX must not be empty")
	}
	if !sessionPrefixRe.MatchString(c.SessionPrefix) {
		return fmt.Errorf("SESSION_PREFIX %q contains characters outside [A-Za-z0-9_-]", c.SessionPrefix)
	}
	if c.BackendCommand == "" {
		return fmt.Errorf("BACKEND_COMMAND must not be empty")
	}
	if c.DefaultCols < 20 || c.DefaultRows < 5 {
		return fmt.Errorf("pane geometry %dx%d is too small", c.DefaultCols, c.DefaultRows)
	}
	if c.CaptureTick < 100*time.Millisecond {
		return fmt.Errorf("CAPTURE_TICK_MS below 100ms would hammer tmux")
	}
	if c.OllamaURL != "" {
		if err := validateLoopbackURL(c.OllamaURL); err != nil {
			return fmt.Errorf("OLLAMA_URL: %w", err)
		}
	}
	return nil
}

// validateLoopbackURL rejects summariser endpoints that are not local.
// Captured terminal output is untrusted; it never leaves the host.
func validateLoopbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	host := u.Hostname()
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("host %q does not resolve to loopback", host)
	}
	return nil
}

func parseProviderKeys(raw string) map[string]string {
	keys := map[string]string{}
	if raw == "" {
		return keys
	}
	for _, pair := range strings.Split(raw, ",") {
		name, key, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && name != "" && key != "" {
			keys[name] = key
		}
	}
	return keys
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
