// Package config resolves broker configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SeedPathEnv names the environment variable carrying the resource catalog
// path. Startup aborts when it is unset.
const SeedPathEnv = "RESOURCE_YAML_PATH"

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration

	// MaxHeaderBytes caps the size of parsed request headers
	MaxHeaderBytes int

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown
	ShutdownTimeout time.Duration
}

const (
	defaultListenAddr      = ":8080"
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second
)

// ParseServerConfig reads server configuration from environment variables.
// It returns a ServerConfig with sensible defaults that can be overridden via ENV.
func ParseServerConfig() ServerConfig {
	maxHeaderBytes := ParseInt("RESMUX_SERVER_MAX_HEADER_BYTES", defaultMaxHeaderBytes)
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = defaultMaxHeaderBytes
	}

	shutdownTimeout := ParseDuration("RESMUX_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout)
	if shutdownTimeout < 3*time.Second {
		shutdownTimeout = 3 * time.Second
	}

	return ServerConfig{
		ListenAddr:      ParseString("RESMUX_LISTEN", defaultListenAddr),
		ReadTimeout:     ParseDuration("RESMUX_SERVER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout:    ParseDuration("RESMUX_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
		IdleTimeout:     ParseDuration("RESMUX_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		MaxHeaderBytes:  maxHeaderBytes,
		ShutdownTimeout: shutdownTimeout,
	}
}

// AppConfig holds broker-level configuration resolved from the environment.
type AppConfig struct {
	LogLevel string
	DataDir  string

	// SeedPath is the resource catalog YAML (RESOURCE_YAML_PATH, required).
	SeedPath string
	// SeedWatch re-applies the catalog when the file changes.
	SeedWatch bool

	// StoreBackend selects the persistence backend: sqlite, memory, badger, redis.
	StoreBackend string
	// StorePath is the sqlite file or badger directory.
	StorePath string

	// Redis options (backend "redis" only).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SweepInterval is the expirer period.
	SweepInterval time.Duration

	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string

	// HTTPRateLimit* gate the per-IP middleware limiter.
	HTTPRateLimitEnabled bool
	HTTPRateLimitPerMin  int

	// RobotRateLimit* gate the per-robot write limiter.
	RobotRateLimitEnabled bool
	RobotRatePerSec       float64
	RobotRateBurst        int

	// Tracing options (disabled unless an endpoint is configured).
	TracingEnabled  bool
	OTLPEndpoint    string
	OTLPProtocol    string // "grpc" or "http"
	TraceSampleRate float64
}

// ParseAppConfig resolves the broker configuration. The seed path is the only
// mandatory setting; everything else has serviceable defaults.
func ParseAppConfig() (AppConfig, error) {
	seedPath := strings.TrimSpace(os.Getenv(SeedPathEnv))
	if seedPath == "" {
		return AppConfig{}, fmt.Errorf("%s environment variable is not set", SeedPathEnv)
	}

	dataDir := ParseString("RESMUX_DATA", defaultDataDir())

	cfg := AppConfig{
		LogLevel:  ParseString("RESMUX_LOG_LEVEL", "info"),
		DataDir:   dataDir,
		SeedPath:  seedPath,
		SeedWatch: ParseBool("RESMUX_SEED_WATCH", true),

		StoreBackend: strings.ToLower(ParseString("RESMUX_STORE_BACKEND", "sqlite")),
		StorePath:    ParseString("RESMUX_STORE_PATH", filepath.Join(dataDir, "resmux.db")),

		RedisAddr:     ParseString("RESMUX_REDIS_ADDR", "localhost:6379"),
		RedisPassword: ParseString("RESMUX_REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("RESMUX_REDIS_DB", 0),

		SweepInterval: ParseDuration("RESMUX_SWEEP_INTERVAL", time.Second),

		MetricsAddr: ParseString("RESMUX_METRICS_LISTEN", ""),

		HTTPRateLimitEnabled: ParseBool("RESMUX_HTTP_RATELIMIT", false),
		HTTPRateLimitPerMin:  ParseInt("RESMUX_HTTP_RATELIMIT_PER_MIN", 600),

		RobotRateLimitEnabled: ParseBool("RESMUX_ROBOT_RATELIMIT", false),
		RobotRatePerSec:       ParseFloat("RESMUX_ROBOT_RATE_PER_SEC", 10),
		RobotRateBurst:        ParseInt("RESMUX_ROBOT_RATE_BURST", 20),

		OTLPEndpoint:    ParseString("RESMUX_OTLP_ENDPOINT", ""),
		OTLPProtocol:    strings.ToLower(ParseString("RESMUX_OTLP_PROTOCOL", "grpc")),
		TraceSampleRate: ParseFloat("RESMUX_TRACE_SAMPLE_RATE", 1.0),
	}
	cfg.TracingEnabled = cfg.OTLPEndpoint != ""

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}

	switch cfg.StoreBackend {
	case "sqlite", "memory", "badger", "redis":
	default:
		return AppConfig{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	return cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".resmux")
}
