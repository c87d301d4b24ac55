package config

import (
	"os"
	"testing"
	"time"
)

func TestParseServerConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(*testing.T, ServerConfig)
	}{
		{
			name:    "defaults when no env vars set",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg ServerConfig) {
				t.Helper()
				if cfg.ListenAddr != ":8080" {
					t.Errorf("ListenAddr = %v, want :8080", cfg.ListenAddr)
				}
				if cfg.ReadTimeout != 30*time.Second {
					t.Errorf("ReadTimeout = %v, want 30s", cfg.ReadTimeout)
				}
				if cfg.WriteTimeout != 30*time.Second {
					t.Errorf("WriteTimeout = %v, want 30s", cfg.WriteTimeout)
				}
				if cfg.IdleTimeout != 120*time.Second {
					t.Errorf("IdleTimeout = %v, want 120s", cfg.IdleTimeout)
				}
				if cfg.MaxHeaderBytes != 1<<20 {
					t.Errorf("MaxHeaderBytes = %v, want %v", cfg.MaxHeaderBytes, 1<<20)
				}
				if cfg.ShutdownTimeout != 15*time.Second {
					t.Errorf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
				}
			},
		},
		{
			name: "custom values from env vars",
			envVars: map[string]string{
				"RESMUX_LISTEN":                  ":9000",
				"RESMUX_SERVER_READ_TIMEOUT":     "10s",
				"RESMUX_SERVER_WRITE_TIMEOUT":    "20s",
				"RESMUX_SERVER_IDLE_TIMEOUT":     "300s",
				"RESMUX_SERVER_MAX_HEADER_BYTES": "2097152",
				"RESMUX_SERVER_SHUTDOWN_TIMEOUT": "30s",
			},
			validate: func(t *testing.T, cfg ServerConfig) {
				t.Helper()
				if cfg.ListenAddr != ":9000" {
					t.Errorf("ListenAddr = %v, want :9000", cfg.ListenAddr)
				}
				if cfg.ReadTimeout != 10*time.Second {
					t.Errorf("ReadTimeout = %v, want 10s", cfg.ReadTimeout)
				}
				if cfg.WriteTimeout != 20*time.Second {
					t.Errorf("WriteTimeout = %v, want 20s", cfg.WriteTimeout)
				}
				if cfg.IdleTimeout != 300*time.Second {
					t.Errorf("IdleTimeout = %v, want 300s", cfg.IdleTimeout)
				}
				if cfg.MaxHeaderBytes != 2097152 {
					t.Errorf("MaxHeaderBytes = %v, want 2097152", cfg.MaxHeaderBytes)
				}
				if cfg.ShutdownTimeout != 30*time.Second {
					t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
				}
			},
		},
		{
			name: "invalid values fall back to defaults",
			envVars: map[string]string{
				"RESMUX_SERVER_READ_TIMEOUT":     "invalid",
				"RESMUX_SERVER_MAX_HEADER_BYTES": "not-a-number",
			},
			validate: func(t *testing.T, cfg ServerConfig) {
				t.Helper()
				if cfg.ReadTimeout != 30*time.Second {
					t.Errorf("ReadTimeout = %v, want 30s (default)", cfg.ReadTimeout)
				}
				if cfg.MaxHeaderBytes != 1<<20 {
					t.Errorf("MaxHeaderBytes = %v, want %v (default)", cfg.MaxHeaderBytes, 1<<20)
				}
			},
		},
		{
			name: "shutdown timeout has a lower bound",
			envVars: map[string]string{
				"RESMUX_SERVER_SHUTDOWN_TIMEOUT": "1s",
			},
			validate: func(t *testing.T, cfg ServerConfig) {
				t.Helper()
				if cfg.ShutdownTimeout != 3*time.Second {
					t.Errorf("ShutdownTimeout = %v, want 3s (floor)", cfg.ShutdownTimeout)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				_ = os.Setenv(key, value)
				defer func(k string) { _ = os.Unsetenv(k) }(key)
			}

			cfg := ParseServerConfig()
			tt.validate(t, cfg)
		})
	}
}

func TestParseAppConfig_RequiresSeedPath(t *testing.T) {
	_ = os.Unsetenv(SeedPathEnv)

	if _, err := ParseAppConfig(); err == nil {
		t.Fatal("ParseAppConfig() = nil error, want error when RESOURCE_YAML_PATH is unset")
	}
}

func TestParseAppConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(*testing.T, AppConfig)
	}{
		{
			name: "defaults with seed path set",
			envVars: map[string]string{
				SeedPathEnv: "/etc/resmux/resources.yaml",
			},
			validate: func(t *testing.T, cfg AppConfig) {
				t.Helper()
				if cfg.SeedPath != "/etc/resmux/resources.yaml" {
					t.Errorf("SeedPath = %v, want /etc/resmux/resources.yaml", cfg.SeedPath)
				}
				if cfg.StoreBackend != "sqlite" {
					t.Errorf("StoreBackend = %v, want sqlite", cfg.StoreBackend)
				}
				if cfg.SweepInterval != time.Second {
					t.Errorf("SweepInterval = %v, want 1s", cfg.SweepInterval)
				}
				if !cfg.SeedWatch {
					t.Error("SeedWatch = false, want true")
				}
				if cfg.TracingEnabled {
					t.Error("TracingEnabled = true, want false without endpoint")
				}
				if cfg.HTTPRateLimitEnabled {
					t.Error("HTTPRateLimitEnabled = true, want false")
				}
				if cfg.StorePath == "" {
					t.Error("StorePath is empty, want a default under the data dir")
				}
			},
		},
		{
			name: "custom backend and sweep interval",
			envVars: map[string]string{
				SeedPathEnv:             "/tmp/resources.yaml",
				"RESMUX_STORE_BACKEND":  "BADGER",
				"RESMUX_STORE_PATH":     "/var/lib/resmux/badger",
				"RESMUX_SWEEP_INTERVAL": "250ms",
				"RESMUX_SEED_WATCH":     "false",
			},
			validate: func(t *testing.T, cfg AppConfig) {
				t.Helper()
				if cfg.StoreBackend != "badger" {
					t.Errorf("StoreBackend = %v, want badger (lowercased)", cfg.StoreBackend)
				}
				if cfg.StorePath != "/var/lib/resmux/badger" {
					t.Errorf("StorePath = %v, want /var/lib/resmux/badger", cfg.StorePath)
				}
				if cfg.SweepInterval != 250*time.Millisecond {
					t.Errorf("SweepInterval = %v, want 250ms", cfg.SweepInterval)
				}
				if cfg.SeedWatch {
					t.Error("SeedWatch = true, want false")
				}
			},
		},
		{
			name: "tracing enabled by endpoint",
			envVars: map[string]string{
				SeedPathEnv:            "/tmp/resources.yaml",
				"RESMUX_OTLP_ENDPOINT": "localhost:4317",
			},
			validate: func(t *testing.T, cfg AppConfig) {
				t.Helper()
				if !cfg.TracingEnabled {
					t.Error("TracingEnabled = false, want true when endpoint set")
				}
				if cfg.OTLPProtocol != "grpc" {
					t.Errorf("OTLPProtocol = %v, want grpc", cfg.OTLPProtocol)
				}
			},
		},
		{
			name: "unknown backend rejected",
			envVars: map[string]string{
				SeedPathEnv:            "/tmp/resources.yaml",
				"RESMUX_STORE_BACKEND": "etcd",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				_ = os.Setenv(key, value)
				defer func(k string) { _ = os.Unsetenv(k) }(key)
			}

			cfg, err := ParseAppConfig()
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseAppConfig() = nil error, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAppConfig() error = %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}
