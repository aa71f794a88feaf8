// Package config loads the dispatch core's structured configuration: a
// YAML file with nested keys for each component, then an environment
// override pass using this package's envStr/envInt/envBool helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the dispatch core's components need at
// startup.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	Cache      CacheConfig      `yaml:"cache"`
	Balancer   BalancerConfig   `yaml:"balancer"`
	Memory     MemoryConfig     `yaml:"memory"`
	Vector     VectorConfig     `yaml:"vector"`
	Router     RouterConfig     `yaml:"router"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Probe      ProbeConfig      `yaml:"probe"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	// Backends seeds the pool at startup. Not part of the component
	// tables elsewhere in this package — BackendPool.Add is also
	// reachable at runtime, but most deployments know their endpoints
	// up front.
	Backends []BackendConfig `yaml:"backends"`
}

// BackendConfig seeds one types.Backend into the pool at startup.
type BackendConfig struct {
	ID          string `yaml:"id"`
	Address     string `yaml:"address"`
	Weight      int    `yaml:"weight"`
	MaxInflight int    `yaml:"max_inflight"`
}

type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	KVBackend       string        `yaml:"kv_backend"` // "memory", "redis", "postgres"
	KVAddress       string        `yaml:"kv_address"`
}

type BalancerConfig struct {
	Strategy       string        `yaml:"strategy"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type MemoryConfig struct {
	MaxTokens           int     `yaml:"max_tokens"`
	ImportanceThreshold float64 `yaml:"importance_threshold"`
	PersistPath         string  `yaml:"persist_path"`
}

type VectorConfig struct {
	Dimension int    `yaml:"dimension"`
	IndexPath string `yaml:"index_path"`
}

// VariantConfig mirrors types.ModelVariant for YAML decoding.
type VariantConfig struct {
	Name         string  `yaml:"name"`
	MinRAMBytes  uint64  `yaml:"min_ram_bytes"`
	QualityScore float64 `yaml:"quality_score"`
}

type RouterConfig struct {
	Variants []VariantConfig `yaml:"variants"`
}

type DispatcherConfig struct {
	ParallelWorkers int           `yaml:"parallel_workers"`
	MaxQueueSize    int           `yaml:"max_queue_size"`
	DefaultTimeout  time.Duration `yaml:"default_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	BackoffBaseMs   int64         `yaml:"backoff_base_ms"`
	RAMFloorBytes   uint64        `yaml:"ram_floor_bytes"`
}

type ProbeConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// RuntimeConfig selects and addresses the ModelRuntime adapter.
type RuntimeConfig struct {
	Backend  string `yaml:"backend"` // "mock", "ollama"
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Defaults returns the configuration used when no file is present and
// no environment overrides are set.
func Defaults() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: "info",
		Cache: CacheConfig{
			MaxEntries:      4096,
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			KVBackend:       "memory",
		},
		Balancer: BalancerConfig{
			Strategy:       "round_robin",
			HealthInterval: 5 * time.Second,
		},
		Memory: MemoryConfig{
			MaxTokens:           300,
			ImportanceThreshold: 0.5,
			PersistPath:         "./data/experience.log",
		},
		Vector: VectorConfig{
			Dimension: 384,
			IndexPath: "./data/vector.index",
		},
		Dispatcher: DispatcherConfig{
			ParallelWorkers: 8,
			MaxQueueSize:    64,
			DefaultTimeout:  30 * time.Second,
			MaxRetries:      2,
			BackoffBaseMs:   100,
			RAMFloorBytes:   512 << 20,
		},
		Probe: ProbeConfig{
			Interval: time.Second,
		},
		Runtime: RuntimeConfig{
			Backend: "mock",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "dispatchcore",
		},
	}
}

// Load reads path (if it exists) as YAML into Defaults(), then applies
// environment overrides. A missing path is not an error — the file
// layer is optional, env vars and defaults still apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over both the file
// and the defaults, matching the rest of the codebase's "env wins"
// convention.
func applyEnvOverrides(cfg *Config) {
	cfg.DataDir = envStr("DISPATCHCORE_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = envStr("DISPATCHCORE_LOG_LEVEL", cfg.LogLevel)

	cfg.Cache.MaxEntries = envInt("DISPATCHCORE_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.KVBackend = envStr("DISPATCHCORE_CACHE_KV_BACKEND", cfg.Cache.KVBackend)
	cfg.Cache.KVAddress = envStr("DISPATCHCORE_CACHE_KV_ADDRESS", cfg.Cache.KVAddress)

	cfg.Balancer.Strategy = envStr("DISPATCHCORE_BALANCER_STRATEGY", cfg.Balancer.Strategy)

	cfg.Memory.MaxTokens = envInt("DISPATCHCORE_MEMORY_MAX_TOKENS", cfg.Memory.MaxTokens)
	cfg.Memory.PersistPath = envStr("DISPATCHCORE_MEMORY_PERSIST_PATH", cfg.Memory.PersistPath)

	cfg.Vector.Dimension = envInt("DISPATCHCORE_VECTOR_DIMENSION", cfg.Vector.Dimension)
	cfg.Vector.IndexPath = envStr("DISPATCHCORE_VECTOR_INDEX_PATH", cfg.Vector.IndexPath)

	cfg.Dispatcher.MaxRetries = envInt("DISPATCHCORE_DISPATCHER_MAX_RETRIES", cfg.Dispatcher.MaxRetries)

	cfg.Runtime.Backend = envStr("DISPATCHCORE_RUNTIME_BACKEND", cfg.Runtime.Backend)
	cfg.Runtime.Endpoint = envStr("DISPATCHCORE_RUNTIME_ENDPOINT", cfg.Runtime.Endpoint)
	cfg.Runtime.Model = envStr("DISPATCHCORE_RUNTIME_MODEL", cfg.Runtime.Model)

	cfg.Telemetry.Enabled = envBool("OTEL_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.OTLPEndpoint = envStr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Telemetry.OTLPEndpoint)
	cfg.Telemetry.ServiceName = envStr("OTEL_SERVICE_NAME", cfg.Telemetry.ServiceName)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
