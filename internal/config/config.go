package config

import (
	"time"

	"github.com/blockrun/proxy/internal/types"
)

// Config is the top-level proxy configuration: server/runtime knobs plus
// the dedup and dispatch parameters consulted per request. Scoring and
// override parameters live in their own optional YAML files
// (scoring.yaml, overrides.yaml) loaded separately by Loader; compression
// parameters are not read from any file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// DedupConfig configures the dedup cache and its optional Redis mirror.
type DedupConfig struct {
	TTL            time.Duration `yaml:"ttl"`
	Capacity       int           `yaml:"capacity"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
}

// DispatchConfig configures the dispatcher's size/fallback/timeout knobs.
type DispatchConfig struct {
	MaxRequestSizeKB       int           `yaml:"max_request_size_kb"`
	CompressionThresholdKB int           `yaml:"compression_threshold_kb"`
	AutoCompressRequests   bool          `yaml:"auto_compress_requests"`
	MaxFallbackAttempts    int           `yaml:"max_fallback_attempts"`
	PerAttemptTimeout      time.Duration `yaml:"per_attempt_timeout"`
	EmergencyFreeModel     types.ModelID `yaml:"emergency_free_model"`
	// UpstreamBaseURL is where the (out-of-scope) upstream inference
	// endpoint lives; the dispatcher POSTs "<base>/v1/chat/completions"
	// with model substituted.
	UpstreamBaseURL string `yaml:"upstream_base_url"`
}

// DefaultConfig returns the defaults applied before any YAML overlay.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8402,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Dedup: DedupConfig{
			TTL:            30 * time.Second,
			Capacity:       10000,
			RedisKeyPrefix: "blockrun:dedup:",
		},
		Dispatch: DispatchConfig{
			MaxRequestSizeKB:       512,
			CompressionThresholdKB: 32,
			AutoCompressRequests:   true,
			MaxFallbackAttempts:    3,
			PerAttemptTimeout:      30 * time.Second,
			EmergencyFreeModel:     "openrouter/free-tier",
			UpstreamBaseURL:        "http://127.0.0.1:8787",
		},
	}
}
