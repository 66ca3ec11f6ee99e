package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBybitURL       = "wss://stream.bybit.com/v5/public/linear"
	DefaultTopicPrefix    = "allLiquidation."
	DefaultBufferCapacity = 50
	DefaultServerAddress  = "0.0.0.0:5000"
)

// DefaultSymbols are the linear perpetuals tracked when none are configured.
var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT", "ADAUSDT"}

type Config struct {
	Liqstream AppConfig     `yaml:"liqstream"`
	Server    ServerConfig  `yaml:"server"`
	Buffer    BufferConfig  `yaml:"buffer"`
	Source    SourceConfig  `yaml:"source"`
	Logging   LoggingConfig `yaml:"logging"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type BufferConfig struct {
	Capacity int `yaml:"capacity"`
}

type SourceConfig struct {
	Bybit BybitSourceConfig `yaml:"bybit"`
}

type BybitSourceConfig struct {
	Future BybitFutureConfig `yaml:"future"`
}

type BybitFutureConfig struct {
	Liquidation BybitLiquidationConfig `yaml:"liquidation"`
}

type BybitLiquidationConfig struct {
	Enabled      bool            `yaml:"enabled"`
	URL          string          `yaml:"url"`
	TopicPrefix  string          `yaml:"topic_prefix"`
	Symbols      []string        `yaml:"symbols"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	PingInterval time.Duration   `yaml:"ping_interval"`
	Retry        RetryConfig     `yaml:"retry"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

type RetryConfig struct {
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

// RateLimitConfig bounds connection attempts against the venue.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type LoggingConfig struct {
	Level          string        `yaml:"level"`
	Format         string        `yaml:"format"`
	Output         string        `yaml:"output"`
	MaxAge         int           `yaml:"max_age"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type MetricsConfig struct {
	Prometheus bool             `yaml:"prometheus"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns a configuration that runs without a config file.
func Default() Config {
	return Config{
		Liqstream: AppConfig{Name: "liqstream", Version: "dev"},
		Server: ServerConfig{
			Address:           DefaultServerAddress,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Buffer: BufferConfig{Capacity: DefaultBufferCapacity},
		Source: SourceConfig{Bybit: BybitSourceConfig{Future: BybitFutureConfig{
			Liquidation: BybitLiquidationConfig{
				Enabled:      true,
				URL:          DefaultBybitURL,
				TopicPrefix:  DefaultTopicPrefix,
				Symbols:      append([]string(nil), DefaultSymbols...),
				ReadTimeout:  35 * time.Second,
				PingInterval: 20 * time.Second,
				Retry: RetryConfig{
					BaseDelay:         time.Second,
					MaxDelay:          30 * time.Second,
					BackoffMultiplier: 2,
				},
				RateLimit: RateLimitConfig{RequestsPerSecond: 1, BurstSize: 3},
			},
		}}},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "json",
			Output:         "stdout",
			ReportInterval: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Prometheus: true,
			CloudWatch: CloudWatchConfig{Namespace: "Liqstream"},
		},
	}
}

// LoadConfig reads path (or its APP_ENV specific variant) over Default and
// applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, "config/config.yml", map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides honours LIQ_HTTP_HOST / LIQ_HTTP_PORT for the query
// endpoint and the AWS variables for CloudWatch.
func applyEnvOverrides(cfg *Config) {
	host, port := os.Getenv("LIQ_HTTP_HOST"), os.Getenv("LIQ_HTTP_PORT")
	if host != "" || port != "" {
		curHost, curPort, err := net.SplitHostPort(cfg.Server.Address)
		if err != nil {
			curHost, curPort = "0.0.0.0", "5000"
		}
		if h := strings.TrimSpace(host); h != "" {
			curHost = h
		}
		if p := strings.TrimSpace(port); p != "" {
			curPort = p
		}
		cfg.Server.Address = net.JoinHostPort(curHost, curPort)
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Liqstream.Name == "" {
		return fmt.Errorf("liqstream.name is required")
	}
	if cfg.Buffer.Capacity <= 0 || cfg.Buffer.Capacity > DefaultBufferCapacity {
		return fmt.Errorf("buffer.capacity must be between 1 and %d, got %d", DefaultBufferCapacity, cfg.Buffer.Capacity)
	}
	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		return fmt.Errorf("server.address '%s' is invalid: %w", cfg.Server.Address, err)
	}

	liq := cfg.Source.Bybit.Future.Liquidation
	if liq.Enabled {
		if !strings.HasPrefix(liq.URL, "ws://") && !strings.HasPrefix(liq.URL, "wss://") {
			return fmt.Errorf("source.bybit.future.liquidation.url must be a ws:// or wss:// url")
		}
		if len(liq.Symbols) == 0 {
			return fmt.Errorf("source.bybit.future.liquidation.symbols must not be empty")
		}
		for _, s := range liq.Symbols {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("source.bybit.future.liquidation.symbols contains an empty symbol")
			}
		}
		if liq.Retry.BaseDelay <= 0 || liq.Retry.MaxDelay < liq.Retry.BaseDelay {
			return fmt.Errorf("source.bybit.future.liquidation.retry requires 0 < base_delay <= max_delay")
		}
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}
	return nil
}
