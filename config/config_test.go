package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeTempConfig writes content to a temp yml file and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LIQ_HTTP_HOST", "")
	t.Setenv("LIQ_HTTP_PORT", "")

	path := writeTempConfig(t, `liqstream:
  name: "TestApp"
  version: "1.0"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Liqstream.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Liqstream.Name)
	}
	if cfg.Buffer.Capacity != DefaultBufferCapacity {
		t.Errorf("unexpected capacity: %d", cfg.Buffer.Capacity)
	}
	if cfg.Server.Address != DefaultServerAddress {
		t.Errorf("unexpected address: %s", cfg.Server.Address)
	}
	liq := cfg.Source.Bybit.Future.Liquidation
	if liq.URL != DefaultBybitURL || liq.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("unexpected source defaults: %+v", liq)
	}
	if len(liq.Symbols) != 6 || liq.Symbols[0] != "BTCUSDT" || liq.Symbols[5] != "ADAUSDT" {
		t.Errorf("unexpected default symbols: %v", liq.Symbols)
	}
}

func TestLoadConfigOverridesFromFile(t *testing.T) {
	t.Setenv("LIQ_HTTP_HOST", "")
	t.Setenv("LIQ_HTTP_PORT", "")

	path := writeTempConfig(t, `liqstream:
  name: "TestApp"
server:
  address: "127.0.0.1:9000"
source:
  bybit:
    future:
      liquidation:
        enabled: true
        url: "ws://localhost:1234/ws"
        symbols: ["BTCUSDT"]
        retry:
          base_delay: 250ms
          max_delay: 2s
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	liq := cfg.Source.Bybit.Future.Liquidation
	if len(liq.Symbols) != 1 || liq.Symbols[0] != "BTCUSDT" {
		t.Errorf("symbols not replaced: %v", liq.Symbols)
	}
	if liq.Retry.BaseDelay != 250*time.Millisecond || liq.Retry.MaxDelay != 2*time.Second {
		t.Errorf("unexpected retry config: %+v", liq.Retry)
	}
	if cfg.Server.Address != "127.0.0.1:9000" {
		t.Errorf("unexpected address: %s", cfg.Server.Address)
	}
}

func TestLoadConfigEnvHostPort(t *testing.T) {
	t.Setenv("LIQ_HTTP_HOST", "127.0.0.1")
	t.Setenv("LIQ_HTTP_PORT", "8081")

	path := writeTempConfig(t, "liqstream:\n  name: \"TestApp\"\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Address != "127.0.0.1:8081" {
		t.Fatalf("expected env override, got %s", cfg.Server.Address)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("LIQ_HTTP_HOST", "")
	t.Setenv("LIQ_HTTP_PORT", "")

	cases := map[string]string{
		"missing name":  "liqstream:\n  name: \"\"\n",
		"bad capacity":  "liqstream:\n  name: a\nbuffer:\n  capacity: 0\n",
		"capacity 51":   "liqstream:\n  name: a\nbuffer:\n  capacity: 51\n",
		"bad url":       "liqstream:\n  name: a\nsource:\n  bybit:\n    future:\n      liquidation:\n        url: \"https://x\"\n",
		"empty symbols": "liqstream:\n  name: a\nsource:\n  bybit:\n    future:\n      liquidation:\n        symbols: []\n",
		"bad address":   "liqstream:\n  name: a\nserver:\n  address: \"nope\"\n",
	}
	for name, content := range cases {
		path := writeTempConfig(t, content)
		if _, err := LoadConfig(path); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if got := AppEnvironment(); got != environmentProduction {
		t.Fatalf("expected production, got %s", got)
	}
	t.Setenv("APP_ENV", "")
	if got := AppEnvironment(); got != environmentDevelopment {
		t.Fatalf("expected development, got %s", got)
	}
}

func TestResolveEnvSpecificPathKeepsExplicitPath(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	got := resolveEnvSpecificPath("custom.yml", "config/config.yml", map[string]string{
		environmentProduction: "config/config.production.yml",
	})
	if got != "custom.yml" {
		t.Fatalf("expected explicit path to be kept, got %s", got)
	}
}

func TestResolveEnvSpecificPathUsesExistingEnvFile(t *testing.T) {
	t.Setenv("APP_ENV", "staging")
	envFile := writeTempConfig(t, "liqstream:\n  name: a\n")
	got := resolveEnvSpecificPath("", "config/config.yml", map[string]string{
		environmentStaging: envFile,
	})
	if got != envFile {
		t.Fatalf("expected %s, got %s", envFile, got)
	}
}
