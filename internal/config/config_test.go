package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Store.URL == "" {
		t.Error("expected default store URL")
	}
	if cfg.Store.APIKey != "${QUARTERS_STORE_KEY}" {
		t.Error("expected store API key placeholder")
	}
	if cfg.Store.Docker.ContainerName != "quarters-store" {
		t.Errorf("container name = %q", cfg.Store.Docker.ContainerName)
	}
	if cfg.Engine.JobTimeout() != 10*time.Minute {
		t.Errorf("job timeout = %v, want 10m", cfg.Engine.JobTimeout())
	}
	if cfg.Engine.PollInterval() != 15*time.Second {
		t.Errorf("poll interval = %v, want 15s", cfg.Engine.PollInterval())
	}
	if cfg.Engine.SaveWindow() != time.Second {
		t.Errorf("save window = %v, want 1s", cfg.Engine.SaveWindow())
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		os.Setenv("TEST_API_KEY", "secret123")
		defer os.Unsetenv("TEST_API_KEY")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ResolvedSecrets(t *testing.T) {
	os.Setenv("TEST_QUARTERS_STORE_KEY", "sk-123")
	os.Setenv("TEST_QUARTERS_WORKER_TOKEN", "wt-456")
	defer os.Unsetenv("TEST_QUARTERS_STORE_KEY")
	defer os.Unsetenv("TEST_QUARTERS_WORKER_TOKEN")

	cfg := &Config{
		Store:  StoreCfg{APIKey: "${TEST_QUARTERS_STORE_KEY}"},
		Worker: WorkerCfg{Token: "${TEST_QUARTERS_WORKER_TOKEN}"},
	}

	if got := cfg.StoreAPIKey(); got != "sk-123" {
		t.Errorf("StoreAPIKey() = %q", got)
	}
	if got := cfg.WorkerToken(); got != "wt-456" {
		t.Errorf("WorkerToken() = %q", got)
	}
}

func TestConfig_ServerAddr(t *testing.T) {
	cfg := &Config{Server: ServerCfg{Host: "0.0.0.0", Port: 9000}}
	if got := cfg.ServerAddr(); got != "0.0.0.0:9000" {
		t.Errorf("ServerAddr() = %q", got)
	}
}
