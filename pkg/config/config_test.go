package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.APIBase != "http://127.0.0.1:1234/v1" {
		t.Fatalf("unexpected default api base: %q", cfg.Provider.APIBase)
	}
	if cfg.Provider.MaxRetries != 3 {
		t.Fatalf("unexpected default retries: %d", cfg.Provider.MaxRetries)
	}
	if !cfg.Insight.Narrate {
		t.Fatal("narration should default on")
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"provider": {"api_base": "http://localhost:8080/v1", "model": "qwen-7b"}}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHATLENS_PROVIDER_MODEL", "llama-3b")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.APIBase != "http://localhost:8080/v1" {
		t.Fatalf("file value not applied: %q", cfg.Provider.APIBase)
	}
	// Env wins over the file.
	if cfg.Provider.Model != "llama-3b" {
		t.Fatalf("env override not applied: %q", cfg.Provider.Model)
	}
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "config.json")
	cfg := DefaultConfig()
	cfg.Provider.Model = "mistral-7b"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Provider.Model != "mistral-7b" {
		t.Fatalf("round trip lost model: %q", loaded.Provider.Model)
	}
}

func TestRequestTimeout(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RequestTimeout() != 120*time.Second {
		t.Fatalf("unexpected default timeout: %v", cfg.RequestTimeout())
	}
	cfg.Provider.TimeoutMS = -1
	if cfg.RequestTimeout() != 120*time.Second {
		t.Fatalf("non-positive timeout should fall back: %v", cfg.RequestTimeout())
	}
	cfg.Provider.TimeoutMS = 500
	if cfg.RequestTimeout() != 500*time.Millisecond {
		t.Fatalf("unexpected timeout: %v", cfg.RequestTimeout())
	}
}

func TestDBPathExpandsHome(t *testing.T) {
	cfg := DefaultConfig()
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}
	if got, want := cfg.DBPath(), filepath.Join(home, ".chatlens", "state", "chatlens.db"); got != want {
		t.Fatalf("db path = %q, want %q", got, want)
	}
}
