package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Store    StoreConfig    `json:"store"`
	Insight  InsightConfig  `json:"insight"`
	Chat     ChatConfig     `json:"chat"`
}

// ProviderConfig points at the local OpenAI-compatible inference endpoint
// (LM Studio, llama.cpp server, etc.).
type ProviderConfig struct {
	APIBase     string  `json:"api_base" env:"CHATLENS_PROVIDER_API_BASE"`
	Model       string  `json:"model" env:"CHATLENS_PROVIDER_MODEL"`
	TimeoutMS   int     `json:"timeout_ms" env:"CHATLENS_PROVIDER_TIMEOUT_MS"`
	MaxRetries  int     `json:"max_retries" env:"CHATLENS_PROVIDER_MAX_RETRIES"`
	Temperature float64 `json:"temperature" env:"CHATLENS_PROVIDER_TEMPERATURE"`
	TopP        float64 `json:"top_p" env:"CHATLENS_PROVIDER_TOP_P"`
	MaxTokens   int     `json:"max_tokens" env:"CHATLENS_PROVIDER_MAX_TOKENS"`
}

type StoreConfig struct {
	DBPath           string `json:"db_path" env:"CHATLENS_STORE_DB_PATH"`
	MaxTitleLength   int    `json:"max_title_length" env:"CHATLENS_STORE_MAX_TITLE_LENGTH"`
	MaxContentLength int    `json:"max_content_length" env:"CHATLENS_STORE_MAX_CONTENT_LENGTH"`
}

type InsightConfig struct {
	CacheEntries       int  `json:"cache_entries" env:"CHATLENS_INSIGHT_CACHE_ENTRIES"`
	ActivityWindowDays int  `json:"activity_window_days" env:"CHATLENS_INSIGHT_ACTIVITY_WINDOW_DAYS"`
	Narrate            bool `json:"narrate" env:"CHATLENS_INSIGHT_NARRATE"`
}

// ChatConfig bounds the context window sent with each completion request.
type ChatConfig struct {
	MaxContextMessages int `json:"max_context_messages" env:"CHATLENS_CHAT_MAX_CONTEXT_MESSAGES"`
	MaxContextTokens   int `json:"max_context_tokens" env:"CHATLENS_CHAT_MAX_CONTEXT_TOKENS"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			APIBase:     "http://127.0.0.1:1234/v1",
			Model:       "",
			TimeoutMS:   120_000,
			MaxRetries:  3,
			Temperature: 0.7,
			TopP:        0.9,
			MaxTokens:   0,
		},
		Store: StoreConfig{
			DBPath:           "~/.chatlens/state/chatlens.db",
			MaxTitleLength:   255,
			MaxContentLength: 32_000,
		},
		Insight: InsightConfig{
			CacheEntries:       64,
			ActivityWindowDays: 7,
			Narrate:            true,
		},
		Chat: ChatConfig{
			MaxContextMessages: 0,
			MaxContextTokens:   4096,
		},
	}
}

// LoadConfig reads the JSON config at path (missing file means defaults) and
// then applies CHATLENS_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DefaultConfigPath is ~/.chatlens/config.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".chatlens", "config.json")
}

// DBPath returns the store path with a leading ~ expanded.
func (c *Config) DBPath() string {
	return expandHome(c.Store.DBPath)
}

// RequestTimeout returns the per-attempt completion deadline.
func (c *Config) RequestTimeout() time.Duration {
	if c.Provider.TimeoutMS <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.Provider.TimeoutMS) * time.Millisecond
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
