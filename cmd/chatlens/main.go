package main

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatlens/chatlens/pkg/config"
	"github.com/chatlens/chatlens/pkg/insight"
	"github.com/chatlens/chatlens/pkg/llm"
	"github.com/chatlens/chatlens/pkg/logger"
	"github.com/chatlens/chatlens/pkg/store"

	"github.com/chatlens/chatlens/pkg/chat"
)

const appName = "chatlens"

// Set via -ldflags at build time.
var (
	version   = "0.3.0"
	buildTime = ""
	goVersion = ""
)

func printVersion() {
	fmt.Printf("%s v%s\n", appName, version)
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	goVer := goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	fmt.Printf("  Go: %s\n", goVer)
}

func main() {
	// Optional; env overrides still apply without a .env file.
	_ = godotenv.Load()

	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired subsystems a command needs. Commands that never touch
// the model (list, export, ...) still get a client; it only dials on use.
type app struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	client  *llm.Client
	service *chat.Service
	engine  *insight.Engine
}

func openApp(configPath string, debug bool) (*app, error) {
	logger.Setup(debug)

	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.NewSQLiteStore(cfg.DBPath(), store.Options{
		MaxTitleLength:   cfg.Store.MaxTitleLength,
		MaxContentLength: cfg.Store.MaxContentLength,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client, err := llm.NewClient(cfg.Provider.APIBase, cfg.Provider.Model)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	opts := completionOptions(cfg)
	builder := llm.NewContextBuilder(llm.ContextBudget{
		MaxMessages: cfg.Chat.MaxContextMessages,
		MaxTokens:   cfg.Chat.MaxContextTokens,
	})
	service := chat.NewService(st, client, builder, opts)

	var narrator insight.Narrator
	if cfg.Insight.Narrate {
		narrator = client
	}
	cache, err := insight.NewCache(cfg.Insight.CacheEntries)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	engine, err := insight.NewEngine(insight.Config{
		Corpus:      st,
		Cache:       cache,
		Narrator:    narrator,
		NarrateOpts: opts,
		Window:      time.Duration(cfg.Insight.ActivityWindowDays) * 24 * time.Hour,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{cfg: cfg, store: st, client: client, service: service, engine: engine}, nil
}

func (a *app) Close() {
	if a.store != nil {
		_ = a.store.Close()
	}
}

func completionOptions(cfg *config.Config) llm.Options {
	return llm.Options{
		Model:       cfg.Provider.Model,
		Timeout:     cfg.RequestTimeout(),
		MaxRetries:  cfg.Provider.MaxRetries,
		Temperature: cfg.Provider.Temperature,
		TopP:        cfg.Provider.TopP,
		MaxTokens:   cfg.Provider.MaxTokens,
	}
}

// serveMetrics exposes Prometheus metrics for long-lived commands. Errors
// are logged, not fatal: a busy port shouldn't kill a chat session.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Log.Info().Str("addr", addr).Msg("metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Log.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}
