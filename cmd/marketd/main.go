package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/adapters"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/cache"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/config"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "marketd",
	Short: "Multi-source market data service",
	Long: `marketd serves quotes, history and company fundamentals from a chain of
upstream providers with per-provider rate limiting, circuit breaking and
namespaced caching.

Set QUOTES=mock to run against built-in demo data without API keys.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")
}

func loadConfig() (config.Root, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// app is the wiring every subcommand shares.
type app struct {
	cfg    config.Root
	caches *cache.Registry
	market *adapters.Orchestrator
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := observ.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	caches := cache.NewRegistry(adapters.CacheOverrides(cfg.Cache))
	market, err := adapters.Build(ctx, cfg, caches)
	if err != nil {
		caches.Close()
		return nil, err
	}
	return &app{cfg: cfg, caches: caches, market: market}, nil
}

func (r *app) Close() { r.caches.Close() }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
