package main

import (
	"fmt"
	"os"

	"character_wiki/internal/config"
	"character_wiki/internal/fetcher"
	"character_wiki/internal/logger"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "wiki",
	Short: "Rick and Morty character wiki",
	Long: `A paginated, searchable character grid backed by the public
character listing API.

Available commands:
  serve          - Run the web server
  fetch          - Print characters to stdout, page by page
  archive-worker - Consume archived pages into PostgreSQL`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a JSON config file")
	rootCmd.AddCommand(serveCmd, fetchCmd, archiveWorkerCmd)
}

// loadConfig загружает конфигурацию и инициализирует логирование.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func newClient(cfg *config.Config) *fetcher.Client {
	return fetcher.NewClient(cfg.APIBaseURL, fetcher.Options{
		Timeout:    cfg.RequestTimeout(),
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay(),
		RPS:        cfg.RateLimitRPS,
		Burst:      cfg.RateLimitBurst,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
