package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"character_wiki/internal/config"
	"character_wiki/internal/logger"
	"character_wiki/internal/queue"
	"character_wiki/internal/worker"

	"github.com/spf13/cobra"
)

var archiveWorkerCmd = &cobra.Command{
	Use:   "archive-worker",
	Short: "Consume archived pages into PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.ArchiveEnabled() || cfg.Archive.DatabaseURL == "" {
			return errors.New("archive-worker needs rabbitmq.url and archive.database_url")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runConsumer(ctx, cfg)
	},
}

// runConsumer обрабатывает события страниц, пока ctx не завершён.
func runConsumer(ctx context.Context, cfg *config.Config) error {
	database, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	consumer, err := queue.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, cfg.Archive.Workers)
	if err != nil {
		return err
	}
	defer consumer.Close()

	logger.Log.WithField("workers", cfg.Archive.Workers).Info("Starting archive worker")
	wrk := worker.NewWorker(database)
	return consumer.Consume(ctx, wrk.HandleTask)
}
