package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"character_wiki/internal/config"
	"character_wiki/internal/db"
	"character_wiki/internal/logger"
	"character_wiki/internal/queue"
	"character_wiki/internal/server"
	"character_wiki/internal/session"
	"character_wiki/internal/worker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Log.Info("Application stopped")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessions := session.NewStore(cfg.SessionTTL())
	var opts []server.Option

	if cfg.Archive.DatabaseURL != "" {
		database, err := openArchive(ctx, cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		opts = append(opts, server.WithArchive(database))
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.ArchiveEnabled() {
		producer, err := queue.NewProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			return err
		}
		defer producer.Close()
		opts = append(opts, server.WithPageHook(worker.PageHook(producer, cfg.RequestTimeout())))

		if cfg.Archive.Inline {
			if cfg.Archive.DatabaseURL == "" {
				return errors.New("inline archive worker needs archive.database_url")
			}
			g.Go(func() error {
				return runConsumer(ctx, cfg)
			})
		}
	}

	srv := server.NewServer(newClient(cfg), sessions, cfg.SessionTTL(), opts...)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		sessions.Run(ctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		logger.Log.Infof("Starting HTTP server on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openArchive(ctx context.Context, cfg *config.Config) (*db.Database, error) {
	database, err := db.NewDB(ctx, cfg.Archive.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
