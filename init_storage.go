package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard-api/config"
	"taskboard-api/events"
	"taskboard-api/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the table and queue, or apply the Postgres schema",
	Long: `init-storage prepares the configured backend. It is safe to run
repeatedly: existing tables, queues and schema objects are left alone.`,
	RunE: runInitStorage,
}

func runInitStorage(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Log.Apply(log.StandardLogger())
	ctx := cmd.Context()
	log.WithField("backend", cfg.Store.Backend).Info("storage init starting")

	switch cfg.Store.Backend {
	case config.BackendTable:
		if err := storage.CreateTable(ctx, cfg.Store.ConnectionString, cfg.Store.Table); err != nil {
			return fmt.Errorf("create table %s: %w", cfg.Store.Table, err)
		}
	case config.BackendPostgres:
		pg, err := storage.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	case config.BackendMemory:
		log.Info("memory backend needs no initialization")
	}

	if cfg.Events.Queue != "" {
		if err := events.CreateQueue(ctx, cfg.Store.ConnectionString, cfg.Events.Queue); err != nil {
			return fmt.Errorf("create queue %s: %w", cfg.Events.Queue, err)
		}
	}

	log.Info("storage init complete")
	return nil
}
