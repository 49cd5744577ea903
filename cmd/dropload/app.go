package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/dropload/internal/catalog"
	"github.com/JonMunkholm/dropload/internal/config"
	"github.com/JonMunkholm/dropload/internal/jobs"
	"github.com/JonMunkholm/dropload/internal/loader"
	"github.com/JonMunkholm/dropload/internal/progress"
	"github.com/JonMunkholm/dropload/internal/rules"
	"github.com/JonMunkholm/dropload/internal/storage"
)

// app holds the pieces shared by every command that talks to the database.
type app struct {
	cfg     *config.Config
	db      *storage.Postgres
	catalog *catalog.Store // nil without CATALOG_PATH
	tracker *progress.Tracker
	loader  *loader.Loader
	jobs    *jobs.Manager
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, err := storage.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, tracker: progress.NewTracker()}
	slog.Info("connected to database", "max_conns", cfg.Database.MaxConns)

	var registrar loader.Registrar
	if cfg.Catalog.Path != "" {
		store, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("catalog: %w", err)
		}
		a.catalog = store
		registrar = store
	}

	set, err := rules.Load(cfg.Loader.RulesFile)
	if err != nil {
		a.Close()
		return nil, err
	}
	if n := len(set.Rules); n > 0 {
		slog.Info("ingest rules loaded", "file", cfg.Loader.RulesFile, "count", n)
	}

	a.loader = loader.New(db, a.tracker, registrar, loader.Options{
		DefaultSchema:       cfg.Loader.DefaultSchema,
		DefaultMode:         loader.Mode(cfg.Loader.DefaultMode),
		BatchSize:           cfg.Loader.BatchSize,
		ProgressEvery:       cfg.Loader.ProgressEvery,
		SampleRows:          cfg.Loader.SampleRows,
		DateThreshold:       cfg.Loader.DateThreshold,
		ValidationProcedure: cfg.Loader.ValidationProcedure,
		FailOnConflict:      cfg.Loader.FailOnConflict,
		ArchiveDir:          cfg.Watcher.ArchiveDir,
		FailedDir:           cfg.Watcher.FailedDir,
		Rules:               set,
	})
	a.jobs = jobs.NewManager(a.loader, a.tracker, jobs.Options{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		MaxWait:       cfg.Jobs.MaxWaitTime,
		Timeout:       cfg.Jobs.Timeout,
		Retention:     cfg.Jobs.Retention,
	})
	return a, nil
}

func (a *app) Close() {
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			slog.Warn("close catalog", "error", err)
		}
	}
	a.db.Close()
}
