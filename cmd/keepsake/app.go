package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kalambet/keepsake/internal/blob"
	"github.com/kalambet/keepsake/internal/cleanup"
	"github.com/kalambet/keepsake/internal/config"
	"github.com/kalambet/keepsake/internal/generation"
	"github.com/kalambet/keepsake/internal/logging"
	"github.com/kalambet/keepsake/internal/pipeline"
	"github.com/kalambet/keepsake/internal/storage"
)

// app holds the components shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *storage.Store
	proc    *pipeline.Processor
	cleanup *cleanup.Processor
	closers []func() error
}

// openApp loads configuration and builds the app. Tests replace it.
var openApp = func(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return buildApp(ctx, cfg, os.Stderr)
}

func buildApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, logOut)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	timeout, err := cfg.GenerationTimeout()
	if err != nil {
		return nil, err
	}
	strategy, err := pipeline.ParseStoryStrategy(cfg.Story.Strategy)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store, closers: []func() error{store.Close}}

	deleter, closeDeleter, err := newDeleter(ctx, cfg.Cleanup)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closeDeleter != nil {
		a.closers = append(a.closers, closeDeleter)
	}

	gen := generation.NewClient(generation.Config{
		APIURL:  cfg.Generation.APIURL,
		APIKey:  cfg.Generation.APIKey,
		Model:   cfg.Generation.Model,
		Timeout: timeout,
	}, logger)
	if !gen.Configured() {
		logger.Warn("generation API key not set, titles and text fall back to defaults",
			"env", "KEEPSAKE_OPENAI_API_KEY")
	}

	a.proc = pipeline.NewProcessor(store, gen, pipeline.Config{Strategy: strategy}, logger)
	a.cleanup = cleanup.NewProcessor(store, deleter, cleanup.Config{
		BatchSize:  cfg.Cleanup.BatchSize,
		MaxRetries: cfg.Cleanup.MaxRetries,
	}, logger)
	return a, nil
}

// newDeleter returns the object-storage backend named by cfg.Backend and an
// optional close function.
func newDeleter(ctx context.Context, cfg config.CleanupConfig) (blob.Deleter, func() error, error) {
	switch cfg.Backend {
	case "gcs":
		s, err := blob.NewGCSStore(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("creating GCS client: %w", err)
		}
		return s, s.Close, nil
	case "local", "":
		return blob.NewLocalStore(cfg.LocalRoot), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown cleanup backend %q", cfg.Backend)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
