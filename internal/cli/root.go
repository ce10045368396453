// Package cli implements the fieldmark command line interface.
package cli

import (
	"fmt"
	"time"

	"github.com/fieldmark/fieldmark/internal/config"
	"github.com/fieldmark/fieldmark/internal/logger"
	"github.com/fieldmark/fieldmark/internal/pipeline"
	"github.com/fieldmark/fieldmark/internal/store"
	"github.com/fieldmark/fieldmark/internal/tagger"
	"github.com/fieldmark/fieldmark/pkg/providers/openrouter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	debugMode bool
)

// NewRootCommand builds the CLI tree.
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fieldmark",
		Short: "fieldmark turns documents into reusable {{tag}} templates and fills them back in",
		Long: `fieldmark processes DOCX documents: an LLM identifies variable fragments
(names, dates, VINs, amounts), the document is rewritten into a template with
{{tag}} placeholders, and templates are later filled from OCR-extracted data.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .fieldmark.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newProcessCommand())
	rootCmd.AddCommand(newFillCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatsCommand())
	return rootCmd
}

// appContext bundles everything a subcommand needs.
type appContext struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *store.Store
	pipeline *pipeline.Pipeline
	runner   *pipeline.Runner
}

// buildApp loads config and assembles the pipeline stack. withStore controls
// whether the SQLite store is opened (the one-shot commands work on files
// alone).
func buildApp(withStore bool) (*appContext, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Debug = true
	}
	log := logger.New(cfg.Debug)

	client := openrouter.New(openrouter.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: float32(cfg.Temperature),
		MaxTokens:   cfg.MaxTokens,
		Timeout:     time.Duration(cfg.RequestTimeout) * time.Second,
	}, log)

	tg := tagger.New(client, cfg.Taxonomy, log)

	var aiClient *openrouter.Client
	if cfg.AIMatching {
		aiClient = client
	}

	app := &appContext{
		cfg: cfg,
		log: log,
	}
	opts := pipeline.Options{Concurrency: cfg.Concurrency, BatchSize: cfg.BatchSize}
	if aiClient != nil {
		app.pipeline = pipeline.New(tg, aiClient, opts, log)
	} else {
		app.pipeline = pipeline.New(tg, nil, opts, log)
	}

	if withStore {
		st, err := store.Open(cfg.StorePath, log)
		if err != nil {
			return nil, err
		}
		app.store = st
		app.runner = pipeline.NewRunner(app.pipeline, st, 0, log)
	}
	return app, nil
}

func (a *appContext) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.log.Sync()
}
