package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mediamind/mediamind/internal/analyze"
	"github.com/mediamind/mediamind/internal/config"
	"github.com/mediamind/mediamind/internal/index"
	"github.com/mediamind/mediamind/internal/scanner"
	"github.com/mediamind/mediamind/internal/search"
	"github.com/mediamind/mediamind/internal/store"
)

// app bundles the wired components one command invocation needs. Commands
// open only what they use; Close releases everything that was opened.
type app struct {
	cfg      *config.Config
	meta     *store.SQLiteStore
	vectors  *store.HNSWIndex
	analyzer *analyze.OllamaAnalyzer
}

// openApp loads the config and opens the metadata store and vector index.
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	meta, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}

	vectors, err := store.NewHNSWIndex(store.HNSWConfig{
		Path:       cfg.VectorIndexPath(),
		Dimensions: cfg.Analyzer.Dimensions,
	})
	if err != nil {
		_ = meta.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}

	return &app{cfg: cfg, meta: meta, vectors: vectors}, nil
}

// withAnalyzer connects to Ollama. Commands that only read the index skip
// this.
func (a *app) withAnalyzer(ctx context.Context) error {
	analyzer, err := analyze.NewOllamaAnalyzer(ctx, analyze.Config{
		Host:        a.cfg.Analyzer.OllamaHost,
		VisionModel: a.cfg.Analyzer.VisionModel,
		TextModel:   a.cfg.Analyzer.TextModel,
		EmbedModel:  a.cfg.Analyzer.EmbedModel,
		Dimensions:  a.cfg.Analyzer.Dimensions,
		Timeout:     a.cfg.Analyzer.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Ollama at %s: %w", a.cfg.Analyzer.OllamaHost, err)
	}
	a.analyzer = analyzer
	return nil
}

// newUpdater wires the incremental indexing pipeline. Requires withAnalyzer.
func (a *app) newUpdater() (*index.Updater, error) {
	sc := scanner.New(scanner.Options{
		ImageExtensions:    a.cfg.Media.ImageExtensions,
		VideoExtensions:    a.cfg.Media.VideoExtensions,
		DocumentExtensions: a.cfg.Media.DocumentExtensions,
		ExcludeDirs:        a.cfg.Paths.Exclude,
		MaxFileSize:        int64(a.cfg.Media.MaxFileSizeMB) * 1024 * 1024,
	})

	retry := analyze.DefaultRetryConfig()
	retry.MaxRetries = a.cfg.Analyzer.MaxRetries

	return index.NewUpdater(a.meta, a.meta, a.vectors, a.analyzer, sc, index.Config{
		Workers: a.cfg.Indexer.Workers,
		Retry:   retry,
		DataDir: a.cfg.Storage.DataDir,
	})
}

// newEngine wires the search engine. The analyzer is optional: without it
// semantic and hybrid modes degrade to keyword-only.
func (a *app) newEngine() (*search.Engine, error) {
	var analyzer analyze.Analyzer
	if a.analyzer != nil {
		analyzer = a.analyzer
	}
	return search.NewEngine(a.meta, a.vectors, analyzer, search.Config{
		DefaultLimit: a.cfg.Search.DefaultLimit,
		MaxLimit:     a.cfg.Search.MaxLimit,
		RRFConstant:  a.cfg.Search.RRFConstant,
		Weights: search.Weights{
			Keyword:  a.cfg.Search.KeywordWeight,
			Semantic: a.cfg.Search.SemanticWeight,
		},
	})
}

// Close releases every opened component.
func (a *app) Close() {
	if a.analyzer != nil {
		a.analyzer.Close()
	}
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			slog.Warn("failed to close vector index", slog.String("error", err.Error()))
		}
	}
	if a.meta != nil {
		if err := a.meta.Close(); err != nil {
			slog.Warn("failed to close metadata store", slog.String("error", err.Error()))
		}
	}
}
