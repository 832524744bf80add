package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/ctxview/internal/classifier"
	"github.com/thebtf/ctxview/internal/config"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/store"
)

// runFlags are the settings serve and agent accept on the command line.
type runFlags struct {
	port      int
	push      bool
	redisURL  string
	wsPort    int
	store     string
	noBrowser bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.port, "port", config.DefaultPort, "Viewer HTTP port")
	cmd.Flags().BoolVar(&f.push, "push", false, "Use Redis pub/sub instead of polling the identity query")
	cmd.Flags().StringVar(&f.redisURL, "redis", config.DefaultRedisURL, "Redis URL for push mode")
	cmd.Flags().IntVar(&f.wsPort, "ws-port", config.DefaultWSPort, "WebSocket hub port for push mode")
	cmd.Flags().StringVar(&f.store, "store", config.StoreFile, "Document store backend (file or sqlite)")
}

// loadConfig merges the settings file and environment with the flags that
// were set explicitly, then checks the base directory exists.
func loadConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	cfg, err := config.Load(basePath)
	if err != nil {
		return nil, err
	}

	if f != nil {
		flags := cmd.Flags()
		if flags.Changed("port") {
			cfg.Port = f.port
		}
		if flags.Changed("push") {
			cfg.Push = f.push
		}
		if flags.Changed("redis") {
			cfg.RedisURL = f.redisURL
		}
		if flags.Changed("ws-port") {
			cfg.WSPort = f.wsPort
		}
		if flags.Changed("store") {
			cfg.Store = f.store
		}
		if flags.Changed("no-browser") && f.noBrowser {
			cfg.OpenBrowser = false
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	if logLevel == "" {
		if err := applyLevel(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
	}
	if err := cfg.CheckBasePath(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openDocuments opens the configured backend.
func openDocuments(cfg *config.Config) (*store.Documents, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		backend, err := store.NewSQLiteBackend(cfg.SQLiteFile())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.SQLiteFile()).Msg("Using sqlite store")
		return store.New(backend), nil
	default:
		return store.New(store.NewFileBackend(cfg.BasePath)), nil
	}
}

// newClassifier builds the classifier with any keyword overrides from the settings file.
func newClassifier(cfg *config.Config) (*classifier.Classifier, error) {
	if len(cfg.Keywords) == 0 {
		return classifier.New(nil), nil
	}
	vocab, err := classifier.DefaultVocabulary().WithOverrides(cfg.Keywords)
	if err != nil {
		return nil, fmt.Errorf("keywords: %w", err)
	}
	return classifier.New(vocab), nil
}

// openMutator opens the store and wraps it in a mutator. The caller closes the store.
func openMutator(cfg *config.Config) (*store.Documents, *mutator.Mutator, error) {
	docs, err := openDocuments(cfg)
	if err != nil {
		return nil, nil, err
	}
	return docs, mutator.New(docs, log.Logger), nil
}
