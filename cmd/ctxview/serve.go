package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/ctxview/internal/relay"
	"github.com/thebtf/ctxview/internal/viewer"
	"github.com/thebtf/ctxview/internal/watcher"
	"golang.org/x/sync/errgroup"
)

// Submission limits per client address.
const (
	submitRate  = 5
	submitBurst = 10
)

// browserDelay gives the server a moment before the page is opened.
const browserDelay = time.Second

var serveFlags runFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the viewer page and HTTP API",
	Long: `Serve the viewer page and its API over the documents in --path.

Without --push, submissions are written to the feedback log and the identity
query slot for the polling agent. With --push they are published to Redis for
the push agent.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().BoolVar(&serveFlags.noBrowser, "no-browser", false, "Do not open the viewer in a browser")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &serveFlags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, m, err := openMutator(cfg)
	if err != nil {
		return err
	}
	defer docs.Close()

	c, err := newClassifier(cfg)
	if err != nil {
		return err
	}

	opts := viewer.Options{
		Version:     Version,
		SubmitRate:  submitRate,
		SubmitBurst: submitBurst,
	}
	if cfg.Push {
		client, err := relay.Dial(ctx, cfg.RedisURL, cfg.ChannelPrefix, log.Logger)
		if err != nil {
			return err
		}
		defer client.Close()
		opts.Publisher = client
		opts.Stats = client
	}

	svc := viewer.NewService(cfg, m, c, opts)
	if err := svc.Start(); err != nil {
		return err
	}
	log.Info().Str("url", svc.URL()).Str("version", Version).Msg("ctxview viewer ready")

	detector := watcher.NewChangeDetector(docs.Backend(), cfg.PollInterval, svc.NotifyChanged, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return detector.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return svc.Shutdown(shutdownCtx)
	})
	if cfg.OpenBrowser {
		g.Go(func() error {
			viewer.OpenBrowser(gctx, svc.URL(), browserDelay)
			return nil
		})
	}
	return g.Wait()
}
