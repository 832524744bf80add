package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/thebtf/ctxview/internal/config"
	"github.com/thebtf/ctxview/internal/metrics"
	"github.com/thebtf/ctxview/internal/pipeline"
	"github.com/thebtf/ctxview/internal/relay"
	"github.com/thebtf/ctxview/internal/store"
	"github.com/thebtf/ctxview/internal/viewer/wshub"
	"github.com/thebtf/ctxview/internal/watcher"
	"github.com/thebtf/ctxview/pkg/models"
	"golang.org/x/sync/errgroup"
)

var agentFlags runFlags

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Classify submitted feedback and apply it to the documents",
	Long: `Run the feedback agent.

Without --push the agent polls identity_query.json and processes each pending
query once. With --push it subscribes to the Redis feedback and context update
channels, records time-to-interaction for every message and broadcasts it to
WebSocket clients on --ws-port.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	agentFlags.register(agentCmd)
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, &agentFlags)
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
	processor := pipeline.NewProcessor(c, m, log.Logger)

	if cfg.Push {
		return runPushAgent(ctx, cfg, processor)
	}

	poll := watcher.PollConfig{
		Interval: cfg.PollInterval,
		Backoff:  cfg.ErrorBackoff,
	}
	if fb, ok := docs.Backend().(*store.FileBackend); ok {
		poll.WatchDir = fb.Dir()
	}
	source := watcher.NewPollSource(docs, m, poll, log.Logger)

	log.Info().
		Str("path", cfg.BasePath).
		Dur("interval", cfg.PollInterval).
		Msg("Polling agent started")
	err = pipeline.NewRunner(source, processor, logResult, log.Logger).Run(ctx)
	log.Info().Msg("Polling agent stopped")
	return err
}

// runPushAgent subscribes to the relay channels and serves the WebSocket hub
// until ctx is cancelled. An unreachable Redis fails startup.
func runPushAgent(ctx context.Context, cfg *config.Config, processor *pipeline.Processor) error {
	client, err := relay.Dial(ctx, cfg.RedisURL, cfg.ChannelPrefix, log.Logger)
	if err != nil {
		return err
	}
	defer client.Close()

	shutdownMetrics, err := metrics.Setup(ctx, metrics.ExportConfig{
		Endpoint: cfg.MetricsEndpoint,
		Interval: cfg.MetricsInterval,
		Insecure: cfg.MetricsInsecure,
		Version:  Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			log.Warn().Err(err).Msg("Metric export shutdown failed")
		}
	}()
	if cfg.MetricsEndpoint != "" {
		log.Info().Str("endpoint", cfg.MetricsEndpoint).Msg("Exporting metrics over OTLP")
	}

	tti, err := metrics.NewTTI(cfg.TTIWindow, cfg.TTITargetMS, nil)
	if err != nil {
		return err
	}

	hub := wshub.New(log.Logger)
	ln, err := net.Listen("tcp", cfg.WSAddr())
	if err != nil {
		return err
	}
	hubServer := &http.Server{Handler: hub, ReadHeaderTimeout: 10 * time.Second}

	reporter := &completionReporter{
		tti:      tti,
		relay:    client,
		clients:  hub,
		cacheTTL: cfg.CacheTTL,
		now:      time.Now,
	}

	source := relay.NewSource(client, cfg.ErrorBackoff, log.Logger)
	runner := pipeline.NewRunner(source, processor, reporter.onProcessed, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hubServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return hubServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return runner.Run(gctx)
	})

	log.Info().
		Str("redis", cfg.RedisURL).
		Str("ws_addr", ln.Addr().String()).
		Str("feedback_channel", client.Channel(relay.ChannelFeedback)).
		Str("context_channel", client.Channel(relay.ChannelContextUpdate)).
		Msg("Push agent started")

	err = g.Wait()
	log.Info().Msg("Push agent stopped")
	return err
}

// statsRelay is where the push agent reports processed submissions.
type statsRelay interface {
	SaveStats(ctx context.Context, s metrics.Stats) error
	CacheSubmission(ctx context.Context, entry models.FeedbackEntry, ttl time.Duration) error
}

// broadcaster fans a message out to the connected viewers.
type broadcaster interface {
	Broadcast(v any) int
}

// completionReporter records TTI for each processed event, stores the
// summary and the submission in Redis and tells connected viewers.
// Relay failures are logged and do not stop the broadcast.
type completionReporter struct {
	tti      *metrics.TTI
	relay    statsRelay
	clients  broadcaster
	cacheTTL time.Duration
	now      func() time.Time
}

func (r *completionReporter) onProcessed(ctx context.Context, res pipeline.Result) {
	logResult(ctx, res)

	stats := r.tti.Record(ctx, res.Latency, res.Event.Origin)
	if err := r.relay.SaveStats(ctx, stats); err != nil {
		log.Warn().Err(err).Msg("Failed to save TTI stats")
	}
	if res.Event.Entry != nil {
		if err := r.relay.CacheSubmission(ctx, *res.Event.Entry, r.cacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache submission")
		}
	}
	sent := r.clients.Broadcast(wshub.ProcessingComplete(stats, r.now()))
	log.Debug().
		Float64("tti_ms", stats.CurrentMS).
		Float64("avg_tti_ms", stats.AvgMS).
		Int("clients", sent).
		Msg("Processing complete")
}

func logResult(_ context.Context, res pipeline.Result) {
	ev := log.Info()
	if res.Failed > 0 {
		ev = log.Warn().Int("failed", res.Failed)
	}
	if res.Event.Focus != nil {
		ev = ev.Str("focus", res.Event.Focus.ActiveFocus)
	}
	ev.Str("kind", string(res.Event.Kind)).
		Str("origin", res.Event.Origin).
		Int("actions", len(res.Actions)).
		Dur("latency", res.Latency).
		Msg("Feedback processed")
}
