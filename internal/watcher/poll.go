// Package watcher produces pipeline events from the document store and
// reports document changes to the viewer.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/pipeline"
	"github.com/thebtf/ctxview/internal/store"
)

// OriginPoll marks events produced by PollSource.
const OriginPoll = "poll"

// PollConfig controls PollSource timing.
type PollConfig struct {
	Interval time.Duration
	Backoff  time.Duration
	// WatchDir, when set, is watched with fsnotify so a new identity query
	// is picked up before the next tick.
	WatchDir string
}

// PollSource reads the identity query slot and emits each pending query once.
//
// The source is idle until it finds a pending query it has not seen, then
// waits for the pipeline to finish with it before marking it processed.
type PollSource struct {
	docs    *store.Documents
	mutator *mutator.Mutator
	config  PollConfig
	seen    map[string]struct{}
	logger  zerolog.Logger
	now     func() time.Time
}

// NewPollSource creates a polling source.
func NewPollSource(docs *store.Documents, m *mutator.Mutator, config PollConfig, logger zerolog.Logger) *PollSource {
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.Backoff <= 0 {
		config.Backoff = 5 * time.Second
	}
	return &PollSource{
		docs:    docs,
		mutator: m,
		config:  config,
		seen:    make(map[string]struct{}),
		logger:  logger.With().Str("component", "poll-source").Logger(),
		now:     time.Now,
	}
}

// Name implements pipeline.Source.
func (s *PollSource) Name() string {
	return OriginPoll
}

// Run polls until ctx is cancelled.
func (s *PollSource) Run(ctx context.Context, out chan<- pipeline.Event) error {
	var (
		nudges <-chan fsnotify.Event
		errs   <-chan error
	)
	if s.config.WatchDir != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn().Err(err).Msg("File notifications unavailable, polling only")
		} else {
			defer w.Close()
			if err := w.Add(s.config.WatchDir); err != nil {
				s.logger.Warn().Err(err).Str("dir", s.config.WatchDir).Msg("Cannot watch directory, polling only")
			} else {
				nudges, errs = w.Events, w.Errors
			}
		}
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.config.Interval).Msg("Watching for identity queries")

	for {
		if err := s.check(ctx, out); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Dur("backoff", s.config.Backoff).Msg("Poll cycle failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.config.Backoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case ev, ok := <-nudges:
			if !ok {
				nudges = nil
				continue
			}
			if !isQueryWrite(ev) {
				continue
			}
			s.logger.Debug().Str("op", ev.Op.String()).Msg("Identity query changed")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func isQueryWrite(ev fsnotify.Event) bool {
	if filepath.Base(ev.Name) != string(store.IdentityQuery) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Rename)
}

// check emits the stored query if it is pending and unseen, then waits for
// the pipeline before marking it processed.
func (s *PollSource) check(ctx context.Context, out chan<- pipeline.Event) error {
	q, err := s.docs.LoadQuery(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !q.IsPending() {
		return nil
	}
	id := q.Identity()
	if _, ok := s.seen[id]; ok {
		return nil
	}

	s.logger.Info().Str("query", id).Msg("Processing feedback")

	done := make(chan pipeline.Result, 1)
	ev := pipeline.Event{
		Kind:     pipeline.KindFeedback,
		Text:     q.FeedbackContent,
		Origin:   OriginPoll,
		Received: s.now(),
		Ack:      func(r pipeline.Result) { done <- r },
	}

	select {
	case out <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.seen[id] = struct{}{}
	err = s.mutator.MarkProcessed(ctx, q)
	if errors.Is(err, mutator.ErrQuerySuperseded) {
		s.logger.Info().Str("query", id).Msg("Query replaced while processing")
		return nil
	}
	return err
}
