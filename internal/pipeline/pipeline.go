// Package pipeline connects event sources to the classifier and mutator.
//
// Both agent variants share one consumer: a Source produces Events, the
// Runner feeds them one at a time through a Processor, and an optional hook
// observes each Result.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/classifier"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Kind tells the processor what an event carries.
type Kind string

const (
	KindFeedback      Kind = "feedback"
	KindContextUpdate Kind = "context_update"
)

// Event is one unit of work for the processor.
type Event struct {
	Kind Kind

	// Text is the feedback to classify (KindFeedback).
	Text string

	// Entry, when set, is appended to the feedback log before classifying.
	Entry *models.FeedbackEntry

	// Redacted lists the credential kinds removed from Entry.
	Redacted []string

	// Focus is the context change to apply (KindContextUpdate).
	Focus *mutator.FocusUpdate

	// Origin names the source that produced the event.
	Origin string

	// Received is when the source observed the event. Latency is measured from it.
	Received time.Time

	// Ack, when set, is called with the result after processing.
	Ack func(Result)
}

// Result describes what processing an event did.
type Result struct {
	Event   Event
	Actions []classifier.Action
	Failed  int
	Latency time.Duration
}

// Source produces events until ctx is cancelled or it fails.
// Run must not close out.
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Event) error
}

// Processor classifies feedback and applies the resulting actions.
type Processor struct {
	classifier *classifier.Classifier
	mutator    *mutator.Mutator
	logger     zerolog.Logger
	now        func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(c *classifier.Classifier, m *mutator.Mutator, logger zerolog.Logger) *Processor {
	return &Processor{
		classifier: c,
		mutator:    m,
		logger:     logger.With().Str("component", "processor").Logger(),
		now:        time.Now,
	}
}

// Process handles one event. Failing actions are logged and dropped; the
// remaining actions still run.
func (p *Processor) Process(ctx context.Context, ev Event) Result {
	res := Result{Event: ev}

	switch ev.Kind {
	case KindContextUpdate:
		if ev.Focus == nil {
			res.Failed++
			p.logger.Warn().Str("origin", ev.Origin).Msg("Context update without payload")
			break
		}
		if err := p.mutator.UpdateFocus(ctx, *ev.Focus); err != nil {
			res.Failed++
			p.logger.Error().Err(err).Msg("Context update failed")
		}

	case KindFeedback:
		if ev.Entry != nil {
			if err := p.mutator.AppendFeedback(ctx, *ev.Entry); err != nil {
				res.Failed++
				p.logger.Error().Err(err).Msg("Feedback log append failed")
			}
		}
		res.Actions = p.classifier.Classify(ev.Text)
		for _, a := range res.Actions {
			if err := p.mutator.Apply(ctx, a); err != nil {
				res.Failed++
				p.logger.Error().Err(err).Str("action", a.String()).Msg("Action failed")
			}
		}

	default:
		res.Failed++
		p.logger.Warn().Str("kind", string(ev.Kind)).Msg("Unknown event kind")
	}

	if !ev.Received.IsZero() {
		res.Latency = p.now().Sub(ev.Received)
	}

	p.logger.Info().
		Str("origin", ev.Origin).
		Str("kind", string(ev.Kind)).
		Int("actions", len(res.Actions)).
		Int("failed", res.Failed).
		Dur("latency", res.Latency).
		Msg("Event processed")
	return res
}

// Runner drives a single source through a processor.
type Runner struct {
	source      Source
	processor   *Processor
	onProcessed func(context.Context, Result)
	logger      zerolog.Logger
}

// NewRunner creates a runner. onProcessed may be nil.
func NewRunner(source Source, processor *Processor, onProcessed func(context.Context, Result), logger zerolog.Logger) *Runner {
	return &Runner{
		source:      source,
		processor:   processor,
		onProcessed: onProcessed,
		logger:      logger.With().Str("component", "runner").Str("source", source.Name()).Logger(),
	}
}

// Run blocks until ctx is cancelled or the source fails. Cancellation is not an error.
func (r *Runner) Run(ctx context.Context) error {
	events := make(chan Event)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)
		return r.source.Run(gctx, events)
	})

	g.Go(func() error {
		for ev := range events {
			res := r.processor.Process(gctx, ev)
			if ev.Ack != nil {
				ev.Ack(res)
			}
			if r.onProcessed != nil {
				r.onProcessed(gctx, res)
			}
		}
		return nil
	})

	r.logger.Info().Msg("Agent started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.logger.Info().Err(err).Msg("Agent stopped")
	return err
}
