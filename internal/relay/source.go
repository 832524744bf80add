package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/pipeline"
	"github.com/thebtf/ctxview/pkg/models"
)

// OriginChannel marks events received from Redis.
const OriginChannel = "pubsub"

// Source subscribes to the feedback and context update channels.
type Source struct {
	client  *Client
	backoff time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSource creates a subscribing source. Transient receive errors are
// followed by backoff and a fresh subscription.
func NewSource(client *Client, backoff time.Duration, logger zerolog.Logger) *Source {
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	return &Source{
		client:  client,
		backoff: backoff,
		logger:  logger.With().Str("component", "relay-source").Logger(),
		now:     time.Now,
	}
}

// Name implements pipeline.Source.
func (s *Source) Name() string {
	return OriginChannel
}

// Run receives until ctx is cancelled.
func (s *Source) Run(ctx context.Context, out chan<- pipeline.Event) error {
	for {
		err := s.subscribe(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error().Err(err).Dur("backoff", s.backoff).Msg("Subscription lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

func (s *Source) subscribe(ctx context.Context, out chan<- pipeline.Event) error {
	conn, err := s.client.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	psc := redis.PubSubConn{Conn: conn}
	defer psc.Close()

	feedback := s.client.Channel(ChannelFeedback)
	contextUpdate := s.client.Channel(ChannelContextUpdate)
	if err := psc.Subscribe(feedback, contextUpdate); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		switch v := psc.ReceiveContext(ctx).(type) {
		case redis.Message:
			ev, err := Decode(v.Channel, v.Data, feedback, contextUpdate, s.now())
			if err != nil {
				s.logger.Warn().Err(err).Str("channel", v.Channel).Msg("Dropping message")
				continue
			}
			if len(ev.Redacted) > 0 {
				s.logger.Warn().Strs("kinds", ev.Redacted).Msg("Redacted credentials from feedback")
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case redis.Subscription:
			s.logger.Info().Str("kind", v.Kind).Str("channel", v.Channel).Int("count", v.Count).Msg("Subscription changed")
		case error:
			return v
		}
	}
}

// Decode turns a channel message into a pipeline event.
func Decode(channel string, data []byte, feedbackChannel, contextChannel string, now time.Time) (pipeline.Event, error) {
	switch channel {
	case feedbackChannel:
		var entry models.FeedbackEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return pipeline.Event{}, fmt.Errorf("decode feedback: %w", err)
		}
		if entry.Source == "" {
			entry.Source = mutator.SourceChannel
		}
		entry, redacted := mutator.Normalize(entry, now)
		if entry.Note == "" {
			return pipeline.Event{}, errors.New("feedback without note")
		}
		return pipeline.Event{
			Kind:     pipeline.KindFeedback,
			Text:     entry.Note,
			Entry:    &entry,
			Redacted: redacted,
			Origin:   OriginChannel,
			Received: now,
		}, nil

	case contextChannel:
		var u mutator.FocusUpdate
		if err := json.Unmarshal(data, &u); err != nil {
			return pipeline.Event{}, fmt.Errorf("decode context update: %w", err)
		}
		if u.IsEmpty() {
			return pipeline.Event{}, errors.New("empty context update")
		}
		return pipeline.Event{
			Kind:     pipeline.KindContextUpdate,
			Focus:    &u,
			Origin:   OriginChannel,
			Received: now,
		}, nil

	default:
		return pipeline.Event{}, fmt.Errorf("unexpected channel %q", channel)
	}
}
