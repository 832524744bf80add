package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebtf/ctxview/internal/classifier"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/store"
	"github.com/thebtf/ctxview/pkg/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sliceSource emits a fixed list of events, then waits for cancellation.
type sliceSource struct {
	events []Event
	err    error
}

func (s *sliceSource) Name() string { return "slice" }

func (s *sliceSource) Run(ctx context.Context, out chan<- Event) error {
	for _, ev := range s.events {
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func newProcessor(t *testing.T) (*Processor, *store.Documents) {
	t.Helper()
	docs := store.New(store.NewMemoryBackend())
	m := mutator.New(docs, zerolog.Nop())
	return NewProcessor(classifier.New(nil), m, zerolog.Nop()), docs
}

func TestProcess_FeedbackWithEntry(t *testing.T) {
	ctx := context.Background()
	p, docs := newProcessor(t)

	entry := models.FeedbackEntry{Timestamp: "2026-01-01T00:00:00.000Z", Type: "quick_note", Category: "user_input", Note: "love it", Source: "pubsub"}
	res := p.Process(ctx, Event{
		Kind:     KindFeedback,
		Text:     "love it",
		Entry:    &entry,
		Received: time.Now().Add(-10 * time.Millisecond),
	})

	assert.Zero(t, res.Failed)
	require.Len(t, res.Actions, 1)
	assert.Equal(t, models.CategorySuccessfulPatterns, res.Actions[0].Category)
	assert.GreaterOrEqual(t, res.Latency, 10*time.Millisecond)

	doc, err := docs.LoadFeedback(ctx)
	require.NoError(t, err)
	require.Len(t, doc.FeedbackLog, 1)
	assert.Equal(t, entry, doc.FeedbackLog[0])
	assert.Equal(t, []string{"love it"}, doc.Insights[models.CategorySuccessfulPatterns])
}

func TestProcess_ContextUpdate(t *testing.T) {
	ctx := context.Background()
	p, docs := newProcessor(t)

	res := p.Process(ctx, Event{Kind: KindContextUpdate, Focus: &mutator.FocusUpdate{ActiveFocus: "Relay"}})
	assert.Zero(t, res.Failed)

	state, err := docs.LoadContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Relay", state.CurrentContext.ActiveFocus)

	res = p.Process(ctx, Event{Kind: KindContextUpdate})
	assert.Equal(t, 1, res.Failed)
}

func TestProcess_FailedActionDoesNotStopOthers(t *testing.T) {
	ctx := context.Background()
	p, docs := newProcessor(t)

	require.NoError(t, docs.Backend().Write(ctx, store.Feedback, []byte("{not json")))

	// "calm and great" yields update_ux (ux_config.json) and add_insight (feedback.json).
	res := p.Process(ctx, Event{Kind: KindFeedback, Text: "calm and great"})
	assert.Equal(t, 1, res.Failed)

	cfg, err := docs.LoadUXConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ThemeZen, cfg.Theme)
}

func TestRunner_ProcessesAndAcks(t *testing.T) {
	p, docs := newProcessor(t)

	var mu sync.Mutex
	var acked, hooked []string
	done := make(chan struct{})

	ev := func(text string) Event {
		return Event{Kind: KindFeedback, Text: text, Ack: func(r Result) {
			mu.Lock()
			acked = append(acked, r.Event.Text)
			mu.Unlock()
		}}
	}
	src := &sliceSource{events: []Event{ev("it is fast"), ev("it is slow")}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := NewRunner(src, p, func(_ context.Context, res Result) {
		mu.Lock()
		hooked = append(hooked, res.Event.Text)
		n := len(hooked)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	}, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("events were not processed")
	}
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"it is fast", "it is slow"}, acked)
	assert.Equal(t, []string{"it is fast", "it is slow"}, hooked)

	doc, err := docs.LoadFeedback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"it is fast"}, doc.PerformanceNotes.FastPatterns)
	assert.Equal(t, []string{"it is slow"}, doc.PerformanceNotes.SlowPatterns)
}

func TestRunner_SourceFailure(t *testing.T) {
	p, _ := newProcessor(t)
	boom := errors.New("subscription lost")

	r := NewRunner(&sliceSource{err: boom}, p, nil, zerolog.Nop())
	assert.ErrorIs(t, r.Run(context.Background()), boom)
}
