package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/pipeline"
	"github.com/thebtf/ctxview/internal/store"
	"github.com/thebtf/ctxview/pkg/models"
)

func startPoll(t *testing.T, docs *store.Documents, config PollConfig) (<-chan pipeline.Event, context.CancelFunc, <-chan error) {
	t.Helper()
	m := mutator.New(docs, zerolog.Nop())
	src := NewPollSource(docs, m, config, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan pipeline.Event)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx, out) }()
	t.Cleanup(cancel)
	return out, cancel, errCh
}

func receive(t *testing.T, out <-chan pipeline.Event) pipeline.Event {
	t.Helper()
	select {
	case ev := <-out:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event emitted")
		return pipeline.Event{}
	}
}

func TestPollSource_ProcessesPendingQueryOnce(t *testing.T) {
	ctx := context.Background()
	docs := store.New(store.NewMemoryBackend())
	m := mutator.New(docs, zerolog.Nop())

	q, err := m.SubmitQuery(ctx, "make it calm")
	require.NoError(t, err)

	out, cancel, errCh := startPoll(t, docs, PollConfig{Interval: 10 * time.Millisecond, Backoff: 10 * time.Millisecond})

	ev := receive(t, out)
	assert.Equal(t, pipeline.KindFeedback, ev.Kind)
	assert.Equal(t, "make it calm", ev.Text)
	assert.Equal(t, OriginPoll, ev.Origin)
	assert.Nil(t, ev.Entry)
	require.NotNil(t, ev.Ack)
	ev.Ack(pipeline.Result{Event: ev})

	require.Eventually(t, func() bool {
		stored, err := docs.LoadQuery(ctx)
		return err == nil && stored.Status == models.QueryStatusProcessed
	}, 5*time.Second, 10*time.Millisecond)

	// Resetting the same query to pending does not re-emit it.
	require.NoError(t, docs.SaveQuery(ctx, q))
	select {
	case ev := <-out:
		t.Fatalf("query emitted twice: %q", ev.Text)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestPollSource_NewSubmissionIsProcessed(t *testing.T) {
	ctx := context.Background()
	docs := store.New(store.NewMemoryBackend())
	m := mutator.New(docs, zerolog.Nop())

	out, _, _ := startPoll(t, docs, PollConfig{Interval: 10 * time.Millisecond})

	_, err := m.SubmitQuery(ctx, "first")
	require.NoError(t, err)
	ev := receive(t, out)
	assert.Equal(t, "first", ev.Text)

	// A second submission lands while the first is being processed.
	m.SetClock(func() time.Time { return time.Now().Add(time.Second) })
	_, err = m.SubmitQuery(ctx, "second")
	require.NoError(t, err)
	ev.Ack(pipeline.Result{})

	ev = receive(t, out)
	assert.Equal(t, "second", ev.Text)
	ev.Ack(pipeline.Result{})

	require.Eventually(t, func() bool {
		stored, err := docs.LoadQuery(ctx)
		return err == nil && stored.FeedbackContent == "second" && !stored.IsPending()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPollSource_RecoversAfterBackoff(t *testing.T) {
	ctx := context.Background()
	docs := store.New(store.NewMemoryBackend())
	m := mutator.New(docs, zerolog.Nop())
	require.NoError(t, docs.Backend().Write(ctx, store.IdentityQuery, []byte(`{"status":`)))

	// With an hour-long interval only the error backoff can trigger another check.
	out, cancel, errCh := startPoll(t, docs, PollConfig{Interval: time.Hour, Backoff: 20 * time.Millisecond})

	select {
	case ev := <-out:
		t.Fatalf("malformed query emitted: %q", ev.Text)
	case <-time.After(100 * time.Millisecond):
	}

	_, err := m.SubmitQuery(ctx, "recovered")
	require.NoError(t, err)

	ev := receive(t, out)
	assert.Equal(t, "recovered", ev.Text)
	ev.Ack(pipeline.Result{})

	require.Eventually(t, func() bool {
		stored, err := docs.LoadQuery(ctx)
		return err == nil && stored.Status == models.QueryStatusProcessed
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestPollSource_FileNudge(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	docs := store.New(store.NewFileBackend(dir))
	m := mutator.New(docs, zerolog.Nop())

	// The interval is long enough that only the fsnotify nudge can trigger the check.
	out, _, _ := startPoll(t, docs, PollConfig{Interval: time.Hour, WatchDir: dir})
	time.Sleep(50 * time.Millisecond)

	_, err := m.SubmitQuery(ctx, "nudged")
	require.NoError(t, err)

	ev := receive(t, out)
	assert.Equal(t, "nudged", ev.Text)
	ev.Ack(pipeline.Result{})
}

func TestChangeDetector_Scan(t *testing.T) {
	ctx := context.Background()

	for name, backend := range map[string]store.Backend{
		"memory": store.NewMemoryBackend(),
		"file":   store.NewFileBackend(t.TempDir()),
	} {
		t.Run(name, func(t *testing.T) {
			d := NewChangeDetector(backend, time.Hour, nil, zerolog.Nop())

			assert.Empty(t, d.Scan(ctx), "first scan is the baseline")

			require.NoError(t, backend.Write(ctx, store.UXConfig, []byte(`{"theme":"zen_mode"}`)))
			assert.Equal(t, []store.Name{store.UXConfig}, d.Scan(ctx))
			assert.Empty(t, d.Scan(ctx))

			require.NoError(t, backend.Write(ctx, store.UXConfig, []byte(`{"theme":"dark_mode","x":1}`)))
			require.NoError(t, backend.Write(ctx, store.Memory, []byte("# notes\n")))
			assert.ElementsMatch(t, []store.Name{store.UXConfig, store.Memory}, d.Scan(ctx))

			// The identity query slot is not watched.
			require.NoError(t, backend.Write(ctx, store.IdentityQuery, []byte(`{}`)))
			assert.Empty(t, d.Scan(ctx))
		})
	}
}

func TestChangeDetector_RunNotifies(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := store.NewFileBackend(t.TempDir())
	changes := make(chan []store.Name, 4)
	d := NewChangeDetector(backend, 20*time.Millisecond, func(names []store.Name) { changes <- names }, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, backend.Write(ctx, store.Context, []byte(`{"current_context":{}}`)))

	select {
	case names := <-changes:
		assert.Contains(t, names, store.Context)
	case <-time.After(5 * time.Second):
		t.Fatal("change not reported")
	}

	cancel()
	assert.NoError(t, <-done)
}
