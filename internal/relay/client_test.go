package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebtf/ctxview/internal/metrics"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/internal/pipeline"
	"github.com/thebtf/ctxview/pkg/models"
)

func dialTest(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := Dial(context.Background(), "redis://"+srv.Addr(), "ctxview:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestClient_PublishWithoutSubscribers(t *testing.T) {
	client, _ := dialTest(t)

	n, err := client.Publish(context.Background(), ChannelFeedback, map[string]string{"note": "x"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, client.PublishFeedback(context.Background(), models.FeedbackEntry{Note: "x"}))
}

func TestClient_CacheSubmission(t *testing.T) {
	client, srv := dialTest(t)
	entry := models.FeedbackEntry{Timestamp: "2026-05-06T07:08:09.000Z", Note: "too slow", Source: mutator.SourceChannel}

	require.NoError(t, client.CacheSubmission(context.Background(), entry, time.Hour))

	key := SubmissionKey(entry.Timestamp)
	raw, err := srv.Get(key)
	require.NoError(t, err)
	var cached models.FeedbackEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "too slow", cached.Note)
	assert.Equal(t, time.Hour, srv.TTL(key))

	// Sub-second TTLs round up to the one second SETEX accepts.
	entry.Timestamp = "2026-05-06T07:08:10.000Z"
	require.NoError(t, client.CacheSubmission(context.Background(), entry, 10*time.Millisecond))
	assert.Equal(t, time.Second, srv.TTL(SubmissionKey(entry.Timestamp)))
}

func TestClient_Stats(t *testing.T) {
	ctx := context.Background()
	client, srv := dialTest(t)

	_, ok, err := client.LoadStats(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := metrics.Stats{CurrentMS: 12.5, AvgMS: 10, MinMS: 7.5, MaxMS: 12.5, SampleCount: 2, TargetMS: 50}
	require.NoError(t, client.SaveStats(ctx, want))
	assert.True(t, srv.Exists("ctxview:tti"))

	got, ok, err := client.LoadStats(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, srv.Set("ctxview:tti", "{"))
	_, ok, err = client.LoadStats(ctx)
	assert.ErrorContains(t, err, "decode stats")
	assert.False(t, ok)
}

func TestSource_RunDeliversChannelMessages(t *testing.T) {
	client, srv := dialTest(t)
	src := NewSource(client, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan pipeline.Event)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx, out) }()

	require.Eventually(t, func() bool {
		subs := srv.PubSubNumSub(feedbackChannel, contextChannel)
		return subs[feedbackChannel] == 1 && subs[contextChannel] == 1
	}, 5*time.Second, 10*time.Millisecond)

	next := func() pipeline.Event {
		t.Helper()
		select {
		case ev := <-out:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
			return pipeline.Event{}
		}
	}

	// Undecodable messages are dropped without ending the subscription.
	srv.Publish(feedbackChannel, `{"note":`)

	require.NoError(t, client.PublishFeedback(ctx, models.FeedbackEntry{Note: "make it zen"}))
	ev := next()
	assert.Equal(t, pipeline.KindFeedback, ev.Kind)
	assert.Equal(t, "make it zen", ev.Text)
	assert.Equal(t, OriginChannel, ev.Origin)
	require.NotNil(t, ev.Entry)
	assert.Equal(t, mutator.SourceChannel, ev.Entry.Source)

	require.NoError(t, client.PublishContextUpdate(ctx, mutator.FocusUpdate{ActiveFocus: "Relay"}))
	ev = next()
	assert.Equal(t, pipeline.KindContextUpdate, ev.Kind)
	require.NotNil(t, ev.Focus)
	assert.Equal(t, "Relay", ev.Focus.ActiveFocus)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
