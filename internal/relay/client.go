// Package relay carries feedback between the viewer and the push agent over
// Redis publish/subscribe, and keeps the submission cache and TTI stats.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog"
	"github.com/thebtf/ctxview/internal/metrics"
	"github.com/thebtf/ctxview/internal/mutator"
	"github.com/thebtf/ctxview/pkg/models"
)

// Channel and key suffixes appended to the configured prefix.
const (
	ChannelFeedback      = "feedback"
	ChannelContextUpdate = "context_update"
	KeyStats             = "tti"

	submissionKeyPrefix = "feedback:"
)

// Client wraps a redigo pool.
type Client struct {
	pool   *redis.Pool
	prefix string
	logger zerolog.Logger
}

// Dial connects to url and verifies the server answers PING.
func Dial(ctx context.Context, url, prefix string, logger zerolog.Logger) (*Client, error) {
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialURLContext(ctx, url,
				redis.DialConnectTimeout(5*time.Second),
			)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	c := &Client{
		pool:   pool,
		prefix: prefix,
		logger: logger.With().Str("component", "relay").Logger(),
	}
	if err := c.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", url, err)
	}
	c.logger.Info().Str("url", url).Msg("Connected to Redis")
	return c, nil
}

// Channel returns the full name for a channel or key suffix.
func (c *Client) Channel(name string) string {
	return c.prefix + name
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, func(conn redis.Conn) error {
		_, err := redis.String(redis.DoContext(conn, ctx, "PING"))
		return err
	})
}

func (c *Client) do(ctx context.Context, fn func(redis.Conn) error) error {
	conn, err := c.pool.GetContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// Publish sends payload as JSON on the prefixed channel and returns the
// number of subscribers that received it.
func (c *Client) Publish(ctx context.Context, channel string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", channel, err)
	}
	var receivers int
	err = c.do(ctx, func(conn redis.Conn) error {
		receivers, err = redis.Int(redis.DoContext(conn, ctx, "PUBLISH", c.Channel(channel), data))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("publish %s: %w", channel, err)
	}
	return receivers, nil
}

// PublishFeedback publishes a submission for the push agent.
func (c *Client) PublishFeedback(ctx context.Context, entry models.FeedbackEntry) error {
	n, err := c.Publish(ctx, ChannelFeedback, entry)
	if err != nil {
		return err
	}
	if n == 0 {
		c.logger.Warn().Msg("Feedback published but no agent is subscribed")
	}
	return nil
}

// PublishContextUpdate publishes a focus change for the push agent.
func (c *Client) PublishContextUpdate(ctx context.Context, u mutator.FocusUpdate) error {
	_, err := c.Publish(ctx, ChannelContextUpdate, u)
	return err
}

// SubmissionKey is the cache key of a submission.
func SubmissionKey(timestamp string) string {
	return submissionKeyPrefix + timestamp
}

// CacheSubmission stores a processed submission for ttl.
func (c *Client) CacheSubmission(ctx context.Context, entry models.FeedbackEntry, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	seconds := max(int(ttl/time.Second), 1)
	return c.do(ctx, func(conn redis.Conn) error {
		_, err := redis.DoContext(conn, ctx, "SETEX", SubmissionKey(entry.Timestamp), seconds, data)
		return err
	})
}

// SaveStats stores the TTI summary.
func (c *Client) SaveStats(ctx context.Context, s metrics.Stats) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.do(ctx, func(conn redis.Conn) error {
		_, err := redis.DoContext(conn, ctx, "SET", c.Channel(KeyStats), data)
		return err
	})
}

// LoadStats returns the stored TTI summary. ok is false when none was saved.
func (c *Client) LoadStats(ctx context.Context) (s metrics.Stats, ok bool, err error) {
	var data []byte
	err = c.do(ctx, func(conn redis.Conn) error {
		data, err = redis.Bytes(redis.DoContext(conn, ctx, "GET", c.Channel(KeyStats)))
		return err
	})
	if errors.Is(err, redis.ErrNil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, false, fmt.Errorf("decode stats: %w", err)
	}
	return s, true, nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.pool.Close()
}
