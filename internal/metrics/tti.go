// Package metrics tracks time-to-interaction for processed feedback.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Defaults for the rolling window.
const (
	DefaultWindow   = 100
	DefaultTargetMS = 50
)

// AttrOrigin labels samples with the source that produced the event.
const AttrOrigin = attribute.Key("ctxview.origin")

// Stats summarizes the samples in the window.
type Stats struct {
	CurrentMS   float64 `json:"current_tti_ms"`
	AvgMS       float64 `json:"avg_tti_ms"`
	MinMS       float64 `json:"min_tti_ms"`
	MaxMS       float64 `json:"max_tti_ms"`
	SampleCount int     `json:"sample_count"`
	TargetMS    float64 `json:"target_tti_ms"`
}

// EmptyStats is reported before any sample is recorded.
func EmptyStats(targetMS float64) Stats {
	return Stats{TargetMS: targetMS}
}

// TTI keeps the most recent samples in memory and mirrors every sample to
// an OpenTelemetry histogram.
type TTI struct {
	mu       sync.Mutex
	samples  []float64
	window   int
	targetMS float64
	hist     metric.Float64Histogram
}

// NewTTI creates a tracker. A nil meter uses the global meter provider.
func NewTTI(window int, targetMS float64, meter metric.Meter) (*TTI, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	hist, err := meter.Float64Histogram("ctxview.tti",
		metric.WithDescription("Time from feedback receipt to documents updated"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}
	return &TTI{
		samples:  make([]float64, 0, window),
		window:   window,
		targetMS: targetMS,
		hist:     hist,
	}, nil
}

// Record adds a sample and returns the updated summary.
func (t *TTI) Record(ctx context.Context, d time.Duration, origin string) Stats {
	ms := float64(d.Microseconds()) / 1000
	t.hist.Record(ctx, ms, metric.WithAttributes(AttrOrigin.String(origin)))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, ms)
	if len(t.samples) > t.window {
		t.samples = append(t.samples[:0], t.samples[len(t.samples)-t.window:]...)
	}
	return t.statsLocked()
}

// Stats returns the current summary.
func (t *TTI) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.statsLocked()
}

func (t *TTI) statsLocked() Stats {
	s := EmptyStats(t.targetMS)
	if len(t.samples) == 0 {
		return s
	}
	s.SampleCount = len(t.samples)
	s.CurrentMS = t.samples[len(t.samples)-1]
	s.MinMS = t.samples[0]
	s.MaxMS = t.samples[0]
	var sum float64
	for _, v := range t.samples {
		sum += v
		s.MinMS = min(s.MinMS, v)
		s.MaxMS = max(s.MaxMS, v)
	}
	s.AvgMS = sum / float64(len(t.samples))
	return s
}
