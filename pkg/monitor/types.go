package monitor

import (
	"context"

	"github.com/robotalks/capno.go/pkg/maco2"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a generic interface for background runners.
type Runnable interface {
	Run(context.Context) error
}

// Sink receives every decoded measurement.
type Sink interface {
	HandleMeasurement(context.Context, maco2.Measurement) error
}

// SinkFunc is the func form of Sink.
type SinkFunc func(context.Context, maco2.Measurement) error

// HandleMeasurement implements Sink.
func (f SinkFunc) HandleMeasurement(ctx context.Context, m maco2.Measurement) error {
	return f(ctx, m)
}

// StatsSink receives periodic statistics snapshots.
type StatsSink interface {
	HandleStatistics(context.Context, maco2.Statistics) error
}

// StatsSinkFunc is the func form of StatsSink.
type StatsSinkFunc func(context.Context, maco2.Statistics) error

// HandleStatistics implements StatsSink.
func (f StatsSinkFunc) HandleStatistics(ctx context.Context, s maco2.Statistics) error {
	return f(ctx, s)
}
