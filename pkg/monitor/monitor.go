package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/capno.go/pkg/maco2"
)

// Default intervals.
const (
	DefaultInterval      = 125 * time.Millisecond
	DefaultStatsInterval = 10 * time.Second
)

// Monitor owns the parser and drives it periodically, sending queued
// commands and fanning decoded measurements out to sinks.
type Monitor struct {
	Parser        *maco2.Parser
	Transport     maco2.Transport
	Interval      time.Duration
	StatsInterval time.Duration
	Commands      *CommandQueue
	Sinks         []Sink
	StatsSinks    []StatsSink

	runners   []Runnable
	lastStats time.Time
}

// transportErr is implemented by transports which fail permanently.
type transportErr interface {
	Err() error
}

// New creates a Monitor.
func New(parser *maco2.Parser, transport maco2.Transport) *Monitor {
	return &Monitor{
		Parser:        parser,
		Transport:     transport,
		Interval:      DefaultInterval,
		StatsInterval: DefaultStatsInterval,
		Commands:      NewCommandQueue(DefaultCommandQueueSize),
	}
}

// AddSink registers measurement sinks. Sinks which are also Runnable are
// run together with the monitor.
func (m *Monitor) AddSink(sinks ...Sink) *Monitor {
	for _, sink := range sinks {
		m.Sinks = append(m.Sinks, sink)
		m.addRunner(sink)
	}
	return m
}

// AddStatsSink registers statistics sinks. Unlike AddSink, Runnable
// stats sinks are not run; use AddRunnable for them.
func (m *Monitor) AddStatsSink(sinks ...StatsSink) *Monitor {
	m.StatsSinks = append(m.StatsSinks, sinks...)
	return m
}

// AddRunnable adds Runnables run together with the monitor.
func (m *Monitor) AddRunnable(runnables ...Runnable) *Monitor {
	m.runners = append(m.runners, runnables...)
	return m
}

func (m *Monitor) addRunner(v interface{}) {
	if r, ok := v.(Runnable); ok {
		m.runners = append(m.runners, r)
	}
}

// Run implements Runnable.
func (m *Monitor) Run(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	runner := NewRunnerWith(subCtx).Go(m.runners...)
	defer func() {
		cancel()
		if err := runner.Wait(); err != nil {
			glog.Errorf("monitor runners: %v", err)
		}
	}()

	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Poll(ctx)
			if t, ok := m.Transport.(transportErr); ok {
				if err := t.Err(); err != nil {
					return fmt.Errorf("transport: %w", err)
				}
			}
		}
	}
}

// Poll runs one iteration: send queued commands, ingest available bytes,
// fan out measurements and publish statistics when due.
// It returns the number of measurements decoded.
func (m *Monitor) Poll(ctx context.Context) int {
	m.sendCommands()

	ms := m.Parser.IngestAll(m.Transport)
	for _, meas := range ms {
		var errs AggregatedError
		for _, sink := range m.Sinks {
			errs.Add(sink.HandleMeasurement(ctx, meas))
		}
		if err := errs.Aggregate(); err != nil {
			glog.Errorf("sink: %v", err)
		}
	}

	m.publishStats(ctx)
	return len(ms)
}

func (m *Monitor) sendCommands() {
	if m.Commands == nil {
		return
	}
	for {
		cmd, ok := m.Commands.Dequeue()
		if !ok {
			return
		}
		if err := maco2.SendCommand(m.Transport, cmd); err != nil {
			glog.Errorf("send command %s: %v", cmd, err)
		}
	}
}

func (m *Monitor) publishStats(ctx context.Context) {
	if len(m.StatsSinks) == 0 || m.StatsInterval <= 0 {
		return
	}
	now := m.now()
	if !m.lastStats.IsZero() && now.Sub(m.lastStats) < m.StatsInterval {
		return
	}
	m.lastStats = now
	stats := m.Parser.Statistics()
	var errs AggregatedError
	for _, sink := range m.StatsSinks {
		errs.Add(sink.HandleStatistics(ctx, stats))
	}
	if err := errs.Aggregate(); err != nil {
		glog.Errorf("stats sink: %v", err)
	}
}

func (m *Monitor) now() time.Time {
	if m.Parser.Clock != nil {
		return m.Parser.Clock.Now()
	}
	return maco2.SystemClock.Now()
}
