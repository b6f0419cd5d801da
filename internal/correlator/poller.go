// Package correlator drives the adaptive poll loop that asks the store for
// new findings and backs off when the target goes quiet, per spec.md §4.5.
package correlator

import (
	"context"
	"time"

	"ricochet.sh/internal/metrics"
	"ricochet.sh/internal/observability"
	"ricochet.sh/internal/store"
)

// quietThreshold is the number of consecutive empty polls tolerated before
// the interval starts backing off.
const quietThreshold = 5

// PollerConfig controls the adaptive backoff loop.
type PollerConfig struct {
	BaseInterval    time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
	ResetOnCallback bool
	Timeout         time.Duration
}

// DefaultPollerConfig mirrors the Python original's PollingConfig defaults.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		BaseInterval:    5 * time.Second,
		MaxInterval:     60 * time.Second,
		BackoffFactor:   1.5,
		ResetOnCallback: true,
		Timeout:         time.Hour,
	}
}

// strategy is the adaptive-interval state machine: it starts at
// BaseInterval and backs off by BackoffFactor, capped at MaxInterval, once
// more than quietThreshold consecutive polls return nothing.
type strategy struct {
	config          PollerConfig
	currentInterval time.Duration
	quietPolls      int
	startTime       time.Time
	started         bool
}

func newStrategy(config PollerConfig) *strategy {
	return &strategy{config: config, currentInterval: config.BaseInterval}
}

func (s *strategy) nextInterval(receivedCallback bool) time.Duration {
	if !s.started {
		s.startTime = time.Now()
		s.started = true
	}

	if receivedCallback && s.config.ResetOnCallback {
		s.currentInterval = s.config.BaseInterval
		s.quietPolls = 0
	} else {
		s.quietPolls++
		if s.quietPolls > quietThreshold {
			backed := time.Duration(float64(s.currentInterval) * s.config.BackoffFactor)
			if backed > s.config.MaxInterval {
				backed = s.config.MaxInterval
			}
			s.currentInterval = backed
		}
	}
	return s.currentInterval
}

func (s *strategy) isTimedOut() bool {
	if !s.started {
		return false
	}
	return time.Since(s.startTime) > s.config.Timeout
}

func (s *strategy) elapsed() time.Duration {
	if !s.started {
		return 0
	}
	return time.Since(s.startTime)
}

// Callback is invoked with every batch of findings a poll discovers.
type Callback func(findings []store.Finding)

// Poll repeatedly queries st for findings newer than the last poll, calling
// cb with each non-empty batch, until config.Timeout elapses or ctx is
// cancelled. A failed store query is logged and the loop goes on to the
// next iteration. It returns the total number of findings seen.
func Poll(ctx context.Context, st *store.Store, config PollerConfig, minSeverity store.Severity, cb Callback) (int, error) {
	strat := newStrategy(config)
	total := 0
	var lastPoll *time.Time

	for !strat.isTimedOut() {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		findings, err := st.GetFindings(ctx, lastPoll, minSeverity)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			observability.GetLogger().WithError(err).Warn("poll iteration failed")
			findings = nil
		} else {
			now := time.Now()
			lastPoll = &now
		}

		receivedCallback := len(findings) > 0
		if receivedCallback {
			total += len(findings)
			cb(findings)
		}

		interval := strat.nextInterval(receivedCallback)
		metrics.PollIntervalSeconds.Set(interval.Seconds())
		metrics.PollQuietStreak.Set(float64(strat.quietPolls))
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(interval):
		}
	}
	return total, nil
}
