package correlator

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ricochet.sh/internal/database"
	"ricochet.sh/internal/store"
)

func TestStrategyResetsOnCallback(t *testing.T) {
	s := newStrategy(PollerConfig{BaseInterval: time.Second, MaxInterval: 10 * time.Second, BackoffFactor: 2, ResetOnCallback: true, Timeout: time.Hour})

	for i := 0; i < quietThreshold+2; i++ {
		s.nextInterval(false)
	}
	assert.Greater(t, s.currentInterval, time.Second)

	got := s.nextInterval(true)
	assert.Equal(t, time.Second, got)
	assert.Equal(t, 0, s.quietPolls)
}

func TestStrategyBacksOffAfterThreshold(t *testing.T) {
	s := newStrategy(PollerConfig{BaseInterval: time.Second, MaxInterval: 10 * time.Second, BackoffFactor: 2, ResetOnCallback: true, Timeout: time.Hour})

	for i := 0; i < quietThreshold; i++ {
		got := s.nextInterval(false)
		assert.Equal(t, time.Second, got, "interval should not change before exceeding the threshold")
	}
	got := s.nextInterval(false)
	assert.Equal(t, 2*time.Second, got)
}

func TestStrategyCapsAtMaxInterval(t *testing.T) {
	s := newStrategy(PollerConfig{BaseInterval: time.Second, MaxInterval: 3 * time.Second, BackoffFactor: 10, ResetOnCallback: true, Timeout: time.Hour})
	for i := 0; i < quietThreshold+5; i++ {
		s.nextInterval(false)
	}
	assert.Equal(t, 3*time.Second, s.currentInterval)
}

func TestStrategyIsTimedOutBeforeFirstPoll(t *testing.T) {
	s := newStrategy(PollerConfig{Timeout: time.Hour})
	assert.False(t, s.isTimedOut())
	assert.Equal(t, time.Duration(0), s.elapsed())
}

func TestPollStopsOnTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "target_url", "parameter", "payload", "context", "injected_at",
		"id", "source_ip", "request_path", "headers", "body", "received_at"}
	mock.ExpectQuery("SELECT .* FROM callbacks c JOIN injections i").WillReturnRows(sqlmock.NewRows(cols))

	st := store.New(database.WrapForTest(db, "sqlite"))
	config := PollerConfig{BaseInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond, BackoffFactor: 1.5, ResetOnCallback: true, Timeout: 10 * time.Millisecond}

	calls := 0
	total, err := Poll(context.Background(), st, config, store.SeverityInfo, func(findings []store.Finding) {
		calls++
	})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Equal(t, 0, calls)
}

func TestPollRespectsContextCancellation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cols := []string{"id", "target_url", "parameter", "payload", "context", "injected_at",
		"id", "source_ip", "request_path", "headers", "body", "received_at"}
	mock.ExpectQuery("SELECT .* FROM callbacks c JOIN injections i").WillReturnRows(sqlmock.NewRows(cols))

	st := store.New(database.WrapForTest(db, "sqlite"))
	config := PollerConfig{BaseInterval: time.Hour, MaxInterval: time.Hour, BackoffFactor: 1.5, ResetOnCallback: true, Timeout: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Poll(ctx, st, config, store.SeverityInfo, func(findings []store.Finding) {})
	assert.Error(t, err)
}
