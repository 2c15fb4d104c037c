package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	metrics "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Metrics"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
	implementation "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Implementation"
)

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type failingRepo struct {
	*implementation.MemoryReadingRepository
	calls atomic.Int32
}

func (f *failingRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("connection refused")
}

func seed(t *testing.T, repo *implementation.MemoryReadingRepository, offsets ...time.Duration) {
	t.Helper()
	for _, off := range offsets {
		r := lsmmodels.NewReading(map[string]float64{"temperature": 20})
		r.Timestamp = fixedNow.Add(off)
		_, err := repo.Append(context.Background(), r)
		require.NoError(t, err)
	}
}

func TestSweeper_RunOnce(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository(time.Hour).WithClock(clock)
	seed(t, repo, -3*time.Hour, -61*time.Minute, -time.Hour, -5*time.Minute)

	s := NewSweeper(repo, time.Hour, "@hourly", logger.Nop(), nil).WithClock(clock)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(-time.Hour), res.Cutoff)
	assert.Equal(t, int64(2), res.Deleted)
	assert.Equal(t, 2, repo.Size(), "reading at the cutoff survives")

	res, err = s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, 2, repo.Size())
}

func TestSweeper_RunOnceEmptyStore(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository(time.Hour)
	s := NewSweeper(repo, time.Hour, "@hourly", logger.Nop(), nil)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)
}

func TestSweeper_RunOnceFailure(t *testing.T) {
	repo := &failingRepo{MemoryReadingRepository: implementation.NewMemoryReadingRepository(time.Hour)}
	m := metrics.New(prometheus.NewRegistry())
	s := NewSweeper(repo, time.Hour, "@hourly", logger.Nop(), m).WithClock(clock)

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSweeper_StartInvalidSchedule(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository(time.Hour)
	s := NewSweeper(repo, time.Hour, "every now and then", logger.Nop(), nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")

	// Stop without a running schedule is a no-op
	s.Stop()
}

func TestSweeper_StartSweepsImmediately(t *testing.T) {
	repo := implementation.NewMemoryReadingRepository(time.Hour).WithClock(clock)
	seed(t, repo, -2*time.Hour, -time.Minute)

	s := NewSweeper(repo, time.Hour, "@hourly", logger.Nop(), nil).WithClock(clock)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start is rejected")

	s.Stop()
	assert.Equal(t, 1, repo.Size())
}

func TestSweeper_FailureKeepsRunning(t *testing.T) {
	repo := &failingRepo{MemoryReadingRepository: implementation.NewMemoryReadingRepository(time.Hour)}
	s := NewSweeper(repo, time.Hour, "@every 1s", logger.Nop(), nil).WithClock(clock)

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return repo.calls.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	s.Stop()
}

func TestSweeper_CancelledContextSkipsTick(t *testing.T) {
	repo := &failingRepo{MemoryReadingRepository: implementation.NewMemoryReadingRepository(time.Hour)}
	s := NewSweeper(repo, time.Hour, "@hourly", logger.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Start(ctx))
	s.Stop()
	assert.Zero(t, repo.calls.Load())
}

// slowRepo tracks how many sweeps run at the same time
type slowRepo struct {
	*implementation.MemoryReadingRepository
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (r *slowRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.calls.Add(1)
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		seen := r.maxSeen.Load()
		if n <= seen || r.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(r.delay)
	return 0, nil
}

func TestSweeper_ImmediateSweepDoesNotOverlapTick(t *testing.T) {
	repo := &slowRepo{
		MemoryReadingRepository: implementation.NewMemoryReadingRepository(time.Hour),
		delay:                   1500 * time.Millisecond,
	}
	s := NewSweeper(repo, time.Hour, "@every 1s", logger.Nop(), nil)

	require.NoError(t, s.Start(context.Background()))
	time.Sleep(2200 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, repo.calls.Load(), int32(1))
	assert.Equal(t, int32(1), repo.maxSeen.Load(), "sweeps ran concurrently")
}
