package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	metrics "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Metrics"
	interfaces "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Interfaces"
)

// Sweeper deletes readings older than the retention window on a cron schedule.
// It is the guaranteed expiry path; store-native expiry is only an optimization.
type Sweeper struct {
	repo     interfaces.ReadingRepository
	window   time.Duration
	schedule string
	timeout  time.Duration
	now      interfaces.Clock
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	cron *cron.Cron
	wg   sync.WaitGroup
}

// SweepResult describes one sweep run
type SweepResult struct {
	Cutoff  time.Time
	Deleted int64
}

func NewSweeper(repo interfaces.ReadingRepository, window time.Duration, schedule string, log *logger.Logger, m *metrics.Metrics) *Sweeper {
	return &Sweeper{
		repo:     repo,
		window:   window,
		schedule: schedule,
		timeout:  time.Minute,
		now:      time.Now,
		logger:   log.WithComponent("sweeper"),
		metrics:  m,
	}
}

// WithClock replaces the time source
func (s *Sweeper) WithClock(now interfaces.Clock) *Sweeper {
	s.now = now
	return s
}

// RunOnce deletes every reading with a timestamp strictly before now minus the window
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := s.now().UTC().Add(-s.window)
	start := time.Now()

	deleted, err := s.repo.DeleteBefore(ctx, cutoff)
	s.metrics.ObserveSweep(time.Since(start), deleted, err)
	if err != nil {
		return SweepResult{Cutoff: cutoff}, fmt.Errorf("sweep before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return SweepResult{Cutoff: cutoff, Deleted: deleted}, nil
}

// Start runs one sweep immediately and then on every scheduled tick until Stop.
// A failed sweep is logged and retried on the next tick.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	// the immediate sweep and scheduled ticks share one wrapped job, so they never overlap
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).
		Then(cron.FuncJob(func() { s.tick(ctx) }))

	c := cron.New()
	if _, err := c.AddJob(s.schedule, job); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		job.Run()
	}()
	c.Start()
	s.cron = c

	s.logger.Logger.Info().Str("schedule", s.schedule).Dur("window", s.window).Msg("Retention sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.wg.Wait()
	s.logger.Info("Retention sweeper stopped")
}

func (s *Sweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.logger.Debug("Running data cleanup task")
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.ErrorWithError(err, "Error during data cleanup, retrying on next tick")
		return
	}
	s.logger.Logger.Info().
		Int64("deleted", res.Deleted).
		Time("cutoff", res.Cutoff).
		Msg("Old data removed")
}
