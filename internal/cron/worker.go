package cron

import (
	"context"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/alerting"
	"github.com/bher20/energybill/internal/metrics"
	"github.com/bher20/energybill/internal/storage"
)

const (
	jobName      = "sweep_stale_pending"
	defaultEvery = 15 * time.Minute
)

const lockKey int64 = 7311

// Sweeper reports calculations that never received a total. It only reads;
// recovering a stale calculation is left to an operator.
type Sweeper struct {
	store      storage.Storage
	log        *zap.Logger
	schedule   string
	staleAfter time.Duration
	tick       time.Duration
	now        func() time.Time
	alerter    *alerting.Alerter
}

func NewSweeper(st storage.Storage, log *zap.Logger, schedule string, staleAfter time.Duration) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:      st,
		log:        log.Named("sweeper"),
		schedule:   schedule,
		staleAfter: staleAfter,
		tick:       10 * time.Second,
		now:        time.Now,
	}
}

// WithAlerter makes every sweep that finds stale calculations post an alert.
func (s *Sweeper) WithAlerter(a *alerting.Alerter) *Sweeper {
	s.alerter = a
	return s
}

// NextRun returns the run following last for a schedule given as integer
// seconds or a standard cron expression. Anything else falls back to 15m.
func NextRun(setting string, last time.Time) time.Time {
	if v, err := strconv.Atoi(setting); err == nil && v > 0 {
		return last.Add(time.Duration(v) * time.Second)
	}
	if sched, err := cron.ParseStandard(setting); err == nil {
		return sched.Next(last)
	}
	return last.Add(defaultEvery)
}

// ValidSchedule reports whether setting is understood by NextRun without
// falling back.
func ValidSchedule(setting string) bool {
	if v, err := strconv.Atoi(setting); err == nil {
		return v > 0
	}
	_, err := cron.ParseStandard(setting)
	return err == nil
}

// SweepOnce lists stale pending calculations, logs each one and publishes
// the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	started := s.now()
	cutoff := started.Add(-s.staleAfter)

	stale, err := s.store.ListStalePending(ctx, cutoff)
	metrics.UpdateJobMetrics(jobName, started, err)
	if err != nil {
		s.log.Error("list stale pending calculations", zap.Error(err))
		return 0, err
	}

	metrics.StalePendingCalculations.Set(float64(len(stale)))
	for _, c := range stale {
		s.log.Warn("stale pending calculation",
			zap.String("calculation_id", c.ID),
			zap.String("house_id", c.HouseID),
			zap.Time("created_at", c.CreatedAt),
			zap.Duration("age", started.Sub(c.CreatedAt)))
	}
	s.log.Info("sweep completed", zap.Int("stale", len(stale)), zap.Time("cutoff", cutoff))

	if len(stale) > 0 && s.alerter.Enabled() {
		if err := s.alerter.SendStaleAlert(ctx, staleAlert(stale, s.staleAfter, started)); err != nil {
			s.log.Error("send stale alert failed", zap.Error(err))
		}
	}
	return len(stale), nil
}

// Run sweeps immediately and then on schedule until ctx is done. If the
// store is a storage.Locker only one replica sweeps per run.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	locker, _ := s.store.(storage.Locker)
	nextRun := s.now()

	s.log.Info("sweeper starting", zap.String("schedule", s.schedule), zap.Duration("stale_after", s.staleAfter))

	for {
		if !s.now().Before(nextRun) {
			s.runLocked(ctx, locker)
			nextRun = NextRun(s.schedule, s.now())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) runLocked(ctx context.Context, locker storage.Locker) {
	if locker == nil {
		_, _ = s.SweepOnce(ctx)
		return
	}

	ok, err := locker.AcquireAdvisoryLock(ctx, lockKey)
	if err != nil {
		s.log.Error("acquire advisory lock failed", zap.Error(err))
		metrics.UpdateJobMetrics(jobName, s.now(), err)
		return
	}
	if !ok {
		s.log.Info("advisory lock held by another worker, skipping run")
		return
	}
	defer func() {
		if _, err := locker.ReleaseAdvisoryLock(ctx, lockKey); err != nil {
			s.log.Error("release advisory lock failed", zap.Error(err))
		}
	}()

	_, _ = s.SweepOnce(ctx)
}

func staleAlert(stale []storage.Calculation, after time.Duration, at time.Time) alerting.StaleAlert {
	a := alerting.StaleAlert{JobName: jobName, Count: len(stale), StaleAfter: after, Timestamp: at}
	for _, c := range stale {
		a.Calculations = append(a.Calculations, alerting.StaleCalculation{ID: c.ID, HouseID: c.HouseID, CreatedAt: c.CreatedAt})
	}
	return a
}
