package service

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// dailyTriggerHourJST is the hour-of-day, Japan Standard Time, at which the
// scheduler fires one compaction run per day.
const dailyTriggerHourJST = 6

// startupJitterMin and startupJitterMax bound the one-time jitter applied
// before the scheduler computes its first 06:00 JST target, so a fleet of
// compactor instances restarted together doesn't all wake at once.
const (
	startupJitterMin = 5 * time.Second
	startupJitterMax = 30 * time.Second
)

// Scheduler triggers one Engine.Run per day at 06:00 JST. Unlike a fixed
// ticker, it recomputes its next wake time from the wall clock on every
// iteration, so it self-corrects after any single missed or delayed tick.
type Scheduler struct {
	engine *Engine
	logger *slog.Logger
	now    func() time.Time
	sleep  func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
}

// NewScheduler builds a Scheduler that drives engine once per day.
func NewScheduler(engine *Engine, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine: engine,
		logger: logger.With("component", "compaction-scheduler"),
		now:    time.Now,
		sleep:  func(d time.Duration) <-chan time.Time { return time.After(d) },
	}
}

// Start begins the daily-alarm loop in a background goroutine. It applies
// a one-time 5-30s jitter before computing its first 06:00 JST target, so
// a fleet of instances restarted together does not converge on the exact
// same S3 requests.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return
	}

	s.stopCh = make(chan struct{})
	s.running = true

	jitter := startupJitterMin + time.Duration(rand.Int63n(int64(startupJitterMax-startupJitterMin)))
	go s.run(ctx, jitter)

	s.logger.Info("compaction scheduler started", "trigger_hour_jst", dailyTriggerHourJST, "startup_jitter", jitter)
}

// Stop signals the scheduler loop to exit. It does not wait for an
// in-flight run to finish; the engine's own lock guards against overlap.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
	s.logger.Info("compaction scheduler stopped")
}

// RunNow triggers an immediate compaction run outside the daily schedule.
func (s *Scheduler) RunNow(ctx context.Context) error {
	return s.engine.Run(ctx)
}

func (s *Scheduler) run(ctx context.Context, startupJitter time.Duration) {
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-s.sleep(startupJitter):
	}

	for {
		next := nextDailyTrigger(s.now(), dailyTriggerHourJST)
		wait := next.Sub(s.now())

		s.logger.Info("next compaction run scheduled", "at", next)

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.sleep(wait):
			s.logger.Info("scheduled compaction triggered")
			if err := s.engine.Run(ctx); err != nil {
				s.logger.Error("scheduled compaction failed", "error", err)
			}
		}
	}
}

// nextDailyTrigger returns the next instant at hourJST:00:00 Japan Standard
// Time strictly after now. now may be in any time zone.
func nextDailyTrigger(now time.Time, hourJST int) time.Time {
	nowJST := now.In(jst)
	candidate := time.Date(nowJST.Year(), nowJST.Month(), nowJST.Day(), hourJST, 0, 0, 0, jst)
	if !candidate.After(nowJST) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
