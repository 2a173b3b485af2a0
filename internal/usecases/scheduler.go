package usecases

import (
	"context"
	"time"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// TeardownTimeout bounds the best-effort push performed when the scheduler stops.
const TeardownTimeout = 30 * time.Second

// Operations is the subset of the controller the scheduler drives.
type Operations interface {
	Sync(ctx context.Context, trigger domain.Trigger) domain.Outcome
	Push(ctx context.Context, trigger domain.Trigger) domain.Outcome
}

// Scheduler runs the long-lived lifecycle: an optional startup sync, periodic and
// change-driven pushes, and a final push on shutdown.
// Every trigger runs on the Run goroutine, so operations never overlap.
type Scheduler struct {
	ops      Operations
	settings domain.Settings
	changes  domain.ChangeSource
	logger   Logger

	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewScheduler creates a Scheduler. changes may be nil when watching is disabled.
func NewScheduler(ops Operations, settings domain.Settings, changes domain.ChangeSource, log Logger) *Scheduler {
	return &Scheduler{
		ops:       ops,
		settings:  settings,
		changes:   changes,
		logger:    log,
		newTicker: newTicker,
	}
}

func newTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run blocks until ctx is cancelled, then performs the teardown push and returns.
// It returns the outcome of the teardown push.
func (s *Scheduler) Run(ctx context.Context) domain.Outcome {
	s.logger.Info(ctx, "scheduler started", map[string]interface{}{
		"auto_sync":     s.settings.AutoSync,
		"push_interval": s.interval().String(),
		"watch":         s.changes != nil,
	})

	if s.settings.AutoSync {
		s.ops.Sync(ctx, domain.TriggerManual)
	}

	ticks, stop := s.newTicker(s.interval())
	defer stop()

	var changes <-chan struct{}
	if s.changes != nil {
		changes = s.changes.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return s.teardown(ctx)
		case <-ticks:
			s.push(ctx, "interval")
		case _, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.push(ctx, "change")
		}
	}
}

func (s *Scheduler) interval() time.Duration {
	if s.settings.PushInterval <= 0 {
		return domain.DefaultPushInterval
	}
	return s.settings.PushInterval
}

func (s *Scheduler) push(ctx context.Context, reason string) {
	// Cancellation may race a tick; the teardown push covers it.
	if ctx.Err() != nil {
		return
	}
	out := s.ops.Push(ctx, domain.TriggerAutomatic)
	s.logger.Debug(ctx, "automatic push finished", map[string]interface{}{
		"reason":    reason,
		"succeeded": out.Succeeded(),
	})
}

func (s *Scheduler) teardown(parent context.Context) domain.Outcome {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), TeardownTimeout)
	defer cancel()

	out := s.ops.Push(ctx, domain.TriggerTeardown)
	if out.Err != nil {
		s.logger.Warn(ctx, "teardown push failed", map[string]interface{}{
			"error":      out.Err.Error(),
			"error_kind": string(domain.KindOf(out.Err)),
		})
	}
	s.logger.Info(ctx, "scheduler stopped", nil)
	return out
}
