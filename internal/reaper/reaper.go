// Package reaper runs the timeout-based session cleanup in the background.
// Sessions are never deleted on the request path; expiry is purely a
// last-activity threshold applied on a cron schedule.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/sessions"
)

// pollInterval is how often the schedule is evaluated. Sub-minute precision
// is pointless for a cron expression.
const pollInterval = 30 * time.Second

// Reaper purges sessions idle past the configured threshold.
type Reaper struct {
	sessions  *sessions.Service
	schedule  string
	threshold time.Duration
	logger    *slog.Logger
	cron      *gronx.Gronx
}

// New builds a reaper. schedule is a cron expression; threshold is the
// inactivity duration after which a session expires.
func New(sess *sessions.Service, schedule string, threshold time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		sessions:  sess,
		schedule:  schedule,
		threshold: threshold,
		logger:    logger,
		cron:      gronx.New(),
	}
}

// Run blocks until ctx is cancelled, reaping whenever the schedule fires.
// At most one reap runs per scheduled minute.
func (r *Reaper) Run(ctx context.Context) error {
	if !r.cron.IsValid(r.schedule) {
		r.logger.Error("reaper: invalid cron schedule, cleanup disabled", "schedule", r.schedule)
		<-ctx.Done()
		return nil
	}
	r.logger.Info("reaper: started", "schedule", r.schedule, "threshold", r.threshold)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastRun time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if now.Truncate(time.Minute).Equal(lastRun) {
				continue
			}
			due, err := r.cron.IsDue(r.schedule, now)
			if err != nil || !due {
				continue
			}
			lastRun = now.Truncate(time.Minute)
			r.reap(ctx)
		}
	}
}

func (r *Reaper) reap(ctx context.Context) {
	reapCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := r.sessions.ReapExpired(reapCtx, r.threshold)
	if err != nil {
		r.logger.Error("reaper: cleanup failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("reaper: cleaned up sessions", "count", n)
	}
}
