package alerts

import (
	"context"
	"time"

	"github.com/itsshri/NightSafe/internal/observability"
)

// Sweeper hard-deletes expired alerts so storage does not grow
// unbounded. It is best-effort: several clients may sweep the same
// rows concurrently, which is safe because DeleteAlert is
// delete-if-exists.
type Sweeper struct {
	Manager  *Manager
	Interval time.Duration
}

func NewSweeper(m *Manager, interval time.Duration) *Sweeper {
	return &Sweeper{Manager: m, Interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
// Failures degrade silently to the next cycle.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce removes every alert older than the retention window.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	m := s.Manager
	all, err := m.Store.Alerts(ctx)
	if err != nil {
		m.Logger.Warn("sweep read failed", "error", err)
		return
	}
	cutoff := m.now().Add(-m.Retention).UnixMilli()
	for _, a := range all {
		if a.Timestamp >= cutoff {
			continue
		}
		if err := m.Store.DeleteAlert(ctx, a.ID); err != nil {
			m.Logger.Warn("sweep delete failed", "alert_id", a.ID, "error", err)
			continue
		}
		observability.AlertsExpired.Inc()
	}
}
