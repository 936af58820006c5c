package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/acpbridge/internal/logger"
)

// cronParser accepts standard 5-field cron and descriptors such as "@every 5m"
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule checks if a reaper schedule is valid
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid reap schedule %q: %w", expr, err)
	}
	return nil
}

func newReaper(expr string, fn func()) (*cron.Cron, error) {
	if err := ValidateSchedule(expr); err != nil {
		return nil, err
	}
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(expr, fn); err != nil {
		return nil, fmt.Errorf("scheduling reaper: %w", err)
	}
	return c, nil
}

// ReapIdle removes sessions with no prompt in flight whose last activity is
// older than the idle timeout. It returns how many were removed.
func (m *Manager) ReapIdle(now time.Time) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}

	m.mu.RLock()
	var toRemove []string
	for id, st := range m.sessions {
		if !st.InFlight() && now.Sub(st.LastActivity()) > m.opts.IdleTimeout {
			toRemove = append(toRemove, id)
		}
	}
	m.mu.RUnlock()

	if len(toRemove) > 0 {
		logger.Info("Removing %d idle sessions", len(toRemove))
	}

	removed := 0
	for _, id := range toRemove {
		if st, err := m.Get(id); err == nil && st.InFlight() {
			continue
		}
		if m.remove(id, true) {
			logger.Info("Session %s removed after %v idle", id, m.opts.IdleTimeout)
			removed++
		}
	}
	return removed
}
