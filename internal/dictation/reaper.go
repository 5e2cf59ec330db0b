package dictation

import (
	"context"
	"log/slog"
	"time"
)

// ReapInterval returns how often idle recorders are swept for ttl.
func ReapInterval(ttl time.Duration) time.Duration {
	return min(max(ttl/4, time.Second), time.Minute)
}

// StartReaper runs a background goroutine that periodically closes
// recorders idle for longer than ttl.
func StartReaper(ctx context.Context, m *Manager, ttl time.Duration) {
	interval := ReapInterval(ttl)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Dictation reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case now := <-ticker.C:
				Reap(m, now, ttl)
			case <-ctx.Done():
				slog.Info("Dictation reaper shutting down", "reason", ctx.Err())
				m.CloseAll("server shutting down")
				return
			}
		}
	}()
}

// Reap closes the recorders idle at now and returns how many it closed.
func Reap(m *Manager, now time.Time, ttl time.Duration) int {
	idle := m.Idle(now, ttl)
	if len(idle) == 0 {
		return 0
	}
	slog.Info("Dictation reaper found idle sessions", "count", len(idle))
	for _, rec := range idle {
		m.Unregister(rec)
		rec.Close("idle timeout")
	}
	return len(idle)
}
