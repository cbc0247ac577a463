package queue

import (
	"context"
	"time"

	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

// Watchlist lists the drugs that currently have active alerts.
type Watchlist interface {
	WatchedDrugs() []string
}

// Sweep enqueues one check per watched drug and returns how many were
// accepted.
func (m *Manager) Sweep(w Watchlist) int {
	n := 0
	for _, name := range w.WatchedDrugs() {
		if _, ok := m.Enqueue(name); ok {
			n++
		}
	}
	obs.Logger.Info("alert_sweep", "enqueued", n)
	return n
}

// RunSweeper calls Sweep every interval until ctx is done. A non-positive
// interval disables sweeping.
func (m *Manager) RunSweeper(ctx context.Context, w Watchlist, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if m.IsShuttingDown() {
				return nil
			}
			m.Sweep(w)
		}
	}
}
