package workspace

import (
	"context"
	"log/slog"
	"time"
)

// Janitor periodically sweeps workspaces nobody deleted.
type Janitor struct {
	Store    *Store        // required
	MaxAge   time.Duration // zero disables sweeping
	Interval time.Duration // required
	OnSweep  func(ctx context.Context, w *Workspace)
}

func NewJanitor(cfg *Config, store *Store, onSweep func(ctx context.Context, w *Workspace)) *Janitor {
	return &Janitor{
		Store:    store,
		MaxAge:   cfg.MaxAge,
		Interval: cfg.sweepInterval(),
		OnSweep:  onSweep,
	}
}

// Run sweeps every Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.MaxAge <= 0 {
		slog.InfoContext(ctx, "workspace sweeping disabled")
		return nil
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		j.sweep(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	removed, err := j.Store.Sweep(ctx, j.MaxAge)
	if err != nil {
		slog.ErrorContext(ctx, "didn't sweep all workspaces", "err", err)
	}
	if j.OnSweep != nil {
		for _, w := range removed {
			j.OnSweep(ctx, w)
		}
	}
}
