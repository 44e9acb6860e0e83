package server

import (
	"context"
	"time"

	"hopline/internal/engine"
)

// DecayWorker runs the reputation decay pass on a fixed interval until its
// context is cancelled.
type DecayWorker struct {
	Engine   engine.Engine
	Interval time.Duration
}

func (w DecayWorker) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	log := w.Engine.Log.With("worker", "decay")
	log.Info("decay worker started", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("decay worker stopped")
			return nil
		case <-ticker.C:
			rep, err := w.Engine.RunDecayPass(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("decay pass failed", "err", err)
				continue
			}
			if rep.SnapshotsWritten > 0 {
				log.Info("reputation decayed", "snapshots", rep.SnapshotsWritten)
			}
		}
	}
}
