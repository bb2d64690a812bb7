package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/medvied/mze/internal/blobstore"
)

// SweepResult contains the outcome of a temp file sweep.
type SweepResult struct {
	Removed  int
	Duration time.Duration
}

// SweepTemps removes temp files older than age that crashed writers left
// behind.
func SweepTemps(ctx context.Context, sweeper blobstore.TempSweeper, age time.Duration, logger *slog.Logger) (*SweepResult, error) {
	start := time.Now()
	n, err := sweeper.SweepTemps(ctx, age)
	result := &SweepResult{Removed: n, Duration: time.Since(start)}
	if err != nil {
		logger.Warn("sweep: incomplete", "removed", n, "error", err)
		return result, err
	}
	if n > 0 {
		logger.Info("sweep complete", "removed", n, "duration_ms", result.Duration.Milliseconds())
	}
	return result, nil
}

// janitor runs SweepTemps on a ticker until stopped.
type janitor struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startJanitor(sweeper blobstore.TempSweeper, interval, age time.Duration, logger *slog.Logger) *janitor {
	if interval <= 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &janitor{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				SweepTemps(ctx, sweeper, age, logger)
			case <-ctx.Done():
				return
			}
		}
	}()
	return j
}

// Stop cancels a running sweep and waits for the goroutine to exit.
func (j *janitor) Stop() {
	if j == nil {
		return
	}
	j.cancel()
	<-j.done
}
