package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Loop runs a job once immediately and then on every tick until stopped.
// Runs of the same loop never overlap. The ticker buffers one tick, so a job
// that outlasts the interval is followed immediately by the next run and any
// further missed ticks are dropped.
type Loop struct {
	name     string
	interval time.Duration
	job      func(context.Context)
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewLoop creates a Loop. A nil logger uses slog.Default.
func NewLoop(name string, interval time.Duration, job func(context.Context), logger *slog.Logger) *Loop {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{name: name, interval: interval, job: job, logger: logger}
}

// Start begins the polling loop.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run(ctx)
	l.logger.Info(l.name+" started", "interval", l.interval)
}

// Stop signals the loop to stop and waits for the in-flight job to finish.
func (l *Loop) Stop(_ context.Context) {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	l.logger.Info(l.name + " stopped")
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.job(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.job(ctx)
		}
	}
}
