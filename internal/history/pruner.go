// Package history - Pruner Component
//
// The pruner keeps the journal bounded. It trims the oldest records down to
// the configured size on startup and then once per interval. Failures are
// logged and retried on the next cycle.

package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/doughall/cmdsched/internal/logging"
)

// DefaultPruneInterval is how often the pruner trims the journal.
const DefaultPruneInterval = 10 * time.Minute

// Pruner periodically trims a Journal to a maximum number of records.
type Pruner struct {
	journal  *Journal
	keep     int
	logger   *slog.Logger
	interval time.Duration

	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPruner creates a pruner keeping at most keep records.
func NewPruner(journal *Journal, keep int, logger *slog.Logger) *Pruner {
	return &Pruner{
		journal:  journal,
		keep:     keep,
		logger:   logging.WithComponent(logger, "history-pruner"),
		interval: DefaultPruneInterval,
	}
}

// Run trims immediately, then every interval, until ctx is cancelled or
// Shutdown is called. Run should be called in a goroutine.
func (p *Pruner) Run(ctx context.Context) {
	internalCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	p.logger.Debug("history pruner started",
		slog.Duration("interval", p.interval),
		slog.Int("keep", p.keep),
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.prune(internalCtx)

	for {
		select {
		case <-internalCtx.Done():
			p.logger.Debug("history pruner stopping")
			return
		case <-ticker.C:
			p.prune(internalCtx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	if ctx.Err() != nil {
		return
	}

	removed, err := p.journal.Prune(p.keep)
	if err != nil {
		p.logger.Warn("failed to prune history, will retry next cycle",
			slog.String("error", err.Error()),
		)
		return
	}
	if removed > 0 {
		p.logger.Info("pruned history",
			slog.Int("removed", removed),
			slog.Int("keep", p.keep),
		)
	}
}

// Shutdown stops the pruner and waits for an in-progress prune to finish.
func (p *Pruner) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("history pruner shutdown timed out")
		return ctx.Err()
	}
}
