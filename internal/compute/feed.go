package compute

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
	"github.com/agentgrid-io/agentgrid/internal/deploystate"
)

// StatusSource provides deployment status summaries.
type StatusSource interface {
	StatusSummary(ctx context.Context) (map[string]contracts.DeploymentStatus, error)
}

// StatusFeed is the single writer of the deployment state store: it polls
// the provisioner's status summary and replaces the store snapshot. State
// is not persisted; it is rebuilt from the live backend on process restart.
type StatusFeed struct {
	source   StatusSource
	store    *deploystate.Store
	logger   *zap.SugaredLogger
	interval time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewStatusFeed creates a feed polling the source on the given interval.
func NewStatusFeed(source StatusSource, store *deploystate.Store, logger *zap.SugaredLogger, interval time.Duration) *StatusFeed {
	return &StatusFeed{
		source:   source,
		store:    store,
		logger:   logger,
		interval: interval,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling. The first fetch happens immediately so the store is
// populated before any subscriber asks for a snapshot.
func (f *StatusFeed) Start(ctx context.Context) {
	go func() {
		defer close(f.done)

		f.refresh(ctx)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-f.stopped:
				return
			case <-ticker.C:
				f.refresh(ctx)
			}
		}
	}()
}

// Stop halts the feed. Safe to call multiple times.
func (f *StatusFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
	<-f.done
}

func (f *StatusFeed) refresh(ctx context.Context) {
	summary, err := f.source.StatusSummary(ctx)
	if err != nil {
		// Keep the previous snapshot; a transient provisioner failure must
		// not wipe every status to not_created.
		f.logger.Warnw("Failed to fetch status summary", "error", err)
		return
	}
	f.store.Replace(summary)
}
