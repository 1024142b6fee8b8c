// Package metricspoll forwards periodic deployment snapshots to an external
// metrics sink. Best-effort observability only: sink failures never stop
// the loop.
package metricspoll

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
	"github.com/agentgrid-io/agentgrid/internal/deploystate"
	"github.com/agentgrid-io/agentgrid/internal/observability"
)

// NameLookup resolves a deployed server's display name.
type NameLookup interface {
	FindServer(id string) (*contracts.DeployedServer, error)
}

// Poller snapshots the deployment state store on a fixed interval and
// forwards the projection to the sink. It is a pure reader of the store.
type Poller struct {
	store    *deploystate.Store
	names    NameLookup
	sink     contracts.MetricsSink
	metrics  *observability.MetricsManager
	logger   *zap.SugaredLogger
	interval time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// New creates a poller. metrics may be nil.
func New(store *deploystate.Store, names NameLookup, sink contracts.MetricsSink, metrics *observability.MetricsManager, logger *zap.SugaredLogger, interval time.Duration) *Poller {
	return &Poller{
		store:    store,
		names:    names,
		sink:     sink,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling. It reports immediately, then on every tick until
// Stop is called or the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	go func() {
		defer close(p.done)

		p.report()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopped:
				return
			case <-ticker.C:
				p.report()
			}
		}
	}()
}

// Stop halts the loop and releases its ticker. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopped) })
	<-p.done
}

func (p *Poller) report() {
	snap := p.store.Snapshot()

	projection := make(map[string]contracts.ServerMetric, len(snap.Statuses))
	stateCounts := make(map[string]int, 4)
	for serverID, status := range snap.Statuses {
		name := ""
		if server, err := p.names.FindServer(serverID); err == nil && server != nil {
			name = server.Name
		}
		projection[serverID] = contracts.ServerMetric{Name: name, State: status.State}
		stateCounts[status.State]++
	}

	if p.metrics != nil {
		p.metrics.SetDeploymentsByState(stateCounts)
	}

	if err := p.sink.Report(projection); err != nil {
		// Best effort: log and keep ticking.
		p.logger.Warnw("Metrics sink report failed", "error", err, "servers", len(projection))
	}
}
