package realtime

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// statusSubscription is one active deployment-status watch. The visible
// server-ID set is captured once at subscribe time and not refreshed until
// the client resubscribes; that staleness window is intentional.
type statusSubscription struct {
	serverIDs []string
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (st *statusSubscription) close() {
	st.closeOnce.Do(func() { st.cancel() })
}

// handleSubscribeStatuses starts a status watch over the caller's currently
// visible local servers, replacing any prior watch on this session.
func (s *Session) handleSubscribeStatuses() {
	s.clearStatusSubscription()

	servers, err := s.hub.persistence.ListServersForPrincipal(s.principal)
	if err != nil {
		s.logger.Warnw("Failed to list servers for status subscription", "error", err)
		s.send(newErrorFrame("failed to resolve visible servers"))
		return
	}

	// Remote servers have no deployment status; only local ones are watched.
	serverIDs := make([]string, 0, len(servers))
	for _, server := range servers {
		if server.ServerType == contracts.ServerTypeLocal {
			serverIDs = append(serverIDs, server.ID)
		}
	}

	ctx, cancel := context.WithCancel(s.ctx)
	sub := &statusSubscription{serverIDs: serverIDs, cancel: cancel}
	s.setStatusSubscription(sub)

	// Immediate snapshot, then changed-only sends on every poll tick.
	snapshot := s.buildStatusSnapshot(serverIDs)
	s.send(newStatusesFrame(snapshot))

	go s.pollStatuses(ctx, sub, snapshot)
}

// pollStatuses rebuilds the snapshot on a fixed interval and sends it only
// when it differs from the last one sent on this connection. Idle,
// unchanged deployments generate zero traffic after the initial push.
func (s *Session) pollStatuses(ctx context.Context, sub *statusSubscription, lastSent map[string]contracts.DeploymentStatus) {
	ticker := time.NewTicker(s.hub.statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.closed() {
				// The connection is gone; tear down instead of sending.
				sub.close()
				return
			}
			if s.hub.metrics != nil {
				s.hub.metrics.RecordStatusPollTick()
			}
			snapshot := s.buildStatusSnapshot(sub.serverIDs)
			if reflect.DeepEqual(snapshot, lastSent) {
				continue
			}
			s.send(newStatusesFrame(snapshot))
			lastSent = snapshot
		}
	}
}

// buildStatusSnapshot projects the state store over the captured server
// set, defaulting servers the store does not know to not_created.
func (s *Session) buildStatusSnapshot(serverIDs []string) map[string]contracts.DeploymentStatus {
	snapshot := make(map[string]contracts.DeploymentStatus, len(serverIDs))
	for _, serverID := range serverIDs {
		status, ok := s.hub.store.Get(serverID)
		if !ok {
			status = contracts.DeploymentStatus{State: contracts.StateNotCreated}
		}
		snapshot[serverID] = status
	}
	return snapshot
}

// handleUnsubscribeStatuses cancels the current status watch, if any.
func (s *Session) handleUnsubscribeStatuses() {
	s.clearStatusSubscription()
}

func (s *Session) setStatusSubscription(sub *statusSubscription) {
	s.subMu.Lock()
	s.statusSub = sub
	s.subMu.Unlock()
}

func (s *Session) clearStatusSubscription() {
	s.subMu.Lock()
	sub := s.statusSub
	s.statusSub = nil
	s.subMu.Unlock()
	if sub != nil {
		sub.close()
	}
}
