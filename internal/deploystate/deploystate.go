// Package deploystate holds the in-memory runtime state of MCP server
// deployments. The only writer is the compute status feed; everyone else
// reads immutable snapshots.
package deploystate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// Snapshot is an immutable view of all deployment statuses at one instant.
type Snapshot struct {
	Statuses  map[string]contracts.DeploymentStatus
	Timestamp time.Time
}

// Store provides lock-free snapshot reads over the deployment status map.
type Store struct {
	snapshot atomic.Value // *Snapshot
	mu       sync.Mutex   // Serializes writers only
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.snapshot.Store(&Snapshot{
		Statuses:  make(map[string]contracts.DeploymentStatus),
		Timestamp: time.Now(),
	})
	return s
}

// Snapshot returns the current immutable snapshot. Lock-free.
func (s *Store) Snapshot() *Snapshot {
	return s.snapshot.Load().(*Snapshot)
}

// Get returns the status for one server. Lock-free.
func (s *Store) Get(serverID string) (contracts.DeploymentStatus, bool) {
	status, ok := s.Snapshot().Statuses[serverID]
	return status, ok
}

// SetStatus records the status of one server.
func (s *Store) SetStatus(serverID string, status contracts.DeploymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.Snapshot()
	statuses := make(map[string]contracts.DeploymentStatus, len(old.Statuses)+1)
	for k, v := range old.Statuses {
		statuses[k] = v
	}
	statuses[serverID] = status

	s.snapshot.Store(&Snapshot{Statuses: statuses, Timestamp: time.Now()})
}

// Replace swaps in a full status summary from the provisioner. Servers
// absent from the summary drop out of the store; they read back as
// not_created.
func (s *Store) Replace(summary map[string]contracts.DeploymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make(map[string]contracts.DeploymentStatus, len(summary))
	for k, v := range summary {
		statuses[k] = v
	}

	s.snapshot.Store(&Snapshot{Statuses: statuses, Timestamp: time.Now()})
}

// Remove drops a server from the store.
func (s *Store) Remove(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.Snapshot()
	if _, ok := old.Statuses[serverID]; !ok {
		return
	}
	statuses := make(map[string]contracts.DeploymentStatus, len(old.Statuses)-1)
	for k, v := range old.Statuses {
		if k == serverID {
			continue
		}
		statuses[k] = v
	}

	s.snapshot.Store(&Snapshot{Statuses: statuses, Timestamp: time.Now()})
}

// Count returns the number of tracked servers. Lock-free.
func (s *Store) Count() int {
	return len(s.Snapshot().Statuses)
}

// CountByState returns the number of servers in a given state. Lock-free.
func (s *Store) CountByState(state string) int {
	count := 0
	for _, status := range s.Snapshot().Statuses {
		if status.State == state {
			count++
		}
	}
	return count
}
