package contracts

import (
	"context"
	"io"
	"net/http"
)

// Persistence is the relational-store boundary for server and tool rows.
type Persistence interface {
	FindServer(id string) (*DeployedServer, error)
	UpdateServer(id string, patch ServerPatch) error
	ListServersForPrincipal(p *Principal) ([]*DeployedServer, error)
	SyncTools(catalogID string, tools []*ToolRecord) (*ToolSyncResult, error)
}

// Compute is the provisioning boundary: starting, stopping and observing
// the processes or containers backing deployed servers. The backend itself
// (process manager, container runtime) lives outside this repo.
type Compute interface {
	Restart(ctx context.Context, serverID string) error
	WaitUntilReady(ctx context.Context, serverID string) error
	StreamLogs(ctx context.Context, serverID string, lines int) (io.ReadCloser, string, error)
	StatusSummary(ctx context.Context) (map[string]DeploymentStatus, error)
	ListTools(ctx context.Context, serverID string) ([]*Tool, error)
}

// Authenticator validates connection credentials at accept time.
type Authenticator interface {
	Authenticate(headers http.Header) (*Principal, error)
}

// Authorizer decides whether a principal may observe a server.
type Authorizer interface {
	Authorize(p *Principal, serverID string) (bool, error)
}

// MetricsSink receives periodic deployment snapshots. Best effort only.
type MetricsSink interface {
	Report(snapshot map[string]ServerMetric) error
}

// ServerMetric is the projection of a deployment forwarded to the sink.
type ServerMetric struct {
	Name  string `json:"name"`
	State string `json:"state"`
}
