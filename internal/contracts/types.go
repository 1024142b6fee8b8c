package contracts

import "time"

// Server types recognized by the platform.
const (
	ServerTypeLocal   = "local"
	ServerTypeRemote  = "remote"
	ServerTypeBuiltin = "builtin"
)

// Deployment states reported by the provisioner.
const (
	StateNotCreated = "not_created"
	StatePending    = "pending"
	StateReady      = "ready"
	StateError      = "error"
)

// DeployedServer is a running MCP server instance. It is created on first
// install and mutated by the reconciliation engine (name, reinstall flag,
// tool associations). Deletion is an external CRUD operation.
type DeployedServer struct {
	ID                string    `json:"id"`
	CatalogID         string    `json:"catalog_id"`
	Name              string    `json:"name"`
	OwnerID           string    `json:"owner_id,omitempty"`
	TeamID            string    `json:"team_id,omitempty"`
	ServerType        string    `json:"server_type"`
	ReinstallRequired bool      `json:"reinstall_required"`
	Created           time.Time `json:"created"`
	Updated           time.Time `json:"updated"`
}

// ServerPatch is a partial update applied to a deployed server record.
// Nil fields are left untouched.
type ServerPatch struct {
	Name              *string
	ReinstallRequired *bool
}

// DeploymentStatus is the live readiness state of a server's compute.
// Produced by the provisioner; this subsystem only reads and republishes it.
type DeploymentStatus struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Tool is a raw tool definition as reported by a running MCP server.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParamsJSON  string `json:"params_json,omitempty"`
}

// ToolRecord is a persisted, fully-qualified tool row owned by a catalog.
type ToolRecord struct {
	Name        string    `json:"name"` // {catalogName}__{rawToolName}
	CatalogID   string    `json:"catalog_id"`
	Description string    `json:"description,omitempty"`
	ParamsJSON  string    `json:"params_json,omitempty"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
}

// ToolSyncResult reports the four disjoint outcome sets of a tool sync.
type ToolSyncResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
	Deleted   []string `json:"deleted"`
}

// Principal is an authenticated caller of the realtime service.
type Principal struct {
	ID      string
	TeamIDs []string
	APIKey  bool
}
