// Package reconcile keeps deployed MCP servers consistent with their
// catalog configuration.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/config"
	"github.com/agentgrid-io/agentgrid/internal/contracts"
	"github.com/agentgrid-io/agentgrid/internal/observability"
)

// Engine performs automatic reinstalls: restart, tool re-sync, and naming
// repair for a single server. It never retries; retry policy belongs to the
// caller.
type Engine struct {
	persistence contracts.Persistence
	compute     contracts.Compute
	logger      *zap.SugaredLogger
	metrics     *observability.MetricsManager
}

// NewEngine creates a reconciliation engine. metrics may be nil.
func NewEngine(persistence contracts.Persistence, compute contracts.Compute, logger *zap.SugaredLogger, metrics *observability.MetricsManager) *Engine {
	return &Engine{
		persistence: persistence,
		compute:     compute,
		logger:      logger,
		metrics:     metrics,
	}
}

// ExpectedName computes the display name a deployed server should carry:
// the catalog name suffixed with the team ID, falling back to the owner ID.
// Builtin servers and servers with neither suffix use the catalog name
// directly.
func ExpectedName(spec *config.ServerSpec, server *contracts.DeployedServer) string {
	if spec.IsBuiltin() {
		return spec.Name
	}
	suffix := server.TeamID
	if suffix == "" {
		suffix = server.OwnerID
	}
	if suffix == "" {
		return spec.Name
	}
	return spec.Name + "-" + suffix
}

// QualifiedToolName builds the fully-qualified persisted tool name.
func QualifiedToolName(catalogName, rawName string) string {
	return catalogName + "__" + rawName
}

// AutoReinstall re-applies the catalog spec to a deployed server. The
// reinstall-required flag is cleared only when every step succeeds; any
// failure leaves the flag set and propagates to the caller.
func (e *Engine) AutoReinstall(ctx context.Context, server *contracts.DeployedServer, spec *config.ServerSpec) error {
	start := time.Now()
	err := e.autoReinstall(ctx, server, spec)
	if e.metrics != nil {
		result := "success"
		if err != nil {
			result = "failed"
		}
		e.metrics.RecordReinstall(result, time.Since(start))
	}
	return err
}

func (e *Engine) autoReinstall(ctx context.Context, server *contracts.DeployedServer, spec *config.ServerSpec) error {
	log := e.logger.With("server_id", server.ID, "catalog", spec.Name)

	// Repair the display name before restarting so log streams opened
	// during the restart report under the correct label.
	expected := ExpectedName(spec, server)
	if server.Name != expected {
		log.Infow("Repairing server display name", "old_name", server.Name, "new_name", expected)
		name := expected
		if err := e.persistence.UpdateServer(server.ID, contracts.ServerPatch{Name: &name}); err != nil {
			return fmt.Errorf("failed to update server name: %w", err)
		}
		server.Name = expected
	}

	// Remote servers have no restart step; their compute is managed by the
	// remote endpoint.
	if server.ServerType == contracts.ServerTypeLocal {
		log.Info("Restarting server compute")
		if err := e.compute.Restart(ctx, server.ID); err != nil {
			return fmt.Errorf("failed to restart server %s: %w", server.ID, err)
		}
		if err := e.compute.WaitUntilReady(ctx, server.ID); err != nil {
			return fmt.Errorf("server %s did not become ready: %w", server.ID, err)
		}
	}

	tools, err := e.compute.ListTools(ctx, server.ID)
	if err != nil {
		return fmt.Errorf("failed to list tools for server %s: %w", server.ID, err)
	}

	records := make([]*contracts.ToolRecord, 0, len(tools))
	for _, tool := range tools {
		records = append(records, &contracts.ToolRecord{
			Name:        QualifiedToolName(spec.Name, tool.Name),
			CatalogID:   server.CatalogID,
			Description: tool.Description,
			ParamsJSON:  tool.ParamsJSON,
		})
	}

	syncResult, err := e.persistence.SyncTools(server.CatalogID, records)
	if err != nil {
		return fmt.Errorf("failed to sync tools for catalog %s: %w", server.CatalogID, err)
	}
	log.Infow("Tool sync complete",
		"created", len(syncResult.Created),
		"updated", len(syncResult.Updated),
		"unchanged", len(syncResult.Unchanged),
		"deleted", len(syncResult.Deleted))

	// The flag is cleared if and only if everything above succeeded.
	cleared := false
	if err := e.persistence.UpdateServer(server.ID, contracts.ServerPatch{ReinstallRequired: &cleared}); err != nil {
		return fmt.Errorf("failed to clear reinstall flag for server %s: %w", server.ID, err)
	}
	server.ReinstallRequired = false

	log.Info("Automatic reinstall complete")
	return nil
}
