package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/config"
	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir(), zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBoltStore_SaveAndFindServer(t *testing.T) {
	store := newTestStore(t)

	server := &contracts.DeployedServer{
		ID:         "srv-1",
		CatalogID:  "cat-1",
		Name:       "slack-mcp-user-7",
		OwnerID:    "user-7",
		ServerType: contracts.ServerTypeLocal,
	}
	require.NoError(t, store.SaveServer(server))

	found, err := store.FindServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "slack-mcp-user-7", found.Name)
	assert.False(t, found.Created.IsZero())

	_, err = store.FindServer("missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestBoltStore_UpdateServer(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveServer(&contracts.DeployedServer{
		ID:                "srv-1",
		Name:              "old-name",
		ReinstallRequired: true,
	}))

	newName := "new-name"
	require.NoError(t, store.UpdateServer("srv-1", contracts.ServerPatch{Name: &newName}))

	server, err := store.FindServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, "new-name", server.Name)
	assert.True(t, server.ReinstallRequired) // untouched by the name patch

	cleared := false
	require.NoError(t, store.UpdateServer("srv-1", contracts.ServerPatch{ReinstallRequired: &cleared}))
	server, err = store.FindServer("srv-1")
	require.NoError(t, err)
	assert.False(t, server.ReinstallRequired)

	err = store.UpdateServer("missing", contracts.ServerPatch{Name: &newName})
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestBoltStore_ListServersForPrincipal(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveServer(&contracts.DeployedServer{ID: "owned", OwnerID: "user-1"}))
	require.NoError(t, store.SaveServer(&contracts.DeployedServer{ID: "team", TeamID: "team-9"}))
	require.NoError(t, store.SaveServer(&contracts.DeployedServer{ID: "other", OwnerID: "user-2"}))

	visible, err := store.ListServersForPrincipal(&contracts.Principal{
		ID:      "user-1",
		TeamIDs: []string{"team-9"},
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(visible))
	for _, s := range visible {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"owned", "team"}, ids)
}

func TestBoltStore_Catalogs(t *testing.T) {
	store := newTestStore(t)

	spec := &config.ServerSpec{
		Name:       "slack-mcp",
		ServerType: "local",
		Command:    "npx",
		Env: []config.EnvVarSpec{
			{Key: "TOKEN", Type: config.EnvTypeSecret, PromptOnInstall: true, Required: true},
		},
	}
	require.NoError(t, store.SaveCatalog("cat-1", spec))

	loaded, err := store.GetCatalog("cat-1")
	require.NoError(t, err)
	assert.Equal(t, "slack-mcp", loaded.Name)
	require.Len(t, loaded.Env, 1)
	assert.True(t, loaded.Env[0].PromptOnInstall)

	_, err = store.GetCatalog("missing")
	assert.ErrorIs(t, err, ErrCatalogNotFound)

	// Invalid specs are rejected before hitting the database.
	err = store.SaveCatalog("bad", &config.ServerSpec{Name: "x", ServerType: "local"})
	assert.Error(t, err)
}

func TestBoltStore_SyncTools(t *testing.T) {
	store := newTestStore(t)

	initial := []*contracts.ToolRecord{
		{Name: "slack-mcp__post_message", Description: "Post"},
		{Name: "slack-mcp__list_channels", Description: "List"},
	}
	result, err := store.SyncTools("cat-1", initial)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"slack-mcp__post_message", "slack-mcp__list_channels"}, result.Created)
	assert.Empty(t, result.Updated)
	assert.Empty(t, result.Unchanged)
	assert.Empty(t, result.Deleted)

	// Second sync: one unchanged, one updated, one created, one deleted.
	next := []*contracts.ToolRecord{
		{Name: "slack-mcp__post_message", Description: "Post"},
		{Name: "slack-mcp__list_channels", Description: "List channels"},
		{Name: "slack-mcp__search", Description: "Search"},
	}
	result, err = store.SyncTools("cat-1", next)
	require.NoError(t, err)
	assert.Equal(t, []string{"slack-mcp__search"}, result.Created)
	assert.Equal(t, []string{"slack-mcp__list_channels"}, result.Updated)
	assert.Equal(t, []string{"slack-mcp__post_message"}, result.Unchanged)
	assert.Empty(t, result.Deleted)

	// Removing everything deletes all rows.
	result, err = store.SyncTools("cat-1", nil)
	require.NoError(t, err)
	assert.Len(t, result.Deleted, 3)

	tools, err := store.ListTools("cat-1")
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestBoltStore_SyncToolsIsolatedPerCatalog(t *testing.T) {
	store := newTestStore(t)

	_, err := store.SyncTools("cat-1", []*contracts.ToolRecord{{Name: "a__x"}})
	require.NoError(t, err)
	_, err = store.SyncTools("cat-2", []*contracts.ToolRecord{{Name: "b__y"}})
	require.NoError(t, err)

	// Syncing cat-1 to empty must not touch cat-2's rows.
	result, err := store.SyncTools("cat-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a__x"}, result.Deleted)

	tools, err := store.ListTools("cat-2")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "b__y", tools[0].Name)
}
