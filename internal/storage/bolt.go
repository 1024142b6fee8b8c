// Package storage persists deployed server records, catalog specs, and
// fully-qualified tool rows in a bbolt database.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/agentgrid-io/agentgrid/internal/config"
	"github.com/agentgrid-io/agentgrid/internal/contracts"
)

// ErrServerNotFound is returned when a server record does not exist.
var ErrServerNotFound = errors.New("server not found")

// ErrCatalogNotFound is returned when a catalog spec does not exist.
var ErrCatalogNotFound = errors.New("catalog not found")

// BoltStore wraps bolt database operations.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.SugaredLogger
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string, logger *zap.SugaredLogger) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "agentgrid.db")

	db, err := bbolt.Open(dbPath, 0o644, &bbolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	store := &BoltStore{db: db, logger: logger}
	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return store, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{ServersBucket, CatalogsBucket, ToolsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(MetaBucket))
		if meta.Get([]byte(SchemaVersionKey)) == nil {
			var buf [8]byte
			binary.BigEndian.PutUint64(buf[:], CurrentSchemaVersion)
			if err := meta.Put([]byte(SchemaVersionKey), buf[:]); err != nil {
				return fmt.Errorf("failed to write schema version: %w", err)
			}
		}
		return nil
	})
}

// SaveServer writes a full server record.
func (s *BoltStore) SaveServer(server *contracts.DeployedServer) error {
	if server.ID == "" {
		return fmt.Errorf("server must have an ID")
	}
	now := time.Now()
	if server.Created.IsZero() {
		server.Created = now
	}
	server.Updated = now

	data, err := json.Marshal(server)
	if err != nil {
		return fmt.Errorf("failed to marshal server %s: %w", server.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ServersBucket)).Put([]byte(server.ID), data)
	})
}

// FindServer returns one server record by ID.
func (s *BoltStore) FindServer(id string) (*contracts.DeployedServer, error) {
	var server *contracts.DeployedServer
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(ServersBucket)).Get([]byte(id))
		if data == nil {
			return ErrServerNotFound
		}
		server = &contracts.DeployedServer{}
		return json.Unmarshal(data, server)
	})
	if err != nil {
		return nil, err
	}
	return server, nil
}

// UpdateServer applies a partial update to a server record.
func (s *BoltStore) UpdateServer(id string, patch contracts.ServerPatch) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ServersBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrServerNotFound
		}
		var server contracts.DeployedServer
		if err := json.Unmarshal(data, &server); err != nil {
			return fmt.Errorf("failed to unmarshal server %s: %w", id, err)
		}
		if patch.Name != nil {
			server.Name = *patch.Name
		}
		if patch.ReinstallRequired != nil {
			server.ReinstallRequired = *patch.ReinstallRequired
		}
		server.Updated = time.Now()

		updated, err := json.Marshal(&server)
		if err != nil {
			return fmt.Errorf("failed to marshal server %s: %w", id, err)
		}
		return bucket.Put([]byte(id), updated)
	})
}

// ListServers returns every server record.
func (s *BoltStore) ListServers() ([]*contracts.DeployedServer, error) {
	var servers []*contracts.DeployedServer
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(ServersBucket)).ForEach(func(_, data []byte) error {
			var server contracts.DeployedServer
			if err := json.Unmarshal(data, &server); err != nil {
				return err
			}
			servers = append(servers, &server)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return servers, nil
}

// ListServersForPrincipal returns the servers visible to a principal: those
// it owns and those belonging to one of its teams.
func (s *BoltStore) ListServersForPrincipal(p *contracts.Principal) ([]*contracts.DeployedServer, error) {
	all, err := s.ListServers()
	if err != nil {
		return nil, err
	}
	teams := make(map[string]struct{}, len(p.TeamIDs))
	for _, id := range p.TeamIDs {
		teams[id] = struct{}{}
	}
	var visible []*contracts.DeployedServer
	for _, server := range all {
		if server.OwnerID == p.ID {
			visible = append(visible, server)
			continue
		}
		if server.TeamID != "" {
			if _, ok := teams[server.TeamID]; ok {
				visible = append(visible, server)
			}
		}
	}
	return visible, nil
}

// SaveCatalog writes a catalog spec keyed by catalog ID.
func (s *BoltStore) SaveCatalog(catalogID string, spec *config.ServerSpec) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("invalid catalog spec: %w", err)
	}
	data, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog %s: %w", catalogID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(CatalogsBucket)).Put([]byte(catalogID), data)
	})
}

// GetCatalog returns one catalog spec by ID.
func (s *BoltStore) GetCatalog(catalogID string) (*config.ServerSpec, error) {
	var spec *config.ServerSpec
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(CatalogsBucket)).Get([]byte(catalogID))
		if data == nil {
			return ErrCatalogNotFound
		}
		spec = &config.ServerSpec{}
		return json.Unmarshal(data, spec)
	})
	if err != nil {
		return nil, err
	}
	return spec, nil
}

// SyncTools replaces a catalog's persisted tool rows with the given set and
// reports the four disjoint outcome sets. The whole sync is one
// transaction: a failure leaves the stored rows untouched.
func (s *BoltStore) SyncTools(catalogID string, tools []*contracts.ToolRecord) (*contracts.ToolSyncResult, error) {
	result := &contracts.ToolSyncResult{
		Created:   []string{},
		Updated:   []string{},
		Unchanged: []string{},
		Deleted:   []string{},
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolsBucket))
		prefix := toolKeyPrefix(catalogID)

		existing := make(map[string]*contracts.ToolRecord)
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var record contracts.ToolRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to unmarshal tool row %s: %w", k, err)
			}
			existing[record.Name] = &record
		}

		now := time.Now()
		desired := make(map[string]struct{}, len(tools))
		for _, tool := range tools {
			desired[tool.Name] = struct{}{}

			record := *tool
			record.CatalogID = catalogID
			record.Updated = now

			old, ok := existing[tool.Name]
			switch {
			case !ok:
				record.Created = now
				result.Created = append(result.Created, tool.Name)
			case old.Description != tool.Description || old.ParamsJSON != tool.ParamsJSON:
				record.Created = old.Created
				result.Updated = append(result.Updated, tool.Name)
			default:
				result.Unchanged = append(result.Unchanged, tool.Name)
				continue
			}

			data, err := json.Marshal(&record)
			if err != nil {
				return fmt.Errorf("failed to marshal tool row %s: %w", tool.Name, err)
			}
			if err := bucket.Put(toolKey(catalogID, tool.Name), data); err != nil {
				return fmt.Errorf("failed to write tool row %s: %w", tool.Name, err)
			}
		}

		for name := range existing {
			if _, ok := desired[name]; ok {
				continue
			}
			if err := bucket.Delete(toolKey(catalogID, name)); err != nil {
				return fmt.Errorf("failed to delete tool row %s: %w", name, err)
			}
			result.Deleted = append(result.Deleted, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListTools returns a catalog's persisted tool rows.
func (s *BoltStore) ListTools(catalogID string) ([]*contracts.ToolRecord, error) {
	var tools []*contracts.ToolRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ToolsBucket))
		prefix := toolKeyPrefix(catalogID)
		cursor := bucket.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var record contracts.ToolRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			tools = append(tools, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tools, nil
}
