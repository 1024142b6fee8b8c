package storage

// Bucket names for the bbolt database
const (
	ServersBucket  = "servers"
	CatalogsBucket = "catalogs"
	ToolsBucket    = "tools"
	MetaBucket     = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// Current schema version
const CurrentSchemaVersion = 1

// toolKey builds the tools-bucket key for a catalog's tool row. Rows are
// grouped by catalog via key prefix so a sync can scan one catalog with a
// cursor seek.
func toolKey(catalogID, name string) []byte {
	return []byte(catalogID + "/" + name)
}

func toolKeyPrefix(catalogID string) []byte {
	return []byte(catalogID + "/")
}
