package database

import (
	"fmt"
	"path/filepath"
)

// NewStoreFromConfig opens the record store for the given server type.
// "memory" is SQLite in memory, so both types share one code path.
func NewStoreFromConfig(storeType, dataDir, orgID string) (*Store, error) {
	switch storeType {
	case "sqlite":
		if dataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		name := orgID
		if name == "" {
			name = "vault"
		}
		return OpenStore(filepath.Join(dataDir, name+".db"), orgID)
	case "memory":
		return OpenStore(":memory:", orgID)
	default:
		return nil, fmt.Errorf("unknown database type: %s", storeType)
	}
}
