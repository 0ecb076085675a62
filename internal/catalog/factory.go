package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"savekeeper/internal/config"
	"savekeeper/internal/keeper"
)

// NewCatalogFromConfig creates a Catalog implementation based on the catalog config type.
func NewCatalogFromConfig(cfg config.CatalogConfig) (keeper.Catalog, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite catalog")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating catalog data dir: %w", err)
		}
		return NewSQLiteCatalog(filepath.Join(cfg.DataDir, "savekeeper.db"))
	case "memory":
		return NewMemoryCatalog(), nil
	default:
		return nil, fmt.Errorf("unknown catalog type: %s", cfg.Type)
	}
}
