package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"savekeeper/internal/keeper"
)

// Config represents the main configuration for savekeeper.
type Config struct {
	BackupRoot string         `toml:"backup_root"`
	LogDir     string         `toml:"log_dir"`
	Catalog    CatalogConfig  `toml:"catalog"`
	Engine     EngineConfig   `toml:"engine"`
	Entities   []EntityConfig `toml:"entities"`
}

// CatalogConfig represents configuration for the snapshot catalog.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type CatalogConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EngineConfig holds tunables for the snapshot engine and worker pool.
type EngineConfig struct {
	Workers        int    `toml:"workers"`          // bounded snapshot/restore pool size; defaults to 2
	ManualWaitSecs int    `toml:"manual_wait_secs"` // bounded wait for manual requests; defaults to 30
	MaxSafety      int    `toml:"max_safety"`       // safety snapshots kept per entity; defaults to 3
	RetryBudget    int    `toml:"retry_budget"`     // watch restart attempts before a persistent error; defaults to 5
	DebounceWindow string `toml:"debounce_window"`  // default debounce window; defaults to "2s"
}

// EntityConfig is the on-disk form of one monitored entity.
type EntityConfig struct {
	ID             string `toml:"id"`
	Name           string `toml:"name,omitempty"`
	SourcePath     string `toml:"source_path"`
	BackupRoot     string `toml:"backup_root,omitempty"` // per-entity override
	RetentionLimit int    `toml:"retention_limit"`
	DebounceWindow string `toml:"debounce_window,omitempty"` // per-entity override
	Compression    string `toml:"compression,omitempty"`     // "copy" (default) or "zip"
	Enabled        bool   `toml:"enabled"`
}

// NewConfig creates a Config with defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BackupRoot: filepath.Join(baseDir, "backups"),
		LogDir:     filepath.Join(baseDir, "log"),
		Catalog: CatalogConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "data"),
		},
		Engine: EngineConfig{
			Workers:        2,
			ManualWaitSecs: 30,
			MaxSafety:      3,
			RetryBudget:    5,
			DebounceWindow: "2s",
		},
	}
}

// Profile converts an entity entry into an immutable keeper.Profile,
// filling defaults from the application config, and validates it.
func (c *Config) Profile(e EntityConfig) (*keeper.Profile, error) {
	root := e.BackupRoot
	if root == "" {
		root = c.BackupRoot
	}

	window := e.DebounceWindow
	if window == "" {
		window = c.Engine.DebounceWindow
	}
	if window == "" {
		window = "2s"
	}
	d, err := time.ParseDuration(window)
	if err != nil {
		return nil, fmt.Errorf("entity %s: invalid debounce window %q: %w", e.ID, window, err)
	}

	mode := keeper.Compression(e.Compression)
	if e.Compression == "" {
		mode = keeper.CompressionCopy
	}

	p := &keeper.Profile{
		ID:             e.ID,
		Name:           e.Name,
		SourcePath:     e.SourcePath,
		BackupRoot:     root,
		RetentionLimit: e.RetentionLimit,
		DebounceWindow: d,
		Compression:    mode,
		Enabled:        e.Enabled,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// FindEntity returns the entity entry with the given id, or an error.
func (c *Config) FindEntity(id string) (EntityConfig, error) {
	for _, e := range c.Entities {
		if e.ID == id {
			return e, nil
		}
	}
	return EntityConfig{}, fmt.Errorf("no entity with id %q in config", id)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// WriteToFile writes a Config to the specified file path, creating parent
// directories as needed.
func WriteToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := WriteToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
