package keeper

import (
	"fmt"
	"time"
)

// Compression selects how a snapshot artifact is materialized.
type Compression string

const (
	// CompressionCopy mirrors the source tree into a snapshot directory.
	CompressionCopy Compression = "copy"
	// CompressionZip packs the source tree into a single zip archive.
	CompressionZip Compression = "zip"
)

// Profile describes one monitored entity. Profiles are read at session start
// and treated as immutable for the session's lifetime; changing a profile
// requires a session restart.
type Profile struct {
	ID             string
	Name           string
	SourcePath     string
	BackupRoot     string
	RetentionLimit int
	DebounceWindow time.Duration
	Compression    Compression
	Enabled        bool
}

// Validate checks that the profile is internally consistent.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("profile has no id")
	}
	if p.SourcePath == "" {
		return fmt.Errorf("profile %s: source path is empty", p.ID)
	}
	if p.BackupRoot == "" {
		return fmt.Errorf("profile %s: backup root is empty", p.ID)
	}
	if p.RetentionLimit < 1 {
		return fmt.Errorf("profile %s: retention limit must be at least 1, got %d", p.ID, p.RetentionLimit)
	}
	if p.DebounceWindow <= 0 {
		return fmt.Errorf("profile %s: debounce window must be positive, got %s", p.ID, p.DebounceWindow)
	}
	switch p.Compression {
	case CompressionCopy, CompressionZip:
	default:
		return fmt.Errorf("profile %s: unknown compression mode %q", p.ID, p.Compression)
	}
	return nil
}
