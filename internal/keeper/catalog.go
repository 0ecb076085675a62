package keeper

// Catalog is the ordered index of snapshots. Artifacts on disk hold the
// data; the catalog records kind, size, and completeness so that listing
// and retention enumeration never have to stat the backup root.
type Catalog interface {
	// Record inserts a snapshot row. The snapshot is typically incomplete
	// at this point (the artifact is still being staged).
	Record(snap *Snapshot) error

	// MarkComplete flips the snapshot to complete and records its final size.
	MarkComplete(entityID, stamp string, sizeBytes int64) error

	// Delete removes the snapshot row. Deleting an unknown row is a no-op.
	Delete(entityID, stamp string) error

	// List returns snapshots for an entity ordered by stamp. Incomplete rows
	// are excluded; they are staging leftovers, not restorable state.
	// If kinds is empty, all kinds are returned.
	List(entityID string, kinds ...SnapshotKind) ([]*Snapshot, error)

	// Find returns the snapshot with the given stamp, or nil if absent.
	Find(entityID, stamp string) (*Snapshot, error)

	Close() error
}
