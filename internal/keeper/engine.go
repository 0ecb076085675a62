package keeper

import (
	"fmt"
	"os"
	"path/filepath"
)

// CreateSnapshot produces exactly one new complete snapshot for the entity
// and then enforces retention.
//
// Automatic triggers never block: if the entity's lock is held, ErrBusy is
// returned immediately and the caller is expected to fall back to its
// pending-retrigger flag. Manual requests wait up to the configured bound
// for the lock, since the user expects a definite outcome.
func (s *Service) CreateSnapshot(profile *Profile, kind SnapshotKind) (*Snapshot, error) {
	switch kind {
	case KindAutomatic:
		if !s.locks.TryAcquire(profile.ID) {
			return nil, ErrBusy
		}
	case KindManual:
		if !s.locks.AcquireTimeout(profile.ID, s.manualWait) {
			return nil, ErrBusy
		}
	default:
		return nil, fmt.Errorf("cannot request a snapshot of kind %q directly", kind)
	}
	defer s.locks.Release(profile.ID)

	s.events.Emit(Event{EntityID: profile.ID, Status: StatusBackingUp})

	snap, err := s.createLocked(profile, kind)
	if err != nil {
		s.events.Emit(Event{EntityID: profile.ID, Status: StatusError, Err: err})
		return nil, err
	}

	// Retention runs after a successful creation. A failed deletion is a
	// warning, never a reason to fail the snapshot that just succeeded.
	s.pruneLocked(profile, KindAutomatic, KindManual)

	s.events.Emit(Event{EntityID: profile.ID, Status: StatusIdle, LastBackup: snap.CreatedAt})
	return snap, nil
}

// Prune runs a retention pass for the entity without creating a snapshot.
// It acquires the entity lock like a manual request.
func (s *Service) Prune(profile *Profile) error {
	if !s.locks.AcquireTimeout(profile.ID, s.manualWait) {
		return ErrBusy
	}
	defer s.locks.Release(profile.ID)

	s.pruneLocked(profile, KindAutomatic, KindManual)
	return nil
}

// createLocked stages, commits, and catalogs one snapshot. The caller must
// hold the entity lock.
//
// The artifact is built at a hidden staging name under the backup root and
// only renamed to its final name once fully written, so a partial or
// zero-byte snapshot is never visible at the final location.
func (s *Service) createLocked(profile *Profile, kind SnapshotKind) (*Snapshot, error) {
	if _, err := os.Stat(profile.SourcePath); err != nil {
		return nil, fmt.Errorf("source path not accessible: %w", err)
	}

	entityDir := filepath.Join(profile.BackupRoot, profile.ID)
	if err := os.MkdirAll(entityDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := s.clock.Now()
	stamp := s.lastStamps.Next(profile.ID, now)
	name := ArtifactName(stamp, kind, profile.Compression)
	finalPath := filepath.Join(entityDir, name)
	stagingPath := filepath.Join(entityDir, ".staging-"+name)

	snap := &Snapshot{
		EntityID:  profile.ID,
		Stamp:     stamp,
		Kind:      kind,
		Location:  finalPath,
		CreatedAt: now,
	}
	if err := s.catalog.Record(snap); err != nil {
		return nil, fmt.Errorf("recording snapshot: %w", err)
	}

	var size int64
	var err error
	switch profile.Compression {
	case CompressionZip:
		size, err = s.copier.ArchiveTree(profile.SourcePath, stagingPath)
	default:
		size, err = s.copier.CopyTree(profile.SourcePath, stagingPath)
	}
	if err != nil {
		s.discardStaging(profile.ID, stamp, stagingPath)
		return nil, fmt.Errorf("staging snapshot %s: %w", stamp, err)
	}

	if err := os.Rename(stagingPath, finalPath); err != nil {
		s.discardStaging(profile.ID, stamp, stagingPath)
		return nil, fmt.Errorf("committing snapshot %s: %w", stamp, err)
	}

	if err := s.catalog.MarkComplete(profile.ID, stamp, size); err != nil {
		return nil, fmt.Errorf("marking snapshot complete: %w", err)
	}

	snap.SizeBytes = size
	snap.Complete = true
	s.logger.Info("snapshot created", "entity", profile.ID, "stamp", stamp, "kind", kind, "bytes", size)
	return snap, nil
}

// discardStaging removes a failed staging artifact and its catalog row.
func (s *Service) discardStaging(entityID, stamp, stagingPath string) {
	if err := s.copier.RemoveAll(stagingPath); err != nil {
		s.logger.Warn("removing staging artifact failed", "entity", entityID, "path", stagingPath, "error", err)
	}
	if err := s.catalog.Delete(entityID, stamp); err != nil {
		s.logger.Warn("removing catalog row failed", "entity", entityID, "stamp", stamp, "error", err)
	}
}

// pruneLocked deletes the oldest snapshots of the given kinds beyond the
// applicable limit. Safety snapshots use their own cap; everything else
// shares the profile's retention limit. The caller must hold the entity
// lock.
func (s *Service) pruneLocked(profile *Profile, kinds ...SnapshotKind) {
	limit := profile.RetentionLimit
	if len(kinds) == 1 && kinds[0] == KindSafety {
		limit = s.maxSafety
	}

	snaps, err := s.catalog.List(profile.ID, kinds...)
	if err != nil {
		s.logger.Warn("retention pass skipped", "entity", profile.ID, "error", err)
		return
	}
	if len(snaps) <= limit {
		return
	}

	// Catalog order is oldest first; everything before the cut is pruned.
	for _, old := range snaps[:len(snaps)-limit] {
		if err := s.copier.RemoveAll(old.Location); err != nil {
			// Leave the catalog row so the next pass retries the deletion.
			s.logger.Warn("pruning snapshot failed", "entity", profile.ID, "stamp", old.Stamp, "error", err)
			continue
		}
		if err := s.catalog.Delete(profile.ID, old.Stamp); err != nil {
			s.logger.Warn("removing pruned catalog row failed", "entity", profile.ID, "stamp", old.Stamp, "error", err)
			continue
		}
		s.logger.Info("snapshot pruned", "entity", profile.ID, "stamp", old.Stamp)
	}
}
