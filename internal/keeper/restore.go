package keeper

import (
	"fmt"
	"os"
	"strings"
)

// Restore replaces the entity's live source contents with the contents of
// the chosen snapshot. The result mirrors the snapshot exactly: files absent
// from the snapshot are removed from the live tree.
//
// Before anything touches the live source, a safety snapshot of the current
// state is taken so the pre-restore state stays recoverable even if the
// chosen snapshot turns out to be the wrong one. Returns the stamp of that
// safety snapshot.
func (s *Service) Restore(profile *Profile, stamp string) (string, error) {
	if !s.locks.AcquireTimeout(profile.ID, s.manualWait) {
		return "", ErrBusy
	}
	defer s.locks.Release(profile.ID)

	target, err := s.catalog.Find(profile.ID, stamp)
	if err != nil {
		return "", fmt.Errorf("looking up snapshot %s: %w", stamp, err)
	}
	if target == nil || !target.Complete {
		return "", fmt.Errorf("snapshot %s for entity %s: %w", stamp, profile.ID, ErrSnapshotNotFound)
	}

	s.events.Emit(Event{EntityID: profile.ID, Status: StatusRestoring})

	safety, err := s.createLocked(profile, KindSafety)
	if err != nil {
		err = fmt.Errorf("creating safety snapshot: %w", err)
		s.events.Emit(Event{EntityID: profile.ID, Status: StatusError, Err: err})
		return "", err
	}
	s.pruneLocked(profile, KindSafety)

	if err := s.swapIn(profile, target, safety); err != nil {
		s.events.Emit(Event{EntityID: profile.ID, Status: StatusError, SafetyStamp: safety.Stamp, Err: err})
		return safety.Stamp, err
	}

	s.logger.Info("restore complete", "entity", profile.ID, "stamp", stamp, "safety", safety.Stamp)
	s.events.Emit(Event{EntityID: profile.ID, Status: StatusIdle, SafetyStamp: safety.Stamp})
	return safety.Stamp, nil
}

// swapIn stages the snapshot's contents next to the live source and swaps
// them into place. Until the swap commits the live source is untouched; a
// mid-swap failure is rolled back from the aside copy, falling back to the
// safety snapshot.
func (s *Service) swapIn(profile *Profile, target, safety *Snapshot) error {
	stagingDir := profile.SourcePath + ".restore-" + target.Stamp
	asideDir := profile.SourcePath + ".aside-" + target.Stamp

	if err := s.materialize(target, stagingDir); err != nil {
		if rmErr := s.copier.RemoveAll(stagingDir); rmErr != nil {
			s.logger.Warn("removing restore staging failed", "entity", profile.ID, "path", stagingDir, "error", rmErr)
		}
		return fmt.Errorf("staging snapshot %s: %w", target.Stamp, err)
	}

	if err := os.Rename(profile.SourcePath, asideDir); err != nil {
		if rmErr := s.copier.RemoveAll(stagingDir); rmErr != nil {
			s.logger.Warn("removing restore staging failed", "entity", profile.ID, "path", stagingDir, "error", rmErr)
		}
		return fmt.Errorf("moving live source aside: %w", err)
	}

	if err := os.Rename(stagingDir, profile.SourcePath); err != nil {
		// Mid-swap failure: the live path is empty. Put the old tree back;
		// if even that fails, rebuild from the safety snapshot.
		if backErr := os.Rename(asideDir, profile.SourcePath); backErr != nil {
			s.logger.Error("rollback from aside copy failed", "entity", profile.ID, "error", backErr)
			if reErr := s.materialize(safety, profile.SourcePath); reErr != nil {
				return fmt.Errorf("swap failed and safety reinstatement failed (%v): %w", reErr, err)
			}
		}
		return fmt.Errorf("swapping restored tree into place: %w", err)
	}

	if err := s.copier.RemoveAll(asideDir); err != nil {
		s.logger.Warn("removing pre-restore tree failed", "entity", profile.ID, "path", asideDir, "error", err)
	}
	return nil
}

// materialize writes a snapshot's contents as a directory tree at dst.
func (s *Service) materialize(snap *Snapshot, dst string) error {
	if strings.HasSuffix(snap.Location, ".zip") {
		return s.copier.ExtractArchive(snap.Location, dst)
	}
	_, err := s.copier.CopyTree(snap.Location, dst)
	return err
}
