package watch_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"savekeeper/internal/archive"
	"savekeeper/internal/catalog"
	"savekeeper/internal/keeper"
	"savekeeper/internal/watch"
)

func newManagerFixture(t *testing.T) (*keeper.Service, *watch.Manager) {
	t.Helper()
	svc := keeper.NewService(
		catalog.NewMemoryCatalog(),
		archive.NewOSCopier(),
		keeper.NewNopLogger(),
		keeper.RealClock{},
	)
	mgr := watch.NewManager(svc, keeper.NewNopLogger(), 2, watch.WithRetryBudget(0))
	t.Cleanup(mgr.Shutdown)
	return svc, mgr
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestManager_Registration(t *testing.T) {
	t.Run("duplicate ids are rejected", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)

		if err := mgr.AddEntity(profile); err != nil {
			t.Fatalf("AddEntity() error = %v", err)
		}
		if err := mgr.AddEntity(profile); err == nil {
			t.Error("AddEntity() accepted a duplicate id")
		}
	})

	t.Run("invalid profiles are rejected", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		profile.RetentionLimit = 0

		if err := mgr.AddEntity(profile); err == nil {
			t.Error("AddEntity() accepted a zero retention limit")
		}
	})

	t.Run("unknown entities are reported", func(t *testing.T) {
		_, mgr := newManagerFixture(t)

		if _, err := mgr.RequestManualBackup("nope"); err == nil {
			t.Error("RequestManualBackup() expected error for unknown entity")
		}
		if _, err := mgr.RequestRestore("nope", "stamp"); err == nil {
			t.Error("RequestRestore() expected error for unknown entity")
		}
		if err := mgr.RemoveEntity("nope"); err == nil {
			t.Error("RemoveEntity() expected error for unknown entity")
		}
	})
}

func TestManager_Watching(t *testing.T) {
	t.Run("a write leads to an automatic snapshot", func(t *testing.T) {
		svc, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		if err := mgr.AddEntity(profile); err != nil {
			t.Fatal(err)
		}
		mgr.StartAll()
		defer mgr.StopAll()

		if !mgr.IsWatching(profile.ID) {
			t.Fatal("entity not watching after StartAll")
		}

		writeLive(t, profile, "save.dat", "autosave")

		waitFor(t, 5*time.Second, func() bool {
			snaps, err := svc.ListSnapshots(profile.ID)
			return err == nil && len(snaps) == 1
		})

		snaps, err := svc.ListSnapshots(profile.ID)
		if err != nil {
			t.Fatal(err)
		}
		if snaps[0].Kind != keeper.KindAutomatic {
			t.Errorf("snapshot kind = %s, want %s", snaps[0].Kind, keeper.KindAutomatic)
		}
	})

	t.Run("disabled entities stay stopped", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		profile.Enabled = false
		if err := mgr.AddEntity(profile); err != nil {
			t.Fatal(err)
		}
		mgr.StartAll()
		defer mgr.StopAll()

		if mgr.IsWatching(profile.ID) {
			t.Error("disabled entity is watching")
		}
	})

	t.Run("one failing entity does not stop the others", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		good := newWatchProfile(t, 100*time.Millisecond)
		bad := newWatchProfile(t, 100*time.Millisecond)
		bad.ID = "game-2"
		bad.SourcePath = filepath.Join(bad.SourcePath, "gone")

		if err := mgr.AddEntity(good); err != nil {
			t.Fatal(err)
		}
		if err := mgr.AddEntity(bad); err != nil {
			t.Fatal(err)
		}
		mgr.StartAll()
		defer mgr.StopAll()

		if !mgr.IsWatching(good.ID) {
			t.Error("healthy entity not watching")
		}
		if mgr.IsWatching(bad.ID) {
			t.Error("entity with missing source claims to be watching")
		}
		if got := mgr.ActiveSessions(); len(got) != 1 || got[0] != good.ID {
			t.Errorf("ActiveSessions() = %v, want [%s]", got, good.ID)
		}
	})

	t.Run("remove waits and stops the session", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		if err := mgr.AddEntity(profile); err != nil {
			t.Fatal(err)
		}
		mgr.StartAll()
		defer mgr.StopAll()

		if err := mgr.RemoveEntity(profile.ID); err != nil {
			t.Fatalf("RemoveEntity() error = %v", err)
		}
		if mgr.IsWatching(profile.ID) {
			t.Error("removed entity still watching")
		}
	})
}

func TestManager_ManualRequests(t *testing.T) {
	t.Run("manual backup works without watching", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		writeLive(t, profile, "save.dat", "manual")
		if err := mgr.AddEntity(profile); err != nil {
			t.Fatal(err)
		}

		snap, err := mgr.RequestManualBackup(profile.ID)
		if err != nil {
			t.Fatalf("RequestManualBackup() error = %v", err)
		}
		if snap.Kind != keeper.KindManual {
			t.Errorf("snapshot kind = %s, want %s", snap.Kind, keeper.KindManual)
		}
	})

	t.Run("restore round-trips through the manager", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		writeLive(t, profile, "save.dat", "good")
		if err := mgr.AddEntity(profile); err != nil {
			t.Fatal(err)
		}

		snap, err := mgr.RequestManualBackup(profile.ID)
		if err != nil {
			t.Fatal(err)
		}

		writeLive(t, profile, "save.dat", "bad")

		safetyStamp, err := mgr.RequestRestore(profile.ID, snap.Stamp)
		if err != nil {
			t.Fatalf("RequestRestore() error = %v", err)
		}
		if safetyStamp == "" {
			t.Error("RequestRestore() returned an empty safety stamp")
		}

		data, err := os.ReadFile(filepath.Join(profile.SourcePath, "save.dat"))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "good" {
			t.Errorf("save.dat = %q, want %q", data, "good")
		}
	})

	t.Run("restore of an unknown stamp is reported", func(t *testing.T) {
		_, mgr := newManagerFixture(t)
		profile := newWatchProfile(t, 100*time.Millisecond)
		if err := mgr.AddEntity(profile); err != nil {
			t.Fatal(err)
		}

		_, err := mgr.RequestRestore(profile.ID, "20990101T000000.000000000Z")
		if !errors.Is(err, keeper.ErrSnapshotNotFound) {
			t.Errorf("RequestRestore() error = %v, want ErrSnapshotNotFound", err)
		}
	})
}
