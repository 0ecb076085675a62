package watch_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"savekeeper/internal/keeper"
	"savekeeper/internal/watch"
)

func newWatchProfile(t *testing.T, window time.Duration) *keeper.Profile {
	t.Helper()
	base := t.TempDir()
	source := filepath.Join(base, "saves")
	if err := os.MkdirAll(source, 0755); err != nil {
		t.Fatal(err)
	}
	return &keeper.Profile{
		ID:             "game-1",
		SourcePath:     source,
		BackupRoot:     filepath.Join(base, "backups"),
		RetentionLimit: 3,
		DebounceWindow: window,
		Compression:    keeper.CompressionCopy,
		Enabled:        true,
	}
}

// triggerCounter counts session triggers and signals each one.
type triggerCounter struct {
	count atomic.Int64
	fired chan struct{}
}

func newTriggerCounter() *triggerCounter {
	return &triggerCounter{fired: make(chan struct{}, 16)}
}

func (c *triggerCounter) trigger(string) {
	c.count.Add(1)
	c.fired <- struct{}{}
}

func (c *triggerCounter) waitOne(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-c.fired:
	case <-time.After(d):
		t.Fatal("timed out waiting for a trigger")
	}
}

func startSession(t *testing.T, profile *keeper.Profile, trigger func(string), retryBudget int) *watch.Session {
	t.Helper()
	sess := watch.NewSession(profile, trigger, keeper.NewNopLogger(), nil, retryBudget)
	if err := sess.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(sess.Stop)
	return sess
}

func writeLive(t *testing.T, profile *keeper.Profile, rel, content string) {
	t.Helper()
	path := filepath.Join(profile.SourcePath, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSession_Debounce(t *testing.T) {
	t.Run("a burst of writes collapses into one trigger", func(t *testing.T) {
		profile := newWatchProfile(t, 200*time.Millisecond)
		counter := newTriggerCounter()
		startSession(t, profile, counter.trigger, 1)

		// Three writes inside one debounce window.
		for i := 0; i < 3; i++ {
			writeLive(t, profile, "save.dat", "burst")
			time.Sleep(50 * time.Millisecond)
		}

		counter.waitOne(t, 2*time.Second)
		// Give a second spurious trigger time to show up.
		time.Sleep(400 * time.Millisecond)
		if got := counter.count.Load(); got != 1 {
			t.Errorf("got %d triggers, want 1", got)
		}
	})

	t.Run("changes in subdirectories are observed", func(t *testing.T) {
		profile := newWatchProfile(t, 100*time.Millisecond)
		if err := os.MkdirAll(filepath.Join(profile.SourcePath, "slot0"), 0755); err != nil {
			t.Fatal(err)
		}
		counter := newTriggerCounter()
		startSession(t, profile, counter.trigger, 1)

		writeLive(t, profile, "slot0/save.dat", "nested")
		counter.waitOne(t, 2*time.Second)
	})

	t.Run("directories created while watching are picked up", func(t *testing.T) {
		profile := newWatchProfile(t, 100*time.Millisecond)
		counter := newTriggerCounter()
		startSession(t, profile, counter.trigger, 1)

		if err := os.MkdirAll(filepath.Join(profile.SourcePath, "slot1"), 0755); err != nil {
			t.Fatal(err)
		}
		counter.waitOne(t, 2*time.Second)

		// The new directory itself must now be watched.
		writeLive(t, profile, "slot1/save.dat", "later")
		counter.waitOne(t, 2*time.Second)
	})

	t.Run("deletions never trigger", func(t *testing.T) {
		profile := newWatchProfile(t, 100*time.Millisecond)
		writeLive(t, profile, "save.dat", "doomed")
		counter := newTriggerCounter()
		startSession(t, profile, counter.trigger, 1)

		if err := os.Remove(filepath.Join(profile.SourcePath, "save.dat")); err != nil {
			t.Fatal(err)
		}

		time.Sleep(400 * time.Millisecond)
		if got := counter.count.Load(); got != 0 {
			t.Errorf("got %d triggers after a deletion, want 0", got)
		}
	})
}

func TestSession_Lifecycle(t *testing.T) {
	t.Run("start and stop are idempotent", func(t *testing.T) {
		profile := newWatchProfile(t, 100*time.Millisecond)
		counter := newTriggerCounter()
		sess := watch.NewSession(profile, counter.trigger, keeper.NewNopLogger(), nil, 1)

		if err := sess.Start(); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
		if err := sess.Start(); err != nil {
			t.Fatalf("second Start() error = %v", err)
		}
		if got := sess.State(); got != watch.StateWatching {
			t.Errorf("State() = %s, want %s", got, watch.StateWatching)
		}

		sess.Stop()
		sess.Stop()
		if got := sess.State(); got != watch.StateStopped {
			t.Errorf("State() = %s, want %s", got, watch.StateStopped)
		}
	})

	t.Run("stop cancels a pending debounce", func(t *testing.T) {
		profile := newWatchProfile(t, 300*time.Millisecond)
		counter := newTriggerCounter()
		sess := watch.NewSession(profile, counter.trigger, keeper.NewNopLogger(), nil, 1)
		if err := sess.Start(); err != nil {
			t.Fatal(err)
		}

		writeLive(t, profile, "save.dat", "about to stop")
		time.Sleep(50 * time.Millisecond)
		sess.Stop()

		time.Sleep(500 * time.Millisecond)
		if got := counter.count.Load(); got != 0 {
			t.Errorf("got %d triggers after stop, want 0", got)
		}
	})

	t.Run("missing source path fails the start", func(t *testing.T) {
		profile := newWatchProfile(t, 100*time.Millisecond)
		profile.SourcePath = filepath.Join(profile.SourcePath, "gone")
		counter := newTriggerCounter()
		sess := watch.NewSession(profile, counter.trigger, keeper.NewNopLogger(), nil, 0)
		t.Cleanup(sess.Stop)

		if err := sess.Start(); err == nil {
			t.Fatal("Start() expected error for missing source path")
		}
		if got := sess.State(); got != watch.StateError {
			t.Errorf("State() = %s, want %s", got, watch.StateError)
		}
	})

	t.Run("deferred trigger resumes after the operation completes", func(t *testing.T) {
		profile := newWatchProfile(t, 100*time.Millisecond)
		counter := newTriggerCounter()
		sess := startSession(t, profile, counter.trigger, 1)

		sess.MarkPending()
		sess.ResumePending()

		counter.waitOne(t, 2*time.Second)
		if got := counter.count.Load(); got != 1 {
			t.Errorf("got %d triggers, want 1", got)
		}
	})
}
