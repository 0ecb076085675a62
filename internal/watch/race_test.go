package watch

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"savekeeper/internal/archive"
	"savekeeper/internal/catalog"
	"savekeeper/internal/keeper"
)

func newRaceProfile(t *testing.T) *keeper.Profile {
	t.Helper()
	base := t.TempDir()
	source := filepath.Join(base, "saves")
	if err := os.MkdirAll(source, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "save.dat"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	return &keeper.Profile{
		ID:             "game-1",
		SourcePath:     source,
		BackupRoot:     filepath.Join(base, "backups"),
		RetentionLimit: 3,
		DebounceWindow: 50 * time.Millisecond,
		Compression:    keeper.CompressionCopy,
		Enabled:        true,
	}
}

func newRaceService() *keeper.Service {
	return keeper.NewService(
		catalog.NewMemoryCatalog(),
		archive.NewOSCopier(),
		keeper.NewNopLogger(),
		keeper.RealClock{},
	)
}

// A debounce timer that passes its state check just before StopAll can
// deliver its trigger after Shutdown has closed the job queue. That late
// trigger must be dropped, not crash the process.
func TestManager_LateTriggerAfterShutdown(t *testing.T) {
	m := NewManager(newRaceService(), keeper.NewNopLogger(), 1)
	profile := newRaceProfile(t)
	if err := m.AddEntity(profile); err != nil {
		t.Fatal(err)
	}

	m.Shutdown()
	m.enqueue(profile.ID)

	// Shutdown is also safe to call twice.
	m.Shutdown()
}

// Stop landing between Start's state transition and the watcher commit must
// leave the session stopped, not resurrect it with a leaked watcher.
func TestSession_StopDuringStartWins(t *testing.T) {
	profile := newRaceProfile(t)
	s := NewSession(profile, func(string) {}, keeper.NewNopLogger(), nil, 1)

	s.mu.Lock()
	s.state = StateStarting
	s.mu.Unlock()
	s.Stop()
	if got := s.State(); got != StateStopped {
		t.Fatalf("State() after Stop = %s, want %s", got, StateStopped)
	}

	// The in-progress start now tries to commit its watcher.
	if err := s.startWatcher(); err != nil {
		t.Fatalf("startWatcher() error = %v", err)
	}
	if got := s.State(); got != StateStopped {
		t.Errorf("State() = %s after a stop raced the start, want %s", got, StateStopped)
	}
	s.mu.Lock()
	if s.watcher != nil {
		t.Error("watcher installed on a stopped session")
	}
	s.mu.Unlock()
}

// A superseded timer whose callback already started before Stop could
// cancel it must not deliver an extra trigger into the new window.
func TestSession_SupersededTimerDoesNotFire(t *testing.T) {
	profile := newRaceProfile(t)
	profile.DebounceWindow = 100 * time.Millisecond
	fired := make(chan struct{}, 4)
	s := NewSession(profile, func(string) { fired <- struct{}{} }, keeper.NewNopLogger(), nil, 1)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.resetDebounce()
	s.mu.Lock()
	stale := s.timerGen
	s.mu.Unlock()
	s.resetDebounce()

	// The first timer's callback arriving late.
	s.fire(stale)
	select {
	case <-fired:
		t.Fatal("superseded timer delivered a trigger")
	default:
	}

	// The live timer still fires, exactly once.
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("live timer never fired")
	}
	time.Sleep(200 * time.Millisecond)
	select {
	case <-fired:
		t.Error("got a second trigger for one quiet period")
	default:
	}
}

// When the job queue refuses a trigger there is no in-flight operation left
// to resume it, so the session must start a fresh debounce cycle on its own.
func TestManager_RefusedTriggerRetries(t *testing.T) {
	m := &Manager{
		svc:         newRaceService(),
		logger:      keeper.NewNopLogger(),
		retryBudget: 1,
		sessions:    make(map[string]*Session),
		profiles:    make(map[string]*keeper.Profile),
		inflight:    make(map[string]*sync.WaitGroup),
		// No capacity and no workers: every send is refused.
		jobs: make(chan job),
	}
	profile := newRaceProfile(t)
	if err := m.AddEntity(profile); err != nil {
		t.Fatal(err)
	}
	if err := m.StartWatching(profile.ID); err != nil {
		t.Fatal(err)
	}
	sess := m.sessions[profile.ID]
	defer sess.Stop()

	m.enqueue(profile.ID)
	first := sess.LastChange()
	if first.IsZero() {
		t.Fatal("refused trigger did not start a fresh debounce cycle")
	}

	// Each elapsed window retries the trigger and re-arms on refusal.
	time.Sleep(4 * profile.DebounceWindow)
	if !sess.LastChange().After(first) {
		t.Error("deferred trigger was not retried without a filesystem event")
	}
}

// parkedCopier parks the first CopyTree until released.
type parkedCopier struct {
	*archive.OSCopier
	entered chan struct{}
	release chan struct{}
	parked  bool
}

func (c *parkedCopier) CopyTree(src, dst string) (int64, error) {
	if !c.parked {
		c.parked = true
		close(c.entered)
		<-c.release
	}
	return c.OSCopier.CopyTree(src, dst)
}

// A busy job re-arms the window itself: the lock holder may finish before
// the pending flag lands and would then never resume it.
func TestManager_BusyJobRearmsDebounce(t *testing.T) {
	copier := &parkedCopier{
		OSCopier: archive.NewOSCopier(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	svc := keeper.NewService(catalog.NewMemoryCatalog(), copier, keeper.NewNopLogger(), keeper.RealClock{})
	m := &Manager{svc: svc, logger: keeper.NewNopLogger()}
	profile := newRaceProfile(t)

	holderDone := make(chan error, 1)
	go func() {
		_, err := svc.CreateSnapshot(profile, keeper.KindAutomatic)
		holderDone <- err
	}()
	<-copier.entered

	sess := NewSession(profile, func(string) {}, keeper.NewNopLogger(), nil, 1)
	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	defer sess.Stop()

	var wg sync.WaitGroup
	wg.Add(1)
	m.runJob(job{profile: profile, sess: sess, wg: &wg})
	wg.Wait()

	if sess.LastChange().IsZero() {
		t.Error("busy job did not start a fresh debounce cycle")
	}

	close(copier.release)
	if err := <-holderDone; err != nil {
		t.Fatalf("holder snapshot failed: %v", err)
	}
}
