// Package watch turns raw filesystem notifications into well-timed backup
// triggers: one debounced trigger per quiet period, per monitored entity.
package watch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"savekeeper/internal/keeper"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateWatching State = "watching"
	StateStopping State = "stopping"
	StateError    State = "error"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffCap  = 30 * time.Second
)

// Session owns monitoring of one entity's source path. It watches the tree
// recursively and collapses bursts of change events into a single trigger
// after the entity's debounce window has been quiet.
//
// Deletion events are observed but never forwarded and never touch the
// debounce timer: a deleted save must not cause, delay, or cancel a backup.
type Session struct {
	profile     *keeper.Profile
	trigger     func(entityID string)
	logger      keeper.Logger
	events      keeper.EventSink
	retryBudget int

	mu           sync.Mutex
	state        State
	watcher      *fsnotify.Watcher
	loopDone     chan struct{}
	timer        *time.Timer
	timerGen     uint64
	restartTimer *time.Timer
	pending      bool
	lastChange   time.Time
	retries      int
}

// NewSession creates a session for the given profile. trigger is invoked
// (on a timer goroutine) each time a quiet period ends; it must not block.
func NewSession(profile *keeper.Profile, trigger func(entityID string), logger keeper.Logger, events keeper.EventSink, retryBudget int) *Session {
	return &Session{
		profile:     profile,
		trigger:     trigger,
		logger:      logger,
		events:      events,
		retryBudget: retryBudget,
		state:       StateStopped,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins watching the entity's source path. Starting an
// already-started session is a no-op. A failure to start enters the error
// state and schedules a restart with backoff.
func (s *Session) Start() error {
	s.mu.Lock()
	switch s.state {
	case StateWatching, StateStarting:
		s.mu.Unlock()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return fmt.Errorf("entity %s: session is stopping", s.profile.ID)
	}
	s.state = StateStarting
	s.retries = 0
	s.mu.Unlock()

	if err := s.startWatcher(); err != nil {
		s.enterError(err)
		return err
	}
	return nil
}

// Stop cancels the pending debounce timer and stops monitoring. Stopping an
// already-stopped session is a no-op. An in-flight snapshot or restore for
// the entity is never aborted; only future triggers are prevented.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	s.pending = false
	w := s.watcher
	s.watcher = nil
	done := s.loopDone
	s.loopDone = nil
	s.mu.Unlock()

	if w != nil {
		w.Close()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.logger.Info("watch stopped", "entity", s.profile.ID)
	s.events.Emit(keeper.Event{EntityID: s.profile.ID, Status: keeper.StatusIdle})
}

// MarkPending records that a trigger arrived while an operation was in
// flight for this entity.
func (s *Session) MarkPending() {
	s.mu.Lock()
	s.pending = true
	s.mu.Unlock()
}

// ResumePending starts a fresh debounce cycle if a trigger was deferred
// while an operation was in flight. Called when that operation completes,
// so changes made during the backup are captured. On a session that is not
// watching the flag is left set rather than consumed.
func (s *Session) ResumePending() {
	s.mu.Lock()
	if !s.pending || s.state != StateWatching {
		s.mu.Unlock()
		return
	}
	s.pending = false
	s.mu.Unlock()
	s.resetDebounce()
}

// LastChange returns when the most recent qualifying event was observed.
func (s *Session) LastChange() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChange
}

// startWatcher creates the fsnotify watcher, registers the source tree
// recursively, and launches the event loop.
func (s *Session) startWatcher() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("entity %s: creating watcher: %w", s.profile.ID, err)
	}

	// fsnotify is not recursive: every directory in the tree is registered,
	// and directories created later are added from the event loop.
	err = filepath.WalkDir(s.profile.SourcePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(p)
	})
	if err != nil {
		w.Close()
		return fmt.Errorf("entity %s: watching %s: %w", s.profile.ID, s.profile.SourcePath, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.state != StateStarting {
		// A concurrent Stop won the race while the tree was being
		// registered; do not resurrect the session.
		s.mu.Unlock()
		w.Close()
		return nil
	}
	s.watcher = w
	s.loopDone = done
	s.state = StateWatching
	s.retries = 0
	s.mu.Unlock()

	go s.loop(w, done)

	s.logger.Info("watch started", "entity", s.profile.ID, "path", s.profile.SourcePath)
	s.events.Emit(keeper.Event{EntityID: s.profile.ID, Status: keeper.StatusWatching})
	return nil
}

func (s *Session) loop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			s.handleEvent(w, ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.fail(fmt.Errorf("entity %s: watch error: %w", s.profile.ID, err))
			return
		}
	}
}

func (s *Session) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	// Losing the watch root is unrecoverable for this watcher instance.
	if ev.Name == s.profile.SourcePath && (ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename)) {
		s.fail(fmt.Errorf("entity %s: source path removed: %s", s.profile.ID, ev.Name))
		return
	}

	// Deletions are insulated from the backup pipeline entirely.
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Chmod) {
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Rename) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Add(ev.Name); err != nil {
				s.logger.Warn("watching new directory failed", "entity", s.profile.ID, "path", ev.Name, "error", err)
			}
		}
	}

	s.resetDebounce()
}

// resetDebounce (re)arms the debounce timer to a full window. Exactly one
// trigger fires per quiet period. The generation counter invalidates a
// superseded timer whose callback already started and so escaped Stop.
func (s *Session) resetDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateWatching {
		return
	}
	s.lastChange = time.Now()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.profile.DebounceWindow, func() { s.fire(gen) })
}

func (s *Session) fire(gen uint64) {
	s.mu.Lock()
	if s.state != StateWatching || gen != s.timerGen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	s.logger.Debug("debounce elapsed", "entity", s.profile.ID)
	s.trigger(s.profile.ID)
}

// fail transitions to the error state and schedules a restart attempt.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state != StateWatching {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	w := s.watcher
	s.watcher = nil
	s.loopDone = nil
	s.mu.Unlock()

	if w != nil {
		w.Close()
	}

	s.logger.Error("watch failed", "entity", s.profile.ID, "error", cause)
	s.events.Emit(keeper.Event{EntityID: s.profile.ID, Status: keeper.StatusError, Err: cause})
	s.scheduleRestart()
}

// enterError is like fail but for start-up failures, where no watcher or
// loop exists yet.
func (s *Session) enterError(cause error) {
	s.mu.Lock()
	s.state = StateError
	s.mu.Unlock()

	s.logger.Error("watch start failed", "entity", s.profile.ID, "error", cause)
	s.events.Emit(keeper.Event{EntityID: s.profile.ID, Status: keeper.StatusError, Err: cause})
	s.scheduleRestart()
}

// scheduleRestart arms an exponential-backoff restart attempt, up to the
// retry budget. Exhausting the budget leaves the session in the error state
// as a persistent, user-actionable failure.
func (s *Session) scheduleRestart() {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	if s.retries >= s.retryBudget {
		s.mu.Unlock()
		err := fmt.Errorf("entity %s: giving up after %d watch restart attempts", s.profile.ID, s.retries)
		s.logger.Error("watch retry budget exhausted", "entity", s.profile.ID, "attempts", s.retries)
		s.events.Emit(keeper.Event{EntityID: s.profile.ID, Status: keeper.StatusError, Err: err})
		return
	}

	delay := backoffBase << s.retries
	if delay > backoffCap {
		delay = backoffCap
	}
	s.retries++
	s.restartTimer = time.AfterFunc(delay, s.tryRestart)
	s.mu.Unlock()

	s.logger.Info("watch restart scheduled", "entity", s.profile.ID, "delay", delay, "attempt", s.retries)
}

func (s *Session) tryRestart() {
	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.state = StateStarting
	s.restartTimer = nil
	s.mu.Unlock()

	if err := s.startWatcher(); err != nil {
		s.mu.Lock()
		s.state = StateError
		s.mu.Unlock()
		s.logger.Warn("watch restart failed", "entity", s.profile.ID, "error", err)
		s.scheduleRestart()
	}
}
