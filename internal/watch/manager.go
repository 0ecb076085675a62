package watch

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"savekeeper/internal/keeper"
)

// DefaultRetryBudget is how many times a failed watch session is restarted
// before its error becomes persistent.
const DefaultRetryBudget = 5

// Manager owns the collection of watch sessions, fans their triggers into a
// bounded worker pool, and fans status events outward. Each entity fails or
// succeeds on its own; nothing an entity does affects its neighbors.
type Manager struct {
	svc         *keeper.Service
	logger      keeper.Logger
	events      keeper.EventSink
	retryBudget int

	mu       sync.Mutex
	sessions map[string]*Session
	profiles map[string]*keeper.Profile
	inflight map[string]*sync.WaitGroup
	running  bool
	draining bool

	jobs    chan job
	workers sync.WaitGroup
}

type job struct {
	profile *keeper.Profile
	sess    *Session
	wg      *sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRetryBudget overrides the watch restart budget for new sessions.
func WithRetryBudget(n int) ManagerOption {
	return func(m *Manager) { m.retryBudget = n }
}

// WithManagerEventSink sets the callback that receives session status events.
func WithManagerEventSink(sink keeper.EventSink) ManagerOption {
	return func(m *Manager) { m.events = sink }
}

// NewManager creates a Manager running snapshot jobs on a pool of the given
// size. The pool starts immediately; call Shutdown to drain it.
func NewManager(svc *keeper.Service, logger keeper.Logger, poolSize int, opts ...ManagerOption) *Manager {
	if poolSize < 1 {
		poolSize = 1
	}
	m := &Manager{
		svc:         svc,
		logger:      logger,
		retryBudget: DefaultRetryBudget,
		sessions:    make(map[string]*Session),
		profiles:    make(map[string]*keeper.Profile),
		inflight:    make(map[string]*sync.WaitGroup),
		jobs:        make(chan job, poolSize*4),
	}
	for _, opt := range opts {
		opt(m)
	}
	for i := 0; i < poolSize; i++ {
		m.workers.Add(1)
		go m.worker()
	}
	return m
}

// AddEntity registers a profile and creates its (stopped) session.
// If StartAll has already run and the profile is enabled, the session is
// started immediately.
func (m *Manager) AddEntity(profile *keeper.Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.sessions[profile.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("entity %s is already registered", profile.ID)
	}
	sess := NewSession(profile, m.enqueue, m.logger, m.events, m.retryBudget)
	m.sessions[profile.ID] = sess
	m.profiles[profile.ID] = profile
	m.inflight[profile.ID] = &sync.WaitGroup{}
	start := m.running && profile.Enabled
	m.mu.Unlock()

	if start {
		return sess.Start()
	}
	return nil
}

// RemoveEntity stops the entity's session, waits for any in-flight snapshot
// or restore to finish, and releases its resources.
func (m *Manager) RemoveEntity(entityID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[entityID]
	wg := m.inflight[entityID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no entity with id %q", entityID)
	}

	sess.Stop()
	wg.Wait()

	m.mu.Lock()
	delete(m.sessions, entityID)
	delete(m.profiles, entityID)
	delete(m.inflight, entityID)
	m.mu.Unlock()
	return nil
}

// StartAll starts sessions for all enabled entities. A failure to start one
// entity is reported as that entity's error status and does not prevent the
// others from starting.
func (m *Manager) StartAll() {
	m.mu.Lock()
	m.running = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		if m.profiles[id].Enabled {
			sessions = append(sessions, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		// Session.Start reports failures through the event sink; errors
		// here stay scoped to the one entity.
		_ = sess.Start()
	}
}

// StopAll stops every session. In-flight operations run to completion.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.running = false
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
}

// Shutdown stops all sessions, drains the worker pool, and waits for every
// in-flight operation to finish. Shutdown is idempotent.
func (m *Manager) Shutdown() {
	m.StopAll()

	// A debounce timer that passed its state check before StopAll can still
	// deliver a late trigger; enqueue sends under the same mutex that sets
	// draining, so the channel is never closed mid-send.
	m.mu.Lock()
	if !m.draining {
		m.draining = true
		close(m.jobs)
	}
	m.mu.Unlock()

	m.workers.Wait()
}

// StartWatching starts a single entity's session.
func (m *Manager) StartWatching(entityID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[entityID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no entity with id %q", entityID)
	}
	return sess.Start()
}

// StopWatching stops a single entity's session.
func (m *Manager) StopWatching(entityID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[entityID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no entity with id %q", entityID)
	}
	sess.Stop()
	return nil
}

// IsWatching reports whether the entity's session is currently watching.
func (m *Manager) IsWatching(entityID string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[entityID]
	m.mu.Unlock()
	return ok && sess.State() == StateWatching
}

// ActiveSessions returns the ids of entities currently being watched,
// sorted for stable output.
func (m *Manager) ActiveSessions() []string {
	m.mu.Lock()
	var ids []string
	for id, sess := range m.sessions {
		if sess.State() == StateWatching {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// RequestManualBackup creates a manual snapshot for the entity, blocking the
// caller up to the engine's bounded wait. If another operation is in flight
// past that wait, the entity's pending-retrigger flag is set so the change
// is still captured, and ErrBusy is returned.
func (m *Manager) RequestManualBackup(entityID string) (*keeper.Snapshot, error) {
	profile, sess, wg, err := m.lookup(entityID)
	if err != nil {
		return nil, err
	}

	wg.Add(1)
	defer wg.Done()

	snap, err := m.svc.CreateSnapshot(profile, keeper.KindManual)
	if errors.Is(err, keeper.ErrBusy) {
		sess.MarkPending()
		sess.ResumePending()
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	sess.ResumePending()
	return snap, nil
}

// RequestRestore restores the given snapshot for the entity, blocking the
// caller like a manual backup. Returns the stamp of the safety snapshot
// taken before the restore.
func (m *Manager) RequestRestore(entityID, stamp string) (string, error) {
	profile, sess, wg, err := m.lookup(entityID)
	if err != nil {
		return "", err
	}

	wg.Add(1)
	defer wg.Done()

	safetyStamp, err := m.svc.Restore(profile, stamp)
	if err != nil {
		return safetyStamp, err
	}
	sess.ResumePending()
	return safetyStamp, nil
}

// enqueue is the trigger callback handed to sessions. It never blocks:
// if the pool's queue is full the trigger degrades to a fresh debounce
// cycle. The send happens under the manager mutex so it can never race
// Shutdown closing the channel.
func (m *Manager) enqueue(entityID string) {
	m.mu.Lock()
	profile, ok := m.profiles[entityID]
	if !ok || m.draining {
		// The entity was removed, or the manager shut down, after the
		// timer fired.
		m.mu.Unlock()
		return
	}
	sess := m.sessions[entityID]
	wg := m.inflight[entityID]

	wg.Add(1)
	select {
	case m.jobs <- job{profile: profile, sess: sess, wg: wg}:
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		wg.Done()
		// No in-flight operation is left to resume a deferred trigger,
		// so start a fresh debounce cycle and retry after it.
		sess.MarkPending()
		sess.ResumePending()
		m.logger.Warn("snapshot queue full, trigger retried after a fresh window", "entity", entityID)
	}
}

func (m *Manager) worker() {
	defer m.workers.Done()
	for j := range m.jobs {
		m.runJob(j)
	}
}

func (m *Manager) runJob(j job) {
	defer j.wg.Done()
	sess := j.sess

	_, err := m.svc.CreateSnapshot(j.profile, keeper.KindAutomatic)
	if errors.Is(err, keeper.ErrBusy) {
		// The lock holder may already have finished between the failed
		// acquire and this point, which would strand the pending flag;
		// re-arm a fresh window instead of waiting on the holder.
		sess.MarkPending()
		sess.ResumePending()
		return
	}
	if err != nil {
		// Already logged and reported by the engine; the next trigger retries.
		return
	}
	sess.ResumePending()
}

func (m *Manager) lookup(entityID string) (*keeper.Profile, *Session, *sync.WaitGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[entityID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no entity with id %q", entityID)
	}
	return profile, m.sessions[entityID], m.inflight[entityID], nil
}
