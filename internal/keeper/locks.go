package keeper

import (
	"sync"
	"time"
)

// lockTable hands out one exclusive lock per entity id. The snapshot engine
// and the restore coordinator both acquire through it, so a backup and a
// restore for the same entity can never overlap, while different entities
// proceed fully in parallel.
//
// Each lock is a capacity-1 channel rather than a sync.Mutex so that
// acquisition can be bounded by a timeout: automatic triggers use TryAcquire
// and degrade to the caller's pending-retrigger flag, manual requests use
// AcquireTimeout because the caller expects a definite outcome.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (t *lockTable) lock(entityID string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.locks[entityID]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[entityID] = ch
	}
	return ch
}

// TryAcquire attempts to take the entity's lock without blocking.
func (t *lockTable) TryAcquire(entityID string) bool {
	select {
	case t.lock(entityID) <- struct{}{}:
		return true
	default:
		return false
	}
}

// AcquireTimeout blocks up to d for the entity's lock.
func (t *lockTable) AcquireTimeout(entityID string, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case t.lock(entityID) <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Release frees the entity's lock. Releasing an unheld lock is a programming
// error and panics.
func (t *lockTable) Release(entityID string) {
	select {
	case <-t.lock(entityID):
	default:
		panic("keeper: release of unheld entity lock: " + entityID)
	}
}
