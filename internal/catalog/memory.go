package catalog

import (
	"fmt"
	"sort"
	"sync"

	"savekeeper/internal/keeper"
)

// MemoryCatalog is an in-memory implementation of keeper.Catalog.
// Use in tests, or anywhere durability of the index doesn't matter.
type MemoryCatalog struct {
	mu   sync.Mutex
	rows map[string]map[string]*keeper.Snapshot // entityID -> stamp -> snapshot
}

// NewMemoryCatalog creates an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{rows: make(map[string]map[string]*keeper.Snapshot)}
}

func (c *MemoryCatalog) Record(snap *keeper.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	byStamp, ok := c.rows[snap.EntityID]
	if !ok {
		byStamp = make(map[string]*keeper.Snapshot)
		c.rows[snap.EntityID] = byStamp
	}
	if _, exists := byStamp[snap.Stamp]; exists {
		return fmt.Errorf("snapshot %s already recorded for entity %s", snap.Stamp, snap.EntityID)
	}

	cp := *snap
	byStamp[snap.Stamp] = &cp
	return nil
}

func (c *MemoryCatalog) MarkComplete(entityID, stamp string, sizeBytes int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.rows[entityID][stamp]
	if !ok {
		return fmt.Errorf("no recorded snapshot %s for entity %s", stamp, entityID)
	}
	snap.Complete = true
	snap.SizeBytes = sizeBytes
	return nil
}

func (c *MemoryCatalog) Delete(entityID, stamp string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows[entityID], stamp)
	return nil
}

func (c *MemoryCatalog) List(entityID string, kinds ...keeper.SnapshotKind) ([]*keeper.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*keeper.Snapshot
	for _, snap := range c.rows[entityID] {
		if !snap.Complete || !kindMatches(snap.Kind, kinds) {
			continue
		}
		cp := *snap
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stamp < out[j].Stamp })
	return out, nil
}

func (c *MemoryCatalog) Find(entityID, stamp string) (*keeper.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.rows[entityID][stamp]
	if !ok {
		return nil, nil
	}
	cp := *snap
	return &cp, nil
}

func (c *MemoryCatalog) Close() error { return nil }

func kindMatches(kind keeper.SnapshotKind, kinds []keeper.SnapshotKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Compile-time check that MemoryCatalog implements keeper.Catalog
var _ keeper.Catalog = (*MemoryCatalog)(nil)
