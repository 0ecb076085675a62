package keeper

import (
	"fmt"
	"time"
)

// DefaultManualWait bounds how long a manual backup or restore request
// waits for an in-flight operation on the same entity to finish.
const DefaultManualWait = 30 * time.Second

// DefaultMaxSafety caps how many safety snapshots are kept per entity.
// Safety snapshots are pruned independently of the user-configured
// retention limit.
const DefaultMaxSafety = 3

// Service owns snapshot creation, retention pruning, and restores.
// All per-entity mutual exclusion lives here: at most one snapshot-creation
// or restore operation runs for a given entity at any instant.
type Service struct {
	catalog    Catalog
	copier     Copier
	logger     Logger
	clock      Clock
	locks      *lockTable
	events     EventSink
	manualWait time.Duration
	maxSafety  int

	lastStamps *stampSource
}

// Option configures a Service.
type Option func(*Service)

// WithManualWait overrides the bounded wait used for manual requests.
func WithManualWait(d time.Duration) Option {
	return func(s *Service) { s.manualWait = d }
}

// WithMaxSafety overrides the safety snapshot cap.
func WithMaxSafety(n int) Option {
	return func(s *Service) { s.maxSafety = n }
}

// WithEventSink sets the callback that receives status events.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// NewService creates a Service with the provided dependencies.
func NewService(catalog Catalog, copier Copier, logger Logger, clock Clock, opts ...Option) *Service {
	s := &Service{
		catalog:    catalog,
		copier:     copier,
		logger:     logger,
		clock:      clock,
		locks:      newLockTable(),
		manualWait: DefaultManualWait,
		maxSafety:  DefaultMaxSafety,
		lastStamps: newStampSource(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListSnapshots returns the entity's complete snapshots, newest first.
func (s *Service) ListSnapshots(entityID string) ([]*Snapshot, error) {
	snaps, err := s.catalog.List(entityID)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	// Catalog order is oldest first; reverse to newest first.
	for i, j := 0, len(snaps)-1; i < j; i, j = i+1, j-1 {
		snaps[i], snaps[j] = snaps[j], snaps[i]
	}
	return snaps, nil
}

// TotalBackupSize returns the combined size in bytes of all complete
// snapshots recorded for the entity.
func (s *Service) TotalBackupSize(entityID string) (int64, error) {
	snaps, err := s.catalog.List(entityID)
	if err != nil {
		return 0, fmt.Errorf("listing snapshots: %w", err)
	}
	var total int64
	for _, snap := range snaps {
		total += snap.SizeBytes
	}
	return total, nil
}
