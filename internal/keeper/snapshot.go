package keeper

import (
	"fmt"
	"strings"
	"time"
)

// SnapshotKind distinguishes why a snapshot was taken.
type SnapshotKind string

const (
	// KindAutomatic is a snapshot triggered by a debounced filesystem change.
	KindAutomatic SnapshotKind = "automatic"
	// KindManual is a snapshot requested explicitly by the user.
	KindManual SnapshotKind = "manual"
	// KindSafety is a snapshot of the live state taken just before a restore.
	// Safety snapshots are retained outside the user-configured limit.
	KindSafety SnapshotKind = "safety"
)

// Snapshot is one immutable, timestamped backup copy of an entity's source
// tree. The Stamp doubles as the snapshot's identifier and sort key: stamps
// are fixed-width UTC timestamps, so lexicographic order is chronological
// order.
type Snapshot struct {
	EntityID  string
	Stamp     string
	Kind      SnapshotKind
	Location  string
	SizeBytes int64
	Complete  bool
	CreatedAt time.Time
}

// stampLayout is fixed-width down to nanoseconds so that stamps from the
// same entity always sort correctly as strings.
const stampLayout = "20060102T150405.000000000Z"

// FormatStamp renders t as a snapshot stamp.
func FormatStamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

// ParseStamp parses a snapshot stamp back into a time.
// The "-safety" suffix used for safety artifacts is accepted and ignored.
func ParseStamp(stamp string) (time.Time, error) {
	s := strings.TrimSuffix(stamp, safetySuffix)
	t, err := time.Parse(stampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing snapshot stamp %q: %w", stamp, err)
	}
	return t, nil
}

// safetySuffix marks safety snapshot artifacts on disk so they are
// recognizable even without the catalog.
const safetySuffix = "-safety"

// ArtifactName returns the on-disk name for a snapshot with the given stamp,
// kind, and compression mode.
func ArtifactName(stamp string, kind SnapshotKind, mode Compression) string {
	name := stamp
	if kind == KindSafety {
		name += safetySuffix
	}
	if mode == CompressionZip {
		name += ".zip"
	}
	return name
}
