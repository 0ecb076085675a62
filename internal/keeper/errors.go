package keeper

import "errors"

// ErrBusy is returned when another snapshot or restore operation already
// holds the entity's lock. Automatic callers react by setting their
// pending-retrigger flag instead of blocking.
var ErrBusy = errors.New("another operation is in flight for this entity")

// ErrSnapshotNotFound is returned when a requested snapshot stamp does not
// exist in the catalog or is not complete.
var ErrSnapshotNotFound = errors.New("snapshot not found")
