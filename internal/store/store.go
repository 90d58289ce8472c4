// Package store holds the latest published Snapshot behind an atomic
// pointer: one writer (the refresh loop), any number of readers (the
// serving handlers), no locking beyond the pointer swap.
package store

import (
	"sync/atomic"
	"time"

	"github.com/siv237siv/Proxmox-GML/pkg/model"
)

// SnapshotStore keeps at most one Snapshot. A reader always observes a
// complete snapshot from a single cycle; partial updates are impossible
// because publication is a single pointer swap.
type SnapshotStore struct {
	current atomic.Pointer[model.Snapshot]
}

// NewSnapshotStore creates an empty store. Current returns nil until the
// first Publish.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{}
}

// Publish atomically replaces the current Snapshot. The caller must not
// mutate the snapshot after publishing.
func (s *SnapshotStore) Publish(snap *model.Snapshot) {
	s.current.Store(snap)
}

// Current returns the latest published Snapshot, or nil before the first
// successful refresh cycle.
func (s *SnapshotStore) Current() *model.Snapshot {
	return s.current.Load()
}

// LastRefresh returns the timestamp of the current Snapshot, or the zero
// time when nothing has been published.
func (s *SnapshotStore) LastRefresh() time.Time {
	snap := s.current.Load()
	if snap == nil {
		return time.Time{}
	}
	return snap.Timestamp
}

// Staleness reports how old the current Snapshot is. A failed cycle leaves
// the previous snapshot in place, so staleness grows until the next
// successful refresh.
func (s *SnapshotStore) Staleness(now time.Time) time.Duration {
	last := s.LastRefresh()
	if last.IsZero() {
		return 0
	}
	return now.Sub(last)
}
