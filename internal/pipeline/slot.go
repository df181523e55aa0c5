package pipeline

import (
	"sync/atomic"

	"github.com/echolens/sonavision/pkg/sonify"
)

// Slot is the single-element most-recent-wins handoff between the vision
// cadence and the audio cadence. Publishing replaces whatever is in the slot;
// reading always yields the latest published set and never blocks. There is
// deliberately no queue: audio can lag vision by at most one frame's
// staleness.
type Slot struct {
	cur atomic.Pointer[sonify.ToneSet]

	// taken is the Seq of the last set handed out as fresh.
	taken   atomic.Uint64
	dropped atomic.Uint64
	stale   atomic.Uint64
}

// Publish stores set as the current tone set. A previously published set the
// reader never collected counts as dropped.
func (s *Slot) Publish(set *sonify.ToneSet) {
	old := s.cur.Swap(set)
	if old != nil && old.Seq > s.taken.Load() {
		s.dropped.Add(1)
	}
}

// Latest returns the current tone set and whether it is fresh (not yet
// rendered). A repeat read of the same set reports fresh=false and counts as
// a stale re-use; the set itself is still returned so the audio loop can
// re-render it instead of going silent.
func (s *Slot) Latest() (set *sonify.ToneSet, fresh bool) {
	set = s.cur.Load()
	if set == nil {
		return nil, false
	}
	if set.Seq <= s.taken.Load() {
		s.stale.Add(1)
		return set, false
	}
	s.taken.Store(set.Seq)
	return set, true
}

// Dropped returns the number of published sets overwritten before any read.
func (s *Slot) Dropped() uint64 { return s.dropped.Load() }

// Stale returns the number of repeat reads of an already-rendered set.
func (s *Slot) Stale() uint64 { return s.stale.Load() }

// ParamStore holds the current parameter snapshot. Writers publish a complete
// normalized value; readers load one snapshot per pass and never observe a
// partial update.
type ParamStore struct {
	p atomic.Pointer[sonify.Params]
}

// NewParamStore creates a store seeded with par (normalized).
func NewParamStore(par sonify.Params) *ParamStore {
	s := &ParamStore{}
	s.Store(par)
	return s
}

// Load returns the current snapshot.
func (s *ParamStore) Load() sonify.Params {
	return *s.p.Load()
}

// Store normalizes par and publishes it atomically.
func (s *ParamStore) Store(par sonify.Params) {
	norm := par.Normalize()
	s.p.Store(&norm)
}
