package schedset

import (
	"container/heap"

	"github.com/snehjoshi/notifyq/internal/types"
)

// DualIndexSet holds ScheduleInfo entries under two coexisting views: an
// identity view (keyed by notification handle, unique) and a time view
// (ordered by NextFireTime, non-unique). Both views share the same
// underlying *entry, so there is never a chance for them to disagree about
// which notifications are present.
//
// DualIndexSet is not itself safe for concurrent use — callers (the
// scheduler) are expected to hold their own lock around every call, since a
// single logical operation (e.g. "move from idle to pending") always spans
// two DualIndexSet instances and must appear atomic to observers.
type DualIndexSet struct {
	byIdentity map[types.NotificationHandle]*entry
	byTime     timeHeap
}

// New returns an empty DualIndexSet.
func New() *DualIndexSet {
	return &DualIndexSet{
		byIdentity: make(map[types.NotificationHandle]*entry),
	}
}

// Insert adds info to the set. It reports false without modifying the set if
// info.Notification is already present — the identity-uniqueness invariant
// is enforced here, not by the caller.
func (s *DualIndexSet) Insert(info types.ScheduleInfo) bool {
	if _, exists := s.byIdentity[info.Notification]; exists {
		return false
	}
	e := &entry{info: info}
	s.byIdentity[info.Notification] = e
	heap.Push(&s.byTime, e)
	return true
}

// EraseByIdentity removes the entry for n, if any, reporting whether one was
// present.
func (s *DualIndexSet) EraseByIdentity(n types.NotificationHandle) bool {
	e, ok := s.byIdentity[n]
	if !ok {
		return false
	}
	delete(s.byIdentity, n)
	heap.Remove(&s.byTime, e.heapIdx)
	return true
}

// FindByIdentity returns the current ScheduleInfo for n, if present.
func (s *DualIndexSet) FindByIdentity(n types.NotificationHandle) (types.ScheduleInfo, bool) {
	e, ok := s.byIdentity[n]
	if !ok {
		return types.ScheduleInfo{}, false
	}
	return e.info, true
}

// PeekMinTime returns the entry with the smallest NextFireTime without
// removing it.
func (s *DualIndexSet) PeekMinTime() (types.ScheduleInfo, bool) {
	if len(s.byTime) == 0 {
		return types.ScheduleInfo{}, false
	}
	return s.byTime[0].info, true
}

// PopMinTime removes and returns the entry with the smallest NextFireTime.
func (s *DualIndexSet) PopMinTime() (types.ScheduleInfo, bool) {
	if len(s.byTime) == 0 {
		return types.ScheduleInfo{}, false
	}
	e := heap.Pop(&s.byTime).(*entry)
	delete(s.byIdentity, e.info.Notification)
	return e.info, true
}

// Len reports the number of entries currently in the set.
func (s *DualIndexSet) Len() int {
	return len(s.byIdentity)
}

// Notifications returns a snapshot slice of every notification handle
// currently in the set, in unspecified order. Used by tests and by stats
// reporting that needs to enumerate rather than just count.
func (s *DualIndexSet) Notifications() []types.NotificationHandle {
	out := make([]types.NotificationHandle, 0, len(s.byIdentity))
	for n := range s.byIdentity {
		out = append(out, n)
	}
	return out
}
