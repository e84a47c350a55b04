// Package schedset implements DualIndexSet: a collection of ScheduleInfo
// entries maintaining two synchronised orderings — an identity index
// (unique, by notification handle) and a time index (non-unique, ordered by
// next fire time). The scheduler holds two instances of this type, "idle"
// and "pending".
//
// Core design principle: a Min-Heap peek of the next-due entry is O(1) and
// an insert/erase is O(log N), regardless of how many entries are queued.
// Modifying an entry's fire time is always erase-by-identity followed by
// insert — the structure does not attempt in-place reindex.
package schedset

import (
	"container/heap"

	"github.com/snehjoshi/notifyq/internal/types"
)

// entry is one record in a DualIndexSet.
type entry struct {
	info types.ScheduleInfo

	// heapIdx is the entry's current position in the time-ordered heap
	// slice. Maintained by timeHeap.Swap so EraseByIdentity can do an
	// O(log N) heap.Remove instead of a linear scan.
	heapIdx int
}

// timeHeap is a slice of *entry ordered by NextFireTime, smallest first.
type timeHeap []*entry

func (h timeHeap) Len() int { return len(h) }

func (h timeHeap) Less(i, j int) bool {
	return h[i].info.NextFireTime < h[j].info.NextFireTime
}

func (h timeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *timeHeap) Push(x any) {
	e := x.(*entry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

var _ = heap.Interface(&timeHeap{})
