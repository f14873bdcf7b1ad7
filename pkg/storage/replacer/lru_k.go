// Package replacer implements the LRU-K page replacement policy: among
// frames marked evictable, evict the one with the largest backward
// K-distance, preferring frames with fewer than K recorded accesses
// (infinite backward distance) over frames with a full K-sample history.
package replacer

import (
	"container/list"
	"sync"

	"storagecore/pkg/common"
)

// history holds up to K most recent access timestamps for one frame, kept
// as a doubly linked list so recording a new access and dropping the
// oldest sample beyond K are both O(1) — the same shape the pack's plain
// LRU replacers (container/list + map[FrameID]*list.Element) use for a
// single most-recent pointer, generalized here to a bounded window of K.
type history struct {
	timestamps *list.List // front = most recent, back = oldest of the last K
	valid      bool
	evictable  bool
}

func newHistory() *history {
	return &history{timestamps: list.New()}
}

func (h *history) full(k int) bool {
	return h.timestamps.Len() >= k
}

// kDistanceTimestamp returns the timestamp used to order this frame
// against others of the same class: for a full history it is the K-th
// most recent access (the back of the list); for a not-full history it is
// the earliest recorded access, which is also the back of the list since
// every sample is kept until the window fills.
func (h *history) kDistanceTimestamp() int64 {
	return h.timestamps.Back().Value.(int64)
}

// LRUKReplacer serializes frame eviction bookkeeping behind a single
// mutex, as the spec requires (§4.2, §5).
type LRUKReplacer struct {
	mu           sync.Mutex
	k            int
	clock        int64
	records      map[common.FrameID]*history
	evictableCnt int
}

// New returns a replacer tracking up to poolSize frames with a K-sample
// history window.
func New(poolSize, k int) *LRUKReplacer {
	return &LRUKReplacer{
		k:       k,
		records: make(map[common.FrameID]*history, poolSize),
	}
}

// RecordAccess appends a new access timestamp for frame, advancing the
// shared logical clock. A frame accessed for the first time becomes
// valid (but not automatically evictable — SetEvictable controls that).
func (r *LRUKReplacer) RecordAccess(frame common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock++
	h, ok := r.records[frame]
	if !ok {
		h = newHistory()
		h.valid = true
		r.records[frame] = h
	}

	h.timestamps.PushFront(r.clock)
	if h.timestamps.Len() > r.k {
		h.timestamps.Remove(h.timestamps.Back())
	}
}

// SetEvictable toggles whether frame is a candidate for Evict, adjusting
// the evictable-frame counter. A no-op on frames with no recorded access.
func (r *LRUKReplacer) SetEvictable(frame common.FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.records[frame]
	if !ok || !h.valid {
		return
	}
	if h.evictable && !evictable {
		r.evictableCnt--
	} else if !h.evictable && evictable {
		r.evictableCnt++
	}
	h.evictable = evictable
}

// Remove forcibly drops frame's history. frame must currently be
// evictable; removing a pinned frame is a caller bug and is ignored.
func (r *LRUKReplacer) Remove(frame common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.records[frame]
	if !ok {
		return
	}
	if !h.evictable {
		return
	}
	delete(r.records, frame)
	r.evictableCnt--
}

// Evict selects and removes the highest-backward-K-distance evictable
// frame. Not-full frames (fewer than K samples, infinite backward
// distance) always beat full frames; within a class, the frame whose
// oldest retained sample is smallest wins. Returns false if no frame is
// evictable.
func (r *LRUKReplacer) Evict() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		victim      common.FrameID
		victimTS    int64
		victimFull  bool
		found       bool
	)

	for frame, h := range r.records {
		if !h.evictable {
			continue
		}
		full := h.full(r.k)
		ts := h.kDistanceTimestamp()

		switch {
		case !found:
			victim, victimTS, victimFull, found = frame, ts, full, true
		case !full && victimFull:
			// Not-full always preempts a currently-chosen full victim.
			victim, victimTS, victimFull = frame, ts, full
		case full && !victimFull:
			// Current victim is not-full; a full candidate never wins.
		case ts < victimTS:
			victim, victimTS, victimFull = frame, ts, full
		}
	}

	if !found {
		return 0, false
	}

	delete(r.records, victim)
	r.evictableCnt--
	return victim, true
}

// Size returns the number of frames currently marked evictable.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCnt
}

// FrameStat is a point-in-time snapshot of one frame's replacement
// bookkeeping, surfaced to coreinspect for its replacer history panel.
type FrameStat struct {
	Frame       common.FrameID
	Evictable   bool
	AccessCount int
}

// Snapshot returns a FrameStat for every frame with recorded access
// history, in no particular order.
func (r *LRUKReplacer) Snapshot() []FrameStat {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]FrameStat, 0, len(r.records))
	for frame, h := range r.records {
		out = append(out, FrameStat{
			Frame:       frame,
			Evictable:   h.evictable,
			AccessCount: h.timestamps.Len(),
		})
	}
	return out
}
