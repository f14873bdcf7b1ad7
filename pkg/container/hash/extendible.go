// Package hash implements a concurrent extendible hash table: a
// dynamically growing directory of shared buckets, doubled when a bucket
// split would need a local depth beyond the current global depth. It
// backs the buffer pool's page table (page id -> frame id) and is
// generic enough for any other keyed lookup that wants the same
// amortized O(1) behavior without the up-front sizing a plain Go map
// would need.
//
// All operations serialize on a single table-wide mutex, per the
// specification: correct and simple, with per-bucket locking left as a
// valid but unrequired refinement.
package hash

import (
	"encoding/binary"
	"sync"

	"github.com/spaolacci/murmur3"
)

// HashFunc computes a 64-bit hash for a key. Callers supply one because Go
// generics cannot hash an arbitrary comparable type; the extendible hash
// table only ever consults the low bits of this value, mirroring the
// pack's SamehadaDB lineage, which reaches for murmur3 for exactly this
// role instead of hashing by hand (see DESIGN.md).
type HashFunc[K comparable] func(key K) uint64

// Murmur64Of is a ready-made HashFunc for any key that is itself a
// fixed-width integer id (page ids, frame ids, row ids): it hashes the
// key's little-endian byte representation with murmur3, the same library
// SamehadaDB's linear-probe hash table reaches for instead of a hand-rolled
// bit mix.
func Murmur64Of[K ~int32 | ~int64 | ~int](k K) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k))
	return murmur3.Sum64(buf[:])
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// bucket is an ordered (insertion order) list of entries sharing a local
// depth. It is immutable once installed in the directory in the sense
// that a split always installs two *new* buckets rather than mutating
// this one in place; the directory slot rewiring swaps handles.
type bucket[K comparable, V any] struct {
	localDepth int
	capacity   int
	entries    []entry[K, V]
}

func newBucket[K comparable, V any](localDepth, capacity int) *bucket[K, V] {
	return &bucket[K, V]{localDepth: localDepth, capacity: capacity}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.entries {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// tryInsert updates an existing key in place, appends if there is room,
// or reports false if the bucket is full and the key is new.
func (b *bucket[K, V]) tryInsert(key K, value V) bool {
	for i := range b.entries {
		if b.entries[i].key == key {
			b.entries[i].value = value
			return true
		}
	}
	if len(b.entries) >= b.capacity {
		return false
	}
	b.entries = append(b.entries, entry[K, V]{key: key, value: value})
	return true
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.entries {
		if e.key == key {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Table is a concurrent extendible hash table mapping K to V.
type Table[K comparable, V any] struct {
	mu          sync.Mutex
	hash        HashFunc[K]
	bucketSize  int
	globalDepth int
	dir         []*bucket[K, V]
}

// New returns a table with a single bucket of the given capacity and
// global depth zero.
func New[K comparable, V any](bucketSize int, hashFn HashFunc[K]) *Table[K, V] {
	if bucketSize < 1 {
		bucketSize = 1
	}
	return &Table[K, V]{
		hash:       hashFn,
		bucketSize: bucketSize,
		dir:        []*bucket[K, V]{newBucket[K, V](0, bucketSize)},
	}
}

func (t *Table[K, V]) directoryIndex(key K) uint64 {
	mask := uint64(1)<<uint(t.globalDepth) - 1
	return t.hash(key) & mask
}

// Find returns the value for key, if present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.directoryIndex(key)].find(key)
}

// Insert adds or updates key's value, splitting and, if necessary,
// doubling the directory until the target bucket accepts the entry.
func (t *Table[K, V]) Insert(key K, value V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.insertLocked(key, value)
}

func (t *Table[K, V]) insertLocked(key K, value V) {
	for {
		idx := t.directoryIndex(key)
		b := t.dir[idx]
		if b.tryInsert(key, value) {
			return
		}
		if b.localDepth == t.globalDepth {
			t.doubleDirectory()
		}
		t.splitBucket(t.directoryIndex(key))
	}
}

// doubleDirectory copies every existing handle into both the low and high
// halves of a directory twice the size, then increments the global
// depth. A new slot i points to the same bucket as i masked to the old
// global depth's width.
func (t *Table[K, V]) doubleDirectory() {
	oldLen := len(t.dir)
	newDir := make([]*bucket[K, V], oldLen*2)
	copy(newDir, t.dir)
	copy(newDir[oldLen:], t.dir)
	t.dir = newDir
	t.globalDepth++
}

// splitBucket replaces the bucket at idx with two fresh buckets at
// localDepth+1, rewires every directory slot that pointed at the old
// bucket to one of the two new ones based on the newly significant bit,
// and redistributes the old bucket's entries by recursive insertion. A
// single hot bucket may require this to run more than once, which is why
// callers loop (see insertLocked).
func (t *Table[K, V]) splitBucket(idx uint64) {
	old := t.dir[idx]
	newLocalDepth := old.localDepth + 1
	splitBit := uint64(1) << uint(old.localDepth)
	lowMask := splitBit - 1
	discriminator := idx & lowMask

	zero := newBucket[K, V](newLocalDepth, t.bucketSize)
	one := newBucket[K, V](newLocalDepth, t.bucketSize)

	for i := range t.dir {
		if t.dir[i] != old {
			continue
		}
		if uint64(i)&lowMask != discriminator {
			continue
		}
		if uint64(i)&splitBit == 0 {
			t.dir[i] = zero
		} else {
			t.dir[i] = one
		}
	}

	for _, e := range old.entries {
		t.insertLocked(e.key, e.value)
	}
}

// Remove deletes key, reporting whether it was present.
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dir[t.directoryIndex(key)].remove(key)
}

// GetGlobalDepth returns the directory's current global depth.
func (t *Table[K, V]) GetGlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// GetLocalDepth returns the local depth of the bucket at directory index
// idx, and false if idx is out of range.
func (t *Table[K, V]) GetLocalDepth(idx int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx < 0 || idx >= len(t.dir) {
		return 0, false
	}
	return t.dir[idx].localDepth, true
}

// GetNumBuckets returns the number of distinct buckets referenced by the
// directory (directory slots that alias the same bucket count once).
func (t *Table[K, V]) GetNumBuckets() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*bucket[K, V]]struct{})
	for _, b := range t.dir {
		seen[b] = struct{}{}
	}
	return len(seen)
}
