// Package common holds the identifiers and tunables shared across the
// storage and concurrency core: page/frame numbering, sentinel values, and
// the pool/index configuration knobs described in the specification's
// configuration surface.
package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"storagecore/pkg/dberrors"
)

// PageID names a fixed-size block on disk. It is non-negative once
// allocated; InvalidPageID marks the absence of a page.
type PageID int32

// FrameID indexes into the buffer pool's pre-allocated frame array.
type FrameID int32

const (
	// InvalidPageID is the sentinel page id used for "no page" (e.g. an
	// empty tree's root, an unset next-leaf pointer).
	InvalidPageID PageID = -1

	// HeaderPageID stores the map from index name to root page id. The
	// B+ tree updates this page on every root change.
	HeaderPageID PageID = 0

	// InvalidFrameID marks the absence of a resident frame.
	InvalidFrameID FrameID = -1
)

// Config bundles the tunables the buffer pool, replacer, B+ tree, and lock
// manager are constructed with.
type Config struct {
	// PoolID disambiguates multiple pool instances in logs and in the
	// coreinspect TUI when more than one is running in a process.
	PoolID uuid.UUID

	// PoolSize is the number of frames the buffer pool manages.
	PoolSize int

	// ReplacerK is the K in the LRU-K replacement policy.
	ReplacerK int

	// LeafMaxSize is the maximum number of entries a B+ tree leaf page
	// may hold. Must be >= 2.
	LeafMaxSize int

	// InternalMaxSize is the maximum number of children an internal B+
	// tree page may hold. Must be >= 3.
	InternalMaxSize int

	// DeadlockDetectionInterval is how often the lock manager's
	// background detector sweeps the wait-for graph.
	DeadlockDetectionInterval time.Duration
}

// DefaultConfig returns a Config with a 64-frame pool, K = 2, leaf and
// internal max sizes of 4 and a 50ms deadlock sweep, stamped with a fresh
// PoolID.
func DefaultConfig() Config {
	return Config{
		PoolID:                    uuid.New(),
		PoolSize:                  64,
		ReplacerK:                 2,
		LeafMaxSize:               4,
		InternalMaxSize:           4,
		DeadlockDetectionInterval: 50 * time.Millisecond,
	}
}

// Validate checks the structural invariants configuration must satisfy
// before it can back a buffer pool or B+ tree, returning a dberrors
// config error otherwise (SPEC_FULL.md §3.1).
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return dberrors.New(dberrors.ErrCategoryInvariant, "CONFIG_POOL_SIZE",
			fmt.Sprintf("pool size must be positive, got %d", c.PoolSize))
	}
	if c.ReplacerK <= 0 {
		return dberrors.New(dberrors.ErrCategoryInvariant, "CONFIG_REPLACER_K",
			fmt.Sprintf("replacer K must be positive, got %d", c.ReplacerK))
	}
	if c.LeafMaxSize < 2 {
		return dberrors.New(dberrors.ErrCategoryInvariant, "CONFIG_LEAF_MAX_SIZE",
			fmt.Sprintf("leaf max size must be >= 2, got %d", c.LeafMaxSize))
	}
	if c.InternalMaxSize < 3 {
		return dberrors.New(dberrors.ErrCategoryInvariant, "CONFIG_INTERNAL_MAX_SIZE",
			fmt.Sprintf("internal max size must be >= 3, got %d", c.InternalMaxSize))
	}
	return nil
}
