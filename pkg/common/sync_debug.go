//go:build debug

package common

import "github.com/sasha-s/go-deadlock"

// Mutex and RWMutex are swapped in under the debug build tag so that a
// latch-ordering violation (§5: buffer pool and B+ tree latches must
// always be acquired root-to-leaf) panics with a diagnostic stack instead
// of deadlocking silently. Build with `-tags debug` to enable.
type Mutex = deadlock.Mutex

type RWMutex = deadlock.RWMutex
