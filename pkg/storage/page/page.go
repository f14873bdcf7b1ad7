// Package page defines the fixed-size byte frame that the buffer pool
// manages and the disk manager persists.
package page

import "storagecore/pkg/common"

// Size is the size, in bytes, of every page on disk and every frame in the
// buffer pool.
const Size = 4096

// Frame is a slot in the buffer pool's pre-allocated page array. Each
// frame is in exactly one of three states: free (on the pool's free
// list), resident and pinned, or resident and evictable. The frame itself
// only tracks residency and dirtiness; which list it is on is the buffer
// pool's business.
type Frame struct {
	PageID   common.PageID
	PinCount int32
	IsDirty  bool
	Data     [Size]byte
}

// NewFrame returns a frame in its just-allocated, unowned state.
func NewFrame() *Frame {
	return &Frame{PageID: common.InvalidPageID}
}

// Reset zeroes the frame's bytes and clears its metadata, preparing it to
// receive a different page's contents. It does not touch PinCount, which
// the buffer pool manages directly as part of the fetch/new protocol.
func (f *Frame) Reset() {
	f.PageID = common.InvalidPageID
	f.IsDirty = false
	for i := range f.Data {
		f.Data[i] = 0
	}
}
