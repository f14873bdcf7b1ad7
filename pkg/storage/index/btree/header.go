package btree

import (
	"encoding/binary"
	"fmt"

	"storagecore/pkg/common"
	"storagecore/pkg/storage/buffer"
	"storagecore/pkg/storage/page"
)

// The header page (common.HeaderPageID) stores the map from index name to
// root page id, per §6 of the specification. Layout: a 4-byte entry
// count, followed by that many [2-byte name length][name][4-byte root
// page id] records. Names are unique; storeRootID overwrites the record
// in place.

// InitHeaderPage must be called exactly once per buffer pool, before any
// Tree is created against it, so that the header page is
// guaranteed to be the very first page the disk manager allocates and
// therefore lands at common.HeaderPageID.
func InitHeaderPage(pool *buffer.Manager) error {
	id, data := pool.NewPage()
	if data == nil {
		return fmt.Errorf("btree: failed to allocate header page")
	}
	if id != common.HeaderPageID {
		pool.UnpinPage(id, false)
		return fmt.Errorf("btree: header page must be the first page allocated, got id %d", id)
	}
	binary.LittleEndian.PutUint32(data[0:4], 0)
	pool.UnpinPage(id, true)
	return nil
}

func loadRootID(pool *buffer.Manager, indexName string) (common.PageID, bool) {
	data := pool.FetchPage(common.HeaderPageID)
	if data == nil {
		return common.InvalidPageID, false
	}
	defer pool.UnpinPage(common.HeaderPageID, false)

	count := binary.LittleEndian.Uint32(data[0:4])
	offset := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		offset += 2
		name := string(data[offset : offset+nameLen])
		offset += nameLen
		root := int32(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		if name == indexName {
			return common.PageID(root), true
		}
	}
	return common.InvalidPageID, false
}

func storeRootID(pool *buffer.Manager, indexName string, root common.PageID) error {
	data := pool.FetchPage(common.HeaderPageID)
	if data == nil {
		return fmt.Errorf("btree: header page not resident")
	}
	defer pool.UnpinPage(common.HeaderPageID, true)

	count := binary.LittleEndian.Uint32(data[0:4])
	offset := 4
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		nameStart := offset + 2
		name := string(data[nameStart : nameStart+nameLen])
		rootOffset := nameStart + nameLen
		if name == indexName {
			binary.LittleEndian.PutUint32(data[rootOffset:rootOffset+4], uint32(int32(root)))
			return nil
		}
		offset = rootOffset + 4
	}

	// Append a new record.
	nameBytes := []byte(indexName)
	needed := offset + 2 + len(nameBytes) + 4
	if needed > page.Size {
		return fmt.Errorf("btree: header page full, cannot register index %q", indexName)
	}
	binary.LittleEndian.PutUint16(data[offset:offset+2], uint16(len(nameBytes)))
	offset += 2
	copy(data[offset:offset+len(nameBytes)], nameBytes)
	offset += len(nameBytes)
	binary.LittleEndian.PutUint32(data[offset:offset+4], uint32(int32(root)))

	binary.LittleEndian.PutUint32(data[0:4], count+1)
	return nil
}
