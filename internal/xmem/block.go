package xmem

// BlockSize is the largest transfer the external RAM transport accepts.
// Transfers must also stay inside one BlockSize-aligned block.
const BlockSize = 16

// BlockStore splits every transfer into transactions of at most BlockSize
// bytes that never cross a BlockSize boundary. A failed transaction aborts
// the transfer; bytes of earlier transactions have already been written.
type BlockStore struct {
	next Store
}

// NewBlockStore wraps next so that it only ever sees block-sized transfers.
func NewBlockStore(next Store) *BlockStore {
	return &BlockStore{next: next}
}

// ReadAt reads dst from addr one block transaction at a time.
func (b *BlockStore) ReadAt(dst []byte, addr uint32) error {
	return chunked(dst, addr, b.next.ReadAt)
}

// WriteAt writes src to addr one block transaction at a time.
func (b *BlockStore) WriteAt(src []byte, addr uint32) error {
	return chunked(src, addr, b.next.WriteAt)
}

func chunked(p []byte, addr uint32, op func([]byte, uint32) error) error {
	for len(p) > 0 {
		n := BlockSize - int(addr%BlockSize)
		if n > len(p) {
			n = len(p)
		}
		if err := op(p[:n], addr); err != nil {
			return err
		}
		p = p[n:]
		addr += uint32(n)
	}
	return nil
}
