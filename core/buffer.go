package core

// bufferIndex selects one of two buffers for each of n entries.
//
// committed holds the last accepted selection. An entry touched during
// the current transaction (touched[i] == epoch) reads the other buffer.
// Accept folds the touched entries into committed, Reject simply starts
// a new epoch, so rolling back never depends on how many entries were
// changed.
type bufferIndex struct {
	committed []uint8
	touched   []uint64
	epoch     uint64
	pending   []int32
}

func newBufferIndex(n int) *bufferIndex {
	return &bufferIndex{
		committed: make([]uint8, n),
		touched:   make([]uint64, n),
		epoch:     1,
		pending:   make([]int32, 0, n),
	}
}

// current returns the buffer holding the working value of entry i.
func (b *bufferIndex) current(i int) int {
	if b.touched[i] == b.epoch {
		return int(b.committed[i] ^ 1)
	}
	return int(b.committed[i])
}

// stored returns the buffer holding the last accepted value of entry i.
func (b *bufferIndex) stored(i int) int {
	return int(b.committed[i])
}

// flip redirects writes for entry i to the spare buffer. Flipping the
// same entry twice in one transaction is a no-op, so the accepted value
// survives repeated recomputation.
func (b *bufferIndex) flip(i int) bool {
	if b.touched[i] == b.epoch {
		return false
	}
	b.touched[i] = b.epoch
	b.pending = append(b.pending, int32(i))
	return true
}

// dirty reports whether any entry was flipped since the last accept or
// reject.
func (b *bufferIndex) dirty() bool {
	return len(b.pending) > 0
}

func (b *bufferIndex) accept() {
	for _, i := range b.pending {
		b.committed[i] ^= 1
	}
	b.pending = b.pending[:0]
	b.epoch++
}

func (b *bufferIndex) reject() {
	b.pending = b.pending[:0]
	b.epoch++
}
