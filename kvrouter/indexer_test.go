package kvrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexer_StoreThenOverlap(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})

	ov := idx.Overlap([]BlockHash{10})
	assert.Equal(t, uint32(1), ov[1])
}

func TestIndexer_StoreIsIdempotent(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})

	require.Equal(t, 1, idx.WorkerBlockCount(1))
	ov := idx.Overlap([]BlockHash{10})
	assert.Equal(t, uint32(1), ov[1])
}

func TestIndexer_EvictIsStoreInverse(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockEvict, BlockHash: 10})

	ov := idx.Overlap([]BlockHash{10})
	assert.Empty(t, ov)
	assert.Equal(t, 0, idx.WorkerBlockCount(1))
}

func TestIndexer_EvictOfAbsentBlockIsNoOp(t *testing.T) {
	idx := NewIndexer(64, 1000)
	assert.NotPanics(t, func() {
		idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockEvict, BlockHash: 999})
	})
	assert.Equal(t, 0, idx.WorkerBlockCount(1))
}

func TestIndexer_ClearRemovesAllBlocksForWorker(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 11})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockClear})

	assert.Equal(t, 0, idx.WorkerBlockCount(1))
	assert.Empty(t, idx.Overlap([]BlockHash{10}))
	assert.Empty(t, idx.Overlap([]BlockHash{11}))
}

func TestIndexer_PurgeWorkerRemovesFromByBlock(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})
	idx.ApplyEvent(BlockEvent{Worker: 2, Op: BlockStore, BlockHash: 10})

	idx.PurgeWorker(1)

	ov := idx.Overlap([]BlockHash{10})
	_, stillThere := ov[1]
	assert.False(t, stillThere)
	assert.Equal(t, uint32(1), ov[2])
}

func TestIndexer_OverlapStrictPrefixStopsAtFirstGap(t *testing.T) {
	idx := NewIndexer(64, 1000)
	// worker holds h0 and h2, but not h1.
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 100})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 102})

	ov := idx.Overlap([]BlockHash{100, 101, 102})
	assert.Equal(t, uint32(1), ov[1], "overlap must stop at the first missing block in the prefix")
}

func TestIndexer_OverlapTwoWorkersDivergingAfterSharedPrefix(t *testing.T) {
	idx := NewIndexer(64, 1000)
	// W1 and W2 both hold blocks for the first 5 chunks; only W1 holds the 6th.
	shared := []BlockHash{1, 2, 3, 4, 5}
	for _, h := range shared {
		idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: h})
		idx.ApplyEvent(BlockEvent{Worker: 2, Op: BlockStore, BlockHash: h})
	}
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 6})

	ov := idx.Overlap(append(append([]BlockHash{}, shared...), 6))
	assert.Equal(t, uint32(6), ov[1])
	assert.Equal(t, uint32(5), ov[2])
}

func TestIndexer_OverlapEmptyRequestYieldsEmptyVector(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})
	assert.Empty(t, idx.Overlap(nil))
}

func TestIndexer_OverlapUnknownFirstBlockYieldsEmptyVector(t *testing.T) {
	idx := NewIndexer(64, 1000)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 10})
	assert.Empty(t, idx.Overlap([]BlockHash{999}))
}

func TestIndexer_OverlapUpperBoundedByRequestLength(t *testing.T) {
	idx := NewIndexer(64, 1000)
	hashes := []BlockHash{1, 2, 3}
	for _, h := range hashes {
		idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: h})
	}
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 4})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 5})

	ov := idx.Overlap(hashes)
	assert.LessOrEqual(t, ov[1], uint32(len(hashes)))
	assert.Equal(t, uint32(3), ov[1])
}

func TestIndexer_Deterministic(t *testing.T) {
	build := func() *Indexer {
		idx := NewIndexer(64, 1000)
		idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 1})
		idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 2})
		idx.ApplyEvent(BlockEvent{Worker: 2, Op: BlockStore, BlockHash: 1})
		return idx
	}
	a, b := build(), build()
	assert.Equal(t, a.Overlap([]BlockHash{1, 2}), b.Overlap([]BlockHash{1, 2}))
}

func TestIndexer_PerWorkerLRUEvictsLeastRecentlyTouched(t *testing.T) {
	idx := NewIndexer(64, 2)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 1})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 2})
	// storing a third block over capacity 2 evicts hash 1, the least
	// recently touched.
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 3})

	require.Equal(t, 2, idx.WorkerBlockCount(1))
	ov := idx.Overlap([]BlockHash{1})
	_, hasOne := ov[1]
	assert.False(t, hasOne, "least recently touched block should have been evicted")

	ov = idx.Overlap([]BlockHash{2})
	assert.Equal(t, uint32(1), ov[1])
}

func TestIndexer_RecordTouchPreventsEviction(t *testing.T) {
	idx := NewIndexer(64, 2)
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 1})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 2})
	// re-storing (touching) hash 1 makes hash 2 the least recently touched.
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 1})
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 3})

	ov := idx.Overlap([]BlockHash{1})
	assert.Equal(t, uint32(1), ov[1], "touched block must survive eviction")

	ov = idx.Overlap([]BlockHash{2})
	_, hasTwo := ov[1]
	assert.False(t, hasTwo)
}

// TestIndexer_TwoWorkerAsymmetricOverlap mirrors the worked example: W1, W2
// both hold blocks for tokens [1..16]; W1 also holds the next block
// [17..20]. A request for tokens [1..20] should score W1=5, W2=4.
func TestIndexer_TwoWorkerAsymmetricOverlap(t *testing.T) {
	idx := NewIndexer(64, 1000)
	shared := []BlockHash{100, 101, 102, 103}
	for _, h := range shared {
		idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: h})
		idx.ApplyEvent(BlockEvent{Worker: 2, Op: BlockStore, BlockHash: h})
	}
	idx.ApplyEvent(BlockEvent{Worker: 1, Op: BlockStore, BlockHash: 104})

	ov := idx.Overlap([]BlockHash{100, 101, 102, 103, 104})
	assert.Equal(t, uint32(5), ov[1])
	assert.Equal(t, uint32(4), ov[2])
}
