package kvrouter

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Token is a vocabulary id. Workers and the router must agree on the token
// stream; the router never interprets token values.
type Token uint32

// BlockHash is a 64-bit salted hash chain identifying a token block together
// with every block that preceded it in the request. Two requests sharing a
// K-block prefix share exactly their first K block hashes.
type BlockHash uint64

// DefaultHashSeed is the fixed salt mixed into the first block's hash.
// Workers computing block hashes for KV-event publication must use the same
// seed as the router, or no block will ever match.
const DefaultHashSeed uint64 = 1337

// BlockHasher splits token sequences into fixed-size blocks and computes a
// stable, endianness-independent hash chain over them. It holds no mutable
// state and is safe for unbounded concurrent use.
type BlockHasher struct {
	blockSize int
	seed      uint64
}

// NewBlockHasher constructs a BlockHasher. Panics if blockSize <= 0: block
// size is a startup configuration error (spec §7), not a runtime one.
func NewBlockHasher(blockSize int, seed uint64) *BlockHasher {
	if blockSize <= 0 {
		panic("kvrouter: block size must be positive")
	}
	return &BlockHasher{blockSize: blockSize, seed: seed}
}

// BlockSize returns the configured block size in tokens.
func (h *BlockHasher) BlockSize() int { return h.blockSize }

// Split chunks tokens into complete blocks and reports the trailing partial
// block length. The partial tail is never hashed or indexed — only complete
// blocks participate in matching (spec §4.1).
func (h *BlockHasher) Split(tokens []Token) (blocks []BlockHash, partialTailLen int) {
	n := len(tokens) / h.blockSize
	if n == 0 {
		return nil, len(tokens)
	}
	blocks = make([]BlockHash, n)
	prev := h.seed
	for i := 0; i < n; i++ {
		chunk := tokens[i*h.blockSize : (i+1)*h.blockSize]
		prev = mix(prev, chunk)
		blocks[i] = BlockHash(prev)
	}
	return blocks, len(tokens) - n*h.blockSize
}

// mix folds the previous chain value and a token block into the next 64-bit
// digest. The byte layout is fixed little-endian regardless of host
// architecture so the same tokens hash identically on every machine, per the
// determinism invariant in spec §4.1 and §8.
func mix(prev uint64, block []Token) uint64 {
	buf := make([]byte, 8+4*len(block))
	binary.LittleEndian.PutUint64(buf[0:8], prev)
	for i, t := range block {
		binary.LittleEndian.PutUint32(buf[8+4*i:12+4*i], uint32(t))
	}
	return xxhash.Sum64(buf)
}
