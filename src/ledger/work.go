package ledger

import (
	"github.com/holiman/uint256"
)

// twoTo64 is the size of the proof-of-work space: a header digest meets a
// target when its first 8 bytes, read as a big-endian uint64, are at most the
// target.
var twoTo64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

// Work returns the expected number of hashes needed to find a digest meeting
// target: 2^64 / (target + 1). The easiest target, math.MaxUint64, is worth
// exactly 1.
func Work(target uint64) *uint256.Int {
	denom := new(uint256.Int).AddUint64(uint256.NewInt(target), 1)
	return new(uint256.Int).Div(twoTo64, denom)
}

// ChainWork sums the work of a list of headers.
func ChainWork(headers []*BlockHeader) *uint256.Int {
	total := new(uint256.Int)
	for _, h := range headers {
		total.Add(total, Work(h.Target))
	}
	return total
}
