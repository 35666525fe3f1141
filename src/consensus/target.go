package consensus

import (
	"encoding/binary"

	"github.com/holiman/uint256"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
)

// MeetsTarget reports whether a header digest satisfies the proof-of-work
// condition: its first 8 bytes, read big-endian, are at most target.
func MeetsTarget(d ledger.Digest, target uint64) bool {
	return binary.BigEndian.Uint64(d[:8]) <= target
}

// ExpectedTarget returns the target required of a block with the given
// timestamp on top of parent. The parent target is scaled by the ratio of the
// observed interval to the target block time, limited to a factor of 4 in
// either direction, and kept within [1, MaxTarget].
func (r *Rules) ExpectedTarget(parent ledger.BlockHeader, timestamp int64) uint64 {
	elapsed := uint64(1)
	if timestamp > parent.Time {
		elapsed = uint64(timestamp - parent.Time)
	}

	prev := uint256.NewInt(parent.Target)

	next := new(uint256.Int).Mul(prev, uint256.NewInt(elapsed))
	next.Div(next, uint256.NewInt(r.params.targetBlockSeconds()))

	lower := new(uint256.Int).Rsh(prev, 2)
	upper := new(uint256.Int).Lsh(prev, 2)
	if next.Lt(lower) {
		next = lower
	}
	if next.Gt(upper) {
		next = upper
	}

	if next.IsZero() {
		return 1
	}
	maxTarget := uint256.NewInt(r.params.MaxTarget)
	if next.Gt(maxTarget) {
		return r.params.MaxTarget
	}
	return next.Uint64()
}
