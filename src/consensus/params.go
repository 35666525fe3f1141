package consensus

import (
	"math"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/ledger"
)

const (
	// DefaultMaxBlockSize is the default limit on the encoded size of a block.
	DefaultMaxBlockSize = 1000000000
	// DefaultMaxNonce is the default upper bound of the nonce space.
	DefaultMaxNonce = math.MaxUint32
	// DefaultTargetBlockTime is the block interval the target adjusts towards.
	DefaultTargetBlockTime = 10 * time.Second
	// DefaultMaxFutureDrift bounds how far ahead of the local clock a block
	// timestamp may be.
	DefaultMaxFutureDrift = 2 * time.Hour
	// DefaultMaxTarget is the easiest target, used for genesis. A header meets
	// it in 256 hashes on average.
	DefaultMaxTarget = uint64(1) << 56

	// MaxMemoSize is the maximum size of a transaction memo.
	MaxMemoSize = 32
	// MaxRecordSize is the maximum size of a serial number or commitment.
	MaxRecordSize = 64
)

// Params are the consensus parameters. They are fixed for the lifetime of a
// node.
type Params struct {
	MaxBlockSize    int
	MaxNonce        uint32
	TargetBlockTime time.Duration
	MaxFutureDrift  time.Duration
	MaxTarget       uint64
	Genesis         *ledger.Block
}

// DefaultParams returns the default parameters around a genesis block. A nil
// genesis is replaced by the default one.
func DefaultParams(genesis *ledger.Block) Params {
	if genesis == nil {
		genesis = DefaultGenesis()
	}

	return Params{
		MaxBlockSize:    DefaultMaxBlockSize,
		MaxNonce:        DefaultMaxNonce,
		TargetBlockTime: DefaultTargetBlockTime,
		MaxFutureDrift:  DefaultMaxFutureDrift,
		MaxTarget:       DefaultMaxTarget,
		Genesis:         genesis,
	}
}

// DefaultGenesis is the genesis block shared by every node running with
// default parameters.
func DefaultGenesis() *ledger.Block {
	return ledger.NewGenesis(time.Unix(1577836800, 0), DefaultMaxTarget)
}

// targetBlockSeconds is the target block time in whole seconds, at least 1.
func (p Params) targetBlockSeconds() uint64 {
	s := uint64(p.TargetBlockTime / time.Second)
	if s == 0 {
		return 1
	}
	return s
}
