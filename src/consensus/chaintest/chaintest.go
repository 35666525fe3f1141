// Package chaintest builds valid chains for tests.
package chaintest

import (
	"fmt"
	"math"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/verifier"
)

// GenesisTime is the timestamp of the test genesis block.
var GenesisTime = time.Unix(1577836800, 0)

// Builder creates blocks that pass the consensus rules of its Rules.
type Builder struct {
	Params  consensus.Params
	Rules   *consensus.Rules
	Genesis *ledger.Block
}

// NewBuilder returns a Builder with the easiest possible target, an
// accept-all verifier, and a clock one year after genesis.
func NewBuilder(t testing.TB) *Builder {
	genesis := ledger.NewGenesis(GenesisTime, math.MaxUint64)

	params := consensus.DefaultParams(genesis)
	params.MaxTarget = math.MaxUint64

	rules := consensus.NewRules(params, verifier.Static(true), cm.NewTestEntry(t, cm.TestLogLevel))
	rules.SetClock(func() time.Time {
		return GenesisTime.Add(365 * 24 * time.Hour)
	})

	return &Builder{
		Params:  params,
		Rules:   rules,
		Genesis: genesis,
	}
}

// Tx returns a transaction spending one serial and producing one commitment,
// both derived from tag, anchored at anchor.
func Tx(tag string, fee int64, anchor ledger.Digest) *ledger.Transaction {
	return &ledger.Transaction{
		SerialNumbers: [][]byte{[]byte("sn_" + tag)},
		Commitments:   [][]byte{[]byte("cm_" + tag)},
		LedgerDigest:  anchor,
		Proof:         []byte("proof_" + tag),
		Fee:           fee,
	}
}

// Block returns a solved block on top of parent, dt seconds later.
func (b *Builder) Block(parent *ledger.Block, dt int64, txs ...*ledger.Transaction) *ledger.Block {
	ts := parent.Header.Time + dt
	target := b.Rules.ExpectedTarget(parent.Header, ts)

	block := ledger.NewBlock(parent.Digest(), ts, target, nil, txs)
	if !Solve(block, b.Params.MaxNonce) {
		panic(fmt.Sprintf("no nonce for target %d", target))
	}

	return block
}

// Chain returns n solved blocks on top of parent, dt seconds apart. Each block
// carries one transaction tagged with prefix and its index, anchored at
// genesis.
func (b *Builder) Chain(parent *ledger.Block, n int, prefix string, dt int64) []*ledger.Block {
	blocks := make([]*ledger.Block, 0, n)
	for i := 0; i < n; i++ {
		tx := Tx(fmt.Sprintf("%s%d", prefix, i), 1, b.Genesis.Digest())
		block := b.Block(parent, dt, tx)
		blocks = append(blocks, block)
		parent = block
	}
	return blocks
}

// Solve searches the nonce space for a digest meeting the block's target.
func Solve(block *ledger.Block, maxNonce uint32) bool {
	for nonce := uint64(0); nonce <= uint64(maxNonce); nonce++ {
		block.Header.Nonce = uint32(nonce)
		if consensus.MeetsTarget(block.Digest(), block.Header.Target) {
			return true
		}
	}
	return false
}
