package ledger

import (
	"github.com/holiman/uint256"
)

// View is a read-only snapshot of the ledger at a given tip. Consensus
// validation only ever reads through a View.
type View interface {
	// TipDigest returns the digest of the snapshot's tip.
	TipDigest() Digest

	// TipHeader returns the header of the snapshot's tip.
	TipHeader() BlockHeader

	// Height returns the height of the snapshot's tip. Genesis is 0.
	Height() int

	// ContainsSerial reports whether a serial number is spent at this tip.
	ContainsSerial(sn []byte) bool

	// ContainsCommitment reports whether a commitment exists at this tip.
	ContainsCommitment(cm []byte) bool

	// ContainsBlock reports whether a block is on the chain ending at this
	// tip.
	ContainsBlock(d Digest) bool
}

// Store is the persistent, authenticated, append-only history of the node.
type Store interface {
	// CurrentDigest returns the digest of the tip.
	CurrentDigest() Digest

	// Height returns the height of the tip.
	Height() int

	// Tip returns the tip block.
	Tip() *Block

	ContainsCommitment(cm []byte) bool
	ContainsSerial(sn []byte) bool

	// HeightOf returns the height of a block if it is on the main chain.
	HeightOf(d Digest) (int, bool)

	// BlockAt returns the main-chain block at the given height.
	BlockAt(height int) (*Block, error)

	// GetBlock returns a block from the arena, on the main chain or not.
	GetBlock(d Digest) (*Block, error)

	// CumulativeWork returns the total work of the main chain, genesis
	// included.
	CumulativeWork() *uint256.Int

	// WorkAt returns the cumulative work of the main chain up to height.
	WorkAt(height int) (*uint256.Int, error)

	// CommitmentDigest returns the merkle root over all commitments in commit
	// order. It is the zero digest when the set is empty.
	CommitmentDigest() Digest

	CommitmentCount() int
	SerialCount() int

	// View returns a snapshot pinned at the current tip.
	View() View

	// ViewAt returns a snapshot pinned at a main-chain height.
	ViewAt(height int) (View, error)

	// Commit appends a block to the main chain. The block and both derived
	// sets are updated together or not at all.
	Commit(block *Block) error

	// Reorganize replaces the main-chain suffix after ancestor with blocks,
	// atomically. It fails with StaleTip if the tip is no longer expectedTip.
	// It returns the blocks removed from the main chain, in height order.
	Reorganize(ancestor Digest, expectedTip Digest, blocks []*Block) ([]*Block, error)

	Close() error
}
