package crypto

import (
	"crypto/sha256"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
)

// SHA256 returns the SHA256 hash of the data.
func SHA256(data []byte) []byte {
	hasher := sha256.New()
	hasher.Write(data)
	hash := hasher.Sum(nil)
	return hash
}

// DoubleSHA256 returns SHA256(SHA256(data)). It is the proof-of-work hash of
// block headers.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// MerkleRoot returns the root of a binary SHA256 merkle tree whose leaves are
// the provided items, in order. The root of an empty list is nil.
func MerkleRoot(leaves [][]byte) []byte {
	tree := merkletree.New(sha256.New())
	for _, l := range leaves {
		tree.Push(l)
	}
	return tree.Root()
}

// Accumulator incrementally folds leaves into a merkle root. It is append-only;
// rewinding requires building a new Accumulator from the retained leaves.
type Accumulator struct {
	tree  *merkletree.Tree
	count int
}

// NewAccumulator ...
func NewAccumulator() *Accumulator {
	return &Accumulator{
		tree: merkletree.New(sha256.New()),
	}
}

// Push appends a leaf.
func (a *Accumulator) Push(leaf []byte) {
	a.tree.Push(leaf)
	a.count++
}

// Root returns the current root, or nil if no leaf was pushed.
func (a *Accumulator) Root() []byte {
	if a.count == 0 {
		return nil
	}
	return a.tree.Root()
}

// Len returns the number of leaves pushed so far.
func (a *Accumulator) Len() int {
	return a.count
}
