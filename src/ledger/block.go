package ledger

import (
	"encoding/binary"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/crypto"
)

// BlockHeader contains the fields covered by the proof-of-work.
type BlockHeader struct {
	Parent     Digest
	MerkleRoot Digest
	Time       int64
	Target     uint64
	Nonce      uint32
	Miner      []byte
}

// Bytes returns the fixed binary layout hashed by Digest:
//
//	parent(32) | merkle_root(32) | time(8) | target(8) | len(miner)(2) | miner | nonce(4)
//
// The nonce is always the trailing 4 bytes.
func (h *BlockHeader) Bytes() []byte {
	buf := make([]byte, 0, 2*DigestSize+22+len(h.Miner))

	buf = append(buf, h.Parent[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.Time))
	buf = binary.BigEndian.AppendUint64(buf, h.Target)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h.Miner)))
	buf = append(buf, h.Miner...)
	buf = binary.BigEndian.AppendUint32(buf, h.Nonce)

	return buf
}

// Digest returns the double SHA256 of the header bytes.
func (h *BlockHeader) Digest() Digest {
	return crypto.DoubleSHA256(h.Bytes())
}

// Block is an ordered list of transactions chained to its parent by digest.
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// NewBlock creates a block with a zero nonce and computes its merkle root.
func NewBlock(parent Digest, timestamp int64, target uint64, miner []byte, txs []*Transaction) *Block {
	if txs == nil {
		txs = []*Transaction{}
	}

	return &Block{
		Header: BlockHeader{
			Parent:     parent,
			MerkleRoot: TransactionsRoot(txs),
			Time:       timestamp,
			Target:     target,
			Miner:      miner,
		},
		Transactions: txs,
	}
}

// NewGenesis returns the genesis block for the given timestamp and target.
func NewGenesis(timestamp time.Time, target uint64) *Block {
	return NewBlock(ZeroDigest, timestamp.Unix(), target, nil, nil)
}

// Digest identifies the block. It only covers the header, the transactions are
// bound through the merkle root.
func (b *Block) Digest() Digest {
	return b.Header.Digest()
}

// Parent ...
func (b *Block) Parent() Digest {
	return b.Header.Parent
}

// Marshal returns the canonical encoding of the block.
func (b *Block) Marshal() ([]byte, error) {
	return Marshal(b)
}

// Unmarshal ...
func (b *Block) Unmarshal(data []byte) error {
	return Unmarshal(data, b)
}

// Size returns the length of the canonical encoding.
func (b *Block) Size() int {
	data, err := b.Marshal()
	if err != nil {
		return 0
	}
	return len(data)
}

// SerialNumbers returns the serial numbers of all the block's transactions.
func (b *Block) SerialNumbers() [][]byte {
	res := [][]byte{}
	for _, tx := range b.Transactions {
		res = append(res, tx.SerialNumbers...)
	}
	return res
}

// Commitments returns the commitments of all the block's transactions, in
// order.
func (b *Block) Commitments() [][]byte {
	res := [][]byte{}
	for _, tx := range b.Transactions {
		res = append(res, tx.Commitments...)
	}
	return res
}

// TransactionsRoot returns the merkle root over the transaction IDs. An empty
// list has a zero root.
func TransactionsRoot(txs []*Transaction) Digest {
	if len(txs) == 0 {
		return ZeroDigest
	}

	ids := make([][]byte, len(txs))
	for i, tx := range txs {
		id := tx.ID()
		ids[i] = id[:]
	}

	var root Digest
	copy(root[:], crypto.MerkleRoot(ids))

	return root
}
