package ledger

import (
	"crypto/sha256"
	"encoding/binary"
)

// Transaction is a proof-carrying record. It consumes serial numbers, produces
// commitments, and carries a proof that the transition is valid without
// revealing amounts or parties.
type Transaction struct {
	// SerialNumbers are the nullifiers of the records consumed by this
	// transaction.
	SerialNumbers [][]byte

	// Commitments are the new records produced by this transaction.
	Commitments [][]byte

	// LedgerDigest is the digest of the block whose ledger state the proof was
	// computed against. The records opened by the proof are commitments of
	// that state.
	LedgerDigest Digest

	// Proof is opaque to the node and checked by a verifier.Verifier.
	Proof []byte

	// Fee is the network fee paid to the miner.
	Fee int64

	// Memo is an opaque public field bound by the proof.
	Memo []byte
}

// Marshal returns the canonical encoding of the transaction.
func (tx *Transaction) Marshal() ([]byte, error) {
	return Marshal(tx)
}

// Unmarshal ...
func (tx *Transaction) Unmarshal(data []byte) error {
	return Unmarshal(data, tx)
}

// ID returns the SHA256 of the canonical encoding.
func (tx *Transaction) ID() Digest {
	b, err := tx.Marshal()
	if err != nil {
		return ZeroDigest
	}
	return sha256.Sum256(b)
}

// Size returns the length of the canonical encoding.
func (tx *Transaction) Size() int {
	b, err := tx.Marshal()
	if err != nil {
		return 0
	}
	return len(b)
}

// PublicInputs returns the values the proof is verified against: the ledger
// digest, the serial numbers, the commitments, the fee as 8 big-endian bytes,
// and the memo.
func (tx *Transaction) PublicInputs() [][]byte {
	inputs := make([][]byte, 0, len(tx.SerialNumbers)+len(tx.Commitments)+3)

	inputs = append(inputs, tx.LedgerDigest.Bytes())
	inputs = append(inputs, tx.SerialNumbers...)
	inputs = append(inputs, tx.Commitments...)

	fee := make([]byte, 8)
	binary.BigEndian.PutUint64(fee, uint64(tx.Fee))
	inputs = append(inputs, fee)

	return append(inputs, tx.Memo)
}
