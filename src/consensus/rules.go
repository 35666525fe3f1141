// Package consensus implements the validity rules of transactions and blocks.
//
// Validation is pure over its inputs: the candidate, a ledger.View, the
// consensus Params and the clock. Nothing here writes to the ledger.
package consensus

import (
	"errors"
	"time"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/verifier"
	"github.com/sirupsen/logrus"
)

// ErrNotTip is wrapped in the rejection of a block whose parent is not the
// tip of the view. The block may belong to a chain the node has not seen yet.
var ErrNotTip = errors.New("block does not extend the tip")

// Rules validates transactions and blocks.
type Rules struct {
	params   Params
	verifier verifier.Verifier
	now      func() time.Time
	logger   *logrus.Entry
}

// NewRules creates a Rules engine that checks proofs with v.
func NewRules(params Params, v verifier.Verifier, logger *logrus.Entry) *Rules {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Rules{
		params:   params,
		verifier: v,
		now:      time.Now,
		logger:   logger.WithField("component", "consensus"),
	}
}

// SetClock replaces the clock used for the future-drift check.
func (r *Rules) SetClock(now func() time.Time) {
	r.now = now
}

// Now returns the time according to the engine's clock.
func (r *Rules) Now() time.Time {
	return r.now()
}

// Params returns the consensus parameters.
func (r *Rules) Params() Params {
	return r.params
}

// ValidateTransaction returns nil if tx can be appended on top of view, and a
// ValidationRejected error stating the reason otherwise.
func (r *Rules) ValidateTransaction(tx *ledger.Transaction, view ledger.View) error {
	if err := checkTransactionFormat(tx); err != nil {
		return err
	}

	for _, sn := range tx.SerialNumbers {
		if view.ContainsSerial(sn) {
			return cm.Rejected("serial number %x already spent", sn)
		}
	}

	for _, c := range tx.Commitments {
		if view.ContainsCommitment(c) {
			return cm.Rejected("commitment %x already exists", c)
		}
	}

	if !view.ContainsBlock(tx.LedgerDigest) {
		return cm.Rejected("unknown ledger digest %s", tx.LedgerDigest.Short())
	}

	if !r.verifier.Verify(tx.Proof, tx.PublicInputs()) {
		return cm.Rejected("invalid proof")
	}

	return nil
}

func checkTransactionFormat(tx *ledger.Transaction) error {
	if tx == nil {
		return cm.Rejected("missing transaction")
	}

	if tx.Fee < 0 {
		return cm.Rejected("negative fee %d", tx.Fee)
	}

	if len(tx.Memo) > MaxMemoSize {
		return cm.Rejected("memo of %d bytes exceeds %d", len(tx.Memo), MaxMemoSize)
	}

	if len(tx.SerialNumbers) == 0 {
		return cm.Rejected("no serial numbers")
	}

	seen := make(map[string]struct{}, len(tx.SerialNumbers))
	for _, sn := range tx.SerialNumbers {
		if err := checkRecord("serial number", sn); err != nil {
			return err
		}
		if _, ok := seen[string(sn)]; ok {
			return cm.Rejected("duplicate serial number %x", sn)
		}
		seen[string(sn)] = struct{}{}
	}

	outputs := make(map[string]struct{}, len(tx.Commitments))
	for _, c := range tx.Commitments {
		if err := checkRecord("commitment", c); err != nil {
			return err
		}
		if _, ok := outputs[string(c)]; ok {
			return cm.Rejected("duplicate commitment %x", c)
		}
		outputs[string(c)] = struct{}{}
	}

	return nil
}

func checkRecord(name string, b []byte) error {
	if len(b) == 0 {
		return cm.Rejected("empty %s", name)
	}
	if len(b) > MaxRecordSize {
		return cm.Rejected("%s of %d bytes exceeds %d", name, len(b), MaxRecordSize)
	}
	return nil
}

// ValidateBlock returns nil if block is a valid child of view's tip. Its
// transactions are validated in order, each against the view updated by the
// ones before it.
func (r *Rules) ValidateBlock(block *ledger.Block, view ledger.View) error {
	header := block.Header
	parent := view.TipHeader()

	if header.Parent != view.TipDigest() {
		return cm.NewCoreErr(cm.ValidationRejected, ErrNotTip, "parent %s, tip %s",
			header.Parent.Short(), view.TipDigest().Short())
	}

	for i, tx := range block.Transactions {
		if tx == nil {
			return cm.Rejected("transaction %d missing", i)
		}
	}

	size := block.Size()
	if size == 0 {
		return cm.Rejected("block cannot be encoded")
	}
	if size > r.params.MaxBlockSize {
		return cm.Rejected("block size %d exceeds %d", size, r.params.MaxBlockSize)
	}

	if root := ledger.TransactionsRoot(block.Transactions); root != header.MerkleRoot {
		return cm.Rejected("merkle root mismatch")
	}

	if header.Time < parent.Time {
		return cm.Rejected("timestamp %d before parent %d", header.Time, parent.Time)
	}

	if limit := r.now().Add(r.params.MaxFutureDrift).Unix(); header.Time > limit {
		return cm.Rejected("timestamp %d too far in the future", header.Time)
	}

	if header.Nonce > r.params.MaxNonce {
		return cm.Rejected("nonce %d exceeds %d", header.Nonce, r.params.MaxNonce)
	}

	if expected := r.ExpectedTarget(parent, header.Time); header.Target != expected {
		return cm.Rejected("target %d, expected %d", header.Target, expected)
	}

	d := block.Digest()
	if !MeetsTarget(d, header.Target) {
		return cm.Rejected("digest %s does not meet target %d", d.Short(), header.Target)
	}

	overlay := NewOverlay(view)
	for i, tx := range block.Transactions {
		if err := r.ValidateTransaction(tx, overlay); err != nil {
			r.logger.WithFields(logrus.Fields{
				"block": d.Short(),
				"index": i,
				"err":   err,
			}).Debug("Invalid transaction in block")
			return cm.NewCoreErr(cm.ValidationRejected, err, "transaction %d", i)
		}
		overlay.applyTransaction(tx)
	}

	return nil
}

// ValidateChain validates blocks in order, each on top of the one before, the
// first on top of base. It returns the index of the first invalid block along
// with the error.
func (r *Rules) ValidateChain(blocks []*ledger.Block, base ledger.View) (int, error) {
	overlay := NewOverlay(base)
	for i, b := range blocks {
		if err := r.ValidateBlock(b, overlay); err != nil {
			return i, err
		}
		overlay.Apply(b)
	}
	return len(blocks), nil
}
