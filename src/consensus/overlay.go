package consensus

import (
	"github.com/mosaicnetworks/dpcnode/src/ledger"
)

// Overlay is a View of uncommitted blocks layered over a base View. It is used
// to validate the transactions of a block in order, and to validate a whole
// fork suffix from its common ancestor before anything is written.
type Overlay struct {
	base ledger.View

	tip       ledger.BlockHeader
	tipDigest ledger.Digest
	height    int

	serials     map[string]struct{}
	commitments map[string]struct{}
	blocks      map[ledger.Digest]struct{}
}

// NewOverlay creates an empty Overlay over base.
func NewOverlay(base ledger.View) *Overlay {
	return &Overlay{
		base:        base,
		tip:         base.TipHeader(),
		tipDigest:   base.TipDigest(),
		height:      base.Height(),
		serials:     make(map[string]struct{}),
		commitments: make(map[string]struct{}),
		blocks:      make(map[ledger.Digest]struct{}),
	}
}

// Apply adds a block's records to the overlay and makes it the tip. The block
// must already have been validated against the overlay.
func (o *Overlay) Apply(block *ledger.Block) {
	for _, tx := range block.Transactions {
		o.applyTransaction(tx)
	}

	d := block.Digest()
	o.blocks[d] = struct{}{}
	o.tip = block.Header
	o.tipDigest = d
	o.height++
}

func (o *Overlay) applyTransaction(tx *ledger.Transaction) {
	for _, sn := range tx.SerialNumbers {
		o.serials[string(sn)] = struct{}{}
	}
	for _, c := range tx.Commitments {
		o.commitments[string(c)] = struct{}{}
	}
}

// TipDigest implements ledger.View.
func (o *Overlay) TipDigest() ledger.Digest {
	return o.tipDigest
}

// TipHeader implements ledger.View.
func (o *Overlay) TipHeader() ledger.BlockHeader {
	return o.tip
}

// Height implements ledger.View.
func (o *Overlay) Height() int {
	return o.height
}

// ContainsSerial implements ledger.View.
func (o *Overlay) ContainsSerial(sn []byte) bool {
	if _, ok := o.serials[string(sn)]; ok {
		return true
	}
	return o.base.ContainsSerial(sn)
}

// ContainsCommitment implements ledger.View.
func (o *Overlay) ContainsCommitment(c []byte) bool {
	if _, ok := o.commitments[string(c)]; ok {
		return true
	}
	return o.base.ContainsCommitment(c)
}

// ContainsBlock implements ledger.View.
func (o *Overlay) ContainsBlock(d ledger.Digest) bool {
	if _, ok := o.blocks[d]; ok {
		return true
	}
	return o.base.ContainsBlock(d)
}
