package net

import (
	"github.com/holiman/uint256"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
)

// ChainStateRequest asks a peer to advertise its chain.
type ChainStateRequest struct {
	FromAddr string
}

// ChainStateResponse is a chain advertisement: the peer's tip, its height, and
// the cumulative work it claims for its main chain. The claim is only used to
// decide whether to start a sync; the work of the fetched headers is what
// counts.
type ChainStateResponse struct {
	FromAddr  string
	TipDigest ledger.Digest
	Height    int
	Work      []byte
}

// CumulativeWork decodes the claimed work.
func (r *ChainStateResponse) CumulativeWork() *uint256.Int {
	return new(uint256.Int).SetBytes(r.Work)
}

// SetCumulativeWork encodes the claimed work.
func (r *ChainStateResponse) SetCumulativeWork(w *uint256.Int) {
	r.Work = w.Bytes()
}

// HeadersRequest asks for the headers of Count main-chain blocks, starting at
// height From.
type HeadersRequest struct {
	FromAddr string
	From     int
	Count    int
}

// HeadersResponse contains the requested headers in ascending height. It may
// be shorter than requested if the peer's chain ends before.
type HeadersResponse struct {
	FromAddr string
	Headers  []ledger.BlockHeader
}

// BlocksRequest asks for Count main-chain blocks, starting at height From.
type BlocksRequest struct {
	FromAddr string
	From     int
	Count    int
}

// BlocksResponse contains the requested blocks in ascending height.
type BlocksResponse struct {
	FromAddr string
	Blocks   []*ledger.Block
}

// NewBlockRequest announces a block, freshly mined or relayed.
type NewBlockRequest struct {
	FromAddr string
	Block    *ledger.Block
}

// NewBlockResponse indicates whether the block was accepted.
type NewBlockResponse struct {
	FromAddr string
	Accepted bool
}

// NewTransactionRequest relays a transaction.
type NewTransactionRequest struct {
	FromAddr    string
	Transaction *ledger.Transaction
}

// NewTransactionResponse indicates whether the transaction was admitted to the
// receiver's mempool.
type NewTransactionResponse struct {
	FromAddr string
	Accepted bool
}
