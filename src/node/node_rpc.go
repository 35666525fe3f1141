package node

import (
	"errors"
	"fmt"

	"github.com/jellydator/ttlcache/v3"
	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/sirupsen/logrus"
)

// maxRequestCount caps the number of headers or blocks returned by one
// request.
const maxRequestCount = 1000

var (
	errBusy    = errors.New("node busy")
	errRefused = errors.New("connection refused by peer context")
)

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.ChainStateRequest:
		prometheusRPCRequests.WithLabelValues("chain_state").Inc()
		n.connect(cmd.FromAddr)
		n.processChainStateRequest(rpc, cmd)
	case *net.HeadersRequest:
		prometheusRPCRequests.WithLabelValues("headers").Inc()
		n.connect(cmd.FromAddr)
		n.processHeadersRequest(rpc, cmd)
	case *net.BlocksRequest:
		prometheusRPCRequests.WithLabelValues("blocks").Inc()
		n.connect(cmd.FromAddr)
		n.processBlocksRequest(rpc, cmd)
	case *net.NewBlockRequest:
		prometheusRPCRequests.WithLabelValues("new_block").Inc()
		n.connect(cmd.FromAddr)
		n.processNewBlockRequest(rpc, cmd)
	case *net.NewTransactionRequest:
		prometheusRPCRequests.WithLabelValues("new_transaction").Inc()
		n.connect(cmd.FromAddr)
		n.processNewTransactionRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processChainStateRequest(rpc net.RPC, cmd *net.ChainStateRequest) {
	resp := n.chainState()

	n.logger.WithFields(logrus.Fields{
		"from":   cmd.FromAddr,
		"height": resp.Height,
	}).Debug("Responding to ChainStateRequest")

	rpc.Respond(resp, nil)
}

// chainState returns the advertisement of the local chain.
func (n *Node) chainState() *net.ChainStateResponse {
	store := n.core.Store()

	// the tip is read before the height and work so that a concurrent commit
	// cannot make the advertisement claim more than the tip carries
	view := store.View()

	resp := &net.ChainStateResponse{
		FromAddr:  n.trans.AdvertiseAddr(),
		TipDigest: view.TipDigest(),
		Height:    view.Height(),
	}

	work, err := store.WorkAt(view.Height())
	if err != nil {
		work = store.CumulativeWork()
	}
	resp.SetCumulativeWork(work)

	return resp
}

// requestRange validates the range of a headers or blocks request against
// the local height.
func (n *Node) requestRange(from, count int) (int, int, error) {
	if from < 0 || count <= 0 {
		return 0, 0, fmt.Errorf("invalid range %d+%d", from, count)
	}

	count = min(count, maxRequestCount)
	to := min(from+count-1, n.core.Store().Height())

	return from, to, nil
}

func (n *Node) processHeadersRequest(rpc net.RPC, cmd *net.HeadersRequest) {
	from, to, err := n.requestRange(cmd.From, cmd.Count)
	if err != nil {
		rpc.Respond(nil, err)
		return
	}

	resp := &net.HeadersResponse{
		FromAddr: n.trans.AdvertiseAddr(),
		Headers:  []ledger.BlockHeader{},
	}

	for h := from; h <= to; h++ {
		block, err := n.core.Store().BlockAt(h)
		if err != nil {
			// the chain got shorter in the meantime
			break
		}
		resp.Headers = append(resp.Headers, block.Header)
	}

	n.logger.WithFields(logrus.Fields{
		"from":    cmd.FromAddr,
		"start":   cmd.From,
		"headers": len(resp.Headers),
	}).Debug("Responding to HeadersRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processBlocksRequest(rpc net.RPC, cmd *net.BlocksRequest) {
	from, to, err := n.requestRange(cmd.From, cmd.Count)
	if err != nil {
		rpc.Respond(nil, err)
		return
	}

	resp := &net.BlocksResponse{
		FromAddr: n.trans.AdvertiseAddr(),
		Blocks:   []*ledger.Block{},
	}

	for h := from; h <= to; h++ {
		block, err := n.core.Store().BlockAt(h)
		if err != nil {
			break
		}
		resp.Blocks = append(resp.Blocks, block)
	}

	n.logger.WithFields(logrus.Fields{
		"from":   cmd.FromAddr,
		"start":  cmd.From,
		"blocks": len(resp.Blocks),
	}).Debug("Responding to BlocksRequest")

	rpc.Respond(resp, nil)
}

func (n *Node) processNewBlockRequest(rpc net.RPC, cmd *net.NewBlockRequest) {
	resp := &net.NewBlockResponse{
		FromAddr: n.trans.AdvertiseAddr(),
	}

	if cmd.Block == nil {
		rpc.Respond(resp, fmt.Errorf("empty block"))
		return
	}

	d := cmd.Block.Digest()

	if n.seen.Has(d) {
		_, resp.Accepted = n.core.Store().HeightOf(d)
		rpc.Respond(resp, nil)
		return
	}
	n.seen.Set(d, struct{}{}, ttlcache.DefaultTTL)

	err := n.core.ProcessBlock(cmd.Block)
	resp.Accepted = err == nil

	rpc.Respond(resp, nil)

	switch {
	case err == nil:
		n.relayBlock(cmd.Block, cmd.FromAddr)
	case errors.Is(err, consensus.ErrNotTip):
		// the block may extend a chain we do not have
		n.seen.Delete(d)
		if cmd.FromAddr != "" {
			n.goFunc(func() { n.poll(cmd.FromAddr) })
		}
	case cm.Is(err, cm.StoreFailure):
		n.handleSyncError(cmd.FromAddr, err)
	default:
		n.logger.WithFields(logrus.Fields{
			"from":  cmd.FromAddr,
			"block": d.Short(),
			"err":   err,
		}).Debug("NewBlockRequest rejected")
	}
}

func (n *Node) processNewTransactionRequest(rpc net.RPC, cmd *net.NewTransactionRequest) {
	resp := &net.NewTransactionResponse{
		FromAddr: n.trans.AdvertiseAddr(),
	}

	if cmd.Transaction == nil {
		rpc.Respond(resp, fmt.Errorf("empty transaction"))
		return
	}

	id := cmd.Transaction.ID()

	if n.seen.Has(id) {
		resp.Accepted = n.core.Mempool().Contains(id)
		rpc.Respond(resp, nil)
		return
	}
	n.seen.Set(id, struct{}{}, ttlcache.DefaultTTL)

	err := n.core.SubmitTransaction(cmd.Transaction)
	resp.Accepted = err == nil

	rpc.Respond(resp, nil)

	if err != nil {
		n.logger.WithFields(logrus.Fields{
			"from": cmd.FromAddr,
			"tx":   id.Short(),
			"err":  err,
		}).Debug("NewTransactionRequest rejected")
		return
	}

	n.relayTransaction(cmd.Transaction, cmd.FromAddr)
}

/*******************************************************************************
Relay
*******************************************************************************/

// BroadcastBlock announces a locally mined block to every connected peer.
func (n *Node) BroadcastBlock(block *ledger.Block) {
	n.seen.Set(block.Digest(), struct{}{}, ttlcache.DefaultTTL)
	n.relayBlock(block, "")
}

// SubmitTransaction adds a local transaction to the mempool and relays it.
func (n *Node) SubmitTransaction(tx *ledger.Transaction) error {
	if err := n.core.SubmitTransaction(tx); err != nil {
		return err
	}

	n.seen.Set(tx.ID(), struct{}{}, ttlcache.DefaultTTL)
	n.relayTransaction(tx, "")

	return nil
}

func (n *Node) relayBlock(block *ledger.Block, except string) {
	args := &net.NewBlockRequest{
		FromAddr: n.trans.AdvertiseAddr(),
		Block:    block,
	}

	for _, p := range n.peers.Connected() {
		if p.NetAddr == except {
			continue
		}

		target := p.NetAddr
		n.goFunc(func() {
			var out net.NewBlockResponse
			if err := n.trans.NewBlock(target, args, &out); err != nil {
				n.logger.WithFields(logrus.Fields{
					"peer": target,
					"err":  err,
				}).Debug("Relaying block")
			}
		})
	}
}

func (n *Node) relayTransaction(tx *ledger.Transaction, except string) {
	args := &net.NewTransactionRequest{
		FromAddr:    n.trans.AdvertiseAddr(),
		Transaction: tx,
	}

	for _, p := range n.peers.Connected() {
		if p.NetAddr == except {
			continue
		}

		target := p.NetAddr
		n.goFunc(func() {
			var out net.NewTransactionResponse
			if err := n.trans.NewTransaction(target, args, &out); err != nil {
				n.logger.WithFields(logrus.Fields{
					"peer": target,
					"err":  err,
				}).Debug("Relaying transaction")
			}
		})
	}
}
