// Package chainsync brings the local chain up to date with the chains
// advertised by peers.
//
// A peer's advertisement is only a hint. The coordinator walks back the
// peer's headers to the last block both chains share, fetches the peer's
// blocks after it, and then either extends the local chain block by block or,
// when the chains have forked, replaces the local suffix with the peer's if
// the peer's suffix carries strictly more work. A replacement happens
// entirely or not at all. A peer that sends an inconsistent or invalid chain
// is banned.
package chainsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/mosaicnetworks/dpcnode/src/peers"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultBatchSize is the number of headers or blocks per request.
	DefaultBatchSize = 100
	// DefaultParallelism is the number of block requests in flight per peer.
	DefaultParallelism = 4
	// DefaultMaxSpan is the number of blocks past the common ancestor fetched
	// in one round of synchronization.
	DefaultMaxSpan = 10000
)

// Chain is the local chain the coordinator synchronizes.
type Chain interface {
	Store() ledger.Store
	ProcessBlock(block *ledger.Block) error
	Reorganize(ancestor ledger.Digest, blocks []*ledger.Block) error
}

// Config ...
type Config struct {
	BatchSize   int
	Parallelism int
	MaxSpan     int
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		BatchSize:   DefaultBatchSize,
		Parallelism: DefaultParallelism,
		MaxSpan:     DefaultMaxSpan,
	}
}

// Coordinator runs the synchronization with each connected peer.
type Coordinator struct {
	chain     Chain
	trans     net.Transport
	peers     *peers.Context
	localAddr string
	conf      Config

	statesLock sync.Mutex
	states     map[string]*SyncState

	logger *logrus.Entry
}

// NewCoordinator creates a Coordinator that fetches over trans and reports
// misbehaving peers to peerContext.
func NewCoordinator(chain Chain,
	trans net.Transport,
	peerContext *peers.Context,
	conf Config,
	logger *logrus.Entry,
) *Coordinator {
	if conf.BatchSize <= 0 {
		conf.BatchSize = DefaultBatchSize
	}
	if conf.Parallelism <= 0 {
		conf.Parallelism = DefaultParallelism
	}
	if conf.MaxSpan <= 0 {
		conf.MaxSpan = DefaultMaxSpan
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Coordinator{
		chain:     chain,
		trans:     trans,
		peers:     peerContext,
		localAddr: trans.AdvertiseAddr(),
		conf:      conf,
		states:    make(map[string]*SyncState),
		logger:    logger.WithField("component", "chainsync"),
	}
}

// Connect creates the sync state of a peer, waiting for its advertisement.
func (c *Coordinator) Connect(peer string) {
	st := c.state(peer)
	if err := st.event(context.Background(), eventConnect); err != nil {
		c.logger.WithFields(logrus.Fields{
			"peer": peer,
			"err":  err,
		}).Debug("Connect")
	}
}

// Disconnect cancels any sync in progress with a peer and discards its state.
// The ledger is not affected.
func (c *Coordinator) Disconnect(peer string) {
	c.statesLock.Lock()
	st, ok := c.states[peer]
	delete(c.states, peer)
	c.statesLock.Unlock()

	if ok {
		st.abort()
	}
}

// State returns the sync state of a peer, or Idle if it is unknown.
func (c *Coordinator) State(peer string) string {
	c.statesLock.Lock()
	st, ok := c.states[peer]
	c.statesLock.Unlock()

	if !ok {
		return Idle
	}
	return st.Current()
}

func (c *Coordinator) state(peer string) *SyncState {
	c.statesLock.Lock()
	defer c.statesLock.Unlock()

	st, ok := c.states[peer]
	if !ok {
		st = newSyncState()
		c.states[peer] = st
	}
	return st
}

// Poll asks a peer for its advertisement and handles it.
func (c *Coordinator) Poll(ctx context.Context, peer string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var adv net.ChainStateResponse
	if err := c.trans.ChainState(peer, &net.ChainStateRequest{FromAddr: c.localAddr}, &adv); err != nil {
		return fmt.Errorf("requesting chain state from %s: %w", peer, err)
	}

	return c.HandleAdvertisement(ctx, peer, &adv)
}

// HandleAdvertisement synchronizes with a peer if its advertisement is
// higher, or claims more work, than the local chain. It returns nil if there
// is nothing to do or a sync with the peer is already running. A
// PeerMisbehavior error means the peer has been banned.
func (c *Coordinator) HandleAdvertisement(ctx context.Context, peer string, adv *net.ChainStateResponse) error {
	st := c.state(peer)

	if !st.running.TryLock() {
		return nil
	}
	defer st.running.Unlock()

	if st.Current() == Idle {
		if err := st.event(ctx, eventConnect); err != nil {
			return err
		}
	}

	st.Lock()
	st.advertisement = adv
	st.Unlock()

	defer st.event(context.Background(), eventFinish)

	if adv.Height < 0 {
		return c.misbehaving(peer, cm.Misbehaving(nil, "negative height %d", adv.Height))
	}

	store := c.chain.Store()
	localHeight := store.Height()
	localWork := store.CumulativeWork()

	if adv.Height <= localHeight && adv.CumulativeWork().Cmp(localWork) <= 0 {
		return nil
	}

	if _, ok := store.HeightOf(adv.TipDigest); ok {
		return nil
	}

	if err := st.event(ctx, eventAdvertise); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	st.setCancel(cancel)
	defer st.abort()

	c.logger.WithFields(logrus.Fields{
		"peer":         peer,
		"peer_height":  adv.Height,
		"peer_work":    adv.CumulativeWork().Dec(),
		"local_height": localHeight,
		"local_work":   localWork.Dec(),
	}).Debug("Syncing")

	err := c.sync(ctx, st, peer, adv)
	if cm.Is(err, cm.PeerMisbehavior) {
		return c.misbehaving(peer, err)
	}
	return err
}

func (c *Coordinator) misbehaving(peer string, err error) error {
	c.logger.WithFields(logrus.Fields{
		"peer": peer,
		"err":  err,
	}).Warn("Peer misbehaving")

	if c.peers != nil {
		c.peers.Ban(peer)
	}
	c.Disconnect(peer)

	return err
}

func (c *Coordinator) sync(ctx context.Context, st *SyncState, peer string, adv *net.ChainStateResponse) error {
	store := c.chain.Store()

	start := min(store.Height(), adv.Height)

	ancestorHeight, ancestor, err := c.findAncestor(ctx, peer, start)
	if err != nil {
		return err
	}

	if ancestorHeight == adv.Height {
		// the peer's tip is on our main chain
		return nil
	}

	to := c.syncTarget(store.Height(), ancestorHeight, adv.Height)

	if ancestor == store.CurrentDigest() {
		return c.extend(ctx, st, peer, ancestorHeight, ancestor, to)
	}

	return c.fork(ctx, st, peer, ancestorHeight, ancestor, to)
}

// syncTarget returns the last height fetched in this round. It is at most
// MaxSpan blocks past the local suffix the peer's chain competes with, and the
// rest of a longer chain is fetched on the next advertisements.
func (c *Coordinator) syncTarget(localHeight, ancestorHeight, advHeight int) int {
	span := c.conf.MaxSpan + max(localHeight-ancestorHeight, 0)
	if advHeight-ancestorHeight > span {
		return ancestorHeight + span
	}
	return advHeight
}

// extend applies the peer's blocks on top of the local tip, one window of
// batches at a time.
func (c *Coordinator) extend(ctx context.Context, st *SyncState, peer string, from int, parent ledger.Digest, to int) error {
	if err := st.event(ctx, eventApply); err != nil {
		return err
	}

	window := c.conf.BatchSize * c.conf.Parallelism
	applied := 0

	for height := from + 1; height <= to; height += window {
		end := min(height+window-1, to)

		blocks, err := c.fetchBlocks(ctx, peer, height, end, parent)
		if err != nil {
			return err
		}

		for _, b := range blocks {
			if err := c.chain.ProcessBlock(b); err != nil {
				if errors.Is(err, consensus.ErrNotTip) {
					// the tip moved under us, the next advertisement resumes
					c.logger.WithField("peer", peer).Debug("Tip moved during sync")
					return nil
				}
				if cm.Is(err, cm.ValidationRejected) {
					return cm.Misbehaving(err, "block %s", b.Digest().Short())
				}
				return err
			}
			applied++
		}

		parent = blocks[len(blocks)-1].Digest()
	}

	c.logger.WithFields(logrus.Fields{
		"peer":    peer,
		"applied": applied,
		"height":  c.chain.Store().Height(),
	}).Info("Extended chain")

	return nil
}

// fork replaces the local suffix after the ancestor with the peer's if the
// peer's suffix has strictly more work.
func (c *Coordinator) fork(ctx context.Context, st *SyncState, peer string, ancestorHeight int, ancestor ledger.Digest, to int) error {
	blocks, err := c.fetchBlocks(ctx, peer, ancestorHeight+1, to, ancestor)
	if err != nil {
		return err
	}

	if err := st.event(ctx, eventApply); err != nil {
		return err
	}

	headers := make([]*ledger.BlockHeader, len(blocks))
	for i, b := range blocks {
		headers[i] = &b.Header
	}
	peerWork := ledger.ChainWork(headers)

	store := c.chain.Store()
	ancestorWork, err := store.WorkAt(ancestorHeight)
	if err != nil {
		// the ancestor left the main chain, retry on the next advertisement
		return nil
	}
	localWork := store.CumulativeWork()
	localWork.Sub(localWork, ancestorWork)

	if peerWork.Cmp(localWork) <= 0 {
		c.logger.WithFields(logrus.Fields{
			"peer":       peer,
			"peer_work":  peerWork.Dec(),
			"local_work": localWork.Dec(),
		}).Debug("Fork is not heavier")
		return nil
	}

	err = c.chain.Reorganize(ancestor, blocks)
	switch {
	case err == nil:
	case cm.Is(err, cm.StaleTip):
		return nil
	case cm.Is(err, cm.ValidationRejected):
		return cm.Misbehaving(err, "fork from %s", ancestor.Short())
	default:
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"peer":     peer,
		"ancestor": ancestorHeight,
		"blocks":   len(blocks),
		"height":   store.Height(),
	}).Info("Switched to heavier fork")

	return nil
}
