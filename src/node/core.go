package node

import (
	"sync"
	"sync/atomic"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/sirupsen/logrus"
)

// maxStaleRetries is the number of times a block or reorganization is
// revalidated when the tip moves between validation and commit.
const maxStaleRetries = 5

// Core is the serialization point of every ledger mutation. Blocks are
// validated outside the commit lock against a snapshot of the ledger, and
// committed under the lock only if the tip has not moved in the meantime.
type Core struct {
	store   ledger.Store
	rules   *consensus.Rules
	mempool *mempool.Mempool

	// commitLock serializes commits and reorganizations
	commitLock sync.Mutex

	// tipVersion is incremented on every change of tip
	tipVersion atomic.Uint64

	// tipCh is closed, and replaced, on every change of tip
	tipCh   chan struct{}
	tipLock sync.Mutex

	logger *logrus.Entry
}

// NewCore is a factory method that returns a new Core object
func NewCore(
	store ledger.Store,
	rules *consensus.Rules,
	pool *mempool.Mempool,
	logger *logrus.Entry) *Core {

	initPrometheusMetrics()

	core := &Core{
		store:   store,
		rules:   rules,
		mempool: pool,
		tipCh:   make(chan struct{}),
		logger:  logger,
	}

	prometheusTipHeight.Set(float64(store.Height()))

	return core
}

// Store returns the underlying ledger store.
func (c *Core) Store() ledger.Store {
	return c.store
}

// Rules returns the consensus rules.
func (c *Core) Rules() *consensus.Rules {
	return c.rules
}

// Mempool returns the transaction pool.
func (c *Core) Mempool() *mempool.Mempool {
	return c.mempool
}

/*******************************************************************************
Tip
*******************************************************************************/

// TipVersion returns a counter incremented on every change of tip.
func (c *Core) TipVersion() uint64 {
	return c.tipVersion.Load()
}

// TipChanged returns a channel that is closed at the next change of tip.
func (c *Core) TipChanged() <-chan struct{} {
	c.tipLock.Lock()
	defer c.tipLock.Unlock()
	return c.tipCh
}

// bumpTip is called with the commit lock held.
func (c *Core) bumpTip() {
	c.tipVersion.Add(1)

	c.tipLock.Lock()
	close(c.tipCh)
	c.tipCh = make(chan struct{})
	c.tipLock.Unlock()

	prometheusTipHeight.Set(float64(c.store.Height()))
}

/*******************************************************************************
Blocks
*******************************************************************************/

// ProcessBlock validates a block against the tip and commits it. A block that
// is already on the main chain is accepted without effect. A block whose
// parent is not the tip is rejected with consensus.ErrNotTip.
func (c *Core) ProcessBlock(block *ledger.Block) error {
	d := block.Digest()

	for attempt := 0; attempt <= maxStaleRetries; attempt++ {
		if _, ok := c.store.HeightOf(d); ok {
			return nil
		}

		view := c.store.View()

		if block.Header.Parent != view.TipDigest() {
			return cm.NewCoreErr(cm.ValidationRejected, consensus.ErrNotTip,
				"block %s parent %s", d.Short(), block.Header.Parent.Short())
		}

		if err := c.rules.ValidateBlock(block, view); err != nil {
			prometheusBlocksRejected.Inc()
			return err
		}

		err := c.commit(block, view.TipDigest())
		if cm.Is(err, cm.StaleTip) {
			c.logger.WithFields(logrus.Fields{
				"block":   d.Short(),
				"attempt": attempt,
			}).Debug("Tip moved, revalidating block")
			continue
		}
		return err
	}

	return cm.Stale("block %s: tip kept moving", d.Short())
}

func (c *Core) commit(block *ledger.Block, expectedTip ledger.Digest) error {
	c.commitLock.Lock()
	defer c.commitLock.Unlock()

	if tip := c.store.CurrentDigest(); tip != expectedTip {
		return cm.Stale("tip moved from %s to %s", expectedTip.Short(), tip.Short())
	}

	if err := c.store.Commit(block); err != nil {
		return err
	}

	c.bumpTip()
	prometheusBlocksCommitted.Inc()

	removed := c.mempool.RemoveConfirmed(block, c.store.View())

	c.logger.WithFields(logrus.Fields{
		"block":        block.Digest().Short(),
		"height":       c.store.Height(),
		"transactions": len(block.Transactions),
		"mempool_drop": removed,
	}).Info("Committed block")

	return nil
}

// Reorganize replaces the main chain after ancestor with blocks, if every
// block is valid on top of the one before it, starting from the ledger as it
// was at ancestor. Otherwise nothing changes. Transactions of the removed
// blocks that are not in the new chain are offered back to the mempool.
func (c *Core) Reorganize(ancestor ledger.Digest, blocks []*ledger.Block) error {
	for attempt := 0; attempt <= maxStaleRetries; attempt++ {
		ancestorHeight, ok := c.store.HeightOf(ancestor)
		if !ok {
			return cm.Stale("ancestor %s left the main chain", ancestor.Short())
		}

		expectedTip := c.store.CurrentDigest()

		base, err := c.store.ViewAt(ancestorHeight)
		if err != nil {
			return cm.StoreFailed(err, "view at %d", ancestorHeight)
		}

		if i, err := c.rules.ValidateChain(blocks, base); err != nil {
			prometheusBlocksRejected.Inc()
			return cm.NewCoreErr(cm.ValidationRejected, err,
				"fork block %d of %d", i, len(blocks))
		}

		removed, err := c.reorganize(ancestor, expectedTip, blocks)
		if cm.Is(err, cm.StaleTip) {
			continue
		}
		if err != nil {
			return err
		}

		c.readmit(removed, blocks)

		return nil
	}

	return cm.Stale("reorganization at %s: tip kept moving", ancestor.Short())
}

func (c *Core) reorganize(ancestor, expectedTip ledger.Digest, blocks []*ledger.Block) ([]*ledger.Block, error) {
	c.commitLock.Lock()
	defer c.commitLock.Unlock()

	if tip := c.store.CurrentDigest(); tip != expectedTip {
		return nil, cm.Stale("tip moved from %s to %s", expectedTip.Short(), tip.Short())
	}

	removed, err := c.store.Reorganize(ancestor, expectedTip, blocks)
	if err != nil {
		return nil, err
	}

	c.bumpTip()
	prometheusReorganizations.Inc()

	view := c.store.View()
	for _, b := range blocks {
		c.mempool.RemoveConfirmed(b, view)
	}

	c.logger.WithFields(logrus.Fields{
		"ancestor": ancestor.Short(),
		"removed":  len(removed),
		"added":    len(blocks),
		"height":   c.store.Height(),
	}).Info("Reorganized chain")

	return removed, nil
}

// readmit offers the transactions of removed blocks, absent from added, back
// to the mempool.
func (c *Core) readmit(removed, added []*ledger.Block) {
	included := make(map[ledger.Digest]struct{})
	for _, b := range added {
		for _, tx := range b.Transactions {
			included[tx.ID()] = struct{}{}
		}
	}

	txs := []*ledger.Transaction{}
	for _, b := range removed {
		for _, tx := range b.Transactions {
			if _, ok := included[tx.ID()]; !ok {
				txs = append(txs, tx)
			}
		}
	}

	view := c.store.View()
	dropped := c.mempool.Revalidate(view)
	admitted := c.mempool.Readmit(txs, view)

	c.logger.WithFields(logrus.Fields{
		"uncommitted": len(txs),
		"readmitted":  admitted,
		"dropped":     dropped,
	}).Debug("Readmitted transactions")
}

/*******************************************************************************
Transactions
*******************************************************************************/

// SubmitTransaction validates a transaction against the tip and adds it to the
// mempool.
func (c *Core) SubmitTransaction(tx *ledger.Transaction) error {
	return c.mempool.TryAdmit(tx, c.store.View())
}
