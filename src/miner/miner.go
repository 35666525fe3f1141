// Package miner searches for proof-of-work on candidate blocks built from the
// mempool, and abandons a candidate as soon as the tip it extends changes.
package miner

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/sirupsen/logrus"
)

// DefaultCheckInterval is the number of nonces tried between two checks for
// cancellation or a new tip.
const DefaultCheckInterval = 4096

// ErrStaleTip is returned by MineOnce when the tip changed during the search.
var ErrStaleTip = errors.New("tip changed")

// Chain is the local chain the miner extends.
type Chain interface {
	Store() ledger.Store
	Rules() *consensus.Rules
	Mempool() *mempool.Mempool
	TipVersion() uint64
	TipChanged() <-chan struct{}
	ProcessBlock(block *ledger.Block) error
}

// Broadcaster announces mined blocks to the network.
type Broadcaster interface {
	BroadcastBlock(block *ledger.Block)
}

// Miner runs the mining loop in the background between Start and Stop.
type Miner struct {
	chain       Chain
	broadcaster Broadcaster
	identity    []byte

	// CheckInterval can be changed before Start.
	CheckInterval int

	lock    sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	logger *logrus.Entry
}

// New creates a Miner that writes identity in the headers of the blocks it
// mines. broadcaster may be nil.
func New(chain Chain, broadcaster Broadcaster, identity []byte, logger *logrus.Entry) *Miner {
	initPrometheusMetrics()

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Miner{
		chain:         chain,
		broadcaster:   broadcaster,
		identity:      identity,
		CheckInterval: DefaultCheckInterval,
		logger:        logger.WithField("component", "miner"),
	}
}

// Start launches the mining loop if it is not running.
func (m *Miner) Start() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go func(done chan struct{}) {
		defer close(done)
		m.Run(ctx)
	}(m.done)

	m.logger.Info("Miner started")
}

// Stop interrupts the mining loop and waits for it to return.
func (m *Miner) Stop() {
	m.lock.Lock()
	if !m.running {
		m.lock.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.lock.Unlock()

	<-done

	m.logger.Info("Miner stopped")
}

// Running reports whether the mining loop is active.
func (m *Miner) Running() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.running
}

// Run mines blocks until ctx is done.
func (m *Miner) Run(ctx context.Context) {
	for {
		block, err := m.MineOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, ErrStaleTip):
			prometheusStaleAttempts.Inc()
			continue
		case err != nil:
			m.logger.WithError(err).Error("Building candidate")
			m.wait(ctx)
			continue
		}

		if err := m.submit(block); err != nil {
			m.wait(ctx)
		}
	}
}

// wait returns at the next change of tip, or after a second.
func (m *Miner) wait(ctx context.Context) {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-m.chain.TipChanged():
	case <-timer.C:
	}
}

func (m *Miner) submit(block *ledger.Block) error {
	err := m.chain.ProcessBlock(block)

	switch {
	case err == nil:
	case errors.Is(err, consensus.ErrNotTip), cm.Is(err, cm.StaleTip):
		prometheusStaleAttempts.Inc()
		return nil
	case cm.Is(err, cm.ValidationRejected):
		m.logger.WithError(err).Debug("Mined block rejected")
		return err
	default:
		m.logger.WithError(err).Error("Committing mined block")
		return err
	}

	prometheusBlocksMined.Inc()

	m.logger.WithFields(logrus.Fields{
		"block":        block.Digest().Short(),
		"height":       m.chain.Store().Height(),
		"transactions": len(block.Transactions),
		"nonce":        block.Header.Nonce,
	}).Info("Mined block")

	if m.broadcaster != nil {
		m.broadcaster.BroadcastBlock(block)
	}

	return nil
}

// maxTxArrayGrowth is how many bytes the encoded length of the transaction
// list grows by, at most, from an empty list.
const maxTxArrayGrowth = 4

// budget returns the number of bytes left for transactions in a block on top
// of parent. The header is sized with its widest field values, since the
// timestamp, target and nonce all change during the search.
func (m *Miner) budget(params consensus.Params, parent ledger.Digest) int {
	widest := ledger.NewBlock(parent, math.MaxInt64, math.MaxUint64, m.identity, nil)
	widest.Header.Nonce = math.MaxUint32
	return max(params.MaxBlockSize-widest.Size()-maxTxArrayGrowth, 0)
}

// MineOnce builds a candidate on the current tip and searches for a nonce
// meeting its target. When the nonce space is exhausted, the timestamp is
// refreshed and the search starts over. It returns ErrStaleTip if the tip
// changes, and ctx.Err() if ctx is done, before a solution is found.
func (m *Miner) MineOnce(ctx context.Context) (*ledger.Block, error) {
	version := m.chain.TipVersion()
	rules := m.chain.Rules()
	params := rules.Params()

	view := m.chain.Store().View()
	parent := view.TipHeader()

	ts := max(rules.Now().Unix(), parent.Time)
	target := rules.ExpectedTarget(parent, ts)

	txs := []*ledger.Transaction{}
	for tx := range m.chain.Mempool().Candidates(m.budget(params, view.TipDigest()), view) {
		txs = append(txs, tx)
	}

	block := ledger.NewBlock(view.TipDigest(), ts, target, m.identity, txs)

	start := time.Now()
	interval := uint64(max(m.CheckInterval, 1))

	for {
		for nonce := uint64(0); nonce <= uint64(params.MaxNonce); nonce++ {
			if nonce%interval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				if m.chain.TipVersion() != version {
					return nil, ErrStaleTip
				}
			}

			block.Header.Nonce = uint32(nonce)
			if consensus.MeetsTarget(block.Digest(), block.Header.Target) {
				m.logger.WithFields(logrus.Fields{
					"nonce":    nonce,
					"target":   block.Header.Target,
					"duration": time.Since(start).Nanoseconds(),
				}).Debug("Found nonce")
				return block, nil
			}
		}

		prometheusNonceRollover.Inc()

		if m.chain.TipVersion() != version {
			return nil, ErrStaleTip
		}

		ts = max(rules.Now().Unix(), block.Header.Time+1)
		block.Header.Time = ts
		block.Header.Target = rules.ExpectedTarget(parent, ts)

		m.logger.WithFields(logrus.Fields{
			"timestamp": ts,
			"target":    block.Header.Target,
		}).Debug("Nonce space exhausted, refreshing timestamp")
	}
}
