package miner_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/consensus/chaintest"
	"github.com/mosaicnetworks/dpcnode/src/crypto/keys"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/mosaicnetworks/dpcnode/src/miner"
	"github.com/mosaicnetworks/dpcnode/src/node"
	"github.com/mosaicnetworks/dpcnode/src/verifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testChain lets tests simulate a change of tip.
type testChain struct {
	*node.Core
	bumps atomic.Uint64
}

func (c *testChain) TipVersion() uint64 {
	return c.Core.TipVersion() + c.bumps.Load()
}

type recorder struct {
	sync.Mutex
	blocks []*ledger.Block
}

func (r *recorder) BroadcastBlock(block *ledger.Block) {
	r.Lock()
	defer r.Unlock()
	r.blocks = append(r.blocks, block)
}

func (r *recorder) Len() int {
	r.Lock()
	defer r.Unlock()
	return len(r.blocks)
}

var now = chaintest.GenesisTime.Add(time.Hour)

// newChain returns a chain whose every block has the given target, and a
// nonce space of maxNonce+1 values.
func newChain(t *testing.T, target uint64, maxNonce uint32, opts ...func(*consensus.Params)) *testChain {
	logger := cm.NewTestEntry(t, cm.TestLogLevel)

	genesis := ledger.NewGenesis(chaintest.GenesisTime, target)

	params := consensus.DefaultParams(genesis)
	params.MaxTarget = target
	params.MaxNonce = maxNonce
	for _, opt := range opts {
		opt(&params)
	}

	rules := consensus.NewRules(params, verifier.Static(true), logger)
	rules.SetClock(func() time.Time { return now })

	store := ledger.NewInmemStore(genesis)
	pool := mempool.New(rules, store, mempool.DefaultCapacity, logger)

	return &testChain{Core: node.NewCore(store, rules, pool, logger)}
}

func TestMineOnceExhaustion(t *testing.T) {
	const target = 1 << 62

	chain := newChain(t, target, 0)
	genesis := chain.Store().Tip()

	// pick an identity for which the single nonce fails at the first timestamp
	var identity []byte
	for i := 0; identity == nil; i++ {
		id := []byte{byte(i >> 8), byte(i)}
		candidate := ledger.NewBlock(genesis.Digest(), now.Unix(), target, id, nil)
		if !consensus.MeetsTarget(candidate.Digest(), target) {
			identity = id
		}
	}

	m := miner.New(chain, nil, identity, cm.NewTestEntry(t, cm.TestLogLevel))

	block, err := m.MineOnce(context.Background())
	require.NoError(t, err)

	assert.Greater(t, block.Header.Time, now.Unix(), "timestamp refreshed")
	assert.Equal(t, uint32(0), block.Header.Nonce)
	assert.Equal(t, identity, block.Header.Miner)

	require.NoError(t, chain.ProcessBlock(block))
	assert.Equal(t, 1, chain.Store().Height())
}

func TestMineOnceIncludesCandidates(t *testing.T) {
	chain := newChain(t, 1<<63, consensus.DefaultMaxNonce)
	genesis := chain.Store().Tip()

	txs := []*ledger.Transaction{
		chaintest.Tx("a", 1, genesis.Digest()),
		chaintest.Tx("b", 5, genesis.Digest()),
	}
	for _, tx := range txs {
		require.NoError(t, chain.SubmitTransaction(tx))
	}

	m := miner.New(chain, nil, []byte("miner"), cm.NewTestEntry(t, cm.TestLogLevel))

	block, err := m.MineOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, block.Transactions, 2)
	assert.Equal(t, txs[1].ID(), block.Transactions[0].ID(), "higher fee first")

	require.NoError(t, chain.ProcessBlock(block))
	assert.Equal(t, 0, chain.Mempool().Len())
	assert.True(t, chain.Store().ContainsSerial(txs[0].SerialNumbers[0]))
}

func TestMineOnceMaxBlockSize(t *testing.T) {
	const target = 1 << 63
	identity := []byte("miner")

	genesis := ledger.NewGenesis(chaintest.GenesisTime, target)

	txs := []*ledger.Transaction{}
	maxSize := ledger.NewBlock(genesis.Digest(), now.Unix(), target, identity, nil).Size()
	for i := 0; i < 20; i++ {
		tx := chaintest.Tx(fmt.Sprintf("t%02d", i), 1, genesis.Digest())
		txs = append(txs, tx)
		maxSize += tx.Size()
	}

	// room for every transaction next to an empty header, but not for the
	// longer encoding of the list and of a nonzero nonce
	chain := newChain(t, target, consensus.DefaultMaxNonce, func(p *consensus.Params) {
		p.MaxBlockSize = maxSize
	})
	require.Equal(t, genesis.Digest(), chain.Store().CurrentDigest())

	for _, tx := range txs {
		require.NoError(t, chain.SubmitTransaction(tx))
	}

	m := miner.New(chain, nil, identity, cm.NewTestEntry(t, cm.TestLogLevel))

	block, err := m.MineOnce(context.Background())
	require.NoError(t, err)

	assert.LessOrEqual(t, block.Size(), maxSize)
	assert.GreaterOrEqual(t, len(block.Transactions), 16)
	assert.Less(t, len(block.Transactions), 20)

	require.NoError(t, chain.ProcessBlock(block))
	assert.Equal(t, 1, chain.Store().Height())
}

func TestMineOnceAbortOnNewTip(t *testing.T) {
	// nothing meets a target of 1 in practice
	chain := newChain(t, 1, consensus.DefaultMaxNonce)

	m := miner.New(chain, nil, nil, cm.NewTestEntry(t, cm.TestLogLevel))
	m.CheckInterval = 64

	errCh := make(chan error, 1)
	go func() {
		_, err := m.MineOnce(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	chain.bumps.Add(1)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, miner.ErrStaleTip)
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not notice the new tip")
	}
}

func TestMineOnceCancel(t *testing.T) {
	chain := newChain(t, 1, consensus.DefaultMaxNonce)

	m := miner.New(chain, nil, nil, cm.NewTestEntry(t, cm.TestLogLevel))
	m.CheckInterval = 64

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := m.MineOnce(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not stop")
	}
}

func TestStartStop(t *testing.T) {
	chain := newChain(t, 1, consensus.DefaultMaxNonce)

	m := miner.New(chain, nil, nil, cm.NewTestEntry(t, cm.TestLogLevel))
	m.CheckInterval = 64

	assert.False(t, m.Running())

	m.Start()
	m.Start()
	assert.True(t, m.Running())

	m.Stop()
	assert.False(t, m.Running())
	m.Stop()

	assert.Equal(t, 0, chain.Store().Height())
}

func TestRun(t *testing.T) {
	chain := newChain(t, 1<<63, consensus.DefaultMaxNonce)
	genesis := chain.Store().Tip()

	tx := chaintest.Tx("a", 1, genesis.Digest())
	require.NoError(t, chain.SubmitTransaction(tx))

	broadcast := &recorder{}

	m := miner.New(chain, broadcast, []byte("miner"), cm.NewTestEntry(t, cm.TestLogLevel))
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		return chain.Store().Height() >= 3
	}, 10*time.Second, 10*time.Millisecond)

	m.Stop()

	assert.True(t, chain.Store().ContainsSerial(tx.SerialNumbers[0]))
	assert.Equal(t, chain.Store().Height(), broadcast.Len())
}

func TestLoadIdentity(t *testing.T) {
	key, err := keys.GenerateECDSAKey()
	require.NoError(t, err)

	id, err := miner.LoadIdentity(keys.IdentityHex(&key.PublicKey), "")
	require.NoError(t, err)
	assert.Equal(t, keys.Identity(&key.PublicKey), id)

	_, err = miner.LoadIdentity("not hex", "")
	assert.Error(t, err)

	keyfile := filepath.Join(t.TempDir(), "miner", "priv_key")

	first, err := miner.LoadIdentity("", keyfile)
	require.NoError(t, err)
	assert.Len(t, first, 33)

	second, err := miner.LoadIdentity("", keyfile)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
