package chainsync_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/chainsync"
	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus/chaintest"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/mosaicnetworks/dpcnode/src/node"
	"github.com/mosaicnetworks/dpcnode/src/peers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remote serves a fixed chain, valid or not, over an inmem transport.
type remote struct {
	trans  *net.InmemTransport
	blocks []*ledger.Block

	// hole, if positive, is a height served as a nil block
	hole int
}

func newRemote(t *testing.T, blocks []*ledger.Block) *remote {
	_, trans := net.NewInmemTransport("")

	r := &remote{trans: trans, blocks: blocks}

	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		trans.Close()
	})

	go func() {
		for {
			select {
			case rpc := <-trans.Consumer():
				r.serve(rpc)
			case <-done:
				return
			}
		}
	}()

	return r
}

func (r *remote) serve(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.ChainStateRequest:
		headers := make([]*ledger.BlockHeader, len(r.blocks))
		for i, b := range r.blocks {
			headers[i] = &b.Header
		}
		resp := &net.ChainStateResponse{
			TipDigest: r.blocks[len(r.blocks)-1].Digest(),
			Height:    len(r.blocks) - 1,
		}
		resp.SetCumulativeWork(ledger.ChainWork(headers))
		rpc.Respond(resp, nil)
	case *net.HeadersRequest:
		resp := &net.HeadersResponse{}
		for h := cmd.From; h < cmd.From+cmd.Count && h < len(r.blocks); h++ {
			resp.Headers = append(resp.Headers, r.blocks[h].Header)
		}
		rpc.Respond(resp, nil)
	case *net.BlocksRequest:
		resp := &net.BlocksResponse{}
		for h := cmd.From; h < cmd.From+cmd.Count && h < len(r.blocks); h++ {
			if h == r.hole {
				resp.Blocks = append(resp.Blocks, nil)
				continue
			}
			resp.Blocks = append(resp.Blocks, r.blocks[h])
		}
		rpc.Respond(resp, nil)
	default:
		rpc.Respond(nil, nil)
	}
}

type fixture struct {
	b       *chaintest.Builder
	core    *node.Core
	trans   *net.InmemTransport
	context *peers.Context
	sync    *chainsync.Coordinator
}

func newFixture(t *testing.T, local []*ledger.Block, opts ...func(*chainsync.Config)) *fixture {
	b := chaintest.NewBuilder(t)
	logger := cm.NewTestEntry(t, cm.TestLogLevel)

	store := ledger.NewInmemStore(b.Genesis)
	for _, block := range local {
		require.NoError(t, store.Commit(block))
	}

	pool := mempool.New(b.Rules, store, mempool.DefaultCapacity, logger)
	core := node.NewCore(store, b.Rules, pool, logger)

	addr, trans := net.NewInmemTransport("")
	t.Cleanup(func() { trans.Close() })

	peerContext := peers.NewContext(addr, nil, 1, 10, false, time.Minute, logger)
	t.Cleanup(peerContext.Close)

	conf := chainsync.Config{BatchSize: 8, Parallelism: 3}
	for _, opt := range opts {
		opt(&conf)
	}

	return &fixture{
		b:       b,
		core:    core,
		trans:   trans,
		context: peerContext,
		sync:    chainsync.NewCoordinator(core, trans, peerContext, conf, logger),
	}
}

// link connects the fixture to r and returns the address of r.
func (f *fixture) link(r *remote) string {
	addr := r.trans.LocalAddr()
	f.trans.Connect(addr, r.trans)
	f.context.Connect(addr)
	f.sync.Connect(addr)
	return addr
}

func withGenesis(genesis *ledger.Block, blocks ...[]*ledger.Block) []*ledger.Block {
	res := []*ledger.Block{genesis}
	for _, bs := range blocks {
		res = append(res, bs...)
	}
	return res
}

func TestExtend(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 30, "a", 10)

	f := newFixture(t, chain[:10])
	r := newRemote(t, withGenesis(b.Genesis, chain))
	peer := f.link(r)

	assert.Equal(t, chainsync.AwaitingAdvertisement, f.sync.State(peer))

	require.NoError(t, f.sync.Poll(context.Background(), peer))

	store := f.core.Store()
	assert.Equal(t, 30, store.Height())
	assert.Equal(t, chain[29].Digest(), store.CurrentDigest())
	assert.Equal(t, chainsync.Idle, f.sync.State(peer))

	// nothing left to do
	require.NoError(t, f.sync.Poll(context.Background(), peer))
	assert.Equal(t, 30, store.Height())
}

// The local chain has height 50, the peer's has height 100 and they share the
// first 40 blocks.
func TestForkHeavier(t *testing.T) {
	b := chaintest.NewBuilder(t)
	shared := b.Chain(b.Genesis, 40, "c", 10)
	local := b.Chain(shared[39], 10, "l", 10)
	remoteSuffix := b.Chain(shared[39], 60, "r", 10)

	f := newFixture(t, append(append([]*ledger.Block{}, shared...), local...))
	r := newRemote(t, withGenesis(b.Genesis, shared, remoteSuffix))
	peer := f.link(r)

	// a local transaction included in the abandoned suffix only
	orphanTx := local[5].Transactions[0]

	require.NoError(t, f.sync.Poll(context.Background(), peer))

	store := f.core.Store()
	assert.Equal(t, 100, store.Height())
	assert.Equal(t, remoteSuffix[59].Digest(), store.CurrentDigest())

	ancestor, err := store.BlockAt(40)
	require.NoError(t, err)
	assert.Equal(t, shared[39].Digest(), ancestor.Digest())

	_, ok := store.HeightOf(local[0].Digest())
	assert.False(t, ok)

	assert.False(t, store.ContainsSerial(orphanTx.SerialNumbers[0]))
	assert.True(t, f.core.Mempool().Contains(orphanTx.ID()), "uncommitted transaction readmitted")

	assert.False(t, f.context.IsBanned(peer))
}

func TestForkHeavierButShorter(t *testing.T) {
	b := chaintest.NewBuilder(t)
	local := b.Chain(b.Genesis, 6, "l", 10)

	// blocks mined fast have quartering targets
	fast := b.Chain(b.Genesis, 3, "r", 1)

	f := newFixture(t, local)
	r := newRemote(t, withGenesis(b.Genesis, fast))
	peer := f.link(r)

	require.NoError(t, f.sync.Poll(context.Background(), peer))

	store := f.core.Store()
	assert.Equal(t, 3, store.Height())
	assert.Equal(t, fast[2].Digest(), store.CurrentDigest())
}

func TestForkLighterIgnored(t *testing.T) {
	b := chaintest.NewBuilder(t)
	local := b.Chain(b.Genesis, 3, "l", 1)
	slow := b.Chain(b.Genesis, 6, "r", 10)

	f := newFixture(t, local)
	r := newRemote(t, withGenesis(b.Genesis, slow))
	peer := f.link(r)

	require.NoError(t, f.sync.Poll(context.Background(), peer))

	store := f.core.Store()
	assert.Equal(t, 3, store.Height())
	assert.Equal(t, local[2].Digest(), store.CurrentDigest())
	assert.False(t, f.context.IsBanned(peer))
}

func TestForkInvalidBlock(t *testing.T) {
	b := chaintest.NewBuilder(t)
	local := b.Chain(b.Genesis, 10, "l", 10)

	// the fourth block of the fork spends from an unknown ledger state
	fork := b.Chain(b.Genesis, 3, "r", 10)
	bad := b.Block(fork[2], 10, chaintest.Tx("bad", 1, ledger.Digest{1}))
	fork = append(fork, bad)
	fork = append(fork, b.Chain(bad, 16, "s", 10)...)

	f := newFixture(t, local)
	r := newRemote(t, withGenesis(b.Genesis, fork))
	peer := f.link(r)

	err := f.sync.Poll(context.Background(), peer)
	require.True(t, cm.Is(err, cm.PeerMisbehavior), "err: %v", err)

	store := f.core.Store()
	assert.Equal(t, 10, store.Height())
	assert.Equal(t, local[9].Digest(), store.CurrentDigest())
	for _, block := range local {
		_, ok := store.HeightOf(block.Digest())
		assert.True(t, ok)
	}

	assert.True(t, f.context.IsBanned(peer))
	assert.False(t, f.context.IsConnected(peer))
	assert.Equal(t, chainsync.Idle, f.sync.State(peer))
}

func TestExtendInvalidBlock(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 5, "a", 10)
	bad := b.Block(chain[4], 10, chaintest.Tx("bad", 1, ledger.Digest{1}))

	f := newFixture(t, chain[:2])
	r := newRemote(t, withGenesis(b.Genesis, chain, []*ledger.Block{bad}))
	peer := f.link(r)

	err := f.sync.Poll(context.Background(), peer)
	require.True(t, cm.Is(err, cm.PeerMisbehavior), "err: %v", err)

	// blocks before the bad one are kept
	assert.Equal(t, 5, f.core.Store().Height())
	assert.True(t, f.context.IsBanned(peer))
}

func TestGenesisMismatch(t *testing.T) {
	b := chaintest.NewBuilder(t)
	other := ledger.NewGenesis(chaintest.GenesisTime.Add(time.Second), b.Genesis.Header.Target)

	f := newFixture(t, nil)
	r := newRemote(t, withGenesis(other, b.Chain(other, 3, "x", 10)))
	peer := f.link(r)

	err := f.sync.Poll(context.Background(), peer)
	require.True(t, cm.Is(err, cm.PeerMisbehavior), "err: %v", err)
	assert.True(t, f.context.IsBanned(peer))
	assert.Equal(t, 0, f.core.Store().Height())
}

func TestBrokenHeaderChain(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 25, "a", 10)
	other := b.Chain(b.Genesis, 25, "b", 10)

	// the peer's chain jumps between two histories
	f := newFixture(t, b.Chain(b.Genesis, 20, "l", 10))
	r := newRemote(t, withGenesis(b.Genesis, chain[:12], other[12:]))
	peer := f.link(r)

	err := f.sync.Poll(context.Background(), peer)
	require.True(t, cm.Is(err, cm.PeerMisbehavior), "err: %v", err)
	assert.True(t, f.context.IsBanned(peer))
	assert.Equal(t, 20, f.core.Store().Height())
}

func TestExtendSpan(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 30, "a", 10)

	f := newFixture(t, nil, func(conf *chainsync.Config) { conf.MaxSpan = 12 })
	r := newRemote(t, withGenesis(b.Genesis, chain))
	peer := f.link(r)

	store := f.core.Store()
	for _, height := range []int{12, 24, 30} {
		require.NoError(t, f.sync.Poll(context.Background(), peer))
		assert.Equal(t, height, store.Height())
	}
	assert.Equal(t, chain[29].Digest(), store.CurrentDigest())
	assert.False(t, f.context.IsBanned(peer))
}

func TestInflatedHeight(t *testing.T) {
	cases := []struct {
		name  string
		local int
	}{
		// the peer's chain extends the local tip
		{name: "extend", local: 4},
		// the peer's chain forks from genesis
		{name: "fork", local: -4},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := chaintest.NewBuilder(t)
			chain := b.Chain(b.Genesis, 6, "a", 10)

			local := chain[:c.local]
			if c.local < 0 {
				local = b.Chain(b.Genesis, -c.local, "l", 10)
			}

			f := newFixture(t, local)
			r := newRemote(t, withGenesis(b.Genesis, chain))
			peer := f.link(r)

			adv := &net.ChainStateResponse{
				TipDigest: ledger.Digest{0xff},
				Height:    math.MaxInt,
			}

			err := f.sync.HandleAdvertisement(context.Background(), peer, adv)
			require.True(t, cm.Is(err, cm.PeerMisbehavior), "err: %v", err)
			assert.True(t, f.context.IsBanned(peer))

			store := f.core.Store()
			assert.Equal(t, 4, store.Height())
			assert.Equal(t, local[3].Digest(), store.CurrentDigest())
		})
	}
}

func TestMissingBlock(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 20, "a", 10)

	f := newFixture(t, chain[:5])
	r := newRemote(t, withGenesis(b.Genesis, chain))
	r.hole = 9
	peer := f.link(r)

	err := f.sync.Poll(context.Background(), peer)
	require.True(t, cm.Is(err, cm.PeerMisbehavior), "err: %v", err)
	assert.True(t, f.context.IsBanned(peer))
	assert.Equal(t, 5, f.core.Store().Height())
}

func TestDisconnect(t *testing.T) {
	b := chaintest.NewBuilder(t)

	f := newFixture(t, nil)
	r := newRemote(t, withGenesis(b.Genesis))
	peer := f.link(r)

	assert.Equal(t, chainsync.AwaitingAdvertisement, f.sync.State(peer))

	f.sync.Disconnect(peer)
	assert.Equal(t, chainsync.Idle, f.sync.State(peer))
	assert.Equal(t, 0, f.core.Store().Height())
}
