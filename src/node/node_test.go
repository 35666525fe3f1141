package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus/chaintest"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/mosaicnetworks/dpcnode/src/peers"
)

type testNode struct {
	*Node
	trans *net.InmemTransport
}

func newTestNode(t *testing.T,
	b *chaintest.Builder,
	blocks []*ledger.Block,
	bootnodes []string,
	isBootnode bool,
	mine bool) *testNode {

	conf := TestConfig(t)
	conf.Mine = mine

	store := ledger.NewInmemStore(b.Genesis)
	for _, block := range blocks {
		if err := store.Commit(block); err != nil {
			t.Fatal(err)
		}
	}

	pool := mempool.New(b.Rules, store, mempool.DefaultCapacity, conf.Logger)
	core := NewCore(store, b.Rules, pool, conf.Logger)

	addr, trans := net.NewInmemTransport("")

	peerContext := peers.NewContext(addr,
		peers.NewPeerSetFromAddresses(bootnodes),
		1,
		10,
		isBootnode,
		time.Minute,
		conf.Logger)

	node := NewNode(conf, core, trans, peerContext)
	if err := node.Init(); err != nil {
		t.Fatal(err)
	}

	return &testNode{Node: node, trans: trans}
}

// connectTransports makes every node reachable from every other.
func connectTransports(nodes ...*testNode) {
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.trans.Connect(b.trans.LocalAddr(), b.trans)
			}
		}
	}
}

func runNodes(t *testing.T, nodes ...*testNode) {
	for _, n := range nodes {
		n.RunAsync()
	}
	t.Cleanup(func() {
		for _, n := range nodes {
			n.Shutdown()
		}
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout: %s", msg)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestInitState(t *testing.T) {
	b := chaintest.NewBuilder(t)

	alone := newTestNode(t, b, nil, nil, false, false)
	if s := alone.GetState(); s != Running {
		t.Fatalf("node without bootnodes should be Running, not %s", s)
	}

	bootnode := newTestNode(t, b, nil, []string{"x"}, true, false)
	if s := bootnode.GetState(); s != Running {
		t.Fatalf("bootnode should be Running, not %s", s)
	}

	joiner := newTestNode(t, b, nil, []string{"x"}, false, false)
	if s := joiner.GetState(); s != CatchingUp {
		t.Fatalf("node with bootnodes should be CatchingUp, not %s", s)
	}
}

func TestCatchUp(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 25, "a", 10)

	node0 := newTestNode(t, b, chain, nil, true, false)
	node1 := newTestNode(t, b, nil, []string{node0.trans.LocalAddr()}, false, false)
	connectTransports(node0, node1)

	runNodes(t, node0, node1)

	waitFor(t, 5*time.Second, func() bool {
		return node1.GetState() == Running
	}, "node1 Running")

	if h := node1.Core().Store().Height(); h != 25 {
		t.Fatalf("node1 height should be 25, not %d", h)
	}
	if node1.Core().Store().CurrentDigest() != chain[24].Digest() {
		t.Fatal("node1 should have node0's tip")
	}

	waitFor(t, 5*time.Second, func() bool {
		return node0.Peers().IsConnected(node1.trans.LocalAddr())
	}, "node0 registers node1")
}

func TestCatchUpUnreachable(t *testing.T) {
	b := chaintest.NewBuilder(t)

	node := newTestNode(t, b, nil, []string{"nowhere"}, false, false)
	runNodes(t, node)

	time.Sleep(100 * time.Millisecond)

	if s := node.GetState(); s != CatchingUp {
		t.Fatalf("node should still be CatchingUp, not %s", s)
	}
	if node.Miner().Running() {
		t.Fatal("miner should not run before catching up")
	}
}

func TestRelayBlock(t *testing.T) {
	b := chaintest.NewBuilder(t)

	node0 := newTestNode(t, b, nil, nil, true, false)
	node1 := newTestNode(t, b, nil, []string{node0.trans.LocalAddr()}, false, false)
	node2 := newTestNode(t, b, nil, []string{node1.trans.LocalAddr()}, false, false)
	connectTransports(node0, node1, node2)

	runNodes(t, node0, node1, node2)

	waitFor(t, 5*time.Second, func() bool {
		return node1.GetState() == Running && node2.GetState() == Running
	}, "nodes Running")

	block := b.Block(b.Genesis, 10)
	if err := node0.Core().ProcessBlock(block); err != nil {
		t.Fatal(err)
	}
	node0.BroadcastBlock(block)

	for _, n := range []*testNode{node1, node2} {
		waitFor(t, 5*time.Second, func() bool {
			return n.Core().Store().CurrentDigest() == block.Digest()
		}, "block relayed")
	}
}

func TestRelayTransaction(t *testing.T) {
	b := chaintest.NewBuilder(t)

	node0 := newTestNode(t, b, nil, nil, true, false)
	node1 := newTestNode(t, b, nil, []string{node0.trans.LocalAddr()}, false, false)
	connectTransports(node0, node1)

	runNodes(t, node0, node1)

	waitFor(t, 5*time.Second, func() bool {
		return node1.GetState() == Running &&
			node0.Peers().IsConnected(node1.trans.LocalAddr())
	}, "nodes connected")

	tx := chaintest.Tx("a", 3, b.Genesis.Digest())
	if err := node0.SubmitTransaction(tx); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return node1.Core().Mempool().Contains(tx.ID())
	}, "transaction relayed")

	// a double-spend is refused
	conflict := chaintest.Tx("a", 5, b.Genesis.Digest())
	conflict.Commitments = [][]byte{[]byte("other")}
	if err := node0.SubmitTransaction(conflict); !common.Is(err, common.ValidationRejected) {
		t.Fatalf("expected ValidationRejected, got %v", err)
	}
}

func TestMining(t *testing.T) {
	b := chaintest.NewBuilder(t)

	node0 := newTestNode(t, b, nil, nil, true, true)
	node1 := newTestNode(t, b, nil, []string{node0.trans.LocalAddr()}, false, false)
	connectTransports(node0, node1)

	runNodes(t, node0, node1)

	waitFor(t, 10*time.Second, func() bool {
		return node0.Core().Store().Height() >= 3
	}, "node0 mines")

	if !node0.Miner().Running() {
		t.Fatal("node0 should be mining")
	}

	node0.Miner().Stop()

	waitFor(t, 10*time.Second, func() bool {
		return node1.Core().Store().CurrentDigest() == node0.Core().Store().CurrentDigest()
	}, "node1 follows node0")
}

func TestProcessRPC(t *testing.T) {
	b := chaintest.NewBuilder(t)
	chain := b.Chain(b.Genesis, 5, "a", 10)

	node := newTestNode(t, b, chain, nil, true, false)

	_, client := net.NewInmemTransport("")
	client.Connect(node.trans.LocalAddr(), node.trans)

	runNodes(t, node)

	var state net.ChainStateResponse
	if err := client.ChainState(node.trans.LocalAddr(), &net.ChainStateRequest{FromAddr: client.LocalAddr()}, &state); err != nil {
		t.Fatal(err)
	}
	if state.Height != 5 || state.TipDigest != chain[4].Digest() {
		t.Fatalf("bad advertisement %d %s", state.Height, state.TipDigest.Short())
	}
	if state.CumulativeWork().Cmp(node.Core().Store().CumulativeWork()) != 0 {
		t.Fatal("advertised work should match the store")
	}

	var headers net.HeadersResponse
	if err := client.Headers(node.trans.LocalAddr(), &net.HeadersRequest{From: 3, Count: 10}, &headers); err != nil {
		t.Fatal(err)
	}
	if len(headers.Headers) != 3 {
		t.Fatalf("expected headers 3..5, got %d", len(headers.Headers))
	}
	if headers.Headers[0].Digest() != chain[2].Digest() {
		t.Fatal("first header should be at height 3")
	}

	var blocks net.BlocksResponse
	if err := client.Blocks(node.trans.LocalAddr(), &net.BlocksRequest{From: 0, Count: 2}, &blocks); err != nil {
		t.Fatal(err)
	}
	if len(blocks.Blocks) != 2 || blocks.Blocks[1].Digest() != chain[0].Digest() {
		t.Fatal("expected genesis and the first block")
	}

	if err := client.Blocks(node.trans.LocalAddr(), &net.BlocksRequest{From: -1, Count: 2}, &blocks); err == nil {
		t.Fatal("negative height should be refused")
	}

	// a block that does not extend the tip is not accepted
	var newBlock net.NewBlockResponse
	orphan := b.Block(chain[1], 10)
	if err := client.NewBlock(node.trans.LocalAddr(), &net.NewBlockRequest{Block: orphan}, &newBlock); err != nil {
		t.Fatal(err)
	}
	if newBlock.Accepted {
		t.Fatal("orphan block should not be accepted")
	}

	next := b.Block(chain[4], 10)
	if err := client.NewBlock(node.trans.LocalAddr(), &net.NewBlockRequest{Block: next}, &newBlock); err != nil {
		t.Fatal(err)
	}
	if !newBlock.Accepted || node.Core().Store().Height() != 6 {
		t.Fatal("next block should be accepted")
	}
}
