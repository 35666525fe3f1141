package mempool_test

import (
	"fmt"
	"sync"
	"testing"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus/chaintest"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	b     *chaintest.Builder
	store *ledger.InmemStore
	pool  *mempool.Mempool
}

func newFixture(t *testing.T, capacity int) *fixture {
	b := chaintest.NewBuilder(t)
	store := ledger.NewInmemStore(b.Genesis)
	pool := mempool.New(b.Rules, store, capacity, cm.NewTestEntry(t, cm.TestLogLevel))
	return &fixture{b: b, store: store, pool: pool}
}

func (f *fixture) tx(tag string, fee int64) *ledger.Transaction {
	return chaintest.Tx(tag, fee, f.b.Genesis.Digest())
}

func (f *fixture) commit(t *testing.T, txs ...*ledger.Transaction) *ledger.Block {
	block := f.b.Block(f.store.Tip(), 10, txs...)
	require.NoError(t, f.store.Commit(block))
	return block
}

func collect(f *fixture, maxBytes int) []*ledger.Transaction {
	res := []*ledger.Transaction{}
	for tx := range f.pool.Candidates(maxBytes, f.store.View()) {
		res = append(res, tx)
	}
	return res
}

func TestAdmit(t *testing.T) {
	f := newFixture(t, 10)

	a := f.tx("a", 1)
	require.NoError(t, f.pool.TryAdmit(a, f.store.View()))
	assert.Equal(t, 1, f.pool.Len())
	assert.Equal(t, a.Size(), f.pool.Bytes())
	assert.True(t, f.pool.Contains(a.ID()))

	err := f.pool.TryAdmit(a, f.store.View())
	require.True(t, cm.Is(err, cm.ValidationRejected), "duplicate: %v", err)

	conflict := f.tx("a", 2)
	conflict.Commitments = [][]byte{[]byte("other")}
	err = f.pool.TryAdmit(conflict, f.store.View())
	require.True(t, cm.Is(err, cm.ValidationRejected), "conflict: %v", err)

	invalid := f.tx("b", -1)
	err = f.pool.TryAdmit(invalid, f.store.View())
	require.True(t, cm.Is(err, cm.ValidationRejected), "invalid: %v", err)

	got, ok := f.pool.Get(a.ID())
	require.True(t, ok)
	assert.Equal(t, a, got)
	assert.Equal(t, 1, f.pool.Len())
}

func TestAdmitRechecksLedger(t *testing.T) {
	f := newFixture(t, 10)

	// the view predates the commit of sn_x
	view := f.store.View()
	f.commit(t, f.tx("x", 1))

	spent := f.tx("x", 2)
	spent.Commitments = [][]byte{[]byte("fresh")}

	err := f.pool.TryAdmit(spent, view)
	require.True(t, cm.Is(err, cm.ValidationRejected), "%v", err)
	assert.Equal(t, 0, f.pool.Len())
}

// frozenView answers block membership from the chain it was taken on, like a
// view validated against before a reorganization.
type frozenView struct {
	ledger.View
	blocks map[ledger.Digest]bool
}

func (v *frozenView) ContainsBlock(d ledger.Digest) bool {
	return v.blocks[d]
}

func TestAdmitRechecksAnchor(t *testing.T) {
	f := newFixture(t, 10)

	orphan := f.commit(t)
	view := &frozenView{
		View:   f.store.View(),
		blocks: map[ledger.Digest]bool{f.b.Genesis.Digest(): true, orphan.Digest(): true},
	}

	fork := f.b.Chain(f.b.Genesis, 2, "fork", 10)
	_, err := f.store.Reorganize(f.b.Genesis.Digest(), orphan.Digest(), fork)
	require.NoError(t, err)

	tx := chaintest.Tx("z", 1, orphan.Digest())
	require.NoError(t, f.b.Rules.ValidateTransaction(tx, view))

	err = f.pool.TryAdmit(tx, view)
	require.True(t, cm.Is(err, cm.ValidationRejected), "%v", err)
	assert.Equal(t, 0, f.pool.Len())

	// still admitted when the anchor is on the main chain
	require.NoError(t, f.pool.TryAdmit(chaintest.Tx("y", 1, fork[0].Digest()), f.store.View()))
}

func TestAdmitMissingTransaction(t *testing.T) {
	f := newFixture(t, 10)

	err := f.pool.TryAdmit(nil, f.store.View())
	require.True(t, cm.Is(err, cm.ValidationRejected), "%v", err)
	assert.Equal(t, 0, f.pool.Len())
}

func TestCapacity(t *testing.T) {
	f := newFixture(t, 2)

	five := f.tx("a", 5)
	three := f.tx("b", 3)
	require.NoError(t, f.pool.TryAdmit(five, f.store.View()))
	require.NoError(t, f.pool.TryAdmit(three, f.store.View()))

	err := f.pool.TryAdmit(f.tx("c", 3), f.store.View())
	require.True(t, cm.Is(err, cm.CapacityExceeded), "%v", err)

	four := f.tx("d", 4)
	require.NoError(t, f.pool.TryAdmit(four, f.store.View()))

	assert.Equal(t, 2, f.pool.Len())
	assert.True(t, f.pool.Contains(five.ID()))
	assert.True(t, f.pool.Contains(four.ID()))
	assert.False(t, f.pool.Contains(three.ID()), "cheapest entry evicted")

	// the evicted serial is free again
	require.NoError(t, f.pool.TryAdmit(f.tx("b", 9), f.store.View()))
	assert.False(t, f.pool.Contains(four.ID()))
}

func TestCandidatesOrder(t *testing.T) {
	f := newFixture(t, 10)

	one := f.tx("a", 1)
	fiveFirst := f.tx("b", 5)
	three := f.tx("c", 3)
	fiveSecond := f.tx("d", 5)

	for _, tx := range []*ledger.Transaction{one, fiveFirst, three, fiveSecond} {
		require.NoError(t, f.pool.TryAdmit(tx, f.store.View()))
	}

	assert.Equal(t, []*ledger.Transaction{fiveFirst, fiveSecond, three, one}, collect(f, 1<<20))
	assert.Equal(t, []*ledger.Transaction{fiveFirst, fiveSecond}, collect(f, 2*one.Size()))
	assert.Empty(t, collect(f, one.Size()-1))

	// stopping early, then ranging again, restarts from the best
	for tx := range f.pool.Candidates(1<<20, f.store.View()) {
		assert.Equal(t, fiveFirst, tx)
		break
	}
	assert.Len(t, collect(f, 1<<20), 4)

	assert.Equal(t, collect(f, 1<<20), f.pool.Transactions())
}

func TestCandidatesFeePerByte(t *testing.T) {
	f := newFixture(t, 10)

	small := f.tx("a", 10)
	large := f.tx("b", 11)
	large.Memo = make([]byte, 32)
	large.Proof = make([]byte, 4096)

	require.NoError(t, f.pool.TryAdmit(large, f.store.View()))
	require.NoError(t, f.pool.TryAdmit(small, f.store.View()))

	assert.Equal(t, []*ledger.Transaction{small, large}, collect(f, 1<<20))
}

func TestCandidatesSkipConflicts(t *testing.T) {
	f := newFixture(t, 10)

	pooled := f.tx("a", 5)
	other := f.tx("b", 1)
	require.NoError(t, f.pool.TryAdmit(pooled, f.store.View()))
	require.NoError(t, f.pool.TryAdmit(other, f.store.View()))

	// sn_a is spent by a different transaction, the pool is not told
	rival := f.tx("a", 1)
	rival.Commitments = [][]byte{[]byte("rival")}
	f.commit(t, rival)

	assert.Equal(t, []*ledger.Transaction{other}, collect(f, 1<<20))
}

func TestRemoveConfirmed(t *testing.T) {
	f := newFixture(t, 10)

	a, b, c := f.tx("a", 1), f.tx("b", 1), f.tx("c", 1)
	for _, tx := range []*ledger.Transaction{a, b, c} {
		require.NoError(t, f.pool.TryAdmit(tx, f.store.View()))
	}

	rival := f.tx("b", 7)
	rival.Commitments = [][]byte{[]byte("rival")}
	block := f.commit(t, a, rival)

	assert.Equal(t, 2, f.pool.RemoveConfirmed(block, f.store.View()))
	assert.Equal(t, 1, f.pool.Len())
	assert.True(t, f.pool.Contains(c.ID()))
	assert.Equal(t, c.Size(), f.pool.Bytes())
}

func TestRevalidateAfterReorganize(t *testing.T) {
	f := newFixture(t, 10)

	first := f.commit(t)

	anchored := chaintest.Tx("a", 1, first.Digest())
	require.NoError(t, f.pool.TryAdmit(anchored, f.store.View()))
	require.NoError(t, f.pool.TryAdmit(f.tx("b", 1), f.store.View()))

	fork := f.b.Chain(f.b.Genesis, 2, "fork", 10)
	removed, err := f.store.Reorganize(f.b.Genesis.Digest(), first.Digest(), fork)
	require.NoError(t, err)
	require.Len(t, removed, 1)

	assert.Equal(t, 1, f.pool.Revalidate(f.store.View()))
	assert.False(t, f.pool.Contains(anchored.ID()))
	assert.Equal(t, 1, f.pool.Len())
}

func TestReadmit(t *testing.T) {
	f := newFixture(t, 10)

	a, b := f.tx("a", 1), f.tx("b", 1)
	f.commit(t, b)

	assert.Equal(t, 1, f.pool.Readmit([]*ledger.Transaction{a, b}, f.store.View()))
	assert.True(t, f.pool.Contains(a.ID()))
	assert.False(t, f.pool.Contains(b.ID()))
}

func TestConcurrentAdmit(t *testing.T) {
	f := newFixture(t, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// pairs of transactions share a serial number
			tx := f.tx(fmt.Sprintf("%d", i/2), int64(i))
			tx.Commitments = [][]byte{[]byte(fmt.Sprintf("out%d", i))}
			f.pool.TryAdmit(tx, f.store.View())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, f.pool.Len())

	seen := map[string]bool{}
	for _, tx := range f.pool.Transactions() {
		sn := string(tx.SerialNumbers[0])
		assert.False(t, seen[sn], "serial %s pooled twice", sn)
		seen[sn] = true
	}
}
