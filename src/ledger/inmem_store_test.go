package ledger

import (
	"bytes"
	"math"
	"testing"

	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/crypto"
)

func commitAll(t *testing.T, s Store, blocks []*Block) {
	for _, b := range blocks {
		if err := s.Commit(b); err != nil {
			t.Fatalf("committing block: %v", err)
		}
	}
}

func TestInmemGenesis(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	if store.Height() != 0 {
		t.Fatalf("height should be 0, got %d", store.Height())
	}
	if store.CurrentDigest() != genesis.Digest() {
		t.Fatalf("tip should be genesis")
	}
	if store.CumulativeWork().Uint64() != 1 {
		t.Fatalf("genesis work should be 1")
	}
	if !store.CommitmentDigest().IsZero() {
		t.Fatalf("empty commitment set should have a zero digest")
	}
}

func TestInmemCommit(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	blocks := testChain(genesis, 3, "a", math.MaxUint64)
	commitAll(t, store, blocks)

	if store.Height() != 3 {
		t.Fatalf("height should be 3, got %d", store.Height())
	}
	if store.CurrentDigest() != blocks[2].Digest() {
		t.Fatalf("tip should be the last block")
	}

	for i, b := range blocks {
		got, err := store.BlockAt(i + 1)
		if err != nil {
			t.Fatal(err)
		}
		if got.Digest() != b.Digest() {
			t.Fatalf("block at %d mismatch", i+1)
		}
		if h, ok := store.HeightOf(b.Digest()); !ok || h != i+1 {
			t.Fatalf("height of block %d should be %d, got %d", i, i+1, h)
		}
	}

	if !store.ContainsSerial([]byte("sn_a1")) {
		t.Fatalf("serial should be spent")
	}
	if !store.ContainsCommitment([]byte("cm_a2")) {
		t.Fatalf("commitment should exist")
	}
	if store.ContainsSerial([]byte("sn_b0")) {
		t.Fatalf("unknown serial should not be spent")
	}

	if store.CumulativeWork().Uint64() != 4 {
		t.Fatalf("cumulative work should be 4, got %s", store.CumulativeWork().Dec())
	}

	expected := crypto.MerkleRoot([][]byte{[]byte("cm_a0"), []byte("cm_a1"), []byte("cm_a2")})
	digest := store.CommitmentDigest()
	if !bytes.Equal(digest[:], expected) {
		t.Fatalf("commitment digest mismatch")
	}

	if _, err := store.BlockAt(4); !cm.IsStore(err, cm.OutOfRange) {
		t.Fatalf("expected OutOfRange, got %v", err)
	}
}

func TestInmemCommitStaleParent(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	blocks := testChain(genesis, 2, "a", math.MaxUint64)
	commitAll(t, store, blocks[:1])

	// a sibling of blocks[0]
	sibling := testChain(genesis, 1, "b", math.MaxUint64)[0]

	err := store.Commit(sibling)
	if !cm.Is(err, cm.StaleTip) {
		t.Fatalf("expected StaleTip, got %v", err)
	}
	if store.CurrentDigest() != blocks[0].Digest() {
		t.Fatalf("tip should not move")
	}
}

func TestInmemCommitDoubleSpend(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	b1 := NewBlock(genesis.Digest(), genesis.Header.Time+10, math.MaxUint64, nil,
		[]*Transaction{testTx("x", 1)})
	commitAll(t, store, []*Block{b1})

	// spends sn_x again
	b2 := NewBlock(b1.Digest(), b1.Header.Time+10, math.MaxUint64, nil,
		[]*Transaction{{SerialNumbers: [][]byte{[]byte("sn_x")}, Commitments: [][]byte{[]byte("cm_new")}}})

	err := store.Commit(b2)
	if !cm.Is(err, cm.ValidationRejected) {
		t.Fatalf("expected ValidationRejected, got %v", err)
	}

	// spends sn_y twice in the same block
	b3 := NewBlock(b1.Digest(), b1.Header.Time+10, math.MaxUint64, nil,
		[]*Transaction{testTx("y", 1), {SerialNumbers: [][]byte{[]byte("sn_y")}}})

	err = store.Commit(b3)
	if !cm.Is(err, cm.ValidationRejected) {
		t.Fatalf("expected ValidationRejected, got %v", err)
	}

	if store.Height() != 1 || store.ContainsCommitment([]byte("cm_new")) || store.ContainsSerial([]byte("sn_y")) {
		t.Fatalf("failed commits should not change the store")
	}
	if store.SerialCount() != 1 || store.CommitmentCount() != 1 {
		t.Fatalf("sets should hold one entry each")
	}
}

func TestInmemViewAt(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	blocks := testChain(genesis, 3, "a", math.MaxUint64)
	commitAll(t, store, blocks)

	view, err := store.ViewAt(1)
	if err != nil {
		t.Fatal(err)
	}

	if view.Height() != 1 || view.TipDigest() != blocks[0].Digest() {
		t.Fatalf("view should be pinned at height 1")
	}
	if !view.ContainsSerial([]byte("sn_a0")) {
		t.Fatalf("serial of block 1 should be visible")
	}
	if view.ContainsSerial([]byte("sn_a1")) || view.ContainsCommitment([]byte("cm_a2")) {
		t.Fatalf("entries above the view should not be visible")
	}
	if !view.ContainsBlock(genesis.Digest()) || view.ContainsBlock(blocks[1].Digest()) {
		t.Fatalf("block membership should be filtered by height")
	}

	if _, err := store.ViewAt(4); err == nil {
		t.Fatalf("view above the tip should fail")
	}
}

func TestInmemReorganize(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	local := testChain(genesis, 3, "a", math.MaxUint64)
	commitAll(t, store, local)

	before := store.CommitmentDigest()

	// fork from block 1 with a longer branch
	fork := testChain(local[0], 3, "b", math.MaxUint64)

	removed, err := store.Reorganize(local[0].Digest(), local[2].Digest(), fork)
	if err != nil {
		t.Fatal(err)
	}

	if len(removed) != 2 || removed[0].Digest() != local[1].Digest() || removed[1].Digest() != local[2].Digest() {
		t.Fatalf("removed blocks should be local[1:] in order")
	}
	if store.Height() != 4 || store.CurrentDigest() != fork[2].Digest() {
		t.Fatalf("tip should be the fork's tip")
	}
	if store.ContainsSerial([]byte("sn_a1")) || store.ContainsCommitment([]byte("cm_a2")) {
		t.Fatalf("removed entries should be gone")
	}
	if !store.ContainsSerial([]byte("sn_a0")) || !store.ContainsSerial([]byte("sn_b2")) {
		t.Fatalf("ancestor and fork entries should be present")
	}
	if _, ok := store.HeightOf(local[2].Digest()); ok {
		t.Fatalf("removed block should not be on the main chain")
	}
	if _, err := store.GetBlock(local[2].Digest()); err != nil {
		t.Fatalf("removed block should stay in the arena")
	}

	expected := crypto.MerkleRoot([][]byte{
		[]byte("cm_a0"), []byte("cm_b0"), []byte("cm_b1"), []byte("cm_b2"),
	})
	digest := store.CommitmentDigest()
	if !bytes.Equal(digest[:], expected) || digest == before {
		t.Fatalf("commitment digest should be rebuilt")
	}
	if store.CumulativeWork().Uint64() != 5 {
		t.Fatalf("cumulative work should be 5, got %s", store.CumulativeWork().Dec())
	}
}

func TestInmemReorganizeAtomic(t *testing.T) {
	genesis := testGenesis()
	store := NewInmemStore(genesis)

	local := testChain(genesis, 3, "a", math.MaxUint64)
	commitAll(t, store, local)

	tip := store.CurrentDigest()
	work := store.CumulativeWork()
	digest := store.CommitmentDigest()

	// the second fork block re-spends the ancestor's serial
	fork := testChain(local[0], 2, "b", math.MaxUint64)
	fork[1] = NewBlock(fork[0].Digest(), fork[0].Header.Time+10, math.MaxUint64, nil,
		[]*Transaction{{SerialNumbers: [][]byte{[]byte("sn_a0")}}})

	if _, err := store.Reorganize(local[0].Digest(), tip, fork); !cm.Is(err, cm.ValidationRejected) {
		t.Fatalf("expected ValidationRejected, got %v", err)
	}

	// stale expected tip
	good := testChain(local[0], 3, "c", math.MaxUint64)
	if _, err := store.Reorganize(local[0].Digest(), local[1].Digest(), good); !cm.Is(err, cm.StaleTip) {
		t.Fatalf("expected StaleTip, got %v", err)
	}

	// unlinked suffix
	if _, err := store.Reorganize(local[0].Digest(), tip, good[1:]); !cm.Is(err, cm.ValidationRejected) {
		t.Fatalf("expected ValidationRejected, got %v", err)
	}

	if store.CurrentDigest() != tip || store.CumulativeWork().Cmp(work) != 0 || store.CommitmentDigest() != digest {
		t.Fatalf("failed reorganizations should not change the store")
	}
	if !store.ContainsSerial([]byte("sn_a2")) || store.ContainsSerial([]byte("sn_b0")) {
		t.Fatalf("sets should be unchanged")
	}
}
