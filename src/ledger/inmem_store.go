package ledger

import (
	"strconv"
	"sync"

	"github.com/holiman/uint256"
	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/crypto"
)

// InmemStore implements the Store interface in memory. It is also the index
// that BadgerStore rebuilds on startup.
type InmemStore struct {
	sync.RWMutex

	// arena holds every block ever committed, including those removed from
	// the main chain by a reorganization.
	arena map[Digest]*Block

	chain []Digest
	index map[Digest]int
	work  []*uint256.Int

	// serials and commitments map to the height that added them.
	serials     map[string]int
	commitments map[string]int

	// commitmentList is in commit order; commitmentCounts[h] is its length
	// once block h is applied.
	commitmentList   [][]byte
	commitmentCounts []int
	accumulator      *crypto.Accumulator
}

// NewInmemStore creates a store whose main chain contains only genesis.
func NewInmemStore(genesis *Block) *InmemStore {
	store := &InmemStore{
		arena:       make(map[Digest]*Block),
		index:       make(map[Digest]int),
		serials:     make(map[string]int),
		commitments: make(map[string]int),
		accumulator: crypto.NewAccumulator(),
	}

	store.apply(genesis)

	return store
}

// CurrentDigest implements the Store interface.
func (s *InmemStore) CurrentDigest() Digest {
	s.RLock()
	defer s.RUnlock()
	return s.chain[len(s.chain)-1]
}

// Height implements the Store interface.
func (s *InmemStore) Height() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.chain) - 1
}

// Tip implements the Store interface.
func (s *InmemStore) Tip() *Block {
	s.RLock()
	defer s.RUnlock()
	return s.arena[s.chain[len(s.chain)-1]]
}

// ContainsSerial implements the Store interface.
func (s *InmemStore) ContainsSerial(sn []byte) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.serials[string(sn)]
	return ok
}

// ContainsCommitment implements the Store interface.
func (s *InmemStore) ContainsCommitment(c []byte) bool {
	s.RLock()
	defer s.RUnlock()
	_, ok := s.commitments[string(c)]
	return ok
}

// HeightOf implements the Store interface.
func (s *InmemStore) HeightOf(d Digest) (int, bool) {
	s.RLock()
	defer s.RUnlock()
	h, ok := s.index[d]
	return h, ok
}

// BlockAt implements the Store interface.
func (s *InmemStore) BlockAt(height int) (*Block, error) {
	s.RLock()
	defer s.RUnlock()

	if height < 0 || height >= len(s.chain) {
		return nil, cm.NewStoreErr("Block", cm.OutOfRange, strconv.Itoa(height))
	}

	return s.arena[s.chain[height]], nil
}

// GetBlock implements the Store interface.
func (s *InmemStore) GetBlock(d Digest) (*Block, error) {
	s.RLock()
	defer s.RUnlock()

	block, ok := s.arena[d]
	if !ok {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, d.String())
	}

	return block, nil
}

// CumulativeWork implements the Store interface.
func (s *InmemStore) CumulativeWork() *uint256.Int {
	s.RLock()
	defer s.RUnlock()
	return s.work[len(s.work)-1].Clone()
}

// WorkAt implements the Store interface.
func (s *InmemStore) WorkAt(height int) (*uint256.Int, error) {
	s.RLock()
	defer s.RUnlock()

	if height < 0 || height >= len(s.work) {
		return nil, cm.NewStoreErr("Work", cm.OutOfRange, strconv.Itoa(height))
	}

	return s.work[height].Clone(), nil
}

// CommitmentDigest implements the Store interface.
func (s *InmemStore) CommitmentDigest() Digest {
	s.RLock()
	defer s.RUnlock()

	var d Digest
	copy(d[:], s.accumulator.Root())
	return d
}

// CommitmentCount implements the Store interface.
func (s *InmemStore) CommitmentCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.commitmentList)
}

// SerialCount implements the Store interface.
func (s *InmemStore) SerialCount() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.serials)
}

// View implements the Store interface.
func (s *InmemStore) View() View {
	s.RLock()
	defer s.RUnlock()
	return s.viewAt(len(s.chain) - 1)
}

// ViewAt implements the Store interface.
func (s *InmemStore) ViewAt(height int) (View, error) {
	s.RLock()
	defer s.RUnlock()

	if height < 0 || height >= len(s.chain) {
		return nil, cm.NewStoreErr("View", cm.OutOfRange, strconv.Itoa(height))
	}

	return s.viewAt(height), nil
}

func (s *InmemStore) viewAt(height int) *pinnedView {
	tip := s.chain[height]
	return &pinnedView{
		store:  s,
		height: height,
		tip:    tip,
		header: s.arena[tip].Header,
	}
}

// Commit implements the Store interface.
func (s *InmemStore) Commit(block *Block) error {
	s.Lock()
	defer s.Unlock()

	if err := s.checkCommit(block); err != nil {
		return err
	}

	s.apply(block)

	return nil
}

// Reorganize implements the Store interface.
func (s *InmemStore) Reorganize(ancestor Digest, expectedTip Digest, blocks []*Block) ([]*Block, error) {
	s.Lock()
	defer s.Unlock()

	ancestorHeight, err := s.checkReorganize(ancestor, expectedTip, blocks)
	if err != nil {
		return nil, err
	}

	removed := s.rollback(ancestorHeight)
	for _, b := range blocks {
		s.apply(b)
	}

	return removed, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// checkCommit verifies that block can be appended to the current tip without
// corrupting the derived sets. The caller holds the lock.
func (s *InmemStore) checkCommit(block *Block) error {
	tip := s.chain[len(s.chain)-1]
	if block.Header.Parent != tip {
		return cm.Stale("block %s parent %s is not the tip %s",
			block.Digest().Short(), block.Header.Parent.Short(), tip.Short())
	}

	return s.checkSuffix(len(s.chain)-1, []*Block{block})
}

// checkReorganize verifies that blocks can replace the suffix after ancestor
// and returns the ancestor's height. The caller holds the lock.
func (s *InmemStore) checkReorganize(ancestor Digest, expectedTip Digest, blocks []*Block) (int, error) {
	if tip := s.chain[len(s.chain)-1]; tip != expectedTip {
		return 0, cm.Stale("tip moved from %s to %s", expectedTip.Short(), tip.Short())
	}

	ancestorHeight, ok := s.index[ancestor]
	if !ok {
		return 0, cm.Stale("ancestor %s is not on the main chain", ancestor.Short())
	}

	if len(blocks) == 0 {
		return 0, cm.Rejected("empty reorganization")
	}

	parent := ancestor
	for _, b := range blocks {
		if b.Header.Parent != parent {
			return 0, cm.Rejected("block %s does not extend %s", b.Digest().Short(), parent.Short())
		}
		parent = b.Digest()
	}

	return ancestorHeight, s.checkSuffix(ancestorHeight, blocks)
}

// checkSuffix verifies that no serial number or commitment of blocks is
// already in the sets as of height, or repeated within blocks.
func (s *InmemStore) checkSuffix(height int, blocks []*Block) error {
	seenSerials := make(map[string]bool)
	seenCommitments := make(map[string]bool)

	for _, b := range blocks {
		for _, sn := range b.SerialNumbers() {
			key := string(sn)
			if h, ok := s.serials[key]; (ok && h <= height) || seenSerials[key] {
				return cm.Rejected("serial number %x already spent", sn)
			}
			seenSerials[key] = true
		}
		for _, c := range b.Commitments() {
			key := string(c)
			if h, ok := s.commitments[key]; (ok && h <= height) || seenCommitments[key] {
				return cm.Rejected("commitment %x already exists", c)
			}
			seenCommitments[key] = true
		}
	}

	return nil
}

// apply appends a checked block to the main chain. The caller holds the lock.
func (s *InmemStore) apply(block *Block) {
	digest := block.Digest()
	height := len(s.chain)

	s.arena[digest] = block
	s.chain = append(s.chain, digest)
	s.index[digest] = height

	total := Work(block.Header.Target)
	if height > 0 {
		total.Add(total, s.work[height-1])
	}
	s.work = append(s.work, total)

	for _, sn := range block.SerialNumbers() {
		s.serials[string(sn)] = height
	}
	for _, c := range block.Commitments() {
		s.commitments[string(c)] = height
		s.commitmentList = append(s.commitmentList, c)
		s.accumulator.Push(c)
	}
	s.commitmentCounts = append(s.commitmentCounts, len(s.commitmentList))
}

// rollback removes the main-chain blocks above height and returns them in
// height order. The caller holds the lock.
func (s *InmemStore) rollback(height int) []*Block {
	removed := []*Block{}

	for h := height + 1; h < len(s.chain); h++ {
		block := s.arena[s.chain[h]]
		removed = append(removed, block)

		delete(s.index, s.chain[h])
		for _, sn := range block.SerialNumbers() {
			delete(s.serials, string(sn))
		}
		for _, c := range block.Commitments() {
			delete(s.commitments, string(c))
		}
	}

	if len(removed) == 0 {
		return removed
	}

	s.chain = s.chain[:height+1]
	s.work = s.work[:height+1]
	s.commitmentCounts = s.commitmentCounts[:height+1]
	s.commitmentList = s.commitmentList[:s.commitmentCounts[height]]

	s.accumulator = crypto.NewAccumulator()
	for _, c := range s.commitmentList {
		s.accumulator.Push(c)
	}

	return removed
}

// pinnedView is a View of an InmemStore pinned at a main-chain height. Sets are
// filtered by the height that added each entry, so a view of an ancestor stays
// consistent while the tip grows. A view whose tip is reorganized away is stale
// and is detected by the committer comparing tips.
type pinnedView struct {
	store  *InmemStore
	height int
	tip    Digest
	header BlockHeader
}

func (v *pinnedView) TipDigest() Digest {
	return v.tip
}

func (v *pinnedView) TipHeader() BlockHeader {
	return v.header
}

func (v *pinnedView) Height() int {
	return v.height
}

func (v *pinnedView) ContainsSerial(sn []byte) bool {
	v.store.RLock()
	defer v.store.RUnlock()
	h, ok := v.store.serials[string(sn)]
	return ok && h <= v.height
}

func (v *pinnedView) ContainsCommitment(c []byte) bool {
	v.store.RLock()
	defer v.store.RUnlock()
	h, ok := v.store.commitments[string(c)]
	return ok && h <= v.height
}

func (v *pinnedView) ContainsBlock(d Digest) bool {
	v.store.RLock()
	defer v.store.RUnlock()
	h, ok := v.store.index[d]
	return ok && h <= v.height
}
