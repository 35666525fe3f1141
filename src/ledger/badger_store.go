package ledger

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/holiman/uint256"
	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/sirupsen/logrus"
)

const (
	blockPrefix = "blk"
	chainPrefix = "chain"
	tipKey      = "tip"
)

// BadgerStore persists the main chain in a Badger database and serves reads
// from an InmemStore index rebuilt on startup.
type BadgerStore struct {
	// writeLock serializes Commit and Reorganize so that the checks made on
	// the index still hold when the database transaction commits.
	writeLock sync.Mutex

	inmemStore *InmemStore
	db         *badger.DB
	path       string
	logger     *logrus.Entry
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path. An existing database is replayed into the in-memory index
// before the store is returned; its first block must be genesis.
func NewBadgerStore(genesis *Block, path string, logger *logrus.Entry) (*BadgerStore, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true).
		WithLogger(logger.WithField("ns", "badger"))

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, cm.StoreFailed(err, "opening badger database %s", path)
	}

	store := &BadgerStore{
		db:     handle,
		path:   path,
		logger: logger,
	}

	if err := store.load(genesis); err != nil {
		handle.Close()
		return nil, err
	}

	return store, nil
}

// load rebuilds the in-memory index from the database, or initializes the
// database with genesis if it is empty.
func (s *BadgerStore) load(genesis *Block) error {
	_, err := s.dbGetTip()
	if isDBKeyNotFound(err) {
		s.logger.WithField("path", s.path).Debug("Empty database, writing genesis")
		s.inmemStore = NewInmemStore(genesis)
		return s.dbWriteSuffix(-1, -1, []*Block{genesis})
	}
	if err != nil {
		return cm.StoreFailed(err, "reading tip")
	}

	blocks, err := s.dbMainChain()
	if err != nil {
		return cm.StoreFailed(err, "reading main chain")
	}

	if len(blocks) == 0 || blocks[0].Digest() != genesis.Digest() {
		return cm.StoreFailed(nil, "database at %s was not created from this genesis", s.path)
	}

	s.inmemStore = NewInmemStore(blocks[0])
	for _, b := range blocks[1:] {
		if err := s.inmemStore.Commit(b); err != nil {
			return cm.StoreFailed(err, "replaying block %s", b.Digest().Short())
		}
	}

	s.logger.WithFields(logrus.Fields{
		"height":      s.inmemStore.Height(),
		"tip":         s.inmemStore.CurrentDigest().Short(),
		"serials":     s.inmemStore.SerialCount(),
		"commitments": s.inmemStore.CommitmentCount(),
	}).Debug("Loaded ledger from database")

	return nil
}

//==============================================================================
//Keys

func blockKey(d Digest) []byte {
	return []byte(fmt.Sprintf("%s_%s", blockPrefix, d.String()))
}

func chainKey(height int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", chainPrefix, height))
}

//==============================================================================
//Implement the Store interface

// CurrentDigest implements the Store interface.
func (s *BadgerStore) CurrentDigest() Digest {
	return s.inmemStore.CurrentDigest()
}

// Height implements the Store interface.
func (s *BadgerStore) Height() int {
	return s.inmemStore.Height()
}

// Tip implements the Store interface.
func (s *BadgerStore) Tip() *Block {
	return s.inmemStore.Tip()
}

// ContainsCommitment implements the Store interface.
func (s *BadgerStore) ContainsCommitment(c []byte) bool {
	return s.inmemStore.ContainsCommitment(c)
}

// ContainsSerial implements the Store interface.
func (s *BadgerStore) ContainsSerial(sn []byte) bool {
	return s.inmemStore.ContainsSerial(sn)
}

// HeightOf implements the Store interface.
func (s *BadgerStore) HeightOf(d Digest) (int, bool) {
	return s.inmemStore.HeightOf(d)
}

// BlockAt implements the Store interface.
func (s *BadgerStore) BlockAt(height int) (*Block, error) {
	return s.inmemStore.BlockAt(height)
}

// GetBlock implements the Store interface. Blocks dropped from the main chain
// before a restart are only found in the database.
func (s *BadgerStore) GetBlock(d Digest) (*Block, error) {
	res, err := s.inmemStore.GetBlock(d)
	if err != nil {
		res, err = s.dbGetBlock(d)
	}
	return res, mapError(err, "Block", d.String())
}

// CumulativeWork implements the Store interface.
func (s *BadgerStore) CumulativeWork() *uint256.Int {
	return s.inmemStore.CumulativeWork()
}

// WorkAt implements the Store interface.
func (s *BadgerStore) WorkAt(height int) (*uint256.Int, error) {
	return s.inmemStore.WorkAt(height)
}

// CommitmentDigest implements the Store interface.
func (s *BadgerStore) CommitmentDigest() Digest {
	return s.inmemStore.CommitmentDigest()
}

// CommitmentCount implements the Store interface.
func (s *BadgerStore) CommitmentCount() int {
	return s.inmemStore.CommitmentCount()
}

// SerialCount implements the Store interface.
func (s *BadgerStore) SerialCount() int {
	return s.inmemStore.SerialCount()
}

// View implements the Store interface.
func (s *BadgerStore) View() View {
	return s.inmemStore.View()
}

// ViewAt implements the Store interface.
func (s *BadgerStore) ViewAt(height int) (View, error) {
	return s.inmemStore.ViewAt(height)
}

// Commit implements the Store interface. The database transaction is written
// first; the index is only updated once it succeeded.
func (s *BadgerStore) Commit(block *Block) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.inmemStore.RLock()
	err := s.inmemStore.checkCommit(block)
	height := len(s.inmemStore.chain) - 1
	s.inmemStore.RUnlock()

	if err != nil {
		return err
	}

	if err := s.dbWriteSuffix(height, height, []*Block{block}); err != nil {
		return cm.StoreFailed(err, "committing block %s", block.Digest().Short())
	}

	return s.inmemStore.Commit(block)
}

// Reorganize implements the Store interface.
func (s *BadgerStore) Reorganize(ancestor Digest, expectedTip Digest, blocks []*Block) ([]*Block, error) {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	s.inmemStore.RLock()
	ancestorHeight, err := s.inmemStore.checkReorganize(ancestor, expectedTip, blocks)
	height := len(s.inmemStore.chain) - 1
	s.inmemStore.RUnlock()

	if err != nil {
		return nil, err
	}

	if err := s.dbWriteSuffix(ancestorHeight, height, blocks); err != nil {
		return nil, cm.StoreFailed(err, "reorganizing from %s", ancestor.Short())
	}

	return s.inmemStore.Reorganize(ancestor, expectedTip, blocks)
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// StorePath returns the database directory.
func (s *BadgerStore) StorePath() string {
	return s.path
}

//++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++++
//DB Methods

// dbWriteSuffix replaces the main-chain entries above ancestorHeight, up to
// oldHeight, with blocks, and moves the tip, in a single transaction.
func (s *BadgerStore) dbWriteSuffix(ancestorHeight int, oldHeight int, blocks []*Block) error {
	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	for h := ancestorHeight + 1; h <= oldHeight; h++ {
		if err := tx.Delete(chainKey(h)); err != nil {
			return err
		}
	}

	var tip Digest
	for i, b := range blocks {
		val, err := b.Marshal()
		if err != nil {
			return err
		}

		tip = b.Digest()

		if err := tx.Set(blockKey(tip), val); err != nil {
			return err
		}
		if err := tx.Set(chainKey(ancestorHeight+1+i), tip[:]); err != nil {
			return err
		}
	}

	if err := tx.Set([]byte(tipKey), tip[:]); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *BadgerStore) dbGetTip() (Digest, error) {
	var tip Digest

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tipKey))
		if err != nil {
			return err
		}

		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		tip, err = DigestFromBytes(val)
		return err
	})

	return tip, err
}

func (s *BadgerStore) dbGetBlock(d Digest) (*Block, error) {
	var blockBytes []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(d))
		if err != nil {
			return err
		}
		blockBytes, err = item.ValueCopy(nil)
		return err
	})

	if err != nil {
		return nil, err
	}

	block := new(Block)
	if err := block.Unmarshal(blockBytes); err != nil {
		return nil, err
	}

	return block, nil
}

// dbMainChain reads the main chain from height 0 up to the first missing
// height.
func (s *BadgerStore) dbMainChain() ([]*Block, error) {
	res := []*Block{}

	err := s.db.View(func(txn *badger.Txn) error {
		for h := 0; ; h++ {
			item, err := txn.Get(chainKey(h))
			if isDBKeyNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}

			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			item, err = txn.Get([]byte(fmt.Sprintf("%s_%x", blockPrefix, val)))
			if err != nil {
				return err
			}

			blockBytes, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}

			block := new(Block)
			if err := block.Unmarshal(blockBytes); err != nil {
				return err
			}

			res = append(res, block)
		}
	})

	return res, err
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
