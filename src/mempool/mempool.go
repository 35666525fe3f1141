// Package mempool holds the validated transactions that are not yet in a
// block.
//
// Every pooled transaction is valid against the current tip, and no two
// pooled transactions share a serial number. When the pool is full, a new
// transaction must pay a strictly higher fee than the cheapest entry, which it
// then evicts.
package mempool

import (
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/holiman/uint256"
	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the default maximum number of pooled transactions.
const DefaultCapacity = 10000

// LiveLedger is the current state of the main chain, checked again under the
// pool lock. The ledger Store satisfies it.
type LiveLedger interface {
	ContainsSerial(sn []byte) bool
	ContainsCommitment(c []byte) bool
	HeightOf(d ledger.Digest) (int, bool)
}

type entry struct {
	tx    *ledger.Transaction
	id    ledger.Digest
	size  int
	seq   uint64
	added time.Time
}

// feeRateAbove reports whether a pays more per byte than b.
func (e *entry) feeRateAbove(b *entry) bool {
	x := new(uint256.Int).Mul(uint256.NewInt(uint64(e.tx.Fee)), uint256.NewInt(uint64(b.size)))
	y := new(uint256.Int).Mul(uint256.NewInt(uint64(b.tx.Fee)), uint256.NewInt(uint64(e.size)))
	return x.Gt(y)
}

// Mempool is safe for concurrent use. Admission, eviction and removal are
// each a single critical section.
type Mempool struct {
	sync.Mutex

	rules    *consensus.Rules
	ledger   LiveLedger
	capacity int

	entries map[ledger.Digest]*entry
	serials map[string]ledger.Digest
	bytes   int
	seq     uint64

	logger *logrus.Entry
}

// New creates an empty Mempool.
func New(rules *consensus.Rules, live LiveLedger, capacity int, logger *logrus.Entry) *Mempool {
	initPrometheusMetrics()

	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Mempool{
		rules:    rules,
		ledger:   live,
		capacity: capacity,
		entries:  make(map[ledger.Digest]*entry),
		serials:  make(map[string]ledger.Digest),
		logger:   logger.WithField("component", "mempool"),
	}
}

// TryAdmit validates tx against view and adds it to the pool. Validation runs
// outside the pool lock. Under the lock, the transaction is checked against
// the pooled serials and, once more, against the live ledger: its serials,
// commitments and ledger digest.
func (m *Mempool) TryAdmit(tx *ledger.Transaction, view ledger.View) error {
	err := m.tryAdmit(tx, view)
	if err != nil {
		kind, _ := cm.KindOf(err)
		prometheusMempoolRejections.WithLabelValues(kind.String()).Inc()
	}
	return err
}

func (m *Mempool) tryAdmit(tx *ledger.Transaction, view ledger.View) error {
	if tx == nil {
		return cm.Rejected("missing transaction")
	}

	id := tx.ID()

	if m.Contains(id) {
		return cm.Rejected("transaction %s already pooled", id.Short())
	}

	if err := m.rules.ValidateTransaction(tx, view); err != nil {
		return err
	}

	m.Lock()
	defer m.Unlock()

	if _, ok := m.entries[id]; ok {
		return cm.Rejected("transaction %s already pooled", id.Short())
	}

	for _, sn := range tx.SerialNumbers {
		if other, ok := m.serials[string(sn)]; ok {
			return cm.Rejected("serial number %x conflicts with pooled transaction %s",
				sn, other.Short())
		}
		if m.ledger.ContainsSerial(sn) {
			return cm.Rejected("serial number %x already spent", sn)
		}
	}

	for _, c := range tx.Commitments {
		if m.ledger.ContainsCommitment(c) {
			return cm.Rejected("commitment %x already exists", c)
		}
	}

	// view may predate a reorganization that dropped the anchor
	if _, ok := m.ledger.HeightOf(tx.LedgerDigest); !ok {
		return cm.Rejected("ledger digest %s left the main chain", tx.LedgerDigest.Short())
	}

	if len(m.entries) >= m.capacity {
		cheapest := m.cheapest()
		if tx.Fee <= cheapest.tx.Fee {
			return cm.Full("mempool full, fee %d does not exceed %d", tx.Fee, cheapest.tx.Fee)
		}
		m.logger.WithFields(logrus.Fields{
			"evicted": cheapest.id.Short(),
			"fee":     cheapest.tx.Fee,
		}).Debug("Evicting transaction")
		m.remove(cheapest.id)
		prometheusMempoolEvictions.Inc()
	}

	m.seq++
	e := &entry{
		tx:    tx,
		id:    id,
		size:  tx.Size(),
		seq:   m.seq,
		added: time.Now(),
	}

	m.entries[id] = e
	for _, sn := range tx.SerialNumbers {
		m.serials[string(sn)] = id
	}
	m.bytes += e.size

	m.updateGauges()

	m.logger.WithFields(logrus.Fields{
		"id":   id.Short(),
		"fee":  tx.Fee,
		"size": e.size,
	}).Debug("Admitted transaction")

	return nil
}

// cheapest returns the entry with the lowest fee, the most recent one among
// equals. Called with the lock held on a non-empty pool.
func (m *Mempool) cheapest() *entry {
	var res *entry
	for _, e := range m.entries {
		if res == nil ||
			e.tx.Fee < res.tx.Fee ||
			(e.tx.Fee == res.tx.Fee && e.seq > res.seq) {
			res = e
		}
	}
	return res
}

// remove is called with the lock held.
func (m *Mempool) remove(id ledger.Digest) bool {
	e, ok := m.entries[id]
	if !ok {
		return false
	}

	delete(m.entries, id)
	for _, sn := range e.tx.SerialNumbers {
		if m.serials[string(sn)] == id {
			delete(m.serials, string(sn))
		}
	}
	m.bytes -= e.size

	return true
}

func (m *Mempool) updateGauges() {
	prometheusMempoolTransactions.Set(float64(len(m.entries)))
	prometheusMempoolBytes.Set(float64(m.bytes))
}

// RemoveConfirmed drops the transactions included in a committed block, those
// sharing a serial number with it, and any whose serials view now contains.
// It returns the number of entries removed.
func (m *Mempool) RemoveConfirmed(block *ledger.Block, view ledger.View) int {
	m.Lock()
	defer m.Unlock()

	removed := 0

	for _, tx := range block.Transactions {
		if m.remove(tx.ID()) {
			removed++
		}
	}

	for _, sn := range block.SerialNumbers() {
		if id, ok := m.serials[string(sn)]; ok && m.remove(id) {
			removed++
		}
	}

	for id, e := range m.entries {
		if spendsAny(e.tx, view) && m.remove(id) {
			removed++
		}
	}

	m.updateGauges()

	if removed > 0 {
		m.logger.WithFields(logrus.Fields{
			"block":   block.Digest().Short(),
			"removed": removed,
		}).Debug("Removed confirmed transactions")
	}

	return removed
}

// Revalidate drops the entries that are no longer valid against view: spent
// serials, existing outputs, or an anchor that left the chain. It runs
// periodically and after a reorganization.
func (m *Mempool) Revalidate(view ledger.View) int {
	m.Lock()
	defer m.Unlock()

	removed := 0
	for id, e := range m.entries {
		if !stillValid(e.tx, view) && m.remove(id) {
			removed++
		}
	}

	m.updateGauges()

	return removed
}

// Readmit offers transactions removed from the main chain by a
// reorganization back to the pool. It returns the number admitted.
func (m *Mempool) Readmit(txs []*ledger.Transaction, view ledger.View) int {
	admitted := 0
	for _, tx := range txs {
		if err := m.TryAdmit(tx, view); err != nil {
			m.logger.WithFields(logrus.Fields{
				"id":  tx.ID().Short(),
				"err": err,
			}).Debug("Dropping uncommitted transaction")
			continue
		}
		admitted++
	}
	return admitted
}

func spendsAny(tx *ledger.Transaction, view ledger.View) bool {
	for _, sn := range tx.SerialNumbers {
		if view.ContainsSerial(sn) {
			return true
		}
	}
	return false
}

func stillValid(tx *ledger.Transaction, view ledger.View) bool {
	if spendsAny(tx, view) {
		return false
	}
	for _, c := range tx.Commitments {
		if view.ContainsCommitment(c) {
			return false
		}
	}
	return view.ContainsBlock(tx.LedgerDigest)
}

// sorted returns the entries by descending fee per byte, the earliest
// admitted first among equals.
func (m *Mempool) sorted() []*entry {
	m.Lock()
	res := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		res = append(res, e)
	}
	m.Unlock()

	slices.SortFunc(res, func(a, b *entry) int {
		switch {
		case a.feeRateAbove(b):
			return -1
		case b.feeRateAbove(a):
			return 1
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})

	return res
}

// Candidates yields transactions for a block template on top of view, best
// fee per byte first, within a budget of maxBytes. A transaction is skipped
// if it does not fit in the remaining budget or conflicts with view or with a
// transaction yielded before it. Every range over the sequence works on a
// fresh snapshot of the pool.
func (m *Mempool) Candidates(maxBytes int, view ledger.View) iter.Seq[*ledger.Transaction] {
	return func(yield func(*ledger.Transaction) bool) {
		used := 0
		spent := make(map[string]struct{})
		outputs := make(map[string]struct{})

	Loop:
		for _, e := range m.sorted() {
			if used+e.size > maxBytes {
				continue
			}

			if !stillValid(e.tx, view) {
				continue
			}

			for _, sn := range e.tx.SerialNumbers {
				if _, ok := spent[string(sn)]; ok {
					continue Loop
				}
			}
			for _, c := range e.tx.Commitments {
				if _, ok := outputs[string(c)]; ok {
					continue Loop
				}
			}

			for _, sn := range e.tx.SerialNumbers {
				spent[string(sn)] = struct{}{}
			}
			for _, c := range e.tx.Commitments {
				outputs[string(c)] = struct{}{}
			}
			used += e.size

			if !yield(e.tx) {
				return
			}
		}
	}
}

// Contains reports whether a transaction is pooled.
func (m *Mempool) Contains(id ledger.Digest) bool {
	m.Lock()
	defer m.Unlock()
	_, ok := m.entries[id]
	return ok
}

// Get returns a pooled transaction.
func (m *Mempool) Get(id ledger.Digest) (*ledger.Transaction, bool) {
	m.Lock()
	defer m.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// Len returns the number of pooled transactions.
func (m *Mempool) Len() int {
	m.Lock()
	defer m.Unlock()
	return len(m.entries)
}

// Bytes returns the encoded size of all pooled transactions.
func (m *Mempool) Bytes() int {
	m.Lock()
	defer m.Unlock()
	return m.bytes
}

// Transactions returns the pooled transactions in candidate order.
func (m *Mempool) Transactions() []*ledger.Transaction {
	entries := m.sorted()
	res := make([]*ledger.Transaction, len(entries))
	for i, e := range entries {
		res[i] = e.tx
	}
	return res
}

// TxInfo summarizes a pooled transaction.
type TxInfo struct {
	ID    string
	Fee   int64
	Size  int
	Added time.Time
}

// Info returns a summary of the pooled transactions in candidate order.
func (m *Mempool) Info() []TxInfo {
	entries := m.sorted()
	res := make([]TxInfo, len(entries))
	for i, e := range entries {
		res[i] = TxInfo{
			ID:    e.id.String(),
			Fee:   e.tx.Fee,
			Size:  e.size,
			Added: e.added,
		}
	}
	return res
}
