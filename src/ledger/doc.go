// Package ledger implements the append-only history of the node: blocks,
// transactions, and the stores that commit them.
//
// A Store keeps an arena of blocks indexed by digest and a single main chain
// ending at the tip. Two sets are derived from the main chain: the serial-number
// set (every nullifier ever spent) and the commitment set (every output ever
// produced). Both are updated together with the tip, atomically, by Commit and
// Reorganize. Blocks removed from the main chain by a reorganization stay in
// the arena.
//
// Stores do not run consensus validation. Commit only rechecks what would
// corrupt the derived sets: the parent must be the tip, and no serial number
// or commitment may be added twice.
package ledger
