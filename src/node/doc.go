// Package node implements the reactive component of a ledger node.
//
// Core is the only path to the ledger. Blocks, whether mined locally, relayed
// by a peer or fetched during a sync, are validated against a snapshot of the
// ledger and committed under a single lock if the tip has not moved in the
// meantime. Every change of tip bumps a version counter that the miner
// watches.
//
// Node wraps Core with the network. It implements a small state machine:
//
//	CatchingUp -> Running -> Shutdown
//
// # CatchingUp
//
// A node that is not a bootnode starts by synchronizing with its bootnodes. It
// does not mine until one of them has answered and the local chain has caught
// up with it.
//
// # Running
//
// On every heartbeat, the node connects to more peers if it has fewer than
// the minimum, and polls a random connected peer for its chain advertisement.
// Advertisements that are higher or heavier than the local chain trigger a
// sync, as implemented in the chainsync package. Blocks and transactions
// received from peers are validated, committed or admitted to the mempool,
// and relayed to the other peers. A cache of recently seen digests stops
// relay loops.
//
// Every request carries the address of its sender, which is registered in the
// peer context. Peers that send invalid chains are banned for a while.
package node
