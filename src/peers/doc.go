// Package peers defines the concept of a peer and keeps track of the peers a
// node is connected to.
//
// A peer is identified by the address it advertises to the network, and
// optionally a moniker, which is a non-unique user-friendly name. Peers are
// not authenticated; a peer is only as trustworthy as the blocks and
// transactions it sends, and peers that send invalid chains are banned for a
// while.
//
// Upon starting up, a node reads the bootnodes from its configuration and,
// optionally, from a peers.json file in its data directory. It then connects
// to peers until it reaches the configured minimum, and never holds more than
// the configured maximum. A bootnode is a node that others connect to first;
// it does not need any bootnodes of its own.
package peers
