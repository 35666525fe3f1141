// Package net implements the transports nodes use to exchange chain state,
// headers, blocks and transactions.
//
// A Transport sends typed RPC requests to a peer and delivers the requests it
// receives through its Consumer channel, each with a response channel. There
// are two implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: a NetworkTransport over plain TCP
//
// # TCP
//
// The NetworkTransport frames each request with a byte indicating its type,
// followed by the msgpack encoding of the request. The response is an error
// string followed by the msgpack encoding of the response object. Connections
// are pooled per target.
//
// To use a TCP transport, set the following configuration options (cf config
// package):
//
// - Listen: the IP:PORT of the TCP socket that the node binds to.
//
// - Advertise: (optional) The address that is advertised to other nodes. If
// the bind address is a local address not reachable by other peers, it is
// useful to set Advertise to the reachable public address.
//
// Every request carries the advertised address of its sender, which is how a
// node learns about the peers that connect to it.
package net
