package net

// Transport provides an interface for network transports
// to allow a node to communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// ChainState, Headers, Blocks, NewBlock and NewTransaction send the
	// appropriate RPC to the target node.

	ChainState(target string, args *ChainStateRequest, resp *ChainStateResponse) error

	Headers(target string, args *HeadersRequest, resp *HeadersResponse) error

	Blocks(target string, args *BlocksRequest, resp *BlocksResponse) error

	NewBlock(target string, args *NewBlockRequest, resp *NewBlockResponse) error

	NewTransaction(target string, args *NewTransactionRequest, resp *NewTransactionResponse) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
