package net

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// DefaultInmemTimeout bounds the round trip of an in-memory RPC.
const DefaultInmemTimeout = time.Second

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemTransport Implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	timeout    time.Duration
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    DefaultInmemTimeout,
	}
	return addr, trans
}

// SetTimeout changes the RPC timeout.
func (i *InmemTransport) SetTimeout(timeout time.Duration) {
	i.Lock()
	defer i.Unlock()
	i.timeout = timeout
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// ChainState implements the Transport interface.
func (i *InmemTransport) ChainState(target string, args *ChainStateRequest, resp *ChainStateResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	// Copy the result back
	out, ok := rpcResp.Response.(*ChainStateResponse)
	if !ok {
		return errUnexpectedResponse(rpcResp.Response)
	}
	*resp = *out
	return nil
}

// Headers implements the Transport interface.
func (i *InmemTransport) Headers(target string, args *HeadersRequest, resp *HeadersResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*HeadersResponse)
	if !ok {
		return errUnexpectedResponse(rpcResp.Response)
	}
	*resp = *out
	return nil
}

// Blocks implements the Transport interface.
func (i *InmemTransport) Blocks(target string, args *BlocksRequest, resp *BlocksResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*BlocksResponse)
	if !ok {
		return errUnexpectedResponse(rpcResp.Response)
	}
	*resp = *out
	return nil
}

// NewBlock implements the Transport interface.
func (i *InmemTransport) NewBlock(target string, args *NewBlockRequest, resp *NewBlockResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*NewBlockResponse)
	if !ok {
		return errUnexpectedResponse(rpcResp.Response)
	}
	*resp = *out
	return nil
}

// NewTransaction implements the Transport interface.
func (i *InmemTransport) NewTransaction(target string, args *NewTransactionRequest, resp *NewTransactionResponse) error {
	rpcResp, err := i.makeRPC(target, args)
	if err != nil {
		return err
	}

	out, ok := rpcResp.Response.(*NewTransactionResponse)
	if !ok {
		return errUnexpectedResponse(rpcResp.Response)
	}
	*resp = *out
	return nil
}

func errUnexpectedResponse(resp interface{}) error {
	return fmt.Errorf("unexpected response type %T", resp)
}

func (i *InmemTransport) makeRPC(target string, args interface{}) (rpcResp RPCResponse, err error) {
	i.RLock()
	peer, ok := i.peers[target]
	timeout := i.timeout
	i.RUnlock()

	if !ok {
		err = fmt.Errorf("failed to connect to peer: %v", target)
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Send the RPC over
	respCh := make(chan RPCResponse, 1)
	select {
	case peer.consumerCh <- RPC{
		Command:  args,
		RespChan: respCh,
	}:
	case <-timer.C:
		err = fmt.Errorf("command timed out")
		return
	}

	// Wait for a response
	select {
	case rpcResp = <-respCh:
		if rpcResp.Error != nil {
			err = rpcResp.Error
		}
	case <-timer.C:
		err = fmt.Errorf("command timed out")
	}
	return
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}
