package node

import (
	"context"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mosaicnetworks/dpcnode/src/chainsync"
	cm "github.com/mosaicnetworks/dpcnode/src/common"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/miner"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/mosaicnetworks/dpcnode/src/peers"
	"github.com/sirupsen/logrus"
)

// seenTTL is how long a relayed block or transaction is remembered.
const seenTTL = 10 * time.Minute

// Node is the reactive part of a ledger node. It answers peers, relays
// blocks and transactions, keeps its chain in sync with its peers, and drives
// the miner.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	core  *Core
	trans net.Transport
	netCh <-chan net.RPC

	peers *peers.Context
	sync  *chainsync.Coordinator
	miner *miner.Miner

	// seen holds the digests of recently relayed blocks and transactions
	seen *ttlcache.Cache[ledger.Digest, struct{}]

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan struct{}

	controlTimer *ControlTimer

	start time.Time
}

// NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	core *Core,
	trans net.Transport,
	peerContext *peers.Context,
) *Node {
	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	logger = logger.WithField("this_addr", trans.AdvertiseAddr())

	ctx, cancel := context.WithCancel(context.Background())

	node := &Node{
		conf:         conf,
		logger:       logger,
		core:         core,
		trans:        trans,
		netCh:        trans.Consumer(),
		peers:        peerContext,
		sync:         chainsync.NewCoordinator(core, trans, peerContext, conf.syncConfig(), logger),
		ctx:          ctx,
		cancel:       cancel,
		shutdownCh:   make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
		seen: ttlcache.New[ledger.Digest, struct{}](
			ttlcache.WithTTL[ledger.Digest, struct{}](seenTTL),
			ttlcache.WithDisableTouchOnHit[ledger.Digest, struct{}](),
		),
	}

	node.miner = miner.New(core, node, conf.Identity, logger)

	go node.seen.Start()

	return node
}

// Init sets the initial state. A bootnode, or a node without bootnodes, starts
// Running. Other nodes start CatchingUp.
func (n *Node) Init() error {
	if n.peers.IsBootnode() || n.peers.Bootnodes().Len() == 0 {
		n.logger.Debug("No bootnode required => Running")
		n.setState(Running)
	} else {
		n.logger.Debug("Bootnodes => CatchingUp")
		n.setState(CatchingUp)
	}

	return nil
}

// RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

// Run invokes the main loop of the node
func (n *Node) Run() {
	n.start = time.Now()

	go n.controlTimer.Run(n.conf.HeartbeatTimeout)

	//Execute some background work regardless of the state of the node.
	go n.doBackgroundWork()

	//Execute Node State Machine
	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case CatchingUp:
			n.catchUp()
		case Running:
			n.run()
		case Shutdown:
			return
		}
	}
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			if !n.goFunc(func() { n.processRPC(rpc) }) {
				rpc.Respond(nil, errBusy)
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// catchUp synchronizes with the reachable bootnodes. It returns once at least
// one of them has been synchronized with, or at shutdown.
func (n *Node) catchUp() {
	n.logger.Debug("CATCHING-UP")

	for _, p := range n.peers.Bootnodes().Peers {
		if n.getState() == Shutdown {
			return
		}

		if err := n.dial(p.NetAddr); err != nil {
			n.logger.WithFields(logrus.Fields{
				"bootnode": p.NetAddr,
				"err":      err,
			}).Debug("Bootnode unreachable")
			continue
		}

		n.logger.WithFields(logrus.Fields{
			"bootnode": p.NetAddr,
			"height":   n.core.Store().Height(),
		}).Info("Caught up")

		n.setState(Running)
		return
	}

	select {
	case <-n.controlTimer.tickCh:
		n.controlTimer.Reset(n.conf.HeartbeatTimeout)
	case <-n.shutdownCh:
	}
}

// run polls peers on every heartbeat and cleans the mempool periodically.
func (n *Node) run() {
	n.logger.Debug("RUNNING")

	if n.conf.Mine {
		n.miner.Start()
	}

	ticker := time.NewTicker(n.conf.MempoolInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.controlTimer.tickCh:
			n.heartbeat()
			n.controlTimer.Reset(n.conf.HeartbeatTimeout)
		case <-ticker.C:
			dropped := n.core.Mempool().Revalidate(n.core.Store().View())
			if dropped > 0 {
				n.logger.WithField("dropped", dropped).Debug("Mempool housekeeping")
			}
		case <-n.shutdownCh:
			return
		}
	}
}

// heartbeat dials new peers when there are too few, and polls a random
// connected peer.
func (n *Node) heartbeat() {
	if n.peers.NeedMore() {
		for _, p := range n.peers.Dialable() {
			addr := p.NetAddr
			n.goFunc(func() { n.dial(addr) })
		}
	}

	if p := n.peers.Next(); p != nil {
		addr := p.NetAddr
		n.goFunc(func() { n.poll(addr) })
	}

	prometheusConnectedPeers.Set(float64(n.peers.Len()))
}

// dial connects to a peer by polling it.
func (n *Node) dial(addr string) error {
	if !n.peers.IsConnected(addr) {
		if !n.peers.Connect(addr) {
			return errRefused
		}
		n.sync.Connect(addr)
	}
	return n.poll(addr)
}

// poll asks a peer for its chain and synchronizes with it. Unreachable peers
// are disconnected.
func (n *Node) poll(addr string) error {
	err := n.sync.Poll(n.ctx, addr)
	n.handleSyncError(addr, err)
	return err
}

func (n *Node) handleSyncError(addr string, err error) {
	switch kind, ok := cm.KindOf(err); {
	case err == nil:
	case ok && kind == cm.PeerMisbehavior:
		prometheusBannedPeersTotal.Inc()
	case ok && kind == cm.StoreFailure:
		n.logger.WithError(err).Error("Ledger store failure")
		go n.Shutdown()
	case ok:
		n.logger.WithFields(logrus.Fields{
			"peer": addr,
			"err":  err,
		}).Debug("Sync")
	default:
		n.logger.WithFields(logrus.Fields{
			"peer": addr,
			"err":  err,
		}).Debug("Peer unreachable")
		n.disconnect(addr)
	}
}

func (n *Node) connect(addr string) {
	if addr == "" || n.peers.IsConnected(addr) {
		return
	}
	if n.peers.Connect(addr) {
		n.sync.Connect(addr)
	}
}

func (n *Node) disconnect(addr string) {
	n.peers.Disconnect(addr)
	n.sync.Disconnect(addr)
}

// Shutdown shuts down the node
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		n.miner.Stop()

		//Stop and wait for concurrent operations
		n.cancel()
		close(n.shutdownCh)

		n.waitRoutines()

		n.controlTimer.Shutdown()
		n.seen.Stop()
		n.peers.Close()

		//transport and store should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		if err := n.core.Store().Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	}
}

/*******************************************************************************
Accessors
*******************************************************************************/

// Core returns the ledger core.
func (n *Node) Core() *Core {
	return n.core
}

// Miner returns the miner, which runs only if it was started.
func (n *Node) Miner() *miner.Miner {
	return n.miner
}

// Peers returns the peer context.
func (n *Node) Peers() *peers.Context {
	return n.peers
}

// GetState returns the current state.
func (n *Node) GetState() State {
	return n.getState()
}

// SyncState returns the sync state of a peer.
func (n *Node) SyncState(addr string) string {
	return n.sync.State(addr)
}

// GetBlock returns the main-chain block at height.
func (n *Node) GetBlock(height int) (*ledger.Block, error) {
	return n.core.Store().BlockAt(height)
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	store := n.core.Store()
	pool := n.core.Mempool()

	timeElapsed := time.Since(n.start)
	blocksPerSecond := float64(store.Height()) / timeElapsed.Seconds()

	s := map[string]string{
		"height":            strconv.Itoa(store.Height()),
		"tip":               store.CurrentDigest().String(),
		"cumulative_work":   store.CumulativeWork().Dec(),
		"commitments":       strconv.Itoa(store.CommitmentCount()),
		"commitment_digest": store.CommitmentDigest().String(),
		"serial_numbers":    strconv.Itoa(store.SerialCount()),
		"mempool":           strconv.Itoa(pool.Len()),
		"mempool_bytes":     strconv.Itoa(pool.Bytes()),
		"num_peers":         strconv.Itoa(n.peers.Len()),
		"banned_peers":      strconv.Itoa(len(n.peers.Banned())),
		"blocks_per_second": strconv.FormatFloat(blocksPerSecond, 'f', 2, 64),
		"mining":            strconv.FormatBool(n.miner.Running()),
		"state":             n.getState().String(),
		"moniker":           n.conf.Moniker,
		"addr":              n.trans.AdvertiseAddr(),
	}
	return s
}
