package peers

import (
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMinPeers is the number of peers a node tries to stay connected to.
	DefaultMinPeers = 2
	// DefaultMaxPeers is the maximum number of connected peers.
	DefaultMaxPeers = 50
	// DefaultBanDuration is how long a misbehaving peer is refused.
	DefaultBanDuration = 10 * time.Minute
)

// Context is the registry of connected peers. It enforces the connection
// limits and keeps misbehaving peers out for the ban duration.
type Context struct {
	sync.RWMutex

	localAddr  string
	bootnodes  *PeerSet
	isBootnode bool
	minPeers   int
	maxPeers   int

	connected map[string]*Peer
	last      string

	// bans maps a banned address to the time it was banned
	bans    *ttlcache.Cache[string, time.Time]
	banTTL  time.Duration
	stopped atomic.Bool

	logger *logrus.Entry
}

// NewContext creates a Context and starts the expiry of bans. localAddr is
// the advertised address of this node, which it never connects to.
func NewContext(localAddr string,
	bootnodes *PeerSet,
	minPeers int,
	maxPeers int,
	isBootnode bool,
	banTTL time.Duration,
	logger *logrus.Entry,
) *Context {
	if bootnodes == nil {
		bootnodes = NewPeerSet(nil)
	}

	if maxPeers <= 0 {
		maxPeers = DefaultMaxPeers
	}

	if banTTL <= 0 {
		banTTL = DefaultBanDuration
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	c := &Context{
		localAddr:  localAddr,
		bootnodes:  bootnodes.WithRemovedPeer(localAddr),
		isBootnode: isBootnode,
		minPeers:   minPeers,
		maxPeers:   maxPeers,
		connected:  make(map[string]*Peer),
		bans: ttlcache.New[string, time.Time](
			ttlcache.WithTTL[string, time.Time](banTTL),
			ttlcache.WithDisableTouchOnHit[string, time.Time](),
		),
		banTTL: banTTL,
		logger: logger.WithField("component", "peers"),
	}

	go c.bans.Start()

	return c
}

// LocalAddr returns the advertised address of this node.
func (c *Context) LocalAddr() string {
	return c.localAddr
}

// IsBootnode reports whether this node is a bootnode.
func (c *Context) IsBootnode() bool {
	return c.isBootnode
}

// Bootnodes returns the configured bootnodes, without this node.
func (c *Context) Bootnodes() *PeerSet {
	return c.bootnodes
}

// Connect registers a peer. It refuses this node's own address, banned peers,
// and new peers beyond the maximum. Connecting an already connected peer is
// accepted.
func (c *Context) Connect(addr string) bool {
	if addr == "" || addr == c.localAddr || c.IsBanned(addr) {
		return false
	}

	c.Lock()
	defer c.Unlock()

	if _, ok := c.connected[addr]; ok {
		return true
	}

	if len(c.connected) >= c.maxPeers {
		c.logger.WithField("peer", addr).Debug("Max peers reached")
		return false
	}

	peer, ok := c.bootnodes.ByAddress[addr]
	if !ok {
		peer = NewPeer(addr, "")
	}
	c.connected[addr] = peer

	c.logger.WithFields(logrus.Fields{
		"peer":      addr,
		"connected": len(c.connected),
	}).Debug("Connected peer")

	return true
}

// Disconnect removes a peer. It reports whether the peer was connected.
func (c *Context) Disconnect(addr string) bool {
	c.Lock()
	defer c.Unlock()

	if _, ok := c.connected[addr]; !ok {
		return false
	}
	delete(c.connected, addr)

	c.logger.WithField("peer", addr).Debug("Disconnected peer")

	return true
}

// IsConnected ...
func (c *Context) IsConnected(addr string) bool {
	c.RLock()
	defer c.RUnlock()
	_, ok := c.connected[addr]
	return ok
}

// Connected returns the connected peers sorted by address.
func (c *Context) Connected() []*Peer {
	c.RLock()
	defer c.RUnlock()

	res := make([]*Peer, 0, len(c.connected))
	for _, p := range c.connected {
		res = append(res, p)
	}
	sort.Sort(ByAddress(res))

	return res
}

// Len returns the number of connected peers.
func (c *Context) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.connected)
}

// NeedMore reports whether the node is below its minimum number of peers.
func (c *Context) NeedMore() bool {
	return c.Len() < c.minPeers
}

// Dialable returns the bootnodes that are neither connected nor banned.
func (c *Context) Dialable() []*Peer {
	res := []*Peer{}
	for _, p := range c.bootnodes.Peers {
		if !c.IsConnected(p.NetAddr) && !c.IsBanned(p.NetAddr) {
			res = append(res, p)
		}
	}
	return res
}

// Ban disconnects a peer and refuses it for the ban duration.
func (c *Context) Ban(addr string) {
	c.bans.Set(addr, time.Now(), ttlcache.DefaultTTL)
	c.Disconnect(addr)

	c.logger.WithFields(logrus.Fields{
		"peer":     addr,
		"duration": c.banTTL,
	}).Warn("Banned peer")
}

// IsBanned reports whether a peer is currently banned.
func (c *Context) IsBanned(addr string) bool {
	return c.bans.Get(addr) != nil
}

// Banned returns the currently banned addresses.
func (c *Context) Banned() []string {
	res := []string{}
	for addr, item := range c.bans.Items() {
		if !item.IsExpired() {
			res = append(res, addr)
		}
	}
	sort.Strings(res)
	return res
}

// Next returns a random connected peer, avoiding the one returned last when
// there is a choice. It returns nil when no peer is connected.
func (c *Context) Next() *Peer {
	c.Lock()
	defer c.Unlock()

	selectable := make([]*Peer, 0, len(c.connected))
	for _, p := range c.connected {
		selectable = append(selectable, p)
	}

	if len(selectable) == 0 {
		return nil
	}

	if len(selectable) > 1 {
		_, selectable = ExcludePeer(selectable, c.last)
	}

	peer := selectable[rand.Intn(len(selectable))]
	c.last = peer.NetAddr

	return peer
}

// Close stops the expiry of bans. It is safe to call Close multiple times.
func (c *Context) Close() {
	if c.stopped.CompareAndSwap(false, true) {
		c.bans.Stop()
	}
}
