// Package dpcnode assembles a ledger node from its configuration: consensus
// rules and proof verifier, ledger store, mempool, transport, peer context,
// miner identity, node and HTTP service.
package dpcnode

import (
	"fmt"
	"os"

	"github.com/mosaicnetworks/dpcnode/src/config"
	"github.com/mosaicnetworks/dpcnode/src/consensus"
	"github.com/mosaicnetworks/dpcnode/src/crypto/keys"
	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/mempool"
	"github.com/mosaicnetworks/dpcnode/src/miner"
	"github.com/mosaicnetworks/dpcnode/src/net"
	"github.com/mosaicnetworks/dpcnode/src/node"
	"github.com/mosaicnetworks/dpcnode/src/peers"
	"github.com/mosaicnetworks/dpcnode/src/service"
	"github.com/mosaicnetworks/dpcnode/src/verifier"
	"github.com/sirupsen/logrus"
)

// DPCNode is the top-level engine.
type DPCNode struct {
	Config    *config.Config
	Node      *node.Node
	Transport *net.NetworkTransport
	Store     ledger.Store
	Rules     *consensus.Rules
	Mempool   *mempool.Mempool
	Peers     *peers.Context
	Service   *service.Service
	Identity  []byte

	logger *logrus.Entry
}

// NewDPCNode ...
func NewDPCNode(c *config.Config) *DPCNode {
	engine := &DPCNode{
		Config: c,
		logger: c.Logger(),
	}

	return engine
}

func (d *DPCNode) initRules() error {
	var v verifier.Verifier

	if d.Config.Dev {
		d.logger.Warn("Dev mode: every proof is accepted")
		v = verifier.Static(true)
	} else {
		curve, err := verifier.ParseCurve(d.Config.VKCurve)
		if err != nil {
			return err
		}

		g, err := verifier.LoadGroth16(curve, d.Config.VerifyingKeyFile(), d.logger)
		if err != nil {
			return fmt.Errorf("loading verifying key: %w", err)
		}
		v = g
	}

	params := d.Config.ConsensusParams()

	d.logger.WithFields(logrus.Fields{
		"genesis":           params.Genesis.Digest().Short(),
		"max_block_size":    params.MaxBlockSize,
		"max_nonce":         params.MaxNonce,
		"target_block_time": params.TargetBlockTime,
	}).Debug("Consensus parameters")

	d.Rules = consensus.NewRules(params, v, d.logger)

	return nil
}

func (d *DPCNode) initStore() error {
	genesis := d.Rules.Params().Genesis

	if !d.Config.Store {
		d.Store = ledger.NewInmemStore(genesis)

		d.logger.Debug("created new in-mem store")
	} else {
		d.logger.WithField("path", d.Config.DatabaseDir).Debug("Attempting to load or create database")

		store, err := ledger.NewBadgerStore(genesis, d.Config.DatabaseDir, d.logger)
		if err != nil {
			return err
		}

		d.logger.WithFields(logrus.Fields{
			"height": store.Height(),
			"tip":    store.CurrentDigest().Short(),
		}).Debug("loaded badger store")

		d.Store = store
	}

	return nil
}

func (d *DPCNode) initMempool() error {
	d.Mempool = mempool.New(d.Rules, d.Store, d.Config.MempoolCapacity, d.logger)
	return nil
}

func (d *DPCNode) initTransport() error {
	transport, err := net.NewTCPTransport(
		d.Config.BindAddr,
		d.Config.AdvertiseAddr,
		d.Config.MaxPool,
		d.Config.TCPTimeout,
		d.Config.BlockTimeout,
		d.logger,
	)
	if err != nil {
		return err
	}

	d.Transport = transport

	return nil
}

// initPeers collects the bootnodes from the configuration and from the
// optional peers.json file.
func (d *DPCNode) initPeers() error {
	bootnodes := peers.NewPeerSetFromAddresses(d.Config.Bootnodes)

	jsonPeerSet := peers.NewJSONPeerSet(d.Config.DataDir)

	fromFile, err := jsonPeerSet.PeerSet()
	switch {
	case err == nil:
		bootnodes = bootnodes.Merge(fromFile)
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("reading %s: %w", d.Config.PeersFile(), err)
	}

	d.logger.WithFields(logrus.Fields{
		"bootnodes":   bootnodes.Addresses(),
		"is_bootnode": d.Config.IsBootnode,
	}).Debug("Bootnodes")

	d.Peers = peers.NewContext(
		d.Transport.AdvertiseAddr(),
		bootnodes,
		d.Config.MinPeers,
		d.Config.MaxPeers,
		d.Config.IsBootnode,
		d.Config.BanDuration,
		d.logger,
	)

	return nil
}

func (d *DPCNode) initIdentity() error {
	if !d.Config.Miner && d.Config.Coinbase == "" {
		return nil
	}

	id, err := miner.LoadIdentity(d.Config.Coinbase, d.Config.Keyfile())
	if err != nil {
		return err
	}

	d.Identity = id

	return nil
}

func (d *DPCNode) initNode() error {
	conf := node.NewConfig(
		d.Config.HeartbeatTimeout,
		d.Config.MempoolInterval,
		d.Config.SyncBatch,
		d.Config.SyncParallelism,
		d.logger,
	)
	conf.SyncSpan = d.Config.SyncSpan
	conf.Moniker = d.Config.Moniker
	conf.Mine = d.Config.Miner
	conf.Identity = d.Identity

	core := node.NewCore(d.Store, d.Rules, d.Mempool, d.logger)

	d.Node = node.NewNode(conf, core, d.Transport, d.Peers)

	if err := d.Node.Init(); err != nil {
		return fmt.Errorf("failed to initialize node: %s", err)
	}

	return nil
}

func (d *DPCNode) initService() error {
	if !d.Config.NoService {
		d.Service = service.NewService(d.Config.ServiceAddr, d.Node, d.logger)
	}
	return nil
}

// Init creates every component, in dependency order.
func (d *DPCNode) Init() error {
	if err := d.initRules(); err != nil {
		return err
	}

	if err := d.initStore(); err != nil {
		return err
	}

	if err := d.initMempool(); err != nil {
		return err
	}

	if err := d.initTransport(); err != nil {
		return err
	}

	if err := d.initPeers(); err != nil {
		return err
	}

	if err := d.initIdentity(); err != nil {
		return err
	}

	if err := d.initNode(); err != nil {
		return err
	}

	if err := d.initService(); err != nil {
		return err
	}

	return nil
}

// Run starts the service and the transport, and runs the node until it is
// shut down.
func (d *DPCNode) Run() {
	if d.Service != nil {
		go d.Service.Serve()
	}

	go d.Transport.Listen()

	d.Node.Run()
}

// Keygen writes a new miner key to keyfile and returns the hex encoding of its
// public identity. It refuses to overwrite an existing key.
func Keygen(keyfile string) (string, error) {
	simpleKeyfile := keys.NewSimpleKeyfile(keyfile)

	if _, err := os.Stat(keyfile); err == nil {
		return "", fmt.Errorf("another key already lives under %s", keyfile)
	}

	key, err := keys.GenerateECDSAKey()
	if err != nil {
		return "", err
	}

	if err := simpleKeyfile.WriteKey(key); err != nil {
		return "", err
	}

	return keys.IdentityHex(&key.PublicKey), nil
}
