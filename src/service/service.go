// Package service exposes the state of a node over HTTP: chain statistics,
// blocks, the mempool, peers, miner controls and Prometheus metrics.
package service

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/mosaicnetworks/dpcnode/src/ledger"
	"github.com/mosaicnetworks/dpcnode/src/node"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/tip", s.makeHandler(s.GetTip))
	s.mux.HandleFunc("/block/", s.makeHandler(s.GetBlock))
	s.mux.HandleFunc("/mempool", s.makeHandler(s.GetMempool))
	s.mux.HandleFunc("/peers", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/miner/start", s.makeHandler(s.StartMiner))
	s.mux.HandleFunc("/miner/stop", s.makeHandler(s.StopMiner))
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving the API.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetTip returns the block at the tip of the main chain.
func (s *Service) GetTip(w http.ResponseWriter, r *http.Request) {
	store := s.node.Core().Store()
	writeJSON(w, newBlockView(store.Height(), store.Tip()))
}

// GetBlock ...
func (s *Service) GetBlock(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/block/"):]

	height, err := strconv.Atoi(param)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing height parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	block, err := s.node.GetBlock(height)
	if err != nil {
		s.logger.WithError(err).Debugf("Retrieving block %d", height)
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	writeJSON(w, newBlockView(height, block))
}

// GetMempool returns the transactions a block of max_bytes bytes would
// include, in order. max_bytes defaults to the maximum block size.
func (s *Service) GetMempool(w http.ResponseWriter, r *http.Request) {
	core := s.node.Core()

	maxBytes := core.Rules().Params().MaxBlockSize
	if param := r.URL.Query().Get("max_bytes"); param != "" {
		v, err := strconv.Atoi(param)
		if err != nil || v < 0 {
			http.Error(w, "invalid max_bytes", http.StatusBadRequest)
			return
		}
		maxBytes = v
	}

	res := mempoolView{
		Count:        core.Mempool().Len(),
		Bytes:        core.Mempool().Bytes(),
		Transactions: []transactionView{},
	}
	for tx := range core.Mempool().Candidates(maxBytes, core.Store().View()) {
		res.Transactions = append(res.Transactions, newTransactionView(tx))
	}

	writeJSON(w, res)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	peerContext := s.node.Peers()

	res := peersView{
		Connected: []peerView{},
		Bootnodes: []string{},
		Banned:    peerContext.Banned(),
	}
	for _, p := range peerContext.Connected() {
		res.Connected = append(res.Connected, peerView{
			NetAddr:   p.NetAddr,
			Moniker:   p.Moniker,
			SyncState: s.node.SyncState(p.NetAddr),
		})
	}
	for _, p := range peerContext.Bootnodes().Peers {
		res.Bootnodes = append(res.Bootnodes, p.NetAddr)
	}

	writeJSON(w, res)
}

// StartMiner ...
func (s *Service) StartMiner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.node.GetState() != node.Running {
		http.Error(w, "node is "+s.node.GetState().String(), http.StatusConflict)
		return
	}

	s.node.Miner().Start()
	writeJSON(w, minerView{Running: s.node.Miner().Running()})
}

// StopMiner ...
func (s *Service) StopMiner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.node.Miner().Stop()
	writeJSON(w, minerView{Running: s.node.Miner().Running()})
}

/*******************************************************************************
Views
*******************************************************************************/

type transactionView struct {
	ID            string   `json:"id"`
	SerialNumbers []string `json:"serial_numbers"`
	Commitments   []string `json:"commitments"`
	LedgerDigest  string   `json:"ledger_digest"`
	Fee           int64    `json:"fee"`
	Memo          string   `json:"memo"`
	Size          int      `json:"size"`
}

func hexList(items [][]byte) []string {
	res := make([]string, len(items))
	for i, item := range items {
		res[i] = hex.EncodeToString(item)
	}
	return res
}

func newTransactionView(tx *ledger.Transaction) transactionView {
	return transactionView{
		ID:            tx.ID().String(),
		SerialNumbers: hexList(tx.SerialNumbers),
		Commitments:   hexList(tx.Commitments),
		LedgerDigest:  tx.LedgerDigest.String(),
		Fee:           tx.Fee,
		Memo:          hex.EncodeToString(tx.Memo),
		Size:          tx.Size(),
	}
}

type blockView struct {
	Height       int               `json:"height"`
	Digest       string            `json:"digest"`
	Parent       string            `json:"parent"`
	MerkleRoot   string            `json:"merkle_root"`
	Time         int64             `json:"time"`
	Target       uint64            `json:"target"`
	Nonce        uint32            `json:"nonce"`
	Miner        string            `json:"miner"`
	Size         int               `json:"size"`
	Transactions []transactionView `json:"transactions"`
}

func newBlockView(height int, block *ledger.Block) blockView {
	res := blockView{
		Height:       height,
		Digest:       block.Digest().String(),
		Parent:       block.Header.Parent.String(),
		MerkleRoot:   block.Header.MerkleRoot.String(),
		Time:         block.Header.Time,
		Target:       block.Header.Target,
		Nonce:        block.Header.Nonce,
		Miner:        hex.EncodeToString(block.Header.Miner),
		Size:         block.Size(),
		Transactions: make([]transactionView, 0, len(block.Transactions)),
	}
	for _, tx := range block.Transactions {
		res.Transactions = append(res.Transactions, newTransactionView(tx))
	}
	return res
}

type mempoolView struct {
	Count        int               `json:"count"`
	Bytes        int               `json:"bytes"`
	Transactions []transactionView `json:"transactions"`
}

type peerView struct {
	NetAddr   string `json:"net_addr"`
	Moniker   string `json:"moniker"`
	SyncState string `json:"sync_state"`
}

type peersView struct {
	Connected []peerView `json:"connected"`
	Bootnodes []string   `json:"bootnodes"`
	Banned    []string   `json:"banned"`
}

type minerView struct {
	Running bool `json:"running"`
}
