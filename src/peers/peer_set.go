package peers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/mosaicnetworks/dpcnode/src/crypto"
)

// PeerSet is an immutable, sorted set of Peers
type PeerSet struct {
	Peers     []*Peer          `json:"peers"`
	ByAddress map[string]*Peer `json:"-"`

	//cached values
	hash []byte
	hex  string
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers. Duplicate addresses are
// collapsed and empty ones dropped.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByAddress: make(map[string]*Peer),
	}

	for _, peer := range peers {
		if peer == nil || peer.NetAddr == "" {
			continue
		}
		peerSet.ByAddress[peer.NetAddr] = peer
	}

	sorted := make([]*Peer, 0, len(peerSet.ByAddress))
	for _, peer := range peerSet.ByAddress {
		sorted = append(sorted, peer)
	}
	sort.Sort(ByAddress(sorted))

	peerSet.Peers = sorted

	return peerSet
}

// NewPeerSetFromAddresses creates a PeerSet from a list of addresses, as given
// on the command line.
func NewPeerSetFromAddresses(addrs []string) *PeerSet {
	peers := []*Peer{}
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr != "" {
			peers = append(peers, NewPeer(addr, ""))
		}
	}
	return NewPeerSet(peers)
}

// NewPeerSetFromPeerSliceBytes creates a new PeerSet from a peerSlice in Bytes format
func NewPeerSetFromPeerSliceBytes(peerSliceBytes []byte) (*PeerSet, error) {
	//Decode Peer slice
	peers := []*Peer{}

	b := bytes.NewBuffer(peerSliceBytes)
	dec := json.NewDecoder(b) //will read from b

	err := dec.Decode(&peers)
	if err != nil {
		return nil, err
	}
	//create new PeerSet
	return NewPeerSet(peers), nil
}

// WithNewPeer returns a new PeerSet with a list of peers including the new one.
func (peerSet *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	peers := append([]*Peer{}, peerSet.Peers...)
	return NewPeerSet(append(peers, peer))
}

// WithRemovedPeer returns a new PeerSet with a list of peers excluding the
// provided one
func (peerSet *PeerSet) WithRemovedPeer(addr string) *PeerSet {
	_, peers := ExcludePeer(peerSet.Peers, addr)
	return NewPeerSet(peers)
}

// Merge returns the union of two PeerSets. Entries of other win on equal
// addresses.
func (peerSet *PeerSet) Merge(other *PeerSet) *PeerSet {
	if other == nil {
		return peerSet
	}
	peers := append([]*Peer{}, peerSet.Peers...)
	return NewPeerSet(append(peers, other.Peers...))
}

/* ToSlice Methods */

// Addresses returns the PeerSet's slice of network addresses
func (peerSet *PeerSet) Addresses() []string {
	res := []string{}

	for _, peer := range peerSet.Peers {
		res = append(res, peer.NetAddr)
	}

	return res
}

/* Utilities */

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Hash uniquely identifies a PeerSet. It is computed by hashing (SHA256) the
// sorted addresses together, one by one.
func (peerSet *PeerSet) Hash() []byte {
	if len(peerSet.hash) == 0 {
		hash := []byte{}
		for _, p := range peerSet.Peers {
			hash = crypto.SHA256(append(hash, []byte(p.NetAddr)...))
		}
		peerSet.hash = hash
	}
	return peerSet.hash
}

// Hex is the hexadecimal representation of Hash
func (peerSet *PeerSet) Hex() string {
	if len(peerSet.hex) == 0 {
		peerSet.hex = hex.EncodeToString(peerSet.Hash())
	}
	return peerSet.hex
}

// Marshal marshals the peerset
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ByAddress implements sort.Interface for Peers based on the NetAddr field.
type ByAddress []*Peer

func (a ByAddress) Len() int      { return len(a) }
func (a ByAddress) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByAddress) Less(i, j int) bool {
	return a[i].NetAddr < a[j].NetAddr
}
