package keys

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec"
)

// Identity returns the 33-byte compressed form of a public key. This is the
// receiving identity a miner writes into block headers.
func Identity(pub *ecdsa.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return (*btcec.PublicKey)(pub).SerializeCompressed()
}

// IdentityHex returns the hexadecimal form of Identity.
func IdentityHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(Identity(pub))
}

// ParseIdentity decodes a hex-encoded public key, compressed or not, and
// returns its compressed form. An optional 0x prefix is accepted.
func ParseIdentity(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding identity: %v", err)
	}

	pub, err := btcec.ParsePubKey(raw, btcec.S256())
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %v", err)
	}

	return pub.SerializeCompressed(), nil
}
