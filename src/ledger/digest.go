package ledger

import (
	"encoding/hex"
	"fmt"
)

// DigestSize is the length in bytes of a Digest.
const DigestSize = 32

// Digest is a SHA256-based hash identifying blocks and transactions.
type Digest [DigestSize]byte

// ZeroDigest is the parent of the genesis block.
var ZeroDigest Digest

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 hex characters, for logs.
func (d Digest) Short() string {
	return d.String()[:8]
}

// IsZero ...
func (d Digest) IsZero() bool {
	return d == ZeroDigest
}

// Bytes returns a copy of the digest as a slice.
func (d Digest) Bytes() []byte {
	b := make([]byte, DigestSize)
	copy(b, d[:])
	return b
}

// DigestFromBytes ...
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest should be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// DigestFromHex ...
func DigestFromHex(s string) (Digest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroDigest, err
	}
	return DigestFromBytes(b)
}
