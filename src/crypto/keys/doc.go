// Package keys implements the secp256k1 keys that identify a miner.
//
// A mining node owns a key-pair. The private key stays in the node's data
// directory; the compressed public key is the receiving identity written into
// the header of every block the node mines. secp256k1 is the curve used by
// Bitcoin, so existing tooling can derive and inspect these identities.
package keys
