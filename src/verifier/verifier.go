// Package verifier adapts zero-knowledge proof systems to the node. The node
// treats proofs as opaque: a Verifier accepts or rejects a proof against the
// public inputs of a transaction and has no side effects.
package verifier

// Verifier checks transaction proofs. Implementations must be deterministic
// and safe for concurrent use.
type Verifier interface {
	Verify(proof []byte, publicInputs [][]byte) bool
}

// Static is a Verifier with a fixed answer. Static(true) accepts every proof;
// it is only meant for tests and development networks.
type Static bool

// Verify implements Verifier.
func (s Static) Verify(proof []byte, publicInputs [][]byte) bool {
	return bool(s)
}

// Func adapts a plain function to the Verifier interface.
type Func func(proof []byte, publicInputs [][]byte) bool

// Verify implements Verifier.
func (f Func) Verify(proof []byte, publicInputs [][]byte) bool {
	return f(proof, publicInputs)
}
