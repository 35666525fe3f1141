package verifier

import (
	"bytes"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/sirupsen/logrus"
)

// Groth16 verifies Groth16 proofs against a fixed verifying key. Each public
// input is read as a big-endian integer and reduced into the curve's scalar
// field, in order.
type Groth16 struct {
	curve  ecc.ID
	vk     groth16.VerifyingKey
	logger *logrus.Entry
}

// NewGroth16 reads a verifying key, as written by VerifyingKey.WriteTo, from r.
func NewGroth16(curve ecc.ID, r io.Reader, logger *logrus.Entry) (*Groth16, error) {
	vk := groth16.NewVerifyingKey(curve)
	if _, err := vk.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("reading verifying key: %v", err)
	}

	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	return &Groth16{
		curve:  curve,
		vk:     vk,
		logger: logger,
	}, nil
}

// LoadGroth16 reads the verifying key from a file.
func LoadGroth16(curve ecc.ID, path string, logger *logrus.Entry) (*Groth16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return NewGroth16(curve, f, logger)
}

// Verify implements Verifier. Malformed proofs or inputs are rejected, never
// reported as errors.
func (g *Groth16) Verify(proof []byte, publicInputs [][]byte) (ok bool) {
	// gnark's decoders are not hardened against arbitrary bytes
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithField("panic", r).Debug("Groth16 verification aborted")
			ok = false
		}
	}()

	p := groth16.NewProof(g.curve)
	if _, err := p.ReadFrom(bytes.NewReader(proof)); err != nil {
		g.logger.WithError(err).Debug("Decoding proof")
		return false
	}

	w, err := g.publicWitness(publicInputs)
	if err != nil {
		g.logger.WithError(err).Debug("Building public witness")
		return false
	}

	if err := groth16.Verify(p, g.vk, w); err != nil {
		g.logger.WithError(err).Debug("Groth16 verification failed")
		return false
	}

	return true
}

func (g *Groth16) publicWitness(publicInputs [][]byte) (witness.Witness, error) {
	modulus := g.curve.ScalarField()

	w, err := witness.New(modulus)
	if err != nil {
		return nil, err
	}

	values := make(chan any, len(publicInputs))
	for _, in := range publicInputs {
		v := new(big.Int).SetBytes(in)
		values <- v.Mod(v, modulus)
	}
	close(values)

	if err := w.Fill(len(publicInputs), 0, values); err != nil {
		return nil, err
	}

	return w, nil
}

// ParseCurve maps a curve name to its gnark identifier.
func ParseCurve(name string) (ecc.ID, error) {
	switch strings.ToLower(name) {
	case "bn254", "":
		return ecc.BN254, nil
	case "bls12-377", "bls12_377":
		return ecc.BLS12_377, nil
	case "bls12-381", "bls12_381":
		return ecc.BLS12_381, nil
	case "bw6-761", "bw6_761":
		return ecc.BW6_761, nil
	default:
		return ecc.UNKNOWN, fmt.Errorf("unsupported curve %q", name)
	}
}
