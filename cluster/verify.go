package cluster

import (
	"errors"
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/crypto"
)

var (
	// ErrSignature is returned when an output is not signed by the registered cluster.
	ErrSignature = errors.New("invalid cluster signature")
	// ErrBinding is returned when an output answers another pending computation.
	ErrBinding = errors.New("output bound to another computation")
)

// Verifier validates signed outputs against the cluster's key material and
// the pending computation they are presented for.
type Verifier interface {
	Verify(m Material, ref PendingRef, out *SignedOutput) (*DecodedOutput, error)
}

// Ed25519Verifier verifies Ed25519 signatures of the cluster key.
type Ed25519Verifier struct{}

// Verify checks that out is bound to ref and carries a valid signature by m.ClusterKey.
func (Ed25519Verifier) Verify(m Material, ref PendingRef, out *SignedOutput) (*DecodedOutput, error) {
	if out == nil {
		return nil, fmt.Errorf("%w: no output", ErrSignature)
	}
	if out.Ref != ref {
		return nil, fmt.Errorf("%w: output for %s presented against %s", ErrBinding, out.Ref, ref)
	}
	if !crypto.Verify(m.ClusterKey, out.Digest(), out.Signature) {
		return nil, fmt.Errorf("%w: output for %s", ErrSignature, ref)
	}
	return &DecodedOutput{
		Ciphertexts: append([]poseidon.Ciphertext(nil), out.Ciphertexts...),
		Nonce:       out.Nonce,
	}, nil
}

// VerifierFunc is an adapter to use a function as a Verifier.
type VerifierFunc func(m Material, ref PendingRef, out *SignedOutput) (*DecodedOutput, error)

// Verify calls f(m, ref, out).
func (f VerifierFunc) Verify(m Material, ref PendingRef, out *SignedOutput) (*DecodedOutput, error) {
	return f(m, ref, out)
}
