package crypto

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/ldsec/poseidon"
)

// ErrInvalidSignature is returned when a signed envelope does not verify.
var ErrInvalidSignature = errors.New("signature not valid")

// Signed is an object authenticated by the Ed25519 signature of its signer over
// the object's JSON encoding, the signer's public key and the envelope's
// sequence number. A signer's sequence numbers must strictly increase for the
// receiver to accept its envelopes.
type Signed[T any] struct {
	PublicKey poseidon.Pubkey `json:"public_key"`
	Sequence  uint64          `json:"sequence"`
	Signature []byte          `json:"signature"`
	Object    *T              `json:"object"`
}

func signedMessage(data []byte, pk poseidon.Pubkey, seq uint64) []byte {
	msg := make([]byte, 0, len(data)+len(pk)+8)
	msg = append(msg, data...)
	msg = append(msg, pk[:]...)
	return binary.LittleEndian.AppendUint64(msg, seq)
}

// NewSigned signs obj with sk under sequence number seq.
func NewSigned[T any](sk SigningKey, seq uint64, obj *T) (*Signed[T], error) {
	pk := sk.Public()
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	sig, err := sk.Sign(signedMessage(data, pk, seq))
	if err != nil {
		return nil, err
	}
	return &Signed[T]{PublicKey: pk, Sequence: seq, Signature: sig, Object: obj}, nil
}

// UnsafeObject returns the wrapped object without verifying the signature.
func (s *Signed[T]) UnsafeObject() *T {
	return s.Object
}

// Recover verifies the signature and returns the object with its signer's
// public key. The envelope's Sequence is authenticated once Recover succeeds.
func (s *Signed[T]) Recover() (*T, poseidon.Pubkey, error) {
	if s.Object == nil {
		return nil, poseidon.Pubkey{}, errors.New("signed envelope has no object")
	}
	data, err := json.Marshal(s.Object)
	if err != nil {
		return nil, poseidon.Pubkey{}, err
	}
	if !Verify(s.PublicKey, signedMessage(data, s.PublicKey, s.Sequence), s.Signature) {
		return nil, poseidon.Pubkey{}, ErrInvalidSignature
	}
	return s.Object, s.PublicKey, nil
}
