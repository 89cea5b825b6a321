// Package cluster defines the interface between the computation service and
// the external secure-computation cluster: computation requests, signed
// outputs and their verification. It also provides LocalCluster, an
// in-process cluster simulator.
package cluster

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/crypto"
)

// PendingRef identifies the pending computation an output answers.
type PendingRef struct {
	Circuit circuit.ID       `json:"circuit"`
	Offset  uint64           `json:"offset"`
	Address poseidon.Address `json:"address"`
}

func (r PendingRef) String() string {
	return fmt.Sprintf("%s/%d@%s", r.Circuit, r.Offset, r.Address)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r PendingRef) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, circuit.IDSize+8+poseidon.AddressSize)
	b = append(b, r.Circuit[:]...)
	b = binary.LittleEndian.AppendUint64(b, r.Offset)
	return append(b, r.Address[:]...), nil
}

// CallbackTarget designates the receiver of a computation's output.
type CallbackTarget struct {
	Program  poseidon.Pubkey `json:"program"`
	Endpoint string          `json:"endpoint,omitempty"`
}

// Request is a computation request submitted to the cluster.
type Request struct {
	Ref         PendingRef      `json:"ref"`
	Circuit     circuit.Name    `json:"circuit"`
	Payload     []byte          `json:"payload"` // the encoded argument bundle
	Requester   poseidon.Pubkey `json:"requester"`
	Certificate []byte          `json:"certificate"`
	Callback    CallbackTarget  `json:"callback"`
	Priority    uint64          `json:"priority"`
}

// Intake is the submission interface of the cluster.
type Intake interface {
	Submit(ctx context.Context, req *Request) error
}

// Callback is the delivery of a computation output to the service that queued it.
type Callback struct {
	Circuit     circuit.Name     `json:"circuit"`
	Offset      uint64           `json:"offset"`
	Computation poseidon.Address `json:"computation"`
	Output      *SignedOutput    `json:"output"`
}

// CallbackHandler receives computation outputs.
type CallbackHandler interface {
	Deliver(ctx context.Context, cb *Callback) error
}

// Material is the key material the cluster is registered with.
type Material struct {
	ClusterKey poseidon.Pubkey `json:"cluster_key"`
}

// SignedOutput is the output of a computation, signed by the cluster.
type SignedOutput struct {
	Ref         PendingRef            `json:"ref"`
	Ciphertexts []poseidon.Ciphertext `json:"ciphertexts"`
	Nonce       poseidon.Nonce        `json:"nonce"`
	Signature   []byte                `json:"signature"`
}

const outputDomain = "poseidon/cluster-output/v1"

// Digest returns the message signed by the cluster: the output's pending
// reference, ciphertexts and nonce under a domain separator.
func (o *SignedOutput) Digest() []byte {
	h := sha256.New()
	h.Write([]byte(outputDomain))
	ref, _ := o.Ref.MarshalBinary()
	h.Write(ref)
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(o.Ciphertexts)))
	h.Write(n[:])
	for _, ct := range o.Ciphertexts {
		h.Write(ct[:])
	}
	h.Write(o.Nonce[:])
	return h.Sum(nil)
}

// Sign sets the signature of the output.
func (o *SignedOutput) Sign(sk crypto.SigningKey) (err error) {
	o.Signature, err = sk.Sign(o.Digest())
	return err
}

// DecodedOutput is a verified computation output.
type DecodedOutput struct {
	Ciphertexts []poseidon.Ciphertext
	Nonce       poseidon.Nonce
}

// MarshalBinary returns the callback wire layout: the ciphertext blocks followed by the nonce.
func (d *DecodedOutput) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, len(d.Ciphertexts)*poseidon.CiphertextSize+poseidon.NonceSize)
	for _, ct := range d.Ciphertexts {
		b = append(b, ct[:]...)
	}
	return append(b, d.Nonce[:]...), nil
}
