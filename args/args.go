// Package args encodes the argument bundles submitted to the computation
// cluster. A bundle is an ordered list of typed fields, serialized in
// insertion order:
//
//	[x25519 pubkey: 32B][nonce: 16B, little-endian]{ciphertext block: 32B}×N
//
// The package never inspects the content of ciphertext blocks.
package args

import (
	"errors"
	"fmt"

	"github.com/ldsec/poseidon"
)

// ErrMalformed is returned when a bundle or payload does not have the expected structure.
var ErrMalformed = errors.New("malformed argument bundle")

// Kind is the type of a bundle field.
type Kind uint8

const (
	// X25519Pubkey is an ephemeral x25519 public key.
	X25519Pubkey Kind = iota + 1
	// PlaintextU128 is a 128-bit nonce in clear.
	PlaintextU128
	// EncryptedU64 is an opaque ciphertext block holding a u64 value.
	EncryptedU64
)

var kindToString = []string{"invalid", "x25519_pubkey", "plaintext_u128", "encrypted_u64"}

func (k Kind) String() string {
	if int(k) >= len(kindToString) {
		k = 0
	}
	return kindToString[k]
}

// Size returns the encoded size of a field of kind k.
func (k Kind) Size() int {
	switch k {
	case X25519Pubkey:
		return poseidon.PubkeySize
	case PlaintextU128:
		return poseidon.NonceSize
	case EncryptedU64:
		return poseidon.CiphertextSize
	}
	return 0
}

// Field is a single typed field of a bundle.
type Field struct {
	Kind
	Data []byte
}

// Bundle is an ordered sequence of fields.
type Bundle struct {
	Fields []Field
}

// Builder accumulates fields in insertion order.
type Builder struct {
	fields []Field
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// X25519Pubkey appends a public key field.
func (b *Builder) X25519Pubkey(pk poseidon.Pubkey) *Builder {
	b.fields = append(b.fields, Field{Kind: X25519Pubkey, Data: append([]byte(nil), pk[:]...)})
	return b
}

// PlaintextU128 appends a nonce field.
func (b *Builder) PlaintextU128(n poseidon.Nonce) *Builder {
	b.fields = append(b.fields, Field{Kind: PlaintextU128, Data: append([]byte(nil), n[:]...)})
	return b
}

// EncryptedU64 appends a ciphertext block.
func (b *Builder) EncryptedU64(ct poseidon.Ciphertext) *Builder {
	b.fields = append(b.fields, Field{Kind: EncryptedU64, Data: append([]byte(nil), ct[:]...)})
	return b
}

// EncryptedU64s appends the ciphertext blocks in order.
func (b *Builder) EncryptedU64s(cts ...poseidon.Ciphertext) *Builder {
	for _, ct := range cts {
		b.EncryptedU64(ct)
	}
	return b
}

// Build returns the bundle and resets the builder.
func (b *Builder) Build() *Bundle {
	bundle := &Bundle{Fields: b.fields}
	b.fields = nil
	return bundle
}

// Build is a shorthand for the canonical bundle holding pk, nonce and cts.
func Build(pk poseidon.Pubkey, nonce poseidon.Nonce, cts ...poseidon.Ciphertext) *Bundle {
	return NewBuilder().X25519Pubkey(pk).PlaintextU128(nonce).EncryptedU64s(cts...).Build()
}

// Shape summarizes the structure of a bundle.
type Shape struct {
	Pubkeys, Nonces, Encrypted int
	// Canonical is true when the bundle is one pubkey, then one nonce, then only ciphertext blocks.
	Canonical bool
}

// Shape returns the structure of the bundle.
func (b *Bundle) Shape() (s Shape) {
	s.Canonical = len(b.Fields) >= 2 && b.Fields[0].Kind == X25519Pubkey && b.Fields[1].Kind == PlaintextU128
	for i, f := range b.Fields {
		switch f.Kind {
		case X25519Pubkey:
			s.Pubkeys++
		case PlaintextU128:
			s.Nonces++
		case EncryptedU64:
			s.Encrypted++
		}
		if len(f.Data) != f.Kind.Size() || f.Kind == 0 || (i >= 2 && f.Kind != EncryptedU64) {
			s.Canonical = false
		}
	}
	return s
}

// Validate checks that the bundle is canonical and holds exactly n ciphertext blocks.
func (b *Bundle) Validate(n int) error {
	if s := b.Shape(); !s.Canonical || s.Encrypted != n {
		return fmt.Errorf("%w: expected pubkey, nonce and %d ciphertexts, got %+v", ErrMalformed, n, s)
	}
	return nil
}

// Pubkey returns the first public key field of the bundle.
func (b *Bundle) Pubkey() (pk poseidon.Pubkey, ok bool) {
	for _, f := range b.Fields {
		if f.Kind == X25519Pubkey {
			copy(pk[:], f.Data)
			return pk, true
		}
	}
	return pk, false
}

// Nonce returns the first nonce field of the bundle.
func (b *Bundle) Nonce() (n poseidon.Nonce, ok bool) {
	for _, f := range b.Fields {
		if f.Kind == PlaintextU128 {
			copy(n[:], f.Data)
			return n, true
		}
	}
	return n, false
}

// Ciphertexts returns the ciphertext blocks of the bundle, in order.
func (b *Bundle) Ciphertexts() []poseidon.Ciphertext {
	var cts []poseidon.Ciphertext
	for _, f := range b.Fields {
		if f.Kind == EncryptedU64 {
			var ct poseidon.Ciphertext
			copy(ct[:], f.Data)
			cts = append(cts, ct)
		}
	}
	return cts
}

// MarshalBinary implements encoding.BinaryMarshaler. Fields are concatenated in insertion order.
func (b *Bundle) MarshalBinary() ([]byte, error) {
	size := 0
	for _, f := range b.Fields {
		if len(f.Data) != f.Kind.Size() || f.Kind == 0 {
			return nil, fmt.Errorf("%w: %s field with %d bytes", ErrMalformed, f.Kind, len(f.Data))
		}
		size += len(f.Data)
	}
	out := make([]byte, 0, size)
	for _, f := range b.Fields {
		out = append(out, f.Data...)
	}
	return out, nil
}

// Size returns the payload size of a canonical bundle with n ciphertext blocks.
func Size(n int) int {
	return poseidon.PubkeySize + poseidon.NonceSize + n*poseidon.CiphertextSize
}

// Parse decodes a canonical payload holding exactly n ciphertext blocks.
func Parse(payload []byte, n int) (*Bundle, error) {
	if n < 0 || len(payload) != Size(n) {
		return nil, fmt.Errorf("%w: payload of %d bytes for %d ciphertexts", ErrMalformed, len(payload), n)
	}
	var pk poseidon.Pubkey
	var nonce poseidon.Nonce
	copy(pk[:], payload[:poseidon.PubkeySize])
	payload = payload[poseidon.PubkeySize:]
	copy(nonce[:], payload[:poseidon.NonceSize])
	payload = payload[poseidon.NonceSize:]
	cts := make([]poseidon.Ciphertext, n)
	for i := range cts {
		copy(cts[i][:], payload[i*poseidon.CiphertextSize:])
	}
	return Build(pk, nonce, cts...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for canonical payloads.
func (b *Bundle) UnmarshalBinary(payload []byte) error {
	rest := len(payload) - Size(0)
	if rest < 0 || rest%poseidon.CiphertextSize != 0 {
		return fmt.Errorf("%w: payload of %d bytes", ErrMalformed, len(payload))
	}
	parsed, err := Parse(payload, rest/poseidon.CiphertextSize)
	if err != nil {
		return err
	}
	*b = *parsed
	return nil
}
