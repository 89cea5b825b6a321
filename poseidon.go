// Package poseidon provides the main types shared by the confidential
// computation orchestration layer: identities, storage addresses, ciphertext
// blocks and nonces, and the deterministic address derivation that replaces
// any explicit index of records.
package poseidon

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

const (
	// PubkeySize is the size in bytes of an identity public key.
	PubkeySize = 32
	// AddressSize is the size in bytes of a storage address.
	AddressSize = 32
	// CiphertextSize is the size in bytes of an opaque ciphertext block.
	CiphertextSize = 32
	// NonceSize is the size in bytes of a 128-bit nonce.
	NonceSize = 16
)

// ErrAddressMismatch is returned when a caller-supplied storage address does
// not match the address derived from the expected seeds.
var ErrAddressMismatch = errors.New("address does not match its derivation")

// Pubkey is a 32-byte identity. Identities are Ed25519 public keys, program
// identifiers, or x25519 public keys depending on the context.
type Pubkey [PubkeySize]byte

// Address is a 32-byte storage address.
type Address [AddressSize]byte

// Ciphertext is an opaque 32-byte ciphertext block. This layer never inspects
// its content.
type Ciphertext [CiphertextSize]byte

// Nonce is a plaintext 128-bit nonce, serialized little-endian.
type Nonce [NonceSize]byte

// PubkeyFromString parses a hex-encoded public key.
func PubkeyFromString(s string) (pk Pubkey, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return pk, err
	}
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// PubkeyFromBytes copies b into a Pubkey. It returns an error if b has the wrong size.
func PubkeyFromBytes(b []byte) (pk Pubkey, err error) {
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("invalid public key length %d", len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// String returns the hex encoding of the public key.
func (pk Pubkey) String() string {
	return hex.EncodeToString(pk[:])
}

// IsZero returns whether the key is all zeroes.
func (pk Pubkey) IsZero() bool {
	return pk == Pubkey{}
}

// MarshalText implements encoding.TextMarshaler.
func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (pk *Pubkey) UnmarshalText(text []byte) (err error) {
	*pk, err = PubkeyFromString(string(text))
	return err
}

// AddressFromString parses a hex-encoded address.
func AddressFromString(s string) (a Address, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != AddressSize {
		return a, fmt.Errorf("invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) (err error) {
	*a, err = AddressFromString(string(text))
	return err
}

// String returns the hex encoding of the ciphertext block.
func (c Ciphertext) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalText implements encoding.TextMarshaler.
func (c Ciphertext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Ciphertext) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != CiphertextSize {
		return fmt.Errorf("invalid ciphertext length %d", len(b))
	}
	copy(c[:], b)
	return nil
}

// NonceFromUint128 returns the little-endian nonce for the 128-bit value hi<<64 | lo.
func NonceFromUint128(hi, lo uint64) (n Nonce) {
	binary.LittleEndian.PutUint64(n[:8], lo)
	binary.LittleEndian.PutUint64(n[8:], hi)
	return n
}

// NonceFromBig returns the little-endian nonce for v. It returns an error if
// v is negative or does not fit in 128 bits.
func NonceFromBig(v *big.Int) (n Nonce, err error) {
	if v.Sign() < 0 || v.BitLen() > 128 {
		return n, fmt.Errorf("nonce out of range: %s", v)
	}
	be := v.FillBytes(make([]byte, NonceSize))
	for i := range be {
		n[i] = be[NonceSize-1-i]
	}
	return n, nil
}

// Uint128 returns the high and low 64-bit halves of the nonce.
func (n Nonce) Uint128() (hi, lo uint64) {
	return binary.LittleEndian.Uint64(n[8:]), binary.LittleEndian.Uint64(n[:8])
}

// Big returns the nonce as an unsigned integer.
func (n Nonce) Big() *big.Int {
	be := make([]byte, NonceSize)
	for i := range n {
		be[NonceSize-1-i] = n[i]
	}
	return new(big.Int).SetBytes(be)
}

// String returns the decimal representation of the nonce.
func (n Nonce) String() string {
	return n.Big().String()
}

// MarshalText implements encoding.TextMarshaler.
func (n Nonce) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(n[:])), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Nonce) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != NonceSize {
		return fmt.Errorf("invalid nonce length %d", len(b))
	}
	copy(n[:], b)
	return nil
}

const addressDomain = "poseidon/derived-address/v1"

// DeriveAddress maps a program identifier and an ordered list of seeds to a
// storage address. Each seed is length-prefixed before hashing, so two
// distinct seed tuples never share a preimage.
func DeriveAddress(program Pubkey, seeds ...[]byte) Address {
	h := sha256.New()
	h.Write([]byte(addressDomain))
	h.Write([]byte{0x00})
	h.Write(program[:])
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(seeds)))
	h.Write(l[:])
	for _, s := range seeds {
		binary.LittleEndian.PutUint32(l[:], uint32(len(s)))
		h.Write(l[:])
		h.Write(s)
	}
	var a Address
	copy(a[:], h.Sum(nil))
	return a
}

// CheckAddress returns ErrAddressMismatch if got is not the address derived
// from program and seeds.
func CheckAddress(got Address, program Pubkey, seeds ...[]byte) error {
	if exp := DeriveAddress(program, seeds...); !bytes.Equal(got[:], exp[:]) {
		return fmt.Errorf("%w: got %s, expected %s", ErrAddressMismatch, got, exp)
	}
	return nil
}

// Uint64Seed returns the little-endian encoding of v, for use as a seed.
func Uint64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
