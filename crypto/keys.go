// Package crypto provides the key material and primitives of poseidon:
// x25519 key exchange, the field cipher used for encrypted u64 arguments,
// Ed25519 identities and signed message envelopes.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ldsec/poseidon"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// X25519PrivateKey is an x25519 scalar.
type X25519PrivateKey [32]byte

// GenerateX25519 generates a new x25519 key pair.
func GenerateX25519() (poseidon.Pubkey, X25519PrivateKey, error) {
	var sk X25519PrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return poseidon.Pubkey{}, sk, err
	}
	return sk.Public(), sk, nil
}

// Public returns the public key of sk.
func (sk X25519PrivateKey) Public() (pk poseidon.Pubkey) {
	curve25519.ScalarBaseMult((*[32]byte)(&pk), (*[32]byte)(&sk))
	return pk
}

// String returns the hex encoding of the key.
func (sk X25519PrivateKey) String() string {
	return hex.EncodeToString(sk[:])
}

// X25519PrivateKeyFromString parses a hex-encoded x25519 private key.
func X25519PrivateKeyFromString(s string) (sk X25519PrivateKey, err error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return sk, err
	}
	if len(b) != len(sk) {
		return sk, fmt.Errorf("invalid x25519 key length %d", len(b))
	}
	copy(sk[:], b)
	return sk, nil
}

// SharedKey is a symmetric key derived from an x25519 exchange.
type SharedKey [32]byte

var sharedSecretInfo = []byte("poseidon/shared-secret/v1")

// DeriveSharedSecret performs the x25519 key agreement between sk and peer and
// derives a shared key from the resulting point.
func DeriveSharedSecret(sk X25519PrivateKey, peer poseidon.Pubkey) (SharedKey, error) {
	var key SharedKey
	point, err := curve25519.X25519(sk[:], peer[:])
	if err != nil {
		return key, fmt.Errorf("x25519 key agreement: %w", err)
	}
	if _, err := hkdf.New(sha256.New, point, nil, sharedSecretInfo).Read(key[:]); err != nil {
		return key, err
	}
	return key, nil
}

// SigningKey is an Ed25519 private key.
type SigningKey ed25519.PrivateKey

// GenerateSigningKey generates a new Ed25519 key pair.
func GenerateSigningKey() (poseidon.Pubkey, SigningKey, error) {
	pub, sk, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return poseidon.Pubkey{}, nil, err
	}
	return poseidon.Pubkey(pub), SigningKey(sk), nil
}

// SigningKeyFromSeed derives the Ed25519 key of a 32-byte seed.
func SigningKeyFromSeed(seed []byte) (SigningKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid seed length %d", len(seed))
	}
	return SigningKey(ed25519.NewKeyFromSeed(seed)), nil
}

// SigningKeyFromString parses a hex-encoded Ed25519 seed.
func SigningKeyFromString(s string) (SigningKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return SigningKeyFromSeed(b)
}

// Public returns the identity of the key.
func (sk SigningKey) Public() poseidon.Pubkey {
	var pk poseidon.Pubkey
	copy(pk[:], ed25519.PrivateKey(sk).Public().(ed25519.PublicKey))
	return pk
}

// String returns the hex-encoded seed of the key.
func (sk SigningKey) String() string {
	return hex.EncodeToString(ed25519.PrivateKey(sk).Seed())
}

// Sign signs data with sk.
func (sk SigningKey) Sign(data []byte) ([]byte, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid private key size")
	}
	return ed25519.Sign(ed25519.PrivateKey(sk), data), nil
}

// Verify reports whether sig is a valid signature of data by pk.
func Verify(pk poseidon.Pubkey, data, sig []byte) bool {
	return len(sig) == ed25519.SignatureSize && ed25519.Verify(pk[:], data, sig)
}
