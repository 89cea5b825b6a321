package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"

	"github.com/ldsec/poseidon"
	"golang.org/x/crypto/hkdf"
)

// ErrDecrypt is returned when a ciphertext block does not decrypt to a u64 value.
var ErrDecrypt = errors.New("ciphertext block does not decrypt to a u64")

var cipherInfo = []byte("poseidon/field-cipher/v1")

func keystream(key SharedKey, nonce poseidon.Nonce, index int) (ks [poseidon.CiphertextSize]byte) {
	info := binary.LittleEndian.AppendUint32(append([]byte(nil), cipherInfo...), uint32(index))
	if _, err := io.ReadFull(hkdf.New(sha256.New, key[:], nonce[:], info), ks[:]); err != nil {
		// hkdf only fails past 255 blocks of output
		panic(err)
	}
	return ks
}

// EncryptU64 encrypts the value v at position index of a payload sealed
// under key and nonce. The value occupies the first 8 bytes of the block in
// little-endian order, the remaining bytes are zero.
func EncryptU64(key SharedKey, nonce poseidon.Nonce, index int, v uint64) (ct poseidon.Ciphertext) {
	ks := keystream(key, nonce, index)
	binary.LittleEndian.PutUint64(ct[:8], v)
	for i := range ct {
		ct[i] ^= ks[i]
	}
	return ct
}

// DecryptU64 decrypts the block at position index of a payload sealed under key and nonce.
func DecryptU64(key SharedKey, nonce poseidon.Nonce, index int, ct poseidon.Ciphertext) (uint64, error) {
	ks := keystream(key, nonce, index)
	var pt [poseidon.CiphertextSize]byte
	for i := range ct {
		pt[i] = ct[i] ^ ks[i]
	}
	for _, b := range pt[8:] {
		if b != 0 {
			return 0, ErrDecrypt
		}
	}
	return binary.LittleEndian.Uint64(pt[:8]), nil
}

// EncryptValues encrypts vs as consecutive blocks of a payload.
func EncryptValues(key SharedKey, nonce poseidon.Nonce, vs ...uint64) []poseidon.Ciphertext {
	cts := make([]poseidon.Ciphertext, len(vs))
	for i, v := range vs {
		cts[i] = EncryptU64(key, nonce, i, v)
	}
	return cts
}

// DecryptValues decrypts consecutive blocks of a payload.
func DecryptValues(key SharedKey, nonce poseidon.Nonce, cts []poseidon.Ciphertext) ([]uint64, error) {
	vs := make([]uint64, len(cts))
	for i, ct := range cts {
		v, err := DecryptU64(key, nonce, i, ct)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}
