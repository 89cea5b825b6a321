package args

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ldsec/poseidon"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func fill(b byte) (ct poseidon.Ciphertext) {
	for i := range ct {
		ct[i] = b
	}
	return ct
}

func testBundle(n int) *Bundle {
	pk := poseidon.Pubkey(fill(0x11))
	nonce := poseidon.NonceFromUint128(0, 0x0102)
	cts := make([]poseidon.Ciphertext, n)
	for i := range cts {
		cts[i] = fill(0xa0 + byte(i))
	}
	return Build(pk, nonce, cts...)
}

// layout renders a payload one field per line.
func layout(payload []byte) []byte {
	var sb strings.Builder
	sb.WriteString(hex.EncodeToString(payload[:32]) + "\n")
	sb.WriteString(hex.EncodeToString(payload[32:48]) + "\n")
	for rest := payload[48:]; len(rest) > 0; rest = rest[32:] {
		sb.WriteString(hex.EncodeToString(rest[:32]) + "\n")
	}
	return []byte(sb.String())
}

func TestRequestLayout(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	for _, tc := range []struct {
		name string
		n    int
	}{
		{"request_3", 3},
		{"request_4", 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			payload, err := testBundle(tc.n).MarshalBinary()
			require.NoError(t, err)
			require.Len(t, payload, 48+32*tc.n)
			g.Assert(t, tc.name, layout(payload))
		})
	}
}

func TestBuilderPreservesOrder(t *testing.T) {
	b := NewBuilder().
		EncryptedU64(fill(1)).
		X25519Pubkey(poseidon.Pubkey{2}).
		EncryptedU64(fill(3)).
		Build()

	payload, err := b.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, byte(1), payload[0])
	require.Equal(t, byte(2), payload[32])
	require.Equal(t, byte(3), payload[64])

	s := b.Shape()
	require.False(t, s.Canonical)
	require.Equal(t, 2, s.Encrypted)
	require.ErrorIs(t, b.Validate(2), ErrMalformed)
}

func TestValidate(t *testing.T) {
	b := testBundle(3)
	require.NoError(t, b.Validate(3))
	require.ErrorIs(t, b.Validate(4), ErrMalformed)
	require.ErrorIs(t, NewBuilder().X25519Pubkey(poseidon.Pubkey{}).Build().Validate(0), ErrMalformed)
}

func TestParse(t *testing.T) {
	b := testBundle(4)
	payload, err := b.MarshalBinary()
	require.NoError(t, err)

	parsed, err := Parse(payload, 4)
	require.NoError(t, err)
	require.Equal(t, b, parsed)

	pk, ok := parsed.Pubkey()
	require.True(t, ok)
	require.Equal(t, poseidon.Pubkey(fill(0x11)), pk)
	nonce, ok := parsed.Nonce()
	require.True(t, ok)
	hi, lo := nonce.Uint128()
	require.Equal(t, uint64(0), hi)
	require.Equal(t, uint64(0x0102), lo)
	require.Len(t, parsed.Ciphertexts(), 4)

	for _, n := range []int{0, 3, 5} {
		_, err := Parse(payload, n)
		require.ErrorIs(t, err, ErrMalformed)
	}
	_, err = Parse(payload[:len(payload)-1], 4)
	require.ErrorIs(t, err, ErrMalformed)
}
