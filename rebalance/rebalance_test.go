package rebalance

import (
	"bytes"
	"context"
	"encoding/hex"
	"log"
	"os"
	"testing"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/ledger"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

var (
	testProgram = poseidon.Pubkey{0x70}
	alice       = poseidon.Pubkey{0xa1}
	bob         = poseidon.Pubkey{0xb0}
	positionX   = poseidon.Pubkey{0x01}
	positionY   = poseidon.Pubkey{0x02}
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func fill(b byte) (pk poseidon.Pubkey) {
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func layout(b []byte, arity Arity) []byte {
	sizes := []int{8, 32}
	if arity == PerPosition {
		sizes = append(sizes, 32)
	}
	sizes = append(sizes, 1, 2, 2, 8, 8)
	var buf bytes.Buffer
	for _, n := range sizes {
		buf.WriteString(hex.EncodeToString(b[:n]) + "\n")
		b = b[n:]
	}
	return buf.Bytes()
}

func TestConfigLayout(t *testing.T) {
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	pos := fill(0x22)
	for _, tc := range []struct {
		name     string
		arity    Arity
		position *poseidon.Pubkey
		size     int
	}{
		{"config_per_owner", PerOwner, nil, 61},
		{"config_per_position", PerPosition, &pos, 93},
	} {
		t.Run(tc.name, func(t *testing.T) {
			conf := &Config{Owner: fill(0x11), Position: tc.position, Enabled: true, MaxSlippageBps: 50, MinYieldBps: 25, CreatedAt: 1700000000, UpdatedAt: 1700000600}
			b, err := conf.MarshalBinary()
			require.NoError(t, err)
			require.Len(t, b, tc.size)
			require.Equal(t, []byte{111, 187, 136, 118, 41, 244, 175, 141}, b[:8])
			g.Assert(t, tc.name, layout(b, tc.arity))

			got := new(Config)
			require.NoError(t, got.UnmarshalBinary(b))
			require.Equal(t, conf, got)
		})
	}

	t.Run("Invalid", func(t *testing.T) {
		require.Error(t, new(Config).UnmarshalBinary(make([]byte, 60)))
		require.Error(t, new(Config).UnmarshalBinary(make([]byte, OwnerConfigSize)))
	})
}

func newTestStore(t *testing.T, arity Arity) (*Store, *ledger.Ledger, *testClock) {
	t.Helper()
	l := ledger.NewMemLedger("node")
	require.NoError(t, l.Fund(alice, 1<<40))
	require.NoError(t, l.Fund(bob, 1<<40))
	clock := &testClock{t: time.Unix(1700000000, 0)}
	s, err := NewStore("node", l, testProgram, arity, clock.now)
	require.NoError(t, err)
	return s, l, clock
}

func TestNewStore(t *testing.T) {
	_, err := NewStore("node", ledger.NewMemLedger("node"), testProgram, Arity(3), nil)
	require.Error(t, err)
}

func TestLogPrefix(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	s, _, _ := newTestStore(t, PerOwner)
	_, err := s.Enable(context.Background(), s.NewRequest(alice, poseidon.Pubkey{}), 50, 25)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "node | [rebalance] per-owner: rebalance enabled")
}

func TestStore(t *testing.T) {
	for _, arity := range []Arity{PerOwner, PerPosition} {
		t.Run(arity.String(), func(t *testing.T) {
			ctx := context.Background()
			s, l, clock := newTestStore(t, arity)
			req := s.NewRequest(alice, positionX)

			t.Run("Absent", func(t *testing.T) {
				_, err := s.IsEnabled(ctx, alice, positionX)
				require.ErrorIs(t, err, ErrNotFound)
				require.ErrorIs(t, s.Disable(ctx, req), ErrNotFound)
			})

			var created *Config
			t.Run("Enable", func(t *testing.T) {
				before, err := l.Balance(alice)
				require.NoError(t, err)

				conf, err := s.Enable(ctx, req, 50, 25)
				require.NoError(t, err)
				require.True(t, conf.Enabled)
				require.Equal(t, alice, conf.Owner)
				require.Equal(t, clock.t.Unix(), conf.CreatedAt)
				require.Equal(t, conf.CreatedAt, conf.UpdatedAt)
				if arity == PerPosition {
					require.Equal(t, &positionX, conf.Position)
				} else {
					require.Nil(t, conf.Position)
				}

				after, err := l.Balance(alice)
				require.NoError(t, err)
				require.Equal(t, before-l.Config().Rent(conf.Size()), after)

				created, err = s.IsEnabled(ctx, alice, positionX)
				require.NoError(t, err)
				require.Equal(t, conf, created)
			})

			t.Run("Update", func(t *testing.T) {
				clock.advance(time.Minute)
				conf, err := s.Enable(ctx, req, 100, 10)
				require.NoError(t, err)
				require.Equal(t, created.Owner, conf.Owner)
				require.Equal(t, created.Position, conf.Position)
				require.Equal(t, created.CreatedAt, conf.CreatedAt)
				require.Equal(t, clock.t.Unix(), conf.UpdatedAt)
				require.Equal(t, uint16(100), conf.MaxSlippageBps)
				require.Equal(t, uint16(10), conf.MinYieldBps)
			})

			t.Run("NotOwner", func(t *testing.T) {
				stored, err := l.Account(req.Account)
				require.NoError(t, err)

				forged := Request{Signer: bob, Position: positionX, Account: req.Account}
				_, err = s.Enable(ctx, forged, 9999, 0)
				require.ErrorIs(t, err, ErrNotOwner)
				require.ErrorIs(t, s.Disable(ctx, forged), ErrNotOwner)

				unchanged, err := l.Account(req.Account)
				require.NoError(t, err)
				require.Equal(t, stored.Data, unchanged.Data)
			})

			t.Run("AddressMismatch", func(t *testing.T) {
				for _, forged := range []Request{
					{Signer: bob, Position: positionX, Account: s.Address(alice, positionY)},
					{Signer: alice, Position: positionX, Account: poseidon.DeriveAddress(poseidon.Pubkey{0x71}, []byte(Seed), alice[:], positionX[:])},
				} {
					_, err := s.Enable(ctx, forged, 1, 1)
					if arity == PerOwner && forged.Account == req.Account {
						require.ErrorIs(t, err, ErrNotOwner)
						continue
					}
					require.ErrorIs(t, err, poseidon.ErrAddressMismatch)
				}
			})

			t.Run("Disable", func(t *testing.T) {
				before, err := l.Balance(alice)
				require.NoError(t, err)

				require.NoError(t, s.Disable(ctx, req))

				after, err := l.Balance(alice)
				require.NoError(t, err)
				require.Equal(t, before+l.Config().Rent(created.Size()), after)

				_, err = l.Account(req.Account)
				require.ErrorIs(t, err, ledger.ErrAccountNotFound)
				_, err = s.IsEnabled(ctx, alice, positionX)
				require.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("Recreate", func(t *testing.T) {
				clock.advance(time.Minute)
				conf, err := s.Enable(ctx, req, 1, 2)
				require.NoError(t, err)
				require.Equal(t, clock.t.Unix(), conf.CreatedAt)
			})
		})
	}
}

func TestAddresses(t *testing.T) {
	perOwner, _, _ := newTestStore(t, PerOwner)
	perPosition, _, _ := newTestStore(t, PerPosition)

	t.Run("PerOwnerIgnoresPosition", func(t *testing.T) {
		require.Equal(t, perOwner.Address(alice, positionX), perOwner.Address(alice, positionY))
	})

	t.Run("Distinct", func(t *testing.T) {
		addrs := map[poseidon.Address]string{}
		for _, owner := range []poseidon.Pubkey{alice, bob} {
			for _, s := range []*Store{perOwner, perPosition} {
				for _, pos := range []poseidon.Pubkey{positionX, positionY} {
					if s == perOwner && pos == positionY {
						continue
					}
					a := s.Address(owner, pos)
					name := s.Arity().String() + "/" + owner.String() + "/" + pos.String()
					prev, has := addrs[a]
					require.False(t, has, "%s collides with %s", name, prev)
					addrs[a] = name
				}
			}
		}
	})

	t.Run("IndependentPositions", func(t *testing.T) {
		ctx := context.Background()
		_, err := perPosition.Enable(ctx, perPosition.NewRequest(alice, positionX), 1, 1)
		require.NoError(t, err)
		_, err = perPosition.IsEnabled(ctx, alice, positionY)
		require.ErrorIs(t, err, ErrNotFound)
	})
}
