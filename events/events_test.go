package events

import (
	"context"
	"testing"

	"github.com/ldsec/poseidon"
	"github.com/stretchr/testify/require"
)

func TestPublisher(t *testing.T) {
	p := NewPublisher(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	before, err := p.Publish(Event{Kind: "DepositEvent"})
	require.NoError(t, err)
	require.Equal(t, uint64(1), before.Seq)

	s1, s2 := p.Subscribe(ctx), p.Subscribe(ctx)
	require.Equal(t, 2, p.Subscribers())

	cts := []poseidon.Ciphertext{{1}, {2}, {3}}
	ev, err := p.Publish(Event{Kind: "DepositEvent", Circuit: "encrypted_deposit", Offset: 7, Ciphertexts: cts, Nonce: poseidon.NonceFromUint128(0, 1)})
	require.NoError(t, err)
	require.Equal(t, uint64(2), ev.Seq)
	require.NotEqual(t, before.ID, ev.ID)

	for _, s := range []*Subscription{s1, s2} {
		got := <-s.C
		require.Equal(t, ev, got)
	}

	t.Run("Immutable", func(t *testing.T) {
		cts[0][0] = 0xff
		require.Equal(t, byte(1), ev.Ciphertexts[0][0])
	})

	t.Run("SlowSubscriber", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := p.Publish(Event{Kind: "ViewPositionEvent"})
			require.NoError(t, err)
		}
		require.Equal(t, uint64(1), s1.Dropped())
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		s2.Close()
		s2.Close()
		require.Equal(t, 1, p.Subscribers())
	})

	p.Close()
	_, err = p.Publish(Event{})
	require.ErrorIs(t, err, ErrClosed)
	n := 0
	for range s1.C {
		n++
	}
	require.Equal(t, 2, n)
}

func TestEventLayout(t *testing.T) {
	ev := Event{Ciphertexts: []poseidon.Ciphertext{{1}, {2}, {3}}, Nonce: poseidon.NonceFromUint128(0, 0x0201)}
	b, err := ev.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 3*32+16)
	require.Equal(t, []byte{0x01, 0x02, 0x00}, b[96:99])
}

func TestSubscriptionContext(t *testing.T) {
	p := NewPublisher(0)
	ctx, cancel := context.WithCancel(context.Background())
	s := p.Subscribe(ctx)
	cancel()
	_, open := <-s.C
	require.False(t, open)
}
