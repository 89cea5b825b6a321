package ledger

import (
	"bytes"
	"encoding"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/objectstore"
	"github.com/stretchr/testify/require"
)

var (
	program = poseidon.Pubkey{0xaa}
	alice   = poseidon.Pubkey{0x01}
	bob     = poseidon.Pubkey{0x02}
)

func TestLedger(t *testing.T) {
	l := NewMemLedger("node")
	require.NoError(t, l.Fund(alice, 10_000_000))
	addr := poseidon.DeriveAddress(program, []byte("slot"))
	rent := l.Config().Rent(4)

	t.Run("Create", func(t *testing.T) {
		err := l.Update(func(tx *Tx) error {
			return tx.Create(addr, program, alice, []byte{1, 2, 3, 4})
		})
		require.NoError(t, err)
		acc, err := l.Account(addr)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 4}, acc.Data)
		require.Equal(t, program, acc.Owner)
		require.Equal(t, rent, acc.Rent)
		bal, err := l.Balance(alice)
		require.NoError(t, err)
		require.Equal(t, 10_000_000-rent, bal)
	})

	t.Run("CreateExisting", func(t *testing.T) {
		err := l.Update(func(tx *Tx) error {
			return tx.Create(addr, program, alice, []byte{0, 0, 0, 0})
		})
		require.ErrorIs(t, err, ErrAccountExists)
	})

	t.Run("RollbackOnError", func(t *testing.T) {
		errAbort := errors.New("abort")
		err := l.Update(func(tx *Tx) error {
			require.NoError(t, tx.Put(addr, []byte{9, 9, 9, 9}))
			acc, err := tx.Get(addr)
			require.NoError(t, err)
			require.Equal(t, []byte{9, 9, 9, 9}, acc.Data)
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)
		acc, err := l.Account(addr)
		require.NoError(t, err)
		require.Equal(t, []byte{1, 2, 3, 4}, acc.Data)
	})

	t.Run("PutSizeMismatch", func(t *testing.T) {
		err := l.Update(func(tx *Tx) error {
			return tx.Put(addr, []byte{1})
		})
		require.ErrorIs(t, err, ErrSizeMismatch)
	})

	t.Run("Close", func(t *testing.T) {
		err := l.Update(func(tx *Tx) error {
			return tx.Close(addr, bob)
		})
		require.NoError(t, err)
		_, err = l.Account(addr)
		require.ErrorIs(t, err, ErrAccountNotFound)
		bal, err := l.Balance(bob)
		require.NoError(t, err)
		require.Equal(t, rent, bal)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		err := l.Update(func(tx *Tx) error {
			return tx.Create(addr, program, bob, make([]byte, 1<<20))
		})
		require.ErrorIs(t, err, ErrInsufficientFunds)
		bal, err := l.Balance(bob)
		require.NoError(t, err)
		require.Equal(t, rent, bal)
	})

	t.Run("ReadOnlyView", func(t *testing.T) {
		err := l.View(func(tx *Tx) error {
			return tx.Credit(alice, 1)
		})
		require.Error(t, err)
	})
}

func TestAdvance(t *testing.T) {
	l := NewMemLedger("node")
	require.NoError(t, l.Advance(alice, 5))
	require.ErrorIs(t, l.Advance(alice, 5), ErrStaleSequence)
	require.ErrorIs(t, l.Advance(alice, 4), ErrStaleSequence)
	require.NoError(t, l.Advance(bob, 1))
	require.NoError(t, l.Advance(alice, 6))

	err := l.View(func(tx *Tx) error {
		seq, err := tx.Sequence(alice)
		require.NoError(t, err)
		require.Equal(t, uint64(6), seq)
		return tx.Advance(alice, 7)
	})
	require.Error(t, err)

	t.Run("RollbackOnError", func(t *testing.T) {
		errAbort := errors.New("abort")
		err := l.Update(func(tx *Tx) error {
			require.NoError(t, tx.Advance(alice, 10))
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)
		require.NoError(t, l.Advance(alice, 7))
	})
}

var errWrite = errors.New("write failed")

// failingStore rejects any write to a key with the given prefix while failing is set.
type failingStore struct {
	objectstore.ObjectStore
	prefix  string
	failing bool
}

func (s *failingStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	if s.failing && strings.HasPrefix(objectID, s.prefix) {
		return errWrite
	}
	return s.ObjectStore.Store(objectID, object)
}

func (s *failingStore) Delete(objectID string) error {
	if s.failing && strings.HasPrefix(objectID, s.prefix) {
		return errWrite
	}
	return s.ObjectStore.Delete(objectID)
}

func (s *failingStore) Write(batch *objectstore.Batch) error {
	if s.failing {
		for _, op := range batch.Ops() {
			if strings.HasPrefix(op.ID, s.prefix) {
				return errWrite
			}
		}
	}
	return s.ObjectStore.Write(batch)
}

func TestAtomicCommit(t *testing.T) {
	store := &failingStore{ObjectStore: objectstore.NewMemObjectStore(), prefix: "balance/"}
	l := New("node", DefaultConfig, store)
	require.NoError(t, l.Fund(alice, 10_000_000))
	addr := poseidon.DeriveAddress(program, []byte("slot"))
	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.Create(addr, program, alice, []byte{1, 2, 3, 4})
	}))
	before, err := l.Balance(alice)
	require.NoError(t, err)

	var logs bytes.Buffer
	log.SetOutput(&logs)
	store.failing = true
	err = l.Update(func(tx *Tx) error {
		return tx.Close(addr, alice)
	})
	log.SetOutput(os.Stderr)
	require.ErrorIs(t, err, errWrite)
	require.Contains(t, logs.String(), "node | [ledger] commit of")

	store.failing = false
	acc, err := l.Account(addr)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, acc.Data)
	bal, err := l.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, before, bal)

	require.NoError(t, l.Update(func(tx *Tx) error {
		return tx.Close(addr, alice)
	}))
	_, err = l.Account(addr)
	require.ErrorIs(t, err, ErrAccountNotFound)
	bal, err = l.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, before+l.Config().Rent(4), bal)
}
