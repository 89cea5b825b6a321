package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/objectstore"
)

var errReadOnly = errors.New("read-only transaction")

// Tx is a ledger transaction. Reads observe the transaction's own writes.
type Tx struct {
	l        *Ledger
	writable bool

	accounts  map[poseidon.Address]*Account // nil value marks a closed account
	balances  map[poseidon.Pubkey]uint64
	sequences map[poseidon.Pubkey]uint64
}

func newTx(l *Ledger, writable bool) *Tx {
	return &Tx{
		l:        l,
		writable: writable,
		accounts:  make(map[poseidon.Address]*Account),
		balances:  make(map[poseidon.Pubkey]uint64),
		sequences: make(map[poseidon.Pubkey]uint64),
	}
}

func (tx *Tx) account(addr poseidon.Address) (*Account, error) {
	if acc, written := tx.accounts[addr]; written {
		if acc == nil {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return acc, nil
	}
	return tx.l.loadAccount(addr)
}

// Get returns a copy of the account at addr, or an error wrapping ErrAccountNotFound.
func (tx *Tx) Get(addr poseidon.Address) (*Account, error) {
	acc, err := tx.account(addr)
	if err != nil {
		return nil, err
	}
	cp := *acc
	cp.Data = bytes.Clone(acc.Data)
	return &cp, nil
}

// Exists returns whether an account exists at addr.
func (tx *Tx) Exists(addr poseidon.Address) (bool, error) {
	_, err := tx.account(addr)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Create allocates an account owned by program at addr, holding data, and
// charges its rent to payer.
func (tx *Tx) Create(addr poseidon.Address, program, payer poseidon.Pubkey, data []byte) error {
	if !tx.writable {
		return errReadOnly
	}
	exists, err := tx.Exists(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	rent := tx.l.conf.Rent(len(data))
	if err := tx.Debit(payer, rent); err != nil {
		return fmt.Errorf("cannot pay rent for %s: %w", addr, err)
	}
	tx.accounts[addr] = &Account{Owner: program, Payer: payer, Rent: rent, Data: bytes.Clone(data)}
	return nil
}

// Put overwrites the data of the existing account at addr. The size of the
// data cannot change.
func (tx *Tx) Put(addr poseidon.Address, data []byte) error {
	if !tx.writable {
		return errReadOnly
	}
	acc, err := tx.Get(addr)
	if err != nil {
		return err
	}
	if len(acc.Data) != len(data) {
		return fmt.Errorf("%w: account %s holds %d bytes, got %d", ErrSizeMismatch, addr, len(acc.Data), len(data))
	}
	acc.Data = bytes.Clone(data)
	tx.accounts[addr] = acc
	return nil
}

// Close zeroes and removes the account at addr, and refunds its rent to refundTo.
func (tx *Tx) Close(addr poseidon.Address, refundTo poseidon.Pubkey) error {
	if !tx.writable {
		return errReadOnly
	}
	acc, err := tx.account(addr)
	if err != nil {
		return err
	}
	if err := tx.Credit(refundTo, acc.Rent); err != nil {
		return err
	}
	tx.accounts[addr] = nil
	return nil
}

// Balance returns the balance of id.
func (tx *Tx) Balance(id poseidon.Pubkey) (uint64, error) {
	if v, written := tx.balances[id]; written {
		return v, nil
	}
	return tx.l.loadBalance(id)
}

// Credit adds amount to the balance of id.
func (tx *Tx) Credit(id poseidon.Pubkey, amount uint64) error {
	if !tx.writable {
		return errReadOnly
	}
	v, err := tx.Balance(id)
	if err != nil {
		return err
	}
	if v > math.MaxUint64-amount {
		return fmt.Errorf("balance overflow for %s", id)
	}
	tx.balances[id] = v + amount
	return nil
}

// Debit subtracts amount from the balance of id.
func (tx *Tx) Debit(id poseidon.Pubkey, amount uint64) error {
	if !tx.writable {
		return errReadOnly
	}
	v, err := tx.Balance(id)
	if err != nil {
		return err
	}
	if v < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, id, v, amount)
	}
	tx.balances[id] = v - amount
	return nil
}

// Sequence returns the last sequence number accepted from id, zero if none.
func (tx *Tx) Sequence(id poseidon.Pubkey) (uint64, error) {
	if v, written := tx.sequences[id]; written {
		return v, nil
	}
	return tx.l.loadSequence(id)
}

// Advance records seq as the last sequence number accepted from id.
func (tx *Tx) Advance(id poseidon.Pubkey, seq uint64) error {
	if !tx.writable {
		return errReadOnly
	}
	last, err := tx.Sequence(id)
	if err != nil {
		return err
	}
	if seq <= last {
		return fmt.Errorf("%w: %d for %s, last is %d", ErrStaleSequence, seq, id, last)
	}
	tx.sequences[id] = seq
	return nil
}

// commit applies the writes of the transaction in a single object store batch.
func (tx *Tx) commit() error {
	b := objectstore.NewBatch()
	for addr, acc := range tx.accounts {
		if acc == nil {
			b.Delete(accountKey(addr))
			continue
		}
		if err := b.Store(accountKey(addr), acc); err != nil {
			return err
		}
	}
	for id, v := range tx.balances {
		if err := b.Store(balanceKey(id), counter(v)); err != nil {
			return err
		}
	}
	for id, v := range tx.sequences {
		if err := b.Store(sequenceKey(id), counter(v)); err != nil {
			return err
		}
	}
	if b.Len() == 0 {
		return nil
	}
	if err := tx.l.store.Write(b); err != nil {
		tx.l.logf("commit of %d writes failed: %v", b.Len(), err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
