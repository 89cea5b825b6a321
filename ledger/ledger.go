// Package ledger implements the host ledger the poseidon services persist
// their records in: rent-charged accounts at fixed addresses, identity
// balances, and serialized all-or-nothing updates.
package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/objectstore"
)

var (
	// ErrAccountExists is returned when creating an account at an occupied address.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound is returned when accessing an account that does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds is returned when a payer cannot cover the rent of a new account.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrSizeMismatch is returned when writing data of a different size than the account's.
	ErrSizeMismatch = errors.New("account data size mismatch")
	// ErrStaleSequence is returned when a sequence number does not exceed the last one recorded for an identity.
	ErrStaleSequence = errors.New("stale sequence number")
)

// Config is the rent configuration of the ledger.
type Config struct {
	// RentPerByte is the amount charged per byte of account storage.
	RentPerByte uint64 `json:"rent_per_byte" yaml:"rent_per_byte"`
	// AccountOverhead is the number of bytes charged on top of the account data.
	AccountOverhead uint64 `json:"account_overhead" yaml:"account_overhead"`
}

// DefaultConfig is the rent configuration used when none is provided.
var DefaultConfig = Config{RentPerByte: 6960, AccountOverhead: 128}

// Rent returns the rent charged for an account holding size bytes of data.
func (c Config) Rent(size int) uint64 {
	return (c.AccountOverhead + uint64(size)) * c.RentPerByte
}

// Account is a rent-charged storage slot.
type Account struct {
	Owner poseidon.Pubkey // the program that owns the account
	Payer poseidon.Pubkey // the identity that paid the rent
	Rent  uint64
	Data  []byte
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (a Account) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, 2*poseidon.PubkeySize+12+len(a.Data))
	b = append(b, a.Owner[:]...)
	b = append(b, a.Payer[:]...)
	b = binary.LittleEndian.AppendUint64(b, a.Rent)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(a.Data)))
	return append(b, a.Data...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (a *Account) UnmarshalBinary(b []byte) error {
	const hdr = 2*poseidon.PubkeySize + 12
	if len(b) < hdr {
		return fmt.Errorf("account encoding too short: %d bytes", len(b))
	}
	copy(a.Owner[:], b[:32])
	copy(a.Payer[:], b[32:64])
	a.Rent = binary.LittleEndian.Uint64(b[64:72])
	n := binary.LittleEndian.Uint32(b[72:76])
	if len(b[hdr:]) != int(n) {
		return fmt.Errorf("account data length %d does not match header %d", len(b[hdr:]), n)
	}
	a.Data = append([]byte(nil), b[hdr:]...)
	return nil
}

// counter is the encoding of balances and sequence numbers.
type counter uint64

func (v counter) MarshalBinary() ([]byte, error) {
	return binary.LittleEndian.AppendUint64(nil, uint64(v)), nil
}

func (v *counter) UnmarshalBinary(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("invalid counter encoding")
	}
	*v = counter(binary.LittleEndian.Uint64(b))
	return nil
}

// Ledger holds accounts and balances in an objectstore.ObjectStore. All
// mutations go through Update, which runs one at a time.
type Ledger struct {
	self  poseidon.NodeID
	conf  Config
	store objectstore.ObjectStore

	mu sync.Mutex
}

// New creates the ledger of node ownID over the given object store.
func New(ownID poseidon.NodeID, conf Config, store objectstore.ObjectStore) *Ledger {
	if conf.RentPerByte == 0 && conf.AccountOverhead == 0 {
		conf = DefaultConfig
	}
	return &Ledger{self: ownID, conf: conf, store: store}
}

// NewMemLedger creates a ledger backed by an in-memory object store.
func NewMemLedger(ownID poseidon.NodeID) *Ledger {
	return New(ownID, DefaultConfig, objectstore.NewMemObjectStore())
}

// Config returns the rent configuration of the ledger.
func (l *Ledger) Config() Config {
	return l.conf
}

func accountKey(addr poseidon.Address) string {
	return "account/" + addr.String()
}

func balanceKey(id poseidon.Pubkey) string {
	return "balance/" + id.String()
}

func sequenceKey(id poseidon.Pubkey) string {
	return "sequence/" + id.String()
}

// Update runs fn in a transaction. Writes made by fn are buffered and applied
// only if fn returns nil.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(l, true)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(newTx(l, false))
}

// Fund credits amount to the balance of id.
func (l *Ledger) Fund(id poseidon.Pubkey, amount uint64) error {
	return l.Update(func(tx *Tx) error {
		return tx.Credit(id, amount)
	})
}

// Balance returns the balance of id.
func (l *Ledger) Balance(id poseidon.Pubkey) (v uint64, err error) {
	err = l.View(func(tx *Tx) error {
		v, err = tx.Balance(id)
		return err
	})
	return v, err
}

// Advance records seq as the last sequence number accepted from id. It
// returns an error wrapping ErrStaleSequence if seq does not exceed the
// current one.
func (l *Ledger) Advance(id poseidon.Pubkey, seq uint64) error {
	return l.Update(func(tx *Tx) error {
		return tx.Advance(id, seq)
	})
}

// Account returns a copy of the account at addr.
func (l *Ledger) Account(addr poseidon.Address) (acc *Account, err error) {
	err = l.View(func(tx *Tx) error {
		acc, err = tx.Get(addr)
		return err
	})
	return acc, err
}

// Close releases the underlying object store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) loadAccount(addr poseidon.Address) (*Account, error) {
	acc := new(Account)
	if err := l.store.Load(accountKey(addr), acc); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return nil, err
	}
	return acc, nil
}

func (l *Ledger) loadBalance(id poseidon.Pubkey) (uint64, error) {
	return l.loadCounter(balanceKey(id))
}

func (l *Ledger) loadSequence(id poseidon.Pubkey) (uint64, error) {
	return l.loadCounter(sequenceKey(id))
}

func (l *Ledger) loadCounter(key string) (uint64, error) {
	var v counter
	if err := l.store.Load(key, &v); err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(v), nil
}

func (l *Ledger) logf(msg string, v ...any) {
	log.Printf("%s | [ledger] %s\n", l.self, fmt.Sprintf(msg, v...))
}
