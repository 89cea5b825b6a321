// Package rebalance implements the authorization store that controls whether
// automated rebalancing is permitted for an owner, or for one of its positions.
// Both granularities are the same state machine over records at addresses
// derived from the owner and, for per-position records, the position:
//
//	absent -> enabled -> absent
//
// with enabled -> enabled updates of the thresholds.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/ledger"
)

var (
	// ErrNotOwner is returned when the signer of a request is not the owner of the stored configuration.
	ErrNotOwner = errors.New("signer is not the configuration owner")
	// ErrNotFound is returned for absent configurations.
	ErrNotFound = errors.New("rebalance config not found")
)

// Seed is the first seed of the configuration addresses.
const Seed = "rebalance"

// Arity is the number of identities keying a configuration.
type Arity int

const (
	// PerOwner stores one configuration per owner.
	PerOwner Arity = iota + 1
	// PerPosition stores one configuration per (owner, position) pair.
	PerPosition
)

func (a Arity) String() string {
	switch a {
	case PerOwner:
		return "per-owner"
	case PerPosition:
		return "per-position"
	default:
		return fmt.Sprintf("Arity(%d)", int(a))
	}
}

// Request designates the configuration an operation applies to.
type Request struct {
	Signer poseidon.Pubkey `json:"signer"`
	// Position is ignored by per-owner stores.
	Position poseidon.Pubkey `json:"position"`
	// Account is the caller-supplied address of the configuration.
	Account poseidon.Address `json:"account"`
}

// Store is an authorization store over a ledger.
type Store struct {
	self    poseidon.NodeID
	ledger  *ledger.Ledger
	program poseidon.Pubkey
	arity   Arity
	now     func() time.Time
}

// NewStore creates the store of node ownID of the given arity, whose records
// are owned by program. If clock is nil, time.Now is used.
func NewStore(ownID poseidon.NodeID, l *ledger.Ledger, program poseidon.Pubkey, arity Arity, clock func() time.Time) (*Store, error) {
	if arity != PerOwner && arity != PerPosition {
		return nil, fmt.Errorf("invalid arity %d", arity)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Store{self: ownID, ledger: l, program: program, arity: arity, now: clock}, nil
}

// Arity returns the arity of the store.
func (s *Store) Arity() Arity {
	return s.arity
}

func (s *Store) seeds(owner, position poseidon.Pubkey) [][]byte {
	seeds := [][]byte{[]byte(Seed), owner[:]}
	if s.arity == PerPosition {
		seeds = append(seeds, position[:])
	}
	return seeds
}

// Address returns the address of the configuration of owner and position.
func (s *Store) Address(owner, position poseidon.Pubkey) poseidon.Address {
	return poseidon.DeriveAddress(s.program, s.seeds(owner, position)...)
}

// NewRequest returns the request of signer for position, with the derived account.
func (s *Store) NewRequest(signer, position poseidon.Pubkey) Request {
	return Request{Signer: signer, Position: position, Account: s.Address(signer, position)}
}

// load returns the configuration at addr, or ErrNotFound.
func (s *Store) load(tx *ledger.Tx, addr poseidon.Address) (*Config, error) {
	acc, err := tx.Get(addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: at %s", ErrNotFound, addr)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != s.program {
		return nil, fmt.Errorf("%w: account %s is not owned by the program", poseidon.ErrAddressMismatch, addr)
	}
	conf := new(Config)
	if err := conf.UnmarshalBinary(acc.Data); err != nil {
		return nil, err
	}
	if (conf.Position != nil) != (s.arity == PerPosition) {
		return nil, fmt.Errorf("account %s is not a %s config", addr, s.arity)
	}
	return conf, nil
}

// authorize loads the configuration req designates, if any, and checks that
// req.Signer owns it and that req.Account is its derived address.
func (s *Store) authorize(tx *ledger.Tx, req Request) (*Config, error) {
	conf, err := s.load(tx, req.Account)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if conf != nil && conf.Owner != req.Signer {
		return nil, fmt.Errorf("%w: %s does not own %s", ErrNotOwner, req.Signer, req.Account)
	}
	if err := poseidon.CheckAddress(req.Account, s.program, s.seeds(req.Signer, req.Position)...); err != nil {
		return nil, err
	}
	return conf, nil
}

// Enable enables rebalancing with the given thresholds. The configuration is
// created on the first call, with its rent charged to the signer. Later calls
// only update the thresholds and the update time.
func (s *Store) Enable(ctx context.Context, req Request, maxSlippageBps, minYieldBps uint16) (conf *Config, err error) {
	now := s.now().Unix()
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		prev, err := s.authorize(tx, req)
		if err != nil {
			return err
		}
		create := prev == nil
		if create {
			conf = &Config{Owner: req.Signer, CreatedAt: now}
			if s.arity == PerPosition {
				pos := req.Position
				conf.Position = &pos
			}
		} else {
			conf = prev
		}
		conf.Enabled = true
		conf.MaxSlippageBps = maxSlippageBps
		conf.MinYieldBps = minYieldBps
		conf.UpdatedAt = now

		data, err := conf.MarshalBinary()
		if err != nil {
			return err
		}
		if create {
			return tx.Create(req.Account, s.program, req.Signer, data)
		}
		return tx.Put(req.Account, data)
	})
	if err != nil {
		return nil, err
	}
	s.logf("rebalance enabled at %s by %s", req.Account, req.Signer)
	return conf, nil
}

// Disable erases the configuration and refunds its rent to the owner.
func (s *Store) Disable(ctx context.Context, req Request) error {
	err := s.ledger.Update(func(tx *ledger.Tx) error {
		conf, err := s.authorize(tx, req)
		if err != nil {
			return err
		}
		if conf == nil {
			return fmt.Errorf("%w: at %s", ErrNotFound, req.Account)
		}
		return tx.Close(req.Account, conf.Owner)
	})
	if err != nil {
		return err
	}
	s.logf("rebalance disabled at %s by %s", req.Account, req.Signer)
	return nil
}

// IsEnabled returns the configuration of owner and position, or ErrNotFound.
func (s *Store) IsEnabled(ctx context.Context, owner, position poseidon.Pubkey) (conf *Config, err error) {
	err = s.ledger.View(func(tx *ledger.Tx) error {
		conf, err = s.load(tx, s.Address(owner, position))
		return err
	})
	return conf, err
}

func (s *Store) logf(msg string, v ...any) {
	log.Printf("%s | [rebalance] %s: %s\n", s.self, s.arity, fmt.Sprintf(msg, v...))
}
