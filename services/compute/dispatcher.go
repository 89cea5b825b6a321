package compute

import (
	"context"
	"errors"
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/args"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/ledger"
)

// DefaultPriority is the priority of requests that do not set one.
const DefaultPriority = 1

// QueueRequest is a request to run a circuit on the cluster.
type QueueRequest struct {
	Circuit circuit.Name
	// Offset is the caller-chosen correlation id of the computation.
	Offset      uint64
	Args        *args.Bundle
	Requester   poseidon.Pubkey
	Certificate []byte
	Accounts    QueueAccounts
	Callback    CallbackTarget
	Priority    uint64
	Flags       uint64
}

// Queue allocates the pending computation of req and submits it to the
// cluster. All checks happen before any state change:
//   - the circuit must be registered and the arguments must match its inputs,
//   - every account of the request must match its derivation,
//   - the slot of (circuit, offset) must never have been allocated.
//
// If the submission fails, the allocation is reverted.
func (s *Service) Queue(ctx context.Context, req QueueRequest) (*PendingComputation, error) {
	if _, _, err := s.circuit(req.Circuit); err != nil {
		return nil, err
	}
	def, err := s.Definition(req.Circuit)
	if err != nil {
		return nil, err
	}
	if req.Args == nil {
		return nil, fmt.Errorf("%w: no arguments", ErrMalformedArgs)
	}
	if err := req.Args.Validate(def.Inputs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedArgs, err)
	}
	payload, err := req.Args.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedArgs, err)
	}

	if err := req.Accounts.check(s.config.Program, def.ID, req.Offset); err != nil {
		return nil, err
	}

	if req.Priority == 0 {
		req.Priority = DefaultPriority
	}
	pc := &PendingComputation{
		Circuit:   def.ID,
		Offset:    req.Offset,
		Requester: req.Requester,
		Status:    Queued,
		Priority:  req.Priority,
		Flags:     req.Flags,
		Callback:  req.Callback,
		QueuedAt:  s.now().Unix(),
	}
	data, err := pc.MarshalBinary()
	if err != nil {
		return nil, err
	}

	addr := req.Accounts.Computation
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		prev, err := s.pending(tx, addr)
		switch {
		case errors.Is(err, ErrNotPending):
		case err != nil:
			return err
		default:
			// a slot is never reallocated, so an output signed for it cannot
			// be replayed against another computation
			return fmt.Errorf("%w: %s/%d is %s", ErrCollision, req.Circuit, req.Offset, prev.Status)
		}
		return tx.Create(addr, s.config.Program, req.Requester, data)
	})
	if err != nil {
		return nil, err
	}

	creq := &cluster.Request{
		Ref:         cluster.PendingRef{Circuit: def.ID, Offset: req.Offset, Address: addr},
		Circuit:     req.Circuit,
		Payload:     payload,
		Requester:   req.Requester,
		Certificate: req.Certificate,
		Callback:    req.Callback,
		Priority:    req.Priority,
	}
	if err := s.intake.Submit(poseidon.ContextWithComputation(ctx, string(req.Circuit), req.Offset), creq); err != nil {
		if rerr := s.revert(addr, data); rerr != nil {
			s.Logf("could not revert allocation of %s/%d: %v", req.Circuit, req.Offset, rerr)
		}
		return nil, fmt.Errorf("could not submit computation %s/%d: %w", req.Circuit, req.Offset, err)
	}

	s.Logf("queued %s/%d for %s", req.Circuit, req.Offset, req.Requester)
	return pc, nil
}

// revert closes the pending computation at addr if it still holds data.
func (s *Service) revert(addr poseidon.Address, data []byte) error {
	return s.ledger.Update(func(tx *ledger.Tx) error {
		acc, err := tx.Get(addr)
		if err != nil {
			return err
		}
		if string(acc.Data) != string(data) {
			return fmt.Errorf("computation at %s changed", addr)
		}
		return tx.Close(addr, acc.Payer)
	})
}

func (s *Service) pending(tx *ledger.Tx, addr poseidon.Address) (*PendingComputation, error) {
	acc, err := tx.Get(addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: at %s", ErrNotPending, addr)
	}
	if err != nil {
		return nil, err
	}
	if acc.Owner != s.config.Program {
		return nil, fmt.Errorf("%w: account %s is not owned by the program", poseidon.ErrAddressMismatch, addr)
	}
	pc := new(PendingComputation)
	if err := pc.UnmarshalBinary(acc.Data); err != nil {
		return nil, err
	}
	return pc, nil
}

// PendingComputation returns the computation record of circuit name at offset.
func (s *Service) PendingComputation(name circuit.Name, offset uint64) (pc *PendingComputation, err error) {
	addr := ComputationAddress(s.config.Program, name.ID(), offset)
	err = s.ledger.View(func(tx *ledger.Tx) error {
		pc, err = s.pending(tx, addr)
		return err
	})
	return pc, err
}

// Accounts returns the accounts of a queue request for circuit name at offset.
func (s *Service) Accounts(name circuit.Name, offset uint64) QueueAccounts {
	return ExpectedAccounts(s.config.Program, name.ID(), offset)
}
