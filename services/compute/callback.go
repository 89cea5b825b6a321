package compute

import (
	"context"
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/events"
	"github.com/ldsec/poseidon/ledger"
)

// CallbackRequest is the delivery of a signed computation output.
type CallbackRequest = cluster.Callback

// Callback resolves the pending computation req refers to. If the output
// verifies against the cluster key and is bound to that computation, the
// computation is finalized and the output is published as an event of the
// circuit's kind. Otherwise the computation is aborted, nothing is published,
// and an *AbortedError is returned.
func (s *Service) Callback(ctx context.Context, req *CallbackRequest) (*events.Event, error) {
	if req == nil {
		return nil, fmt.Errorf("nil callback")
	}
	entry, _, err := s.circuit(req.Circuit)
	if err != nil {
		return nil, err
	}
	def, err := s.Definition(req.Circuit)
	if err != nil {
		return nil, err
	}
	if err := poseidon.CheckAddress(req.Computation, s.config.Program, []byte(ComputationSeed), def.ID[:], poseidon.Uint64Seed(req.Offset)); err != nil {
		return nil, err
	}
	ref := cluster.PendingRef{Circuit: def.ID, Offset: req.Offset, Address: req.Computation}

	var finalized *cluster.DecodedOutput
	var aborted *AbortedError
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		pc, err := s.pending(tx, req.Computation)
		if err != nil {
			return err
		}
		if pc.Status != Queued {
			return fmt.Errorf("%w: %s is %s", ErrNotPending, ref, pc.Status)
		}

		out, verr := s.verifier.Verify(s.material, ref, req.Output)
		if verr == nil && len(out.Ciphertexts) != def.Outputs {
			verr = fmt.Errorf("output has %d ciphertexts, %s defines %d", len(out.Ciphertexts), req.Circuit, def.Outputs)
		}
		if verr != nil {
			aborted = &AbortedError{Ref: ref, Err: verr}
			return s.resolve(tx, req.Computation, pc, Aborted)
		}
		finalized = out
		return s.resolve(tx, req.Computation, pc, Finalized)
	})
	if err != nil {
		return nil, err
	}
	if aborted != nil {
		s.Logf("aborted %s: %v", ref, aborted.Err)
		return nil, aborted
	}

	// the event is only published once the finalization is committed
	ev, err := s.publisher.Publish(events.Event{
		Kind:        events.Kind(entry.Event),
		Circuit:     req.Circuit,
		Offset:      req.Offset,
		Ciphertexts: finalized.Ciphertexts,
		Nonce:       finalized.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("could not publish result of %s: %w", ref, err)
	}
	s.Logf("finalized %s, published %s", ref, &ev)
	return &ev, nil
}

func (s *Service) resolve(tx *ledger.Tx, addr poseidon.Address, pc *PendingComputation, status Status) error {
	pc.Status = status
	data, err := pc.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

// Deliver implements cluster.CallbackHandler.
func (s *Service) Deliver(ctx context.Context, cb *cluster.Callback) error {
	_, err := s.Callback(ctx, cb)
	return err
}

// Status returns the status of the computation of circuit name at offset.
func (s *Service) Status(name circuit.Name, offset uint64) (Status, error) {
	pc, err := s.PendingComputation(name, offset)
	if err != nil {
		return 0, err
	}
	return pc.Status, nil
}
