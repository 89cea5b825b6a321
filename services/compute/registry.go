package compute

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/ledger"
)

// RegisterDefinition registers the definition of the library circuit name,
// charging its storage to authority. A definition is registered at most once.
func (s *Service) RegisterDefinition(ctx context.Context, authority poseidon.Pubkey, name circuit.Name) (*Definition, error) {
	_, md, err := s.circuit(name)
	if err != nil {
		return nil, err
	}

	def := &Definition{Name: name, ID: md.ID, Inputs: md.Inputs, Outputs: md.Outputs, Authority: authority}
	data, err := def.MarshalBinary()
	if err != nil {
		return nil, err
	}

	addr := DefinitionAddress(s.config.Program, def.ID)
	err = s.ledger.Update(func(tx *ledger.Tx) error {
		return tx.Create(addr, s.config.Program, authority, data)
	})
	if errors.Is(err, ledger.ErrAccountExists) {
		return nil, fmt.Errorf("%w: %s at %s", ErrAlreadyRegistered, name, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("could not register definition of %s: %w", name, err)
	}

	s.Logf("registered definition of %s (id %s)", name, def.ID)
	return def, nil
}

// Definition returns the registered definition of circuit name.
func (s *Service) Definition(name circuit.Name) (*Definition, error) {
	return s.definition(name.ID())
}

func (s *Service) definition(id circuit.ID) (*Definition, error) {
	acc, err := s.ledger.Account(DefinitionAddress(s.config.Program, id))
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: no definition registered for %s", ErrUnknownCircuit, id)
	}
	if err != nil {
		return nil, err
	}
	def := new(Definition)
	if err := def.UnmarshalBinary(acc.Data); err != nil {
		return nil, err
	}
	return def, nil
}

// Definitions returns the registered definitions of the library circuits, sorted by name.
func (s *Service) Definitions() ([]*Definition, error) {
	names := s.Circuits()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	defs := make([]*Definition, 0, len(names))
	for _, name := range names {
		def, err := s.Definition(name)
		if errors.Is(err, ErrUnknownCircuit) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// RegisterAll registers the definitions of all library circuits that are not yet registered.
func (s *Service) RegisterAll(ctx context.Context, authority poseidon.Pubkey) error {
	for _, name := range s.Circuits() {
		_, err := s.RegisterDefinition(ctx, authority, name)
		if err != nil && !errors.Is(err, ErrAlreadyRegistered) {
			return err
		}
	}
	return nil
}
