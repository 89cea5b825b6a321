// Package compute implements the computation orchestration as a service.
// The service registers circuit definitions, queues computations to the
// secure-computation cluster under unique (circuit, offset) slots, verifies the
// outputs the cluster calls back with, and publishes the verified results.
package compute

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/circuits"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/events"
	"github.com/ldsec/poseidon/ledger"
)

var (
	// ErrAlreadyRegistered is returned when registering a definition twice.
	ErrAlreadyRegistered = errors.New("computation definition already registered")
	// ErrUnknownCircuit is returned for circuits that are not in the library or not registered.
	ErrUnknownCircuit = errors.New("unknown circuit")
	// ErrMalformedArgs is returned when an argument bundle does not match the circuit inputs.
	ErrMalformedArgs = errors.New("malformed computation arguments")
	// ErrCollision is returned when queuing on a slot occupied by an unresolved computation.
	ErrCollision = errors.New("computation slot occupied")
	// ErrNotPending is returned on callbacks for computations that are absent or already resolved.
	ErrNotPending = errors.New("no pending computation")
	// ErrAborted is matched by the errors of aborted computations (see AbortedError).
	ErrAborted = errors.New("computation aborted")
)

// AbortedError is returned when a computation output fails verification. The
// pending computation is resolved as Aborted and nothing is published.
type AbortedError struct {
	Ref cluster.PendingRef
	Err error
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("computation %s aborted: %v", e.Ref, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

// Is makes AbortedError match ErrAborted.
func (e *AbortedError) Is(target error) bool {
	return target == ErrAborted
}

// ServiceConfig is the configuration of a compute service.
type ServiceConfig struct {
	// Program is the identity owning the service's records.
	Program poseidon.Pubkey `json:"program" yaml:"program"`
	// RegisterOnStart makes the node register the definitions of all library circuits at start-up.
	RegisterOnStart bool `json:"register_on_start" yaml:"register_on_start"`
}

// Service represents a compute service instance.
type Service struct {
	config ServiceConfig
	self   poseidon.NodeID

	ledger    *ledger.Ledger
	intake    cluster.Intake
	verifier  cluster.Verifier
	material  cluster.Material
	publisher *events.Publisher

	now func() time.Time

	// circuit library
	libraryMu sync.RWMutex
	library   map[circuit.Name]circuits.Entry
	metadata  map[circuit.Name]*circuits.Metadata
}

// NewComputeService creates a new compute service instance.
func NewComputeService(ownID poseidon.NodeID, conf ServiceConfig, l *ledger.Ledger, intake cluster.Intake, v cluster.Verifier, m cluster.Material, pub *events.Publisher) (*Service, error) {
	if l == nil || intake == nil || v == nil || pub == nil {
		return nil, fmt.Errorf("compute service requires a ledger, a cluster intake, a verifier and a publisher")
	}
	if m.ClusterKey.IsZero() {
		return nil, fmt.Errorf("compute service requires the cluster key")
	}
	s := &Service{
		config:    conf,
		self:      ownID,
		ledger:    l,
		intake:    intake,
		verifier:  v,
		material:  m,
		publisher: pub,
		now:       time.Now,
		library:   make(map[circuit.Name]circuits.Entry),
		metadata:  make(map[circuit.Name]*circuits.Metadata),
	}
	return s, nil
}

// RegisterCircuit registers a circuit to the service's library.
// It returns an error if the circuit is already registered or cannot be parsed.
func (s *Service) RegisterCircuit(name circuit.Name, entry circuits.Entry) error {
	s.libraryMu.Lock()
	defer s.libraryMu.Unlock()
	if _, has := s.library[name]; has {
		return fmt.Errorf("circuit name \"%s\" already registered", name)
	}
	md, err := circuits.Parse(name, entry.Circuit)
	if err != nil {
		return err
	}
	if (len(entry.Inputs) != 0 && len(entry.Inputs) != md.Inputs) || (len(entry.Outputs) != 0 && len(entry.Outputs) != md.Outputs) {
		return fmt.Errorf("circuit \"%s\" signature does not match its definition", name)
	}
	s.library[name] = entry
	s.metadata[name] = md
	return nil
}

// RegisterCircuits registers a set of circuits to the service's library.
// It returns an error if any of the circuits is already registered.
func (s *Service) RegisterCircuits(cs map[circuit.Name]circuits.Entry) error {
	for cn, c := range cs {
		if err := s.RegisterCircuit(cn, c); err != nil {
			return err
		}
	}
	return nil
}

// Circuits returns the names of the circuits in the service's library.
func (s *Service) Circuits() []circuit.Name {
	s.libraryMu.RLock()
	defer s.libraryMu.RUnlock()
	names := make([]circuit.Name, 0, len(s.library))
	for name := range s.library {
		names = append(names, name)
	}
	return names
}

func (s *Service) circuit(name circuit.Name) (circuits.Entry, *circuits.Metadata, error) {
	s.libraryMu.RLock()
	defer s.libraryMu.RUnlock()
	entry, has := s.library[name]
	if !has {
		return circuits.Entry{}, nil, fmt.Errorf("%w: %q is not in the library", ErrUnknownCircuit, name)
	}
	return entry, s.metadata[name], nil
}

// Program returns the identity owning the service's records.
func (s *Service) Program() poseidon.Pubkey {
	return s.config.Program
}

// Material returns the cluster key material the service verifies outputs against.
func (s *Service) Material() cluster.Material {
	return s.material
}

// Logf writes a log line with the service's node id prefix.
func (s *Service) Logf(msg string, v ...any) {
	log.Printf("%s | [compute] %s\n", s.self, fmt.Sprintf(msg, v...))
}
