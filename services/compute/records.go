package compute

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/cluster"
)

// Seeds of the derived addresses.
const (
	DefinitionSeed  = "ComputationDefinitionAccount"
	ComputationSeed = "ComputationAccount"
	ClusterSeed     = "Cluster"
	MempoolSeed     = "Mempool"
	ExecpoolSeed    = "Execpool"
)

// DefinitionAddress returns the address of the definition of circuit id.
func DefinitionAddress(program poseidon.Pubkey, id circuit.ID) poseidon.Address {
	return poseidon.DeriveAddress(program, []byte(DefinitionSeed), id[:])
}

// ComputationAddress returns the address of the pending computation of circuit id at offset.
func ComputationAddress(program poseidon.Pubkey, id circuit.ID, offset uint64) poseidon.Address {
	return poseidon.DeriveAddress(program, []byte(ComputationSeed), id[:], poseidon.Uint64Seed(offset))
}

// QueueAccounts are the storage addresses a queue request operates on.
type QueueAccounts struct {
	Definition  poseidon.Address `json:"definition"`
	Cluster     poseidon.Address `json:"cluster"`
	Mempool     poseidon.Address `json:"mempool"`
	Execpool    poseidon.Address `json:"execpool"`
	Computation poseidon.Address `json:"computation"`
}

// ExpectedAccounts returns the accounts of a request for circuit id at offset.
func ExpectedAccounts(program poseidon.Pubkey, id circuit.ID, offset uint64) QueueAccounts {
	return QueueAccounts{
		Definition:  DefinitionAddress(program, id),
		Cluster:     poseidon.DeriveAddress(program, []byte(ClusterSeed)),
		Mempool:     poseidon.DeriveAddress(program, []byte(MempoolSeed)),
		Execpool:    poseidon.DeriveAddress(program, []byte(ExecpoolSeed)),
		Computation: ComputationAddress(program, id, offset),
	}
}

func (qa QueueAccounts) check(program poseidon.Pubkey, id circuit.ID, offset uint64) error {
	exp := ExpectedAccounts(program, id, offset)
	for _, acc := range []struct {
		name      string
		got, want poseidon.Address
	}{
		{"definition", qa.Definition, exp.Definition},
		{"cluster", qa.Cluster, exp.Cluster},
		{"mempool", qa.Mempool, exp.Mempool},
		{"execpool", qa.Execpool, exp.Execpool},
		{"computation", qa.Computation, exp.Computation},
	} {
		if acc.got != acc.want {
			return fmt.Errorf("%w: %s account is %s, expected %s", poseidon.ErrAddressMismatch, acc.name, acc.got, acc.want)
		}
	}
	return nil
}

func discriminator(name string) (d [8]byte) {
	h := sha256.Sum256([]byte("account:" + name))
	copy(d[:], h[:8])
	return d
}

var (
	definitionDisc  = discriminator("ComputationDefinitionAccount")
	computationDisc = discriminator("ComputationAccount")
)

// Definition is the registered descriptor of a circuit.
type Definition struct {
	Name      circuit.Name    `json:"name"`
	ID        circuit.ID      `json:"id"`
	Inputs    int             `json:"inputs"`
	Outputs   int             `json:"outputs"`
	Authority poseidon.Pubkey `json:"authority"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d Definition) MarshalBinary() ([]byte, error) {
	if len(d.Name) > 255 || d.Inputs > 255 || d.Outputs > 255 || d.Inputs < 0 || d.Outputs < 0 {
		return nil, fmt.Errorf("definition of %s out of bounds", d.Name)
	}
	b := make([]byte, 0, 8+circuit.IDSize+1+len(d.Name)+2+poseidon.PubkeySize)
	b = append(b, definitionDisc[:]...)
	b = append(b, d.ID[:]...)
	b = append(b, byte(len(d.Name)))
	b = append(b, d.Name...)
	b = append(b, byte(d.Inputs), byte(d.Outputs))
	return append(b, d.Authority[:]...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (d *Definition) UnmarshalBinary(b []byte) error {
	if len(b) < 8+circuit.IDSize+1 || [8]byte(b[:8]) != definitionDisc {
		return fmt.Errorf("not a computation definition")
	}
	b = b[8:]
	copy(d.ID[:], b)
	b = b[circuit.IDSize:]
	n := int(b[0])
	b = b[1:]
	if len(b) != n+2+poseidon.PubkeySize {
		return fmt.Errorf("invalid computation definition length")
	}
	d.Name = circuit.Name(b[:n])
	d.Inputs, d.Outputs = int(b[n]), int(b[n+1])
	copy(d.Authority[:], b[n+2:])
	return nil
}

// Status is the status of a pending computation.
type Status uint8

const (
	// Queued is the status of a computation waiting for its output.
	Queued Status = iota + 1
	// Finalized is the status of a computation whose output was verified and published.
	Finalized
	// Aborted is the status of a computation whose output failed verification.
	Aborted
)

var statusToString = []string{"INVALID", "QUEUED", "FINALIZED", "ABORTED"}

func (s Status) String() string {
	if int(s) >= len(statusToString) {
		s = 0
	}
	return statusToString[s]
}

// CallbackTarget designates the receiver of a computation's output.
type CallbackTarget = cluster.CallbackTarget

// PendingComputation is the record of a queued computation.
type PendingComputation struct {
	Circuit   circuit.ID      `json:"circuit"`
	Offset    uint64          `json:"offset"`
	Requester poseidon.Pubkey `json:"requester"`
	Status    Status          `json:"status"`
	Priority  uint64          `json:"priority"`
	Flags     uint64          `json:"flags"`
	Callback  CallbackTarget  `json:"callback"`
	QueuedAt  int64           `json:"queued_at"`
}

const pendingFixedSize = 8 + circuit.IDSize + 8 + poseidon.PubkeySize + 1 + 8 + 8 + poseidon.PubkeySize + 8 + 2

// MarshalBinary implements encoding.BinaryMarshaler.
func (pc PendingComputation) MarshalBinary() ([]byte, error) {
	if len(pc.Callback.Endpoint) > 0xffff {
		return nil, fmt.Errorf("callback endpoint too long")
	}
	b := make([]byte, 0, pendingFixedSize+len(pc.Callback.Endpoint))
	b = append(b, computationDisc[:]...)
	b = append(b, pc.Circuit[:]...)
	b = binary.LittleEndian.AppendUint64(b, pc.Offset)
	b = append(b, pc.Requester[:]...)
	b = append(b, byte(pc.Status))
	b = binary.LittleEndian.AppendUint64(b, pc.Priority)
	b = binary.LittleEndian.AppendUint64(b, pc.Flags)
	b = append(b, pc.Callback.Program[:]...)
	b = binary.LittleEndian.AppendUint64(b, uint64(pc.QueuedAt))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(pc.Callback.Endpoint)))
	return append(b, pc.Callback.Endpoint...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (pc *PendingComputation) UnmarshalBinary(b []byte) error {
	if len(b) < pendingFixedSize || [8]byte(b[:8]) != computationDisc {
		return fmt.Errorf("not a pending computation")
	}
	b = b[8:]
	copy(pc.Circuit[:], b)
	b = b[circuit.IDSize:]
	pc.Offset = binary.LittleEndian.Uint64(b)
	b = b[8:]
	copy(pc.Requester[:], b)
	b = b[poseidon.PubkeySize:]
	pc.Status = Status(b[0])
	b = b[1:]
	pc.Priority = binary.LittleEndian.Uint64(b)
	pc.Flags = binary.LittleEndian.Uint64(b[8:])
	b = b[16:]
	copy(pc.Callback.Program[:], b)
	b = b[poseidon.PubkeySize:]
	pc.QueuedAt = int64(binary.LittleEndian.Uint64(b))
	n := int(binary.LittleEndian.Uint16(b[8:]))
	b = b[10:]
	if len(b) != n {
		return fmt.Errorf("invalid pending computation length")
	}
	pc.Callback.Endpoint = string(b)
	return nil
}
