// Package circuit defines the types shared by circuit definitions and the
// runtimes that execute them.
package circuit

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrOverflow is returned when an operation leaves the unsigned 64-bit domain.
	ErrOverflow = errors.New("u64 overflow")
	// ErrConstraint is returned when a circuit assertion does not hold.
	ErrConstraint = errors.New("circuit constraint violated")
	// ErrInput is returned when a circuit reads an input that was not provided.
	ErrInput = errors.New("no such circuit input")
)

// Name is a type for circuit names.
// A circuit name uniquely identifies a circuit within the framework.
type Name string

// IDSize is the size in bytes of a circuit identifier.
const IDSize = 8

// ID is the stable identifier of a circuit: the first 8 bytes of the SHA-256
// hash of its name. It is used both for storage addressing and request routing.
type ID [IDSize]byte

// ID returns the identifier of the circuit name.
func (n Name) ID() (id ID) {
	h := sha256.Sum256([]byte(n))
	copy(id[:], h[:IDSize])
	return id
}

// String returns the hex encoding of the identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Circuit is a type for representing circuits, which are Go functions interacting with
// a provided evaluation runtime.
type Circuit func(Runtime) error

// Secret is a handle to a secret-shared u64 value held by a Runtime.
// Handles are only meaningful to the runtime that issued them.
type Secret struct {
	h int
}

// NewSecret returns the handle with index h. It is meant for Runtime implementations.
func NewSecret(h int) Secret {
	return Secret{h: h}
}

// Handle returns the index of the handle.
func (s Secret) Handle() int {
	return s.h
}

// Runtime defines the interface that is available to circuits to operate on
// secret-shared values. All arithmetic is over unsigned 64-bit integers and is
// checked: an operation that would overflow or underflow fails the evaluation
// with ErrOverflow. The first error is retained by the runtime, every later
// operation is a no-op, and the error is reported by Output and Err.
type Runtime interface {
	// Input returns the i-th input of the circuit.
	Input(i int) Secret

	// Const returns a public constant as a secret value.
	Const(v uint64) Secret

	Add(a, b Secret) Secret
	Sub(a, b Secret) Secret
	Mul(a, b Secret) Secret

	// Div returns the truncated quotient a/b. Division by zero yields zero.
	Div(a, b Secret) Secret

	// Gt returns 1 if a > b and 0 otherwise.
	Gt(a, b Secret) Secret

	// Select returns a if cond is non-zero and b otherwise.
	Select(cond, a, b Secret) Secret

	// Split32 returns the low and high 32-bit halves of a.
	Split32(a Secret) (lo, hi Secret)

	// Assert opens the truth value of cond, and fails the evaluation with
	// ErrConstraint if it is zero.
	Assert(cond Secret)

	// Output sets the outputs of the circuit, in order.
	Output(vs ...Secret) error

	// Err returns the first error encountered during the evaluation.
	Err() error
}

// Signature describes the inputs and outputs of a circuit, in order.
type Signature struct {
	Name
	Inputs  []string
	Outputs []string
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != IDSize {
		return fmt.Errorf("invalid circuit id length %d", len(b))
	}
	copy(id[:], b)
	return nil
}
