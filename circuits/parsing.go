package circuits

import (
	"fmt"

	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/utils"
)

// Metadata is a type for gathering information about a circuit.
// It is obtained by parsing a circuit definition (see circuits.Parse).
type Metadata struct {
	Name     circuit.Name
	ID       circuit.ID
	InputSet utils.Set[int]
	Inputs   int // number of inputs, the highest input index plus one
	Outputs  int
	Ops      int
	// NonLinear counts the operations that require interaction between the parties.
	NonLinear int
}

// Parse parses a circuit and returns its metadata.
// The parsing is done by symbolic execution of the circuit.
func Parse(name circuit.Name, c circuit.Circuit) (*Metadata, error) {
	p := &circuitParser{md: Metadata{Name: name, ID: name.ID(), InputSet: utils.NewEmptySet[int]()}}
	if err := c(p); err != nil {
		return nil, fmt.Errorf("error while parsing circuit %s: %w", name, err)
	}
	if !p.output {
		return nil, fmt.Errorf("error while parsing circuit %s: no output", name)
	}
	// inputs are read from index 0 up to the highest index
	for i, in := range utils.SortedElements(p.md.InputSet) {
		if in != i {
			return nil, fmt.Errorf("error while parsing circuit %s: input %d is never read", name, i)
		}
	}
	return &p.md, nil
}

// circuitParser is a circuit.Runtime that records the structure of a circuit
// without evaluating it.
type circuitParser struct {
	md     Metadata
	next   int
	output bool
	err    error
}

func (p *circuitParser) new() circuit.Secret {
	p.next++
	return circuit.NewSecret(p.next - 1)
}

func (p *circuitParser) op(nonLinear bool) circuit.Secret {
	p.md.Ops++
	if nonLinear {
		p.md.NonLinear++
	}
	return p.new()
}

func (p *circuitParser) Input(i int) circuit.Secret {
	if i < 0 {
		if p.err == nil {
			p.err = fmt.Errorf("%w: %d", circuit.ErrInput, i)
		}
		return circuit.NewSecret(-1)
	}
	p.md.InputSet.Add(i)
	if i+1 > p.md.Inputs {
		p.md.Inputs = i + 1
	}
	return p.new()
}

func (p *circuitParser) Const(v uint64) circuit.Secret { return p.new() }
func (p *circuitParser) Add(a, b circuit.Secret) circuit.Secret { return p.op(false) }
func (p *circuitParser) Sub(a, b circuit.Secret) circuit.Secret { return p.op(false) }
func (p *circuitParser) Mul(a, b circuit.Secret) circuit.Secret { return p.op(true) }
func (p *circuitParser) Div(a, b circuit.Secret) circuit.Secret { return p.op(true) }
func (p *circuitParser) Gt(a, b circuit.Secret) circuit.Secret { return p.op(true) }

func (p *circuitParser) Select(cond, a, b circuit.Secret) circuit.Secret {
	return p.op(true)
}

func (p *circuitParser) Split32(a circuit.Secret) (lo, hi circuit.Secret) {
	return p.op(true), p.op(true)
}

func (p *circuitParser) Assert(cond circuit.Secret) {
	p.md.Ops++
	p.md.NonLinear++
}

func (p *circuitParser) Output(vs ...circuit.Secret) error {
	if p.err != nil {
		return p.err
	}
	if p.output {
		return fmt.Errorf("outputs set twice")
	}
	p.output = true
	p.md.Outputs = len(vs)
	return nil
}

func (p *circuitParser) Err() error {
	return p.err
}
