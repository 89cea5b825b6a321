package circuits

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/ldsec/poseidon/circuit"
	"github.com/tuneinsight/lattigo/v4/utils/sampling"
)

// LocalRuntime is an implementation of the circuit.Runtime interface that
// evaluates a circuit over additive secret shares modulo 2^64 among a number of
// simulated parties. Linear operations are computed share-wise. Non-linear
// operations and overflow checks are resolved by a simulated dealer that
// reconstructs its operands and re-shares the result.
type LocalRuntime struct {
	parties int
	prng    *sampling.KeyedPRNG

	inputs  []uint64
	shares  [][]uint64
	outputs []uint64

	dealerOps int
	err       error
}

// NewLocalRuntime creates a runtime for the given plaintext inputs. The share
// masks are drawn from a PRNG keyed with seed.
func NewLocalRuntime(parties int, seed []byte, inputs []uint64) (*LocalRuntime, error) {
	if parties < 1 {
		return nil, fmt.Errorf("invalid number of parties: %d", parties)
	}
	prng, err := sampling.NewKeyedPRNG(seed)
	if err != nil {
		return nil, err
	}
	return &LocalRuntime{parties: parties, prng: prng, inputs: inputs}, nil
}

// Evaluate runs c on a new LocalRuntime and returns the circuit outputs.
func Evaluate(c circuit.Circuit, parties int, seed []byte, inputs ...uint64) ([]uint64, error) {
	rt, err := NewLocalRuntime(parties, seed, inputs)
	if err != nil {
		return nil, err
	}
	if err := c(rt); err != nil {
		return nil, err
	}
	if rt.outputs == nil {
		return nil, fmt.Errorf("circuit returned without outputs")
	}
	return rt.Outputs(), nil
}

// Outputs returns the reconstructed outputs of the circuit.
func (rt *LocalRuntime) Outputs() []uint64 {
	return append([]uint64(nil), rt.outputs...)
}

// Shares returns the shares held by each party for s.
func (rt *LocalRuntime) Shares(s circuit.Secret) []uint64 {
	if !rt.valid(s) {
		return nil
	}
	return append([]uint64(nil), rt.shares[s.Handle()]...)
}

// DealerOps returns the number of operations resolved by the dealer.
func (rt *LocalRuntime) DealerOps() int {
	return rt.dealerOps
}

func (rt *LocalRuntime) Err() error {
	return rt.err
}

func (rt *LocalRuntime) fail(err error) circuit.Secret {
	if rt.err == nil {
		rt.err = err
	}
	return circuit.NewSecret(-1)
}

func (rt *LocalRuntime) valid(s circuit.Secret) bool {
	return s.Handle() >= 0 && s.Handle() < len(rt.shares)
}

func (rt *LocalRuntime) mask() uint64 {
	var b [8]byte
	if _, err := rt.prng.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.LittleEndian.Uint64(b[:])
}

// share splits v into additive shares and returns the handle of the new value.
func (rt *LocalRuntime) share(v uint64) circuit.Secret {
	sh := make([]uint64, rt.parties)
	last := v
	for i := 0; i < rt.parties-1; i++ {
		sh[i] = rt.mask()
		last -= sh[i]
	}
	sh[rt.parties-1] = last
	return rt.push(sh)
}

func (rt *LocalRuntime) push(sh []uint64) circuit.Secret {
	rt.shares = append(rt.shares, sh)
	return circuit.NewSecret(len(rt.shares) - 1)
}

func (rt *LocalRuntime) open(s circuit.Secret) uint64 {
	var v uint64
	for _, sh := range rt.shares[s.Handle()] {
		v += sh
	}
	return v
}

// dealer reconstructs the operands, applies f and re-shares its result.
func (rt *LocalRuntime) dealer(f func(vs ...uint64) (uint64, error), ops ...circuit.Secret) circuit.Secret {
	if rt.err != nil {
		return circuit.NewSecret(-1)
	}
	vs := make([]uint64, len(ops))
	for i, op := range ops {
		if !rt.valid(op) {
			return rt.fail(fmt.Errorf("invalid secret handle %d", op.Handle()))
		}
		vs[i] = rt.open(op)
	}
	rt.dealerOps++
	res, err := f(vs...)
	if err != nil {
		return rt.fail(err)
	}
	return rt.share(res)
}

// linear computes a share-wise operation, after the dealer has checked it does not wrap.
func (rt *LocalRuntime) linear(a, b circuit.Secret, check func(x, y uint64) error, op func(x, y uint64) uint64) circuit.Secret {
	if rt.err != nil {
		return circuit.NewSecret(-1)
	}
	if !rt.valid(a) || !rt.valid(b) {
		return rt.fail(fmt.Errorf("invalid secret handle"))
	}
	rt.dealerOps++
	if err := check(rt.open(a), rt.open(b)); err != nil {
		return rt.fail(err)
	}
	sh := make([]uint64, rt.parties)
	for i := range sh {
		sh[i] = op(rt.shares[a.Handle()][i], rt.shares[b.Handle()][i])
	}
	return rt.push(sh)
}

func (rt *LocalRuntime) Input(i int) circuit.Secret {
	if rt.err != nil {
		return circuit.NewSecret(-1)
	}
	if i < 0 || i >= len(rt.inputs) {
		return rt.fail(fmt.Errorf("%w: %d", circuit.ErrInput, i))
	}
	return rt.share(rt.inputs[i])
}

func (rt *LocalRuntime) Const(v uint64) circuit.Secret {
	if rt.err != nil {
		return circuit.NewSecret(-1)
	}
	sh := make([]uint64, rt.parties)
	sh[0] = v
	return rt.push(sh)
}

func (rt *LocalRuntime) Add(a, b circuit.Secret) circuit.Secret {
	return rt.linear(a, b,
		func(x, y uint64) error {
			if _, carry := bits.Add64(x, y, 0); carry != 0 {
				return fmt.Errorf("%w: add", circuit.ErrOverflow)
			}
			return nil
		},
		func(x, y uint64) uint64 { return x + y })
}

func (rt *LocalRuntime) Sub(a, b circuit.Secret) circuit.Secret {
	return rt.linear(a, b,
		func(x, y uint64) error {
			if y > x {
				return fmt.Errorf("%w: sub", circuit.ErrOverflow)
			}
			return nil
		},
		func(x, y uint64) uint64 { return x - y })
}

func (rt *LocalRuntime) Mul(a, b circuit.Secret) circuit.Secret {
	return rt.dealer(func(vs ...uint64) (uint64, error) {
		hi, lo := bits.Mul64(vs[0], vs[1])
		if hi != 0 {
			return 0, fmt.Errorf("%w: mul", circuit.ErrOverflow)
		}
		return lo, nil
	}, a, b)
}

func (rt *LocalRuntime) Div(a, b circuit.Secret) circuit.Secret {
	return rt.dealer(func(vs ...uint64) (uint64, error) {
		if vs[1] == 0 {
			return 0, nil
		}
		return vs[0] / vs[1], nil
	}, a, b)
}

func (rt *LocalRuntime) Gt(a, b circuit.Secret) circuit.Secret {
	return rt.dealer(func(vs ...uint64) (uint64, error) {
		if vs[0] > vs[1] {
			return 1, nil
		}
		return 0, nil
	}, a, b)
}

func (rt *LocalRuntime) Select(cond, a, b circuit.Secret) circuit.Secret {
	return rt.dealer(func(vs ...uint64) (uint64, error) {
		if vs[0] != 0 {
			return vs[1], nil
		}
		return vs[2], nil
	}, cond, a, b)
}

func (rt *LocalRuntime) Split32(a circuit.Secret) (lo, hi circuit.Secret) {
	lo = rt.dealer(func(vs ...uint64) (uint64, error) { return vs[0] & math.MaxUint32, nil }, a)
	hi = rt.dealer(func(vs ...uint64) (uint64, error) { return vs[0] >> 32, nil }, a)
	return lo, hi
}

func (rt *LocalRuntime) Assert(cond circuit.Secret) {
	if rt.err != nil {
		return
	}
	if !rt.valid(cond) {
		rt.fail(fmt.Errorf("invalid secret handle %d", cond.Handle()))
		return
	}
	rt.dealerOps++
	if rt.open(cond) == 0 {
		rt.fail(circuit.ErrConstraint)
	}
}

func (rt *LocalRuntime) Output(vs ...circuit.Secret) error {
	if rt.err != nil {
		return rt.err
	}
	outs := make([]uint64, len(vs))
	for i, v := range vs {
		if !rt.valid(v) {
			rt.fail(fmt.Errorf("invalid secret handle %d", v.Handle()))
			return rt.err
		}
		outs[i] = rt.open(v)
	}
	rt.outputs = outs
	return nil
}
