package circuits

import (
	"fmt"
	"math"
	"testing"

	"github.com/ldsec/poseidon/circuit"
	"github.com/stretchr/testify/require"
)

var testSeed = []byte("circuits-test")

func TestLocalRuntime(t *testing.T) {
	require.Implements(t, (*circuit.Runtime)(nil), &LocalRuntime{})

	rt, err := NewLocalRuntime(3, testSeed, []uint64{7})
	require.NoError(t, err)
	in := rt.Input(0)
	shares := rt.Shares(in)
	require.Len(t, shares, 3)
	require.NotContains(t, shares, uint64(7))
	var sum uint64
	for _, sh := range shares {
		sum += sh
	}
	require.Equal(t, uint64(7), sum)

	_, err = NewLocalRuntime(0, testSeed, nil)
	require.Error(t, err)

	t.Run("Split32", func(t *testing.T) {
		out, err := Evaluate(func(rt circuit.Runtime) error {
			lo, hi := rt.Split32(rt.Input(0))
			return rt.Output(lo, hi)
		}, 3, testSeed, 5<<32|9)
		require.NoError(t, err)
		require.Equal(t, []uint64{9, 5}, out)
	})

	t.Run("Assert", func(t *testing.T) {
		assertGt := func(rt circuit.Runtime) error {
			a, b := rt.Input(0), rt.Input(1)
			rt.Assert(rt.Gt(a, b))
			return rt.Output(a)
		}
		_, err := Evaluate(assertGt, 3, testSeed, 2, 1)
		require.NoError(t, err)
		_, err = Evaluate(assertGt, 3, testSeed, 1, 1)
		require.ErrorIs(t, err, circuit.ErrConstraint)
	})
}

func TestDeposit(t *testing.T) {
	for _, parties := range []int{1, 3} {
		t.Run(fmt.Sprintf("Parties=%d", parties), func(t *testing.T) {
			out, err := Evaluate(Deposit, parties, testSeed, 100, 250, PackTicks(-10, 10))
			require.NoError(t, err)
			require.Equal(t, []uint64{100, 250, 350}, out)
		})
	}

	t.Run("AnyTickRange", func(t *testing.T) {
		for _, ticks := range []uint64{PackTicks(10, 10), PackTicks(10, -10)} {
			out, err := Evaluate(Deposit, 3, testSeed, 100, 250, ticks)
			require.NoError(t, err)
			require.Equal(t, []uint64{100, 250, 350}, out)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		_, err := Evaluate(Deposit, 3, testSeed, math.MaxUint64, 1, PackTicks(0, 1))
		require.ErrorIs(t, err, circuit.ErrOverflow)
	})
}

func TestRebalance(t *testing.T) {
	ticks := PackTicks(-100, 200)
	for _, tc := range []struct {
		name                                 string
		amountA, amountB, price              uint64
		newAmountA, newAmountB, newLiquidity uint64
	}{
		{"Price=2000", 1000, 500, 2000, 625, 1250, 1875},
		{"Price=1000", 1000, 1000, 1000, 1000, 1000, 2000},
		{"Price=0", 1000, 500, 0, 0, 250, 250},
		{"Price=0/Empty", 0, 0, 0, 0, 0, 0},
		{"Truncating", 3, 0, 1, 0, 0, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Evaluate(Rebalance, 3, testSeed, tc.amountA, tc.amountB, ticks, tc.price)
			require.NoError(t, err)
			require.Equal(t, []uint64{tc.newAmountA, tc.newAmountB, ticks, tc.newLiquidity}, out)
		})
	}

	t.Run("Overflow", func(t *testing.T) {
		_, err := Evaluate(Rebalance, 3, testSeed, math.MaxUint64/2, 0, ticks, 2000)
		require.ErrorIs(t, err, circuit.ErrOverflow)
	})

	t.Run("Price=0/LargeAmount", func(t *testing.T) {
		out, err := Evaluate(Rebalance, 3, testSeed, 1000, 1<<62, PackTicks(-10, 10), 0)
		require.NoError(t, err)
		require.Equal(t, uint64(0), out[0])
		require.Equal(t, uint64(1<<61), out[1])
	})

	t.Run("MissingInput", func(t *testing.T) {
		_, err := Evaluate(Rebalance, 3, testSeed, 1, 2, 3)
		require.ErrorIs(t, err, circuit.ErrInput)
	})
}

func TestView(t *testing.T) {
	out, err := Evaluate(View, 2, testSeed, 1, 2, PackTicks(3, 4))
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, PackTicks(3, 4)}, out)
}

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name             circuit.Name
		inputs, outputs  int
		nonLinearAtLeast int
	}{
		{DepositName, 3, 3, 0},
		{RebalanceName, 4, 4, 5},
		{ViewName, 3, 3, 0},
	} {
		t.Run(string(tc.name), func(t *testing.T) {
			entry, exists := Library[tc.name]
			require.True(t, exists)
			md, err := Parse(tc.name, entry.Circuit)
			require.NoError(t, err)
			require.Equal(t, tc.inputs, md.Inputs)
			require.Equal(t, tc.outputs, md.Outputs)
			require.Len(t, entry.Inputs, md.Inputs)
			require.Len(t, entry.Outputs, md.Outputs)
			require.GreaterOrEqual(t, md.NonLinear, tc.nonLinearAtLeast)
			require.Equal(t, tc.name.ID(), md.ID)
		})
	}

	t.Run("NoOutput", func(t *testing.T) {
		_, err := Parse("no-output", func(rt circuit.Runtime) error { rt.Input(0); return nil })
		require.Error(t, err)
	})

	t.Run("SparseInputs", func(t *testing.T) {
		_, err := Parse("sparse", func(rt circuit.Runtime) error { return rt.Output(rt.Input(1)) })
		require.Error(t, err)
	})
}

func TestTicks(t *testing.T) {
	for _, r := range [][2]int32{{0, 0}, {-1, 1}, {math.MinInt32, math.MaxInt32}, {-887272, 887272}} {
		lo, hi := UnpackTicks(PackTicks(r[0], r[1]))
		require.Equal(t, r[0], lo)
		require.Equal(t, r[1], hi)
	}
	require.Less(t, PackTicks(-5, 0)&math.MaxUint32, PackTicks(5, 0)&math.MaxUint32)
}

func TestCircuitID(t *testing.T) {
	require.NotEqual(t, DepositName.ID(), RebalanceName.ID())
	require.Equal(t, DepositName.ID(), circuit.Name("encrypted_deposit").ID())
}
