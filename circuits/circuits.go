// Package circuits provides the library of embedded circuits, a local
// secret-shared runtime to execute them, and circuit parsing.
package circuits

import (
	"math"

	"github.com/ldsec/poseidon/circuit"
)

const (
	// DepositName is the name of the deposit circuit.
	DepositName circuit.Name = "encrypted_deposit"
	// RebalanceName is the name of the rebalance circuit.
	RebalanceName circuit.Name = "encrypted_rebalance"
	// ViewName is the name of the view circuit.
	ViewName circuit.Name = "view_position"
)

// PriceScale is the decimal scale of the rebalance price input: a price of
// 2000 means 2.0 units of token b per unit of token a.
const PriceScale = 1000

// Deposit computes the liquidity of a new position as the sum of its amounts.
// The tick range is passed through to the position unchecked.
//
// Inputs: amount_a, amount_b, tick_range. Outputs: amount_a, amount_b, liquidity.
func Deposit(rt circuit.Runtime) error {
	amountA, amountB := rt.Input(0), rt.Input(1)
	rt.Input(2) // the tick range does not enter the liquidity

	// concentrated-liquidity math needs square roots, the sum is used instead
	liquidity := rt.Add(amountA, amountB)

	return rt.Output(amountA, amountB, liquidity)
}

// Rebalance splits the value of a position 50/50 between its two tokens at
// the given price, for a new tick range.
//
// Inputs: amount_a, amount_b, new_tick_range, price.
// Outputs: new_amount_a, new_amount_b, new_tick_range, new_liquidity.
func Rebalance(rt circuit.Runtime) error {
	amountA, amountB, newTicks, price := rt.Input(0), rt.Input(1), rt.Input(2), rt.Input(3)

	scale, zero := rt.Const(PriceScale), rt.Const(0)

	valueA := rt.Div(rt.Mul(amountA, price), scale)
	total := rt.Add(valueA, amountB)
	half := rt.Div(total, rt.Const(2))

	// the dividend is zeroed before scaling when the price is zero, a zero
	// divisor already yields zero
	num := rt.Select(rt.Gt(price, zero), half, zero)
	newAmountB := half
	newAmountA := rt.Div(rt.Mul(num, scale), price)
	newLiquidity := rt.Add(newAmountA, newAmountB)

	return rt.Output(newAmountA, newAmountB, newTicks, newLiquidity)
}

// View re-encrypts the attributes of a position unchanged.
//
// Inputs and outputs: amount_a, amount_b, tick_range.
func View(rt circuit.Runtime) error {
	return rt.Output(rt.Input(0), rt.Input(1), rt.Input(2))
}

// Entry is a circuit of the library with its signature and the kind of event
// its results are published as.
type Entry struct {
	circuit.Signature
	Circuit circuit.Circuit
	Event   string
}

// Library contains the embedded circuits.
var Library = map[circuit.Name]Entry{
	DepositName: {
		Signature: circuit.Signature{
			Name:    DepositName,
			Inputs:  []string{"amount_a", "amount_b", "tick_range"},
			Outputs: []string{"amount_a", "amount_b", "liquidity"},
		},
		Circuit: Deposit,
		Event:   "DepositEvent",
	},
	RebalanceName: {
		Signature: circuit.Signature{
			Name:    RebalanceName,
			Inputs:  []string{"amount_a", "amount_b", "new_tick_range", "price"},
			Outputs: []string{"new_amount_a", "new_amount_b", "new_tick_range", "new_liquidity"},
		},
		Circuit: Rebalance,
		Event:   "RebalanceEvent",
	},
	ViewName: {
		Signature: circuit.Signature{
			Name:    ViewName,
			Inputs:  []string{"amount_a", "amount_b", "tick_range"},
			Outputs: []string{"amount_a", "amount_b", "tick_range"},
		},
		Circuit: View,
		Event:   "ViewPositionEvent",
	},
}

const tickBias = 1 << 31

// PackTicks encodes a tick range into a single u64 value, lower tick in the
// low half. Ticks are biased so that their order is preserved.
func PackTicks(lower, upper int32) uint64 {
	return uint64(int64(upper)+tickBias)<<32 | uint64(int64(lower)+tickBias)
}

// UnpackTicks decodes a tick range encoded by PackTicks.
func UnpackTicks(v uint64) (lower, upper int32) {
	return int32(int64(v&math.MaxUint32) - tickBias), int32(int64(v>>32) - tickBias)
}
