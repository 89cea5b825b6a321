// Package api exposes the computation service and the authorization stores
// over HTTP. Mutating requests are signed envelopes (crypto.Signed) whose
// signer acts as the authority, requester or owner of the operation.
package api

import (
	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/services/compute"
)

// DefinitionRequest registers the definition of a library circuit.
type DefinitionRequest struct {
	Circuit circuit.Name `json:"circuit"`
}

// QueueRequest queues a computation. Args is the encoded argument bundle.
type QueueRequest struct {
	Circuit     circuit.Name           `json:"circuit"`
	Offset      uint64                 `json:"offset"`
	Args        []byte                 `json:"args"`
	Certificate []byte                 `json:"certificate,omitempty"`
	Accounts    compute.QueueAccounts  `json:"accounts"`
	Callback    compute.CallbackTarget `json:"callback"`
	Priority    uint64                 `json:"priority,omitempty"`
	Flags       uint64                 `json:"flags,omitempty"`
}

// EnableRequest enables rebalancing with the given thresholds.
type EnableRequest struct {
	Position       poseidon.Pubkey  `json:"position"`
	Account        poseidon.Address `json:"account"`
	MaxSlippageBps uint16           `json:"max_slippage_bps"`
	MinYieldBps    uint16           `json:"min_yield_bps"`
}

// DisableRequest disables rebalancing.
type DisableRequest struct {
	Position poseidon.Pubkey  `json:"position"`
	Account  poseidon.Address `json:"account"`
}

// ComputationStatus is the status of a computation.
type ComputationStatus struct {
	Circuit circuit.Name                `json:"circuit"`
	Offset  uint64                      `json:"offset"`
	Status  string                      `json:"status"`
	Record  *compute.PendingComputation `json:"record"`
}

// Error is the body of error responses.
type Error struct {
	Error string `json:"error"`
}
