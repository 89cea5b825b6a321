package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/api"
	"github.com/ldsec/poseidon/args"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/events"
	"github.com/ldsec/poseidon/rebalance"
	"github.com/ldsec/poseidon/services/compute"
	"go.uber.org/atomic"
)

// StatusError is returned for API responses with an error status.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// APIClient calls the HTTP API of a node, signing its requests with its signing key.
type APIClient struct {
	baseURL string
	http    *http.Client
	sk      crypto.SigningKey
	seq     atomic.Uint64
}

// NewAPIClient creates a client of the API at baseURL. If hc is nil,
// http.DefaultClient is used.
func NewAPIClient(baseURL string, sk crypto.SigningKey, hc *http.Client) *APIClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &APIClient{baseURL: strings.TrimSuffix(baseURL, "/"), http: hc, sk: sk}
}

// Identity returns the identity the client signs as.
func (c *APIClient) Identity() poseidon.Pubkey {
	return c.sk.Public()
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr api.Error
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Code: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// nextSequence returns a sequence number greater than any previously returned
// by c. Sequence numbers follow the wall clock so that they keep increasing
// across client restarts.
func (c *APIClient) nextSequence() uint64 {
	for {
		last := c.seq.Load()
		next := uint64(time.Now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if c.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

func sign[T any](c *APIClient, obj *T) (*crypto.Signed[T], error) {
	return crypto.NewSigned(c.sk, c.nextSequence(), obj)
}

// Definitions returns the registered computation definitions.
func (c *APIClient) Definitions(ctx context.Context) (defs []compute.Definition, err error) {
	err = c.do(ctx, http.MethodGet, "/definitions", nil, &defs)
	return defs, err
}

// RegisterDefinition registers the definition of circuit name, with the client as authority.
func (c *APIClient) RegisterDefinition(ctx context.Context, name circuit.Name) (*compute.Definition, error) {
	env, err := sign(c, &api.DefinitionRequest{Circuit: name})
	if err != nil {
		return nil, err
	}
	def := new(compute.Definition)
	return def, c.do(ctx, http.MethodPost, "/definitions", env, def)
}

// Queue queues the computation of circuit name at offset on bundle, with
// the client as requester. The accounts are derived for program.
func (c *APIClient) Queue(ctx context.Context, program poseidon.Pubkey, name circuit.Name, offset uint64, bundle *args.Bundle) (*api.ComputationStatus, error) {
	payload, err := bundle.MarshalBinary()
	if err != nil {
		return nil, err
	}
	env, err := sign(c, &api.QueueRequest{
		Circuit:  name,
		Offset:   offset,
		Args:     payload,
		Accounts: compute.ExpectedAccounts(program, name.ID(), offset),
	})
	if err != nil {
		return nil, err
	}
	st := new(api.ComputationStatus)
	return st, c.do(ctx, http.MethodPost, "/computations", env, st)
}

// Computation returns the status of the computation of circuit name at offset.
func (c *APIClient) Computation(ctx context.Context, name circuit.Name, offset uint64) (*api.ComputationStatus, error) {
	st := new(api.ComputationStatus)
	return st, c.do(ctx, http.MethodGet, fmt.Sprintf("/computations/%s/%d", name, offset), nil, st)
}

func arityPath(a rebalance.Arity) string {
	if a == rebalance.PerPosition {
		return "position"
	}
	return "owner"
}

// Enable enables rebalancing for the client, or for one of its positions,
// at the given account.
func (c *APIClient) Enable(ctx context.Context, arity rebalance.Arity, position poseidon.Pubkey, account poseidon.Address, maxSlippageBps, minYieldBps uint16) (*rebalance.Config, error) {
	env, err := sign(c, &api.EnableRequest{Position: position, Account: account, MaxSlippageBps: maxSlippageBps, MinYieldBps: minYieldBps})
	if err != nil {
		return nil, err
	}
	conf := new(rebalance.Config)
	return conf, c.do(ctx, http.MethodPost, "/rebalance/"+arityPath(arity)+"/enable", env, conf)
}

// Disable disables rebalancing at the given account.
func (c *APIClient) Disable(ctx context.Context, arity rebalance.Arity, position poseidon.Pubkey, account poseidon.Address) error {
	env, err := sign(c, &api.DisableRequest{Position: position, Account: account})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/rebalance/"+arityPath(arity)+"/disable", env, nil)
}

// IsEnabled returns the rebalance configuration of owner and position.
func (c *APIClient) IsEnabled(ctx context.Context, arity rebalance.Arity, owner, position poseidon.Pubkey) (*rebalance.Config, error) {
	conf := new(rebalance.Config)
	return conf, c.do(ctx, http.MethodGet, "/rebalance/"+arityPath(arity)+"/"+owner.String()+"?position="+position.String(), nil, conf)
}

// Subscribe streams the events published by the node until ctx is done.
func (c *APIClient) Subscribe(ctx context.Context) (<-chan events.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Message: "could not subscribe"}
	}

	evs := make(chan events.Event)
	go func() {
		defer close(evs)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			var ev events.Event
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				return
			}
			select {
			case evs <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return evs, nil
}
