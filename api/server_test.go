package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/args"
	"github.com/ldsec/poseidon/circuits"
	"github.com/ldsec/poseidon/cluster"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/events"
	"github.com/ldsec/poseidon/ledger"
	"github.com/ldsec/poseidon/rebalance"
	"github.com/ldsec/poseidon/services/compute"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var testProgram = poseidon.Pubkey{0xaa}

type acceptAll struct{}

func (acceptAll) Submit(context.Context, *cluster.Request) error { return nil }

type testAPI struct {
	router chi.Router
	srv    *Server
	pub    *events.Publisher
	stores []*rebalance.Store
}

func newTestAPI(t *testing.T, funded ...poseidon.Pubkey) *testAPI {
	t.Helper()
	l := ledger.NewMemLedger("node")
	for _, id := range funded {
		require.NoError(t, l.Fund(id, 1<<40))
	}
	pub := events.NewPublisher(0)
	cs, err := compute.NewComputeService("node", compute.ServiceConfig{Program: testProgram}, l, acceptAll{}, cluster.Ed25519Verifier{}, cluster.Material{ClusterKey: poseidon.Pubkey{1}}, pub)
	require.NoError(t, err)
	require.NoError(t, cs.RegisterCircuits(circuits.Library))

	perOwner, err := rebalance.NewStore("node", l, testProgram, rebalance.PerOwner, nil)
	require.NoError(t, err)
	perPosition, err := rebalance.NewStore("node", l, testProgram, rebalance.PerPosition, nil)
	require.NoError(t, err)

	ta := &testAPI{router: chi.NewRouter(), pub: pub, stores: []*rebalance.Store{perOwner, perPosition}}
	ta.srv = NewServer("node", cs, l, pub, perOwner, perPosition)
	ta.srv.RegisterRoutes(ta.router)
	return ta
}

func (ta *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

var testSequence atomic.Uint64

// signed signs obj under a fresh sequence number.
func signed[T any](t *testing.T, sk crypto.SigningKey, obj *T) *crypto.Signed[T] {
	t.Helper()
	return signedAt(t, sk, testSequence.Inc(), obj)
}

func signedAt[T any](t *testing.T, sk crypto.SigningKey, seq uint64, obj *T) *crypto.Signed[T] {
	t.Helper()
	s, err := crypto.NewSigned(sk, seq, obj)
	require.NoError(t, err)
	return s
}

func newIdentity(t *testing.T) (poseidon.Pubkey, crypto.SigningKey) {
	t.Helper()
	pk, sk, err := crypto.GenerateSigningKey()
	require.NoError(t, err)
	return pk, sk
}

func TestHealth(t *testing.T) {
	ta := newTestAPI(t)
	w := ta.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestComputations(t *testing.T) {
	pk, sk := newIdentity(t)
	ta := newTestAPI(t, pk)

	t.Run("RegisterDefinition", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/definitions", signed(t, sk, &DefinitionRequest{Circuit: circuits.DepositName}))
		require.Equal(t, http.StatusCreated, w.Code)
		var def compute.Definition
		require.NoError(t, json.NewDecoder(w.Body).Decode(&def))
		require.Equal(t, pk, def.Authority)
		require.Equal(t, circuits.DepositName.ID(), def.ID)

		w = ta.do(t, http.MethodPost, "/definitions", signed(t, sk, &DefinitionRequest{Circuit: circuits.DepositName}))
		require.Equal(t, http.StatusConflict, w.Code)

		w = ta.do(t, http.MethodPost, "/definitions", signed(t, sk, &DefinitionRequest{Circuit: "unknown"}))
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("GetDefinitions", func(t *testing.T) {
		w := ta.do(t, http.MethodGet, "/definitions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var defs []compute.Definition
		require.NoError(t, json.NewDecoder(w.Body).Decode(&defs))
		require.Len(t, defs, 1)
	})

	t.Run("BadSignature", func(t *testing.T) {
		env := signed(t, sk, &DefinitionRequest{Circuit: circuits.ViewName})
		env.Object.Circuit = circuits.RebalanceName
		w := ta.do(t, http.MethodPost, "/definitions", env)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	queueReq := func(offset uint64, cts int) *QueueRequest {
		payload, err := args.Build(poseidon.Pubkey{2}, poseidon.NonceFromUint128(0, offset), make([]poseidon.Ciphertext, cts)...).MarshalBinary()
		require.NoError(t, err)
		return &QueueRequest{
			Circuit:  circuits.DepositName,
			Offset:   offset,
			Args:     payload,
			Accounts: compute.ExpectedAccounts(testProgram, circuits.DepositName.ID(), offset),
		}
	}

	t.Run("Queue", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/computations", signed(t, sk, queueReq(1, 3)))
		require.Equal(t, http.StatusAccepted, w.Code)
		var cs ComputationStatus
		require.NoError(t, json.NewDecoder(w.Body).Decode(&cs))
		require.Equal(t, "QUEUED", cs.Status)
		require.Equal(t, pk, cs.Record.Requester)

		w = ta.do(t, http.MethodGet, "/computations/encrypted_deposit/1", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = ta.do(t, http.MethodPost, "/computations", signed(t, sk, queueReq(1, 3)))
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("QueueErrors", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/computations", signed(t, sk, queueReq(2, 4)))
		require.Equal(t, http.StatusBadRequest, w.Code)

		short := queueReq(2, 3)
		short.Args = short.Args[:40]
		w = ta.do(t, http.MethodPost, "/computations", signed(t, sk, short))
		require.Equal(t, http.StatusBadRequest, w.Code)

		mismatch := queueReq(2, 3)
		mismatch.Accounts.Computation = compute.ComputationAddress(testProgram, circuits.DepositName.ID(), 3)
		w = ta.do(t, http.MethodPost, "/computations", signed(t, sk, mismatch))
		require.Equal(t, http.StatusForbidden, w.Code)

		_, poor := newIdentity(t)
		w = ta.do(t, http.MethodPost, "/computations", signed(t, poor, queueReq(2, 3)))
		require.Equal(t, http.StatusPaymentRequired, w.Code)

		w = ta.do(t, http.MethodGet, "/computations/encrypted_deposit/2", nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		w = ta.do(t, http.MethodGet, "/computations/encrypted_deposit/x", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRebalance(t *testing.T) {
	alice, aliceSk := newIdentity(t)
	_, bobSk := newIdentity(t)
	ta := newTestAPI(t, alice)
	position := poseidon.Pubkey{0x0f}
	perPosition := ta.stores[1]
	account := perPosition.Address(alice, position)
	path := "/rebalance/position/" + alice.String() + "?position=" + position.String()

	t.Run("Enable", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/rebalance/position/enable", signed(t, aliceSk, &EnableRequest{Position: position, Account: account, MaxSlippageBps: 50, MinYieldBps: 20}))
		require.Equal(t, http.StatusOK, w.Code)

		w = ta.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var conf rebalance.Config
		require.NoError(t, json.NewDecoder(w.Body).Decode(&conf))
		require.True(t, conf.Enabled)
		require.Equal(t, alice, conf.Owner)
		require.Equal(t, uint16(50), conf.MaxSlippageBps)
	})

	t.Run("PerOwnerIsIndependent", func(t *testing.T) {
		w := ta.do(t, http.MethodGet, "/rebalance/owner/"+alice.String(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("NotOwner", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/rebalance/position/disable", signed(t, bobSk, &DisableRequest{Position: position, Account: account}))
		require.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Disable", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/rebalance/position/disable", signed(t, aliceSk, &DisableRequest{Position: position, Account: account}))
		require.Equal(t, http.StatusNoContent, w.Code)
		w = ta.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("ReplayedDisable", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/rebalance/position/enable", signed(t, aliceSk, &EnableRequest{Position: position, Account: account, MaxSlippageBps: 50, MinYieldBps: 20}))
		require.Equal(t, http.StatusOK, w.Code)

		disable := signed(t, aliceSk, &DisableRequest{Position: position, Account: account})
		w = ta.do(t, http.MethodPost, "/rebalance/position/disable", disable)
		require.Equal(t, http.StatusNoContent, w.Code)

		w = ta.do(t, http.MethodPost, "/rebalance/position/enable", signed(t, aliceSk, &EnableRequest{Position: position, Account: account, MaxSlippageBps: 40, MinYieldBps: 10}))
		require.Equal(t, http.StatusOK, w.Code)

		w = ta.do(t, http.MethodPost, "/rebalance/position/disable", disable)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		w = ta.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var conf rebalance.Config
		require.NoError(t, json.NewDecoder(w.Body).Decode(&conf))
		require.True(t, conf.Enabled)
		require.Equal(t, uint16(40), conf.MaxSlippageBps)
	})

	t.Run("StaleSequence", func(t *testing.T) {
		w := ta.do(t, http.MethodPost, "/rebalance/position/disable", signedAt(t, aliceSk, 1, &DisableRequest{Position: position, Account: account}))
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("BadRequests", func(t *testing.T) {
		w := ta.do(t, http.MethodGet, "/rebalance/global/"+alice.String(), nil)
		require.Equal(t, http.StatusNotFound, w.Code)
		w = ta.do(t, http.MethodGet, "/rebalance/owner/zz", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		w = ta.do(t, http.MethodPost, "/rebalance/owner/enable", "not an envelope")
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestEvents(t *testing.T) {
	ta := newTestAPI(t)
	hs := httptest.NewServer(ta.router)
	defer hs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hs.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	published, err := ta.pub.Publish(events.Event{Kind: "DepositEvent", Circuit: circuits.DepositName, Offset: 4, Ciphertexts: []poseidon.Ciphertext{{1}}})
	require.NoError(t, err)

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(line, &ev))
	require.Equal(t, published.ID, ev.ID)
	require.Equal(t, published.Ciphertexts, ev.Ciphertexts)
}
