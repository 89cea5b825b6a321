package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ldsec/poseidon"
	"github.com/ldsec/poseidon/args"
	"github.com/ldsec/poseidon/circuit"
	"github.com/ldsec/poseidon/crypto"
	"github.com/ldsec/poseidon/events"
	"github.com/ldsec/poseidon/ledger"
	"github.com/ldsec/poseidon/rebalance"
	"github.com/ldsec/poseidon/services/compute"
)

// Server serves the HTTP API of a node.
type Server struct {
	id        poseidon.NodeID
	compute   *compute.Service
	sequences *ledger.Ledger
	publisher *events.Publisher
	stores    map[rebalance.Arity]*rebalance.Store
}

// NewServer creates a new HTTP API server. The last sequence number of each
// signer is recorded in l. The stores are indexed by their arity.
func NewServer(id poseidon.NodeID, cs *compute.Service, l *ledger.Ledger, pub *events.Publisher, stores ...*rebalance.Store) *Server {
	s := &Server{id: id, compute: cs, sequences: l, publisher: pub, stores: make(map[rebalance.Arity]*rebalance.Store)}
	for _, st := range stores {
		s.stores[st.Arity()] = st
	}
	return s
}

// RegisterRoutes registers the HTTP routes of the API.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Get("/definitions", s.handleGetDefinitions)
	r.Post("/definitions", s.handleRegisterDefinition)

	r.Post("/computations", s.handleQueue)
	r.Get("/computations/{circuit}/{offset}", s.handleGetComputation)
	r.Get("/events", s.handleEvents)

	r.Route("/rebalance/{arity}", func(r chi.Router) {
		r.Post("/enable", s.handleEnable)
		r.Post("/disable", s.handleDisable)
		r.Get("/{owner}", s.handleIsEnabled)
	})
}

// Handler returns a router serving the API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": string(s.id)})
}

func (s *Server) handleGetDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.compute.Definitions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleRegisterDefinition(w http.ResponseWriter, r *http.Request) {
	req, authority, ok := readSigned[DefinitionRequest](s, w, r)
	if !ok {
		return
	}
	def, err := s.compute.RegisterDefinition(r.Context(), authority, req.Circuit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	req, requester, ok := readSigned[QueueRequest](s, w, r)
	if !ok {
		return
	}
	bundle := new(args.Bundle)
	if err := bundle.UnmarshalBinary(req.Args); err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", compute.ErrMalformedArgs, err))
		return
	}
	pc, err := s.compute.Queue(r.Context(), compute.QueueRequest{
		Circuit:     req.Circuit,
		Offset:      req.Offset,
		Args:        bundle,
		Requester:   requester,
		Certificate: req.Certificate,
		Accounts:    req.Accounts,
		Callback:    req.Callback,
		Priority:    req.Priority,
		Flags:       req.Flags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ComputationStatus{Circuit: req.Circuit, Offset: req.Offset, Status: pc.Status.String(), Record: pc})
}

func (s *Server) handleGetComputation(w http.ResponseWriter, r *http.Request) {
	name := circuit.Name(chi.URLParam(r, "circuit"))
	offset, err := strconv.ParseUint(chi.URLParam(r, "offset"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Error: "invalid offset"})
		return
	}
	pc, err := s.compute.PendingComputation(name, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ComputationStatus{Circuit: name, Offset: offset, Status: pc.Status.String(), Record: pc})
}

// handleEvents streams the published events as JSON lines until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, Error{Error: "streaming not supported"})
		return
	}
	sub := s.publisher.Subscribe(r.Context())
	defer sub.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for ev := range sub.C {
		if err := enc.Encode(ev); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) store(w http.ResponseWriter, r *http.Request) (*rebalance.Store, bool) {
	var arity rebalance.Arity
	switch chi.URLParam(r, "arity") {
	case "owner":
		arity = rebalance.PerOwner
	case "position":
		arity = rebalance.PerPosition
	}
	st, has := s.stores[arity]
	if !has {
		writeJSON(w, http.StatusNotFound, Error{Error: "no such rebalance store"})
	}
	return st, has
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	req, signer, ok := readSigned[EnableRequest](s, w, r)
	if !ok {
		return
	}
	conf, err := st.Enable(r.Context(), rebalance.Request{Signer: signer, Position: req.Position, Account: req.Account}, req.MaxSlippageBps, req.MinYieldBps)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	req, signer, ok := readSigned[DisableRequest](s, w, r)
	if !ok {
		return
	}
	if err := st.Disable(r.Context(), rebalance.Request{Signer: signer, Position: req.Position, Account: req.Account}); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleIsEnabled(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	owner, err := poseidon.PubkeyFromString(chi.URLParam(r, "owner"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Error: "invalid owner: " + err.Error()})
		return
	}
	var position poseidon.Pubkey
	if p := r.URL.Query().Get("position"); p != "" {
		if position, err = poseidon.PubkeyFromString(p); err != nil {
			writeJSON(w, http.StatusBadRequest, Error{Error: "invalid position: " + err.Error()})
			return
		}
	}
	conf, err := st.IsEnabled(r.Context(), owner, position)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

// readSigned decodes a signed envelope from the request body, verifies its
// signature and consumes its sequence number. An envelope whose sequence
// number does not exceed the last one accepted from its signer is rejected.
func readSigned[T any](s *Server, w http.ResponseWriter, r *http.Request) (*T, poseidon.Pubkey, bool) {
	var signed crypto.Signed[T]
	if err := json.NewDecoder(r.Body).Decode(&signed); err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Error: "invalid request: " + err.Error()})
		return nil, poseidon.Pubkey{}, false
	}
	obj, signer, err := signed.Recover()
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, Error{Error: err.Error()})
		return nil, poseidon.Pubkey{}, false
	}
	if err := s.sequences.Advance(signer, signed.Sequence); err != nil {
		s.writeError(w, err)
		return nil, poseidon.Pubkey{}, false
	}
	return obj, signer, true
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, compute.ErrUnknownCircuit), errors.Is(err, compute.ErrNotPending), errors.Is(err, rebalance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, compute.ErrMalformedArgs):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrStaleSequence):
		return http.StatusUnauthorized
	case errors.Is(err, rebalance.ErrNotOwner), errors.Is(err, poseidon.ErrAddressMismatch):
		return http.StatusForbidden
	case errors.Is(err, compute.ErrAlreadyRegistered), errors.Is(err, compute.ErrCollision):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.Printf("%s | [api] internal error: %v\n", s.id, err)
	}
	writeJSON(w, code, Error{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] could not encode response: %v\n", err)
	}
}
