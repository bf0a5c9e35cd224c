package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/VetheonGames/FileZap/DHTNode/pkg/kv"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/relay"
	"github.com/VetheonGames/FileZap/DHTNode/pkg/session"
)

var log = logging.Logger("dhtnode/server")

const (
	// WalletHeader carries the caller's wallet identity
	WalletHeader = "X-Wallet-Address"

	maxBodyBytes = 1 << 20
)

// Server exposes the node session over HTTP
type Server struct {
	session *session.Session
	store   *kv.Store
	relays  *relay.Directory
	router  *mux.Router
	http    *http.Server
}

// NewServer creates the HTTP API for a session
func NewServer(s *session.Session, store *kv.Store, relays *relay.Directory) *Server {
	srv := &Server{
		session: s,
		store:   store,
		relays:  relays,
		router:  mux.NewRouter(),
	}
	srv.http = &http.Server{
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.setupRoutes()
	return srv
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/ping", s.handlePing).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Node lifecycle
	s.router.HandleFunc("/dht/init", s.handleInit).Methods("POST")
	s.router.HandleFunc("/dht/start", s.handleStart).Methods("POST")
	s.router.HandleFunc("/dht/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/dht/status", s.handleStatus).Methods("GET")

	// Relay directory
	s.router.HandleFunc("/dht/wireguard-nodes", s.handlePublishRelay).Methods("POST")
	s.router.HandleFunc("/dht/wireguard-nodes", s.handleListRelays).Methods("GET")
	s.router.HandleFunc("/dht/wireguard-nodes/{wallet}", s.handleLookupRelay).Methods("GET")

	// Raw values
	s.router.HandleFunc("/dht/values/{key}", s.handlePutValue).Methods("PUT")
	s.router.HandleFunc("/dht/values/{key}", s.handleGetValue).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Message: "route not found", Error: "NotFound"})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Message: "method not allowed", Error: "InvalidArgument"})
	})
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the server and blocks until it is shut down
func (s *Server) ListenAndServe(addr string) error {
	s.http.Addr = addr

	log.Infof("Starting DHT node API on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and leaves the network
func (s *Server) Shutdown(ctx context.Context) error {
	return multierr.Combine(
		s.http.Shutdown(ctx),
		s.session.Close(ctx),
	)
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type walletRequest struct {
	WalletAddress string `json:"walletAddress"`
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	id, err := s.session.Initialize(r.Context())
	if err != nil {
		writeError(w, "init", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		SessionID string `json:"sessionId"`
	}{
		envelope:  envelope{Success: true, Message: "DHT node initialized"},
		SessionID: id,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	wallet, err := requestWallet(w, r)
	if err != nil {
		writeError(w, "start", err)
		return
	}

	res, err := s.session.Start(r.Context(), wallet)
	if err != nil {
		writeError(w, "start", err)
		return
	}

	msg := "DHT node started"
	if res.AlreadyRunning {
		msg = "DHT node already running"
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		session.StartResult
	}{
		envelope:    envelope{Success: true, Message: msg},
		StartResult: res,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	wallet, err := requestWallet(w, r)
	if err != nil {
		writeError(w, "stop", err)
		return
	}

	res, err := s.session.Stop(r.Context(), wallet)
	if err != nil {
		writeError(w, "stop", err)
		return
	}

	msg := "DHT node stopped"
	if !res.WasActive {
		msg = "DHT node is not running"
	}
	writeJSON(w, http.StatusOK, struct {
		envelope
		session.StopResult
	}{
		envelope:   envelope{Success: true, Message: msg},
		StopResult: res,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimSpace(r.Header.Get(WalletHeader))
	if wallet == "" {
		wallet = strings.TrimSpace(r.URL.Query().Get("wallet"))
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		session.Status
	}{
		envelope: envelope{Success: true},
		Status:   s.session.Status(r.Context(), wallet),
	})
}

func (s *Server) handlePublishRelay(w http.ResponseWriter, r *http.Request) {
	var req relay.PublishRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, "publish", err)
		return
	}

	headerWallet := strings.TrimSpace(r.Header.Get(WalletHeader))
	req.WalletAddress = strings.TrimSpace(req.WalletAddress)
	switch {
	case req.WalletAddress == "":
		req.WalletAddress = headerWallet
	case headerWallet != "" && headerWallet != req.WalletAddress:
		writeError(w, "publish", fmt.Errorf("%w: wallet in body does not match %s", session.ErrInvalidArgument, WalletHeader))
		return
	}

	ad, err := s.relays.Publish(r.Context(), req)
	if err != nil {
		writeError(w, "publish", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		Node relay.Advertisement `json:"node"`
	}{
		envelope: envelope{Success: true, Message: "relay node published"},
		Node:     ad,
	})
}

func (s *Server) handleListRelays(w http.ResponseWriter, r *http.Request) {
	ads, err := s.relays.List(r.Context())
	if err != nil {
		writeError(w, "list", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		Nodes []relay.Advertisement `json:"nodes"`
	}{
		envelope: envelope{Success: true},
		Nodes:    ads,
	})
}

func (s *Server) handleLookupRelay(w http.ResponseWriter, r *http.Request) {
	ad, err := s.relays.Lookup(r.Context(), mux.Vars(r)["wallet"])
	if err != nil {
		writeError(w, "lookup", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		Node relay.Advertisement `json:"node"`
	}{
		envelope: envelope{Success: true},
		Node:     ad,
	})
}

func (s *Server) handlePutValue(w http.ResponseWriter, r *http.Request) {
	var value json.RawMessage
	if err := decodeBody(w, r, &value); err != nil {
		writeError(w, "put", err)
		return
	}
	if len(value) == 0 {
		writeError(w, "put", fmt.Errorf("%w: request body must be a JSON value", session.ErrInvalidArgument))
		return
	}

	key := mux.Vars(r)["key"]
	if relay.Reserved(key) {
		writeError(w, "put", fmt.Errorf("%w: key %q is reserved for relay advertisements", session.ErrInvalidArgument, key))
		return
	}
	if err := s.store.Put(r.Context(), key, value); err != nil {
		writeError(w, "put", err)
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "value stored"})
}

func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	value, err := s.store.GetRaw(r.Context(), key)
	if err != nil {
		writeError(w, "get", err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		envelope
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}{
		envelope: envelope{Success: true},
		Key:      key,
		Value:    value,
	})
}

// requestWallet reads the wallet from the header, falling back to the body
func requestWallet(w http.ResponseWriter, r *http.Request) (string, error) {
	if wallet := strings.TrimSpace(r.Header.Get(WalletHeader)); wallet != "" {
		return wallet, nil
	}

	var req walletRequest
	if err := decodeBody(w, r, &req); err != nil {
		return "", err
	}
	return strings.TrimSpace(req.WalletAddress), nil
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body", session.ErrInvalidArgument)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to write response: %v", err)
	}
}

// writeError maps err to a status code and a message that leaks neither
// network internals nor the identity of the session owner.
func writeError(w http.ResponseWriter, op string, err error) {
	kind := session.Kind(err)

	var status int
	var msg string
	switch kind {
	case "InvalidArgument":
		status, msg = http.StatusBadRequest, err.Error()
	case "OwnershipConflict":
		status, msg = http.StatusForbidden, "DHT node is controlled by another wallet"
	case "NodeNotActive":
		status, msg = http.StatusConflict, "DHT node is not running"
	case "NetworkUnavailable":
		status, msg = http.StatusServiceUnavailable, "network unavailable, try again later"
	case "NetworkJoinFailed":
		status, msg = http.StatusBadGateway, "failed to join the network"
	case "NetworkLeaveFailed":
		status, msg = http.StatusBadGateway, "failed to leave the network cleanly"
	case "NotFound":
		status, msg = http.StatusNotFound, "not found"
	case "EncodingError":
		status, msg = http.StatusUnprocessableEntity, "value could not be encoded or decoded"
	default:
		kind = "Internal"
		status, msg = http.StatusInternalServerError, "internal error"
	}

	switch kind {
	case "NodeNotActive", "NotFound":
		log.Debugf("%s: %v", op, err)
	case "InvalidArgument", "OwnershipConflict":
		log.Infof("%s rejected: %s", op, kind)
	default:
		log.Errorf("%s failed: %v", op, err)
	}

	writeJSON(w, status, envelope{Success: false, Message: msg, Error: kind})
}
