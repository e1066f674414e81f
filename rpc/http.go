package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"peertrade/core"
	"peertrade/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server exposes the node's operations over a single JSON-RPC POST endpoint
// plus health and metrics routes.
type Server struct {
	node        *core.Node
	authToken   string
	adminSecret []byte
	metrics     *observability.RPCMetrics
}

// NewServer constructs an RPC server for the node. The bearer token guarding
// mutating methods comes from PEERTRADE_RPC_TOKEN and the admin JWT secret
// from PEERTRADE_ADMIN_SECRET.
func NewServer(node *core.Node) *Server {
	return &Server{
		node:        node,
		authToken:   strings.TrimSpace(os.Getenv("PEERTRADE_RPC_TOKEN")),
		adminSecret: []byte(strings.TrimSpace(os.Getenv("PEERTRADE_ADMIN_SECRET"))),
		metrics:     observability.RPC(),
	}
}

// SetAuthToken overrides the bearer token, primarily used in tests.
func (s *Server) SetAuthToken(token string) { s.authToken = strings.TrimSpace(token) }

// SetAdminSecret overrides the admin JWT secret, primarily used in tests.
func (s *Server) SetAdminSecret(secret []byte) { s.adminSecret = secret }

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start runs the HTTP server on the supplied address.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if recorder, ok := w.(*statusRecorder); ok {
		recorder.errCode = code
	}
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type handlerFunc func(http.ResponseWriter, *http.Request, *RPCRequest)

type route struct {
	handler   handlerFunc
	mutating  bool
	adminOnly bool
}

func (s *Server) routes() map[string]route {
	return map[string]route{
		"trade_create":            {handler: s.handleTradeCreate, mutating: true},
		"trade_accept":            {handler: s.handleTradeAccept, mutating: true},
		"trade_fund":              {handler: s.handleTradeFund, mutating: true},
		"trade_markFiatDeposited": {handler: s.handleTradeMarkFiatDeposited, mutating: true},
		"trade_release":           {handler: s.handleTradeRelease, mutating: true},
		"trade_cancel":            {handler: s.handleTradeCancel, mutating: true},
		"trade_refundExpired":     {handler: s.handleTradeRefundExpired, mutating: true},
		"trade_dispute":           {handler: s.handleTradeDispute, mutating: true},
		"trade_submitEvidence":    {handler: s.handleTradeSubmitEvidence, mutating: true},
		"trade_resolve":           {handler: s.handleTradeResolve, mutating: true},
		"trade_get":               {handler: s.handleTradeGet},
		"trade_history":           {handler: s.handleTradeHistory},
		"offer_create":            {handler: s.handleOfferCreate, mutating: true},
		"offer_setActive":         {handler: s.handleOfferSetActive, mutating: true},
		"offer_get":               {handler: s.handleOfferGet},
		"arb_register":            {handler: s.handleArbRegister, mutating: true},
		"arb_removeCurrency":      {handler: s.handleArbRemoveCurrency, mutating: true},
		"arb_get":                 {handler: s.handleArbGet},
		"arb_deactivate":          {handler: s.handleArbDeactivate, mutating: true, adminOnly: true},
		"arb_configureProvider":   {handler: s.handleArbConfigureProvider, mutating: true, adminOnly: true},
		"arb_fulfillRandomness":   {handler: s.handleArbFulfillRandomness, mutating: true},
	}
}

// handle is the main request handler that routes to specific handlers.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	rt, ok := s.routes()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if rt.mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	if rt.adminOnly {
		if authErr := s.requireAdmin(r); authErr != nil {
			writeError(w, http.StatusForbidden, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w}
	rt.handler(recorder, r, req)
	s.metrics.Observe(req.Method, recorder.errCode, time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	errCode int
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}
