package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendpool/native/common"
	"lendpool/observability/logging"
	"lendpool/rpc/modules"
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
	codeRateLimited    = -32020
)

// Mutating methods share a per-source request quota over one-minute epochs.
const maxMutationsPerMinute = 60

// Server exposes the lending module over JSON-RPC 2.0 on a single POST
// endpoint, with Prometheus metrics and a health probe alongside.
type Server struct {
	lending   *modules.LendingModule
	authToken string
	logger    *slog.Logger

	mu     sync.Mutex
	quotas map[string]common.QuotaNow
}

// NewServer builds the RPC server. The bearer token protecting mutating
// methods is read from LENDPOOL_RPC_TOKEN; when unset those methods are
// refused.
func NewServer(lending *modules.LendingModule, logger *slog.Logger) *Server {
	token := strings.TrimSpace(os.Getenv("LENDPOOL_RPC_TOKEN"))
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("rpc auth configured", logging.MaskField("token", token))
	return &Server{
		lending:   lending,
		authToken: token,
		logger:    logger,
		quotas:    make(map[string]common.QuotaNow),
	}
}

// allowSource enforces the per-source mutation quota. Sources are keyed by
// remote IP; callers behind a shared proxy share a bucket.
func (s *Server) allowSource(remoteAddr string) error {
	source, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || source == "" {
		source = remoteAddr
	}
	if source == "" {
		source = "unknown"
	}
	epoch := uint64(time.Now().Unix() / 60)
	quota := common.Quota{MaxRequestsPerMin: maxMutationsPerMinute}
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := common.CheckQuota(quota, epoch, s.quotas[source], 1, 0)
	if err != nil {
		return err
	}
	s.quotas[source] = next
	return nil
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Post("/", s.handle)
	return r
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

	switch req.Method {
	case "lend_deposit", "lend_withdraw", "lend_borrow", "lend_repay", "lend_liquidate":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		if err := s.allowSource(r.RemoteAddr); err != nil {
			writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", err.Error())
			return
		}
		switch req.Method {
		case "lend_deposit":
			s.handleLendDeposit(w, r, req)
		case "lend_withdraw":
			s.handleLendWithdraw(w, r, req)
		case "lend_borrow":
			s.handleLendBorrow(w, r, req)
		case "lend_repay":
			s.handleLendRepay(w, r, req)
		case "lend_liquidate":
			s.handleLendLiquidate(w, r, req)
		}
	case "lend_getPosition":
		s.handleLendGetPosition(w, r, req)
	case "lend_getHealthFactor":
		s.handleLendGetHealthFactor(w, r, req)
	case "lend_listAssets":
		s.handleLendListAssets(w, r, req)
	case "lend_setAllowedAsset":
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
		s.handleLendSetAllowedAsset(w, r, req)
	case "lend_recentEvents":
		s.handleLendRecentEvents(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
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
