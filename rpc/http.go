package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custodia/core"
	"custodia/crypto"
	"custodia/native/settlement"
	"custodia/observability"
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

	codeSettlementInvalidParams = -32021
	codeSettlementNotFound      = -32022
	codeSettlementForbidden     = -32023
	codeSettlementConflict      = -32024
	codeSettlementInternal      = -32025
)

// Server exposes the node's settlement and timelock operations over
// JSON-RPC 2.0.
type Server struct {
	node      *core.Node
	authToken string
	log       *slog.Logger
}

// NewServer creates a JSON-RPC server. A blank authToken leaves mutating
// methods open; production deployments always set one.
func NewServer(node *core.Node, authToken string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{node: node, authToken: strings.TrimSpace(authToken), log: log}
}

// Handler returns the HTTP handler serving the RPC endpoint and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// writeEngineError maps an engine failure to the settlement error space.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status, code, message := classify(err)
	writeError(w, status, id, code, message, err.Error())
}

func classify(err error) (int, int, string) {
	switch {
	case errors.Is(err, settlement.ErrNotFound),
		errors.Is(err, settlement.ErrMilestoneNotFound):
		return http.StatusNotFound, codeSettlementNotFound, "not_found"
	case errors.Is(err, settlement.ErrUnauthorized),
		errors.Is(err, settlement.ErrBuyerOnly),
		errors.Is(err, settlement.ErrSellerOnly),
		errors.Is(err, settlement.ErrArbitratorOnly),
		errors.Is(err, settlement.ErrAdminOnly),
		errors.Is(err, settlement.ErrParticipantOnly):
		return http.StatusForbidden, codeSettlementForbidden, "forbidden"
	case errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidInput),
		errors.Is(err, settlement.ErrDeadlineInPast),
		errors.Is(err, settlement.ErrInvalidCondition),
		errors.Is(err, settlement.ErrTotalMismatch),
		errors.Is(err, settlement.ErrInvalidMilestoneData):
		return http.StatusBadRequest, codeSettlementInvalidParams, "invalid_params"
	case errors.Is(err, settlement.ErrWrongStatus),
		errors.Is(err, settlement.ErrAlreadyFunded),
		errors.Is(err, settlement.ErrAlreadyApproved),
		errors.Is(err, settlement.ErrAlreadyDisputed),
		errors.Is(err, settlement.ErrNotDisputed),
		errors.Is(err, settlement.ErrAlreadyRequested),
		errors.Is(err, settlement.ErrConditionNotMet),
		errors.Is(err, settlement.ErrNotEnoughApprovals),
		errors.Is(err, settlement.ErrExpired),
		errors.Is(err, settlement.ErrLocked),
		errors.Is(err, settlement.ErrDuplicateDeposit),
		errors.Is(err, settlement.ErrInsufficientBalance):
		return http.StatusConflict, codeSettlementConflict, "conflict"
	default:
		return http.StatusInternalServerError, codeSettlementInternal, "internal_error"
	}
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid token"}
	}
	return nil
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}

	start := time.Now()
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.dispatch(recorder, r, &req)
	module, method := splitMethod(req.Method)
	observability.ModuleMetrics().Observe(module, method, recorder.status, time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func splitMethod(method string) (string, string) {
	parts := strings.SplitN(method, "_", 2)
	if len(parts) != 2 {
		return "unknown", method
	}
	return parts[0], parts[1]
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "settlement_create":
		s.handleCreate(w, r, req)
	case "settlement_fund":
		s.handleFund(w, r, req)
	case "settlement_markDelivered":
		s.handleMarkDelivered(w, r, req)
	case "settlement_confirmDelivery":
		s.handleConfirmDelivery(w, r, req)
	case "settlement_verifyCondition":
		s.handleVerifyCondition(w, r, req)
	case "settlement_approve":
		s.handleApprove(w, r, req)
	case "settlement_cancel":
		s.handleCancel(w, r, req)
	case "settlement_requestRefund":
		s.handleRequestRefund(w, r, req)
	case "settlement_processRefund":
		s.handleProcessRefund(w, r, req)
	case "settlement_resolveRefund":
		s.handleResolveRefund(w, r, req)
	case "settlement_dispute":
		s.handleDispute(w, r, req)
	case "settlement_resolve":
		s.handleResolve(w, r, req)
	case "settlement_proposeCancellation":
		s.handleProposeCancellation(w, r, req)
	case "settlement_agreeCancellation":
		s.handleAgreeCancellation(w, r, req)
	case "settlement_withdrawProposal":
		s.handleWithdrawProposal(w, r, req)
	case "settlement_resetProposal":
		s.handleResetProposal(w, r, req)
	case "settlement_completeMilestone":
		s.handleCompleteMilestone(w, r, req)
	case "settlement_approveMilestone":
		s.handleApproveMilestone(w, r, req)
	case "settlement_disputeMilestone":
		s.handleDisputeMilestone(w, r, req)
	case "settlement_resolveMilestone":
		s.handleResolveMilestone(w, r, req)
	case "settlement_get":
		s.handleGet(w, req)
	case "settlement_listByParty":
		s.handleListByParty(w, req)
	case "settlement_milestones":
		s.handleMilestones(w, req)
	case "timelock_deposit":
		s.handleTimelockDeposit(w, r, req)
	case "timelock_withdraw":
		s.handleTimelockWithdraw(w, r, req)
	case "timelock_clawback":
		s.handleTimelockClawback(w, r, req)
	case "timelock_get":
		s.handleTimelockGet(w, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
	}
}

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func parseBech32Address(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes(), nil
}
