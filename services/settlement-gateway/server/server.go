package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"custodia/core"
	"custodia/crypto"
	"custodia/native/settlement"
	"custodia/observability"
	"custodia/services/settlement-gateway/auth"
)

// Config captures the dependencies required to construct the gateway.
type Config struct {
	Node      *core.Node
	JWTSecret string
	RateLimit rate.Limit
	Burst     int
	Logger    *slog.Logger
}

// Server is the REST facade over the settlement node. It exists for
// integrators that cannot speak JSON-RPC; both surfaces hit the same node.
type Server struct {
	node    *core.Node
	log     *slog.Logger
	limiter *rate.Limiter
	router  http.Handler
}

// New constructs a configured gateway router with authentication, request
// identifiers and rate limiting.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RateLimit)
	}
	s := &Server{
		node:    cfg.Node,
		log:     cfg.Logger,
		limiter: rate.NewLimiter(cfg.RateLimit, cfg.Burst),
	}

	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.throttle)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOperator, auth.RoleViewer))
			r.Get("/settlements/{id}", s.getSettlement)
			r.Get("/settlements", s.listSettlements)
			r.Get("/settlements/{id}/milestones", s.listMilestones)
			r.Get("/timelocks", s.getTimelock)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleOperator))
			r.Post("/settlements", s.createSettlement)
			r.Post("/settlements/{id}/fund", s.actor(s.node.FundSettlement))
			r.Post("/settlements/{id}/deliver", s.actor(s.node.MarkDelivered))
			r.Post("/settlements/{id}/confirm", s.actor(s.node.ConfirmDelivery))
			r.Post("/settlements/{id}/approve", s.actor(s.node.ApproveSettlement))
			r.Post("/settlements/{id}/cancel", s.actor(s.node.CancelSettlement))
			r.Post("/settlements/{id}/verify", s.verifyCondition)
			r.Post("/settlements/{id}/refund-request", s.requestRefund)
			r.Post("/settlements/{id}/refund-process", s.processRefund)
			r.Post("/settlements/{id}/refund-resolve", s.resolveRefund)
			r.Post("/settlements/{id}/dispute", s.dispute)
			r.Post("/settlements/{id}/resolve", s.resolve)
			r.Post("/settlements/{id}/cancellation/propose", s.actor(s.node.ProposeCancellation))
			r.Post("/settlements/{id}/cancellation/agree", s.actor(s.node.AgreeCancellation))
			r.Post("/settlements/{id}/cancellation/withdraw", s.actor(s.node.WithdrawProposal))
			r.Post("/settlements/{id}/cancellation/reset", s.resetProposal)
			r.Post("/settlements/{id}/milestones/{index}/complete", s.milestone(s.node.CompleteMilestone))
			r.Post("/settlements/{id}/milestones/{index}/approve", s.milestone(s.node.ApproveMilestone))
			r.Post("/settlements/{id}/milestones/{index}/dispute", s.disputeMilestone)
			r.Post("/settlements/{id}/milestones/{index}/resolve", s.resolveMilestone)
			r.Post("/timelocks", s.createTimelock)
			r.Post("/timelocks/withdraw", s.timelockAction(s.node.TimelockWithdraw))
			r.Post("/timelocks/clawback", s.timelockAction(s.node.TimelockClawback))
		})
	})

	s.router = r
	return s
}

// Handler exposes the underlying router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves the gateway until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("starting settlement gateway", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		observability.ModuleMetrics().Observe("gateway", r.Method+" "+r.URL.Path, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := engineStatus(err)
	writeJSON(w, status, errorBody{Error: http.StatusText(status), Detail: err.Error()})
}

func engineStatus(err error) int {
	switch {
	case isAny(err, settlement.ErrNotFound, settlement.ErrMilestoneNotFound):
		return http.StatusNotFound
	case isAny(err,
		settlement.ErrUnauthorized, settlement.ErrBuyerOnly, settlement.ErrSellerOnly,
		settlement.ErrArbitratorOnly, settlement.ErrAdminOnly, settlement.ErrParticipantOnly):
		return http.StatusForbidden
	case isAny(err,
		settlement.ErrInvalidAmount, settlement.ErrInvalidInput, settlement.ErrDeadlineInPast,
		settlement.ErrInvalidCondition, settlement.ErrTotalMismatch, settlement.ErrInvalidMilestoneData):
		return http.StatusBadRequest
	case isAny(err,
		settlement.ErrWrongStatus, settlement.ErrAlreadyFunded, settlement.ErrAlreadyApproved,
		settlement.ErrAlreadyDisputed, settlement.ErrNotDisputed, settlement.ErrAlreadyRequested,
		settlement.ErrConditionNotMet, settlement.ErrNotEnoughApprovals, settlement.ErrExpired,
		settlement.ErrLocked, settlement.ErrDuplicateDeposit, settlement.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func pathIndex(r *http.Request) (uint32, error) {
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 32)
	return uint32(index), err
}

func decodeBody(r *http.Request, out interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(out)
}

func parseAddress(value string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes(), nil
}

type callerBody struct {
	Caller string `json:"caller"`
}

// actor wraps the common "record id + caller" mutation shape.
func (s *Server) actor(fn func(id uint64, caller [20]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
			return
		}
		var body callerBody
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
			return
		}
		caller, err := parseAddress(body.Caller)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
			return
		}
		if err := fn(id, caller); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) milestone(fn func(id uint64, caller [20]byte, index uint32) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
			return
		}
		index, err := pathIndex(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_index"})
			return
		}
		var body callerBody
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
			return
		}
		caller, err := parseAddress(body.Caller)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
			return
		}
		if err := fn(id, caller, index); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type createSettlementBody struct {
	Buyer            string `json:"buyer"`
	Seller           string `json:"seller"`
	Arbitrator       string `json:"arbitrator,omitempty"`
	Asset            string `json:"asset"`
	Amount           string `json:"amount"`
	DeliveryDeadline int64  `json:"deliveryDeadline,omitempty"`
	RefundDeadline   int64  `json:"refundDeadline,omitempty"`
	Condition        struct {
		Kind         string `json:"kind"`
		ReleaseAfter int64  `json:"releaseAfter,omitempty"`
		Required     uint32 `json:"required,omitempty"`
	} `json:"condition"`
	Milestones []struct {
		Description string `json:"description"`
		Amount      string `json:"amount"`
	} `json:"milestones,omitempty"`
}

func (s *Server) createSettlement(w http.ResponseWriter, r *http.Request) {
	var body createSettlementBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	buyer, err := parseAddress(body.Buyer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_buyer", Detail: err.Error()})
		return
	}
	seller, err := parseAddress(body.Seller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_seller", Detail: err.Error()})
		return
	}
	var arbitrator [20]byte
	if strings.TrimSpace(body.Arbitrator) != "" {
		arbitrator, err = parseAddress(body.Arbitrator)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_arbitrator", Detail: err.Error()})
			return
		}
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(body.Amount), 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_amount"})
		return
	}
	kind, err := settlement.ParseConditionKind(strings.TrimSpace(body.Condition.Kind))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_condition", Detail: err.Error()})
		return
	}
	milestones := make([]settlement.MilestoneData, 0, len(body.Milestones))
	for _, m := range body.Milestones {
		tranche, ok := new(big.Int).SetString(strings.TrimSpace(m.Amount), 10)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_milestone_amount"})
			return
		}
		milestones = append(milestones, settlement.MilestoneData{Description: m.Description, Amount: tranche})
	}

	record, err := s.node.CreateSettlement(settlement.CreateParams{
		Buyer:      buyer,
		Seller:     seller,
		Arbitrator: arbitrator,
		Asset:      body.Asset,
		Amount:     amount,
		Condition: settlement.Condition{
			Kind:         kind,
			ReleaseAfter: body.Condition.ReleaseAfter,
			Required:     body.Condition.Required,
		},
		DeliveryDeadline: body.DeliveryDeadline,
		RefundDeadline:   body.RefundDeadline,
		Milestones:       milestones,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordView(record))
}

func (s *Server) getSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	record, err := s.node.GetSettlement(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordView(record))
}

func (s *Server) listSettlements(w http.ResponseWriter, r *http.Request) {
	party, err := parseAddress(r.URL.Query().Get("party"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_party", Detail: err.Error()})
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.node.SettlementsByParty(party, offset, limit)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		out = append(out, recordView(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listMilestones(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	milestones, err := s.node.Milestones(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(milestones))
	for _, m := range milestones {
		out = append(out, map[string]interface{}{
			"index":       m.Index,
			"description": m.Description,
			"amount":      m.Amount.String(),
			"status":      m.Status.String(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type verifyBody struct {
	Caller      string `json:"caller"`
	OracleInput *bool  `json:"oracleInput,omitempty"`
}

func (s *Server) verifyCondition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	var body verifyBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	if err := s.node.VerifyCondition(id, caller, body.OracleInput); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type reasonBody struct {
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) requestRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	var body reasonBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	if err := s.node.RequestRefund(id, caller, body.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) processRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	if err := s.node.ProcessRefund(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveRefundBody struct {
	Caller  string `json:"caller"`
	Approve bool   `json:"approve"`
}

func (s *Server) resolveRefund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	var body resolveRefundBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	if err := s.node.ResolveRefund(id, caller, body.Approve); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) dispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	var body reasonBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	if err := s.node.DisputeSettlement(id, caller, body.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type resolveBody struct {
	Caller  string `json:"caller"`
	Outcome string `json:"outcome"`
}

func parseOutcome(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "release", "release_seller":
		return true, true
	case "refund", "refund_buyer":
		return false, true
	default:
		return false, false
	}
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	var body resolveBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	releaseToSeller, ok := parseOutcome(body.Outcome)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_outcome"})
		return
	}
	if err := s.node.ResolveSettlement(id, caller, releaseToSeller); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) resetProposal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	if err := s.node.ResetExpiredProposal(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) disputeMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_index"})
		return
	}
	var body reasonBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	if err := s.node.DisputeMilestone(id, caller, index, body.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) resolveMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_id"})
		return
	}
	index, err := pathIndex(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_index"})
		return
	}
	var body resolveBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	caller, err := parseAddress(body.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
		return
	}
	releaseToSeller, ok := parseOutcome(body.Outcome)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_outcome"})
		return
	}
	if err := s.node.ResolveMilestone(id, caller, index, releaseToSeller); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type timelockBody struct {
	Depositor  string `json:"depositor"`
	Withdrawer string `json:"withdrawer"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount,omitempty"`
	Caller     string `json:"caller,omitempty"`
}

func (s *Server) createTimelock(w http.ResponseWriter, r *http.Request) {
	var body timelockBody
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
		return
	}
	depositor, err := parseAddress(body.Depositor)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_depositor", Detail: err.Error()})
		return
	}
	withdrawer, err := parseAddress(body.Withdrawer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_withdrawer", Detail: err.Error()})
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(body.Amount), 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_amount"})
		return
	}
	deposit, err := s.node.TimelockDeposit(depositor, withdrawer, body.Asset, amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, depositView(deposit))
}

func (s *Server) timelockAction(fn func(depositor, withdrawer [20]byte, asset string, caller [20]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body timelockBody
		if err := decodeBody(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_body", Detail: err.Error()})
			return
		}
		depositor, err := parseAddress(body.Depositor)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_depositor", Detail: err.Error()})
			return
		}
		withdrawer, err := parseAddress(body.Withdrawer)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_withdrawer", Detail: err.Error()})
			return
		}
		caller, err := parseAddress(body.Caller)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_caller", Detail: err.Error()})
			return
		}
		if err := fn(depositor, withdrawer, body.Asset, caller); err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *Server) getTimelock(w http.ResponseWriter, r *http.Request) {
	depositor, err := parseAddress(r.URL.Query().Get("depositor"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_depositor", Detail: err.Error()})
		return
	}
	withdrawer, err := parseAddress(r.URL.Query().Get("withdrawer"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_withdrawer", Detail: err.Error()})
		return
	}
	deposit, err := s.node.TimelockGet(depositor, withdrawer, r.URL.Query().Get("asset"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, depositView(deposit))
}

func recordView(r *settlement.Record) map[string]interface{} {
	view := map[string]interface{}{
		"id":       r.ID,
		"buyer":    crypto.NewAddress(r.Buyer).String(),
		"seller":   crypto.NewAddress(r.Seller).String(),
		"asset":    r.Asset,
		"amount":   r.Amount.String(),
		"escrowed": r.Escrowed.String(),
		"released": r.Released.String(),
		"refunded": r.Refunded.String(),
		"status":   r.Status.String(),
		"condition": map[string]interface{}{
			"kind":         r.Condition.Kind.String(),
			"releaseAfter": r.Condition.ReleaseAfter,
			"required":     r.Condition.Required,
			"approvals":    r.Condition.ApprovedCount(),
		},
		"createdAt":      r.CreatedAt,
		"proposalStatus": r.ProposalStatus.String(),
	}
	if r.HasArbitrator() {
		view["arbitrator"] = crypto.NewAddress(r.Arbitrator).String()
	}
	if r.MilestoneCount > 0 {
		view["milestoneCount"] = r.MilestoneCount
	}
	return view
}

func depositView(d *settlement.Deposit) map[string]interface{} {
	return map[string]interface{}{
		"depositor":  crypto.NewAddress(d.Depositor).String(),
		"withdrawer": crypto.NewAddress(d.Withdrawer).String(),
		"asset":      d.Asset,
		"amount":     d.Amount.String(),
		"createdAt":  d.CreatedAt,
		"unlocksAt":  d.UnlocksAt,
	}
}
