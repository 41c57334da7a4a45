package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"custodia/crypto"
	"custodia/native/settlement"
)

type settlementCreateParams struct {
	Buyer            string                `json:"buyer"`
	Seller           string                `json:"seller"`
	Arbitrator       string                `json:"arbitrator,omitempty"`
	Asset            string                `json:"asset"`
	Amount           string                `json:"amount"`
	Condition        conditionParams       `json:"condition"`
	DeliveryDeadline int64                 `json:"deliveryDeadline,omitempty"`
	RefundDeadline   int64                 `json:"refundDeadline,omitempty"`
	Milestones       []milestoneDataParams `json:"milestones,omitempty"`
}

type conditionParams struct {
	Kind         string `json:"kind"`
	ReleaseAfter int64  `json:"releaseAfter,omitempty"`
	Required     uint32 `json:"required,omitempty"`
}

type milestoneDataParams struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type settlementIDParams struct {
	ID uint64 `json:"id"`
}

type settlementActorParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
}

type settlementReasonParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

type settlementVerifyParams struct {
	ID          uint64 `json:"id"`
	Caller      string `json:"caller"`
	OracleInput *bool  `json:"oracleInput,omitempty"`
}

type settlementResolveParams struct {
	ID      uint64 `json:"id"`
	Caller  string `json:"caller"`
	Outcome string `json:"outcome"`
}

type settlementResolveRefundParams struct {
	ID      uint64 `json:"id"`
	Caller  string `json:"caller"`
	Approve bool   `json:"approve"`
}

type settlementMilestoneParams struct {
	ID     uint64 `json:"id"`
	Caller string `json:"caller"`
	Index  uint32 `json:"index"`
	Reason string `json:"reason,omitempty"`
}

type settlementResolveMilestoneParams struct {
	ID      uint64 `json:"id"`
	Caller  string `json:"caller"`
	Index   uint32 `json:"index"`
	Outcome string `json:"outcome"`
}

type settlementListParams struct {
	Party  string `json:"party"`
	Offset int    `json:"offset,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type conditionJSON struct {
	Kind         string   `json:"kind"`
	ReleaseAfter int64    `json:"releaseAfter,omitempty"`
	Required     uint32   `json:"required,omitempty"`
	Approvals    []string `json:"approvals,omitempty"`
}

type settlementJSON struct {
	ID               uint64        `json:"id"`
	Buyer            string        `json:"buyer"`
	Seller           string        `json:"seller"`
	Arbitrator       *string       `json:"arbitrator,omitempty"`
	Asset            string        `json:"asset"`
	Amount           string        `json:"amount"`
	Escrowed         string        `json:"escrowed"`
	Released         string        `json:"released"`
	Refunded         string        `json:"refunded"`
	Status           string        `json:"status"`
	Condition        conditionJSON `json:"condition"`
	CreatedAt        int64         `json:"createdAt"`
	FundedAt         int64         `json:"fundedAt,omitempty"`
	DeliveredAt      int64         `json:"deliveredAt,omitempty"`
	CompletedAt      int64         `json:"completedAt,omitempty"`
	CancelledAt      int64         `json:"cancelledAt,omitempty"`
	DeliveryDeadline int64         `json:"deliveryDeadline,omitempty"`
	RefundDeadline   int64         `json:"refundDeadline,omitempty"`
	DisputeReason    string        `json:"disputeReason,omitempty"`
	RefundReason     string        `json:"refundReason,omitempty"`
	ProposalStatus   string        `json:"proposalStatus"`
	ProposedAt       int64         `json:"proposedAt,omitempty"`
	ResponseWindow   int64         `json:"responseWindow,omitempty"`
	MilestoneCount   uint32        `json:"milestoneCount,omitempty"`
}

type milestoneJSON struct {
	Index       uint32 `json:"index"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	CompletedAt int64  `json:"completedAt,omitempty"`
	ApprovedAt  int64  `json:"approvedAt,omitempty"`
}

func settlementToJSON(r *settlement.Record) *settlementJSON {
	out := &settlementJSON{
		ID:       r.ID,
		Buyer:    crypto.NewAddress(r.Buyer).String(),
		Seller:   crypto.NewAddress(r.Seller).String(),
		Asset:    r.Asset,
		Amount:   r.Amount.String(),
		Escrowed: r.Escrowed.String(),
		Released: r.Released.String(),
		Refunded: r.Refunded.String(),
		Status:   r.Status.String(),
		Condition: conditionJSON{
			Kind:         r.Condition.Kind.String(),
			ReleaseAfter: r.Condition.ReleaseAfter,
			Required:     r.Condition.Required,
		},
		CreatedAt:        r.CreatedAt,
		FundedAt:         r.FundedAt,
		DeliveredAt:      r.DeliveredAt,
		CompletedAt:      r.CompletedAt,
		CancelledAt:      r.CancelledAt,
		DeliveryDeadline: r.DeliveryDeadline,
		RefundDeadline:   r.RefundDeadline,
		DisputeReason:    r.DisputeReason,
		RefundReason:     r.RefundReason,
		ProposalStatus:   r.ProposalStatus.String(),
		ProposedAt:       r.ProposedAt,
		ResponseWindow:   r.ResponseWindow,
		MilestoneCount:   r.MilestoneCount,
	}
	if r.HasArbitrator() {
		encoded := crypto.NewAddress(r.Arbitrator).String()
		out.Arbitrator = &encoded
	}
	for _, approval := range r.Condition.Approvals {
		out.Condition.Approvals = append(out.Condition.Approvals, crypto.NewAddress(approval).String())
	}
	return out
}

func milestoneToJSON(m *settlement.Milestone) *milestoneJSON {
	return &milestoneJSON{
		Index:       m.Index,
		Description: m.Description,
		Amount:      m.Amount.String(),
		Status:      m.Status.String(),
		CompletedAt: m.CompletedAt,
		ApprovedAt:  m.ApprovedAt,
	}
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func parseOutcome(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "release", "release_seller":
		return true, nil
	case "refund", "refund_buyer":
		return false, nil
	default:
		return false, fmt.Errorf("outcome must be release or refund")
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseBech32Address(params.Buyer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	seller, err := parseBech32Address(params.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	var arbitrator [20]byte
	if strings.TrimSpace(params.Arbitrator) != "" {
		arbitrator, err = parseBech32Address(params.Arbitrator)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	kind, err := settlement.ParseConditionKind(strings.TrimSpace(params.Condition.Kind))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	milestones := make([]settlement.MilestoneData, 0, len(params.Milestones))
	for _, m := range params.Milestones {
		tranche, err := parsePositiveBigInt(m.Amount)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
			return
		}
		milestones = append(milestones, settlement.MilestoneData{
			Description: m.Description,
			Amount:      tranche,
		})
	}

	record, err := s.node.CreateSettlement(settlement.CreateParams{
		Buyer:      buyer,
		Seller:     seller,
		Arbitrator: arbitrator,
		Asset:      params.Asset,
		Amount:     amount,
		Condition: settlement.Condition{
			Kind:         kind,
			ReleaseAfter: params.Condition.ReleaseAfter,
			Required:     params.Condition.Required,
		},
		DeliveryDeadline: params.DeliveryDeadline,
		RefundDeadline:   params.RefundDeadline,
		Milestones:       milestones,
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementToJSON(record))
}

// actorCall factors the common "id + caller address" mutation shape.
func (s *Server) actorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(id uint64, caller [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementActorParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(params.ID, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.FundSettlement)
}

func (s *Server) handleMarkDelivered(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.MarkDelivered)
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.ConfirmDelivery)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.ApproveSettlement)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.CancelSettlement)
}

func (s *Server) handleProposeCancellation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.ProposeCancellation)
}

func (s *Server) handleAgreeCancellation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.AgreeCancellation)
}

func (s *Server) handleWithdrawProposal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.WithdrawProposal)
}

func (s *Server) handleVerifyCondition(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementVerifyParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.VerifyCondition(params.ID, caller, params.OracleInput); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleRequestRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementReasonParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.RequestRefund(params.ID, caller, params.Reason); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleProcessRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ProcessRefund(params.ID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleResolveRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementResolveRefundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ResolveRefund(params.ID, caller, params.Approve); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementReasonParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.DisputeSettlement(params.ID, caller, params.Reason); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementResolveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	releaseToSeller, err := parseOutcome(params.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ResolveSettlement(params.ID, caller, releaseToSeller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleResetProposal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ResetExpiredProposal(params.ID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

// milestoneCall factors the common milestone mutation shape.
func (s *Server) milestoneCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(id uint64, caller [20]byte, index uint32, reason string) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementMilestoneParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(params.ID, caller, params.Index, params.Reason); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleCompleteMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneCall(w, r, req, func(id uint64, caller [20]byte, index uint32, _ string) error {
		return s.node.CompleteMilestone(id, caller, index)
	})
}

func (s *Server) handleApproveMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneCall(w, r, req, func(id uint64, caller [20]byte, index uint32, _ string) error {
		return s.node.ApproveMilestone(id, caller, index)
	})
}

func (s *Server) handleDisputeMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneCall(w, r, req, func(id uint64, caller [20]byte, index uint32, reason string) error {
		return s.node.DisputeMilestone(id, caller, index, reason)
	})
}

func (s *Server) handleResolveMilestone(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params settlementResolveMilestoneParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	releaseToSeller, err := parseOutcome(params.Outcome)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.ResolveMilestone(params.ID, caller, params.Index, releaseToSeller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleGet(w http.ResponseWriter, req *RPCRequest) {
	var params settlementIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	record, err := s.node.GetSettlement(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, settlementToJSON(record))
}

func (s *Server) handleListByParty(w http.ResponseWriter, req *RPCRequest) {
	var params settlementListParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	party, err := parseBech32Address(params.Party)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	records, err := s.node.SettlementsByParty(party, params.Offset, params.Limit)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]*settlementJSON, 0, len(records))
	for _, record := range records {
		out = append(out, settlementToJSON(record))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleMilestones(w http.ResponseWriter, req *RPCRequest) {
	var params settlementIDParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	milestones, err := s.node.Milestones(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	out := make([]*milestoneJSON, 0, len(milestones))
	for _, m := range milestones {
		out = append(out, milestoneToJSON(m))
	}
	writeResult(w, req.ID, out)
}
