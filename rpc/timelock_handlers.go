package rpc

import (
	"net/http"

	"custodia/crypto"
	"custodia/native/settlement"
)

type timelockDepositParams struct {
	Depositor  string `json:"depositor"`
	Withdrawer string `json:"withdrawer"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
}

type timelockActionParams struct {
	Depositor  string `json:"depositor"`
	Withdrawer string `json:"withdrawer"`
	Asset      string `json:"asset"`
	Caller     string `json:"caller"`
}

type timelockGetParams struct {
	Depositor  string `json:"depositor"`
	Withdrawer string `json:"withdrawer"`
	Asset      string `json:"asset"`
}

type depositJSON struct {
	Depositor  string `json:"depositor"`
	Withdrawer string `json:"withdrawer"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
	CreatedAt  int64  `json:"createdAt"`
	UnlocksAt  int64  `json:"unlocksAt"`
}

func depositToJSON(d *settlement.Deposit) *depositJSON {
	return &depositJSON{
		Depositor:  crypto.NewAddress(d.Depositor).String(),
		Withdrawer: crypto.NewAddress(d.Withdrawer).String(),
		Asset:      d.Asset,
		Amount:     d.Amount.String(),
		CreatedAt:  d.CreatedAt,
		UnlocksAt:  d.UnlocksAt,
	}
}

func (s *Server) handleTimelockDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params timelockDepositParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	withdrawer, err := parseBech32Address(params.Withdrawer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	deposit, err := s.node.TimelockDeposit(depositor, withdrawer, params.Asset, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositToJSON(deposit))
}

func (s *Server) timelockAction(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(depositor, withdrawer [20]byte, asset string, caller [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params timelockActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	withdrawer, err := parseBech32Address(params.Withdrawer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := fn(depositor, withdrawer, params.Asset, caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, "ok")
}

func (s *Server) handleTimelockWithdraw(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.timelockAction(w, r, req, s.node.TimelockWithdraw)
}

func (s *Server) handleTimelockClawback(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.timelockAction(w, r, req, s.node.TimelockClawback)
}

func (s *Server) handleTimelockGet(w http.ResponseWriter, req *RPCRequest) {
	var params timelockGetParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	withdrawer, err := parseBech32Address(params.Withdrawer)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeSettlementInvalidParams, "invalid_params", err.Error())
		return
	}
	deposit, err := s.node.TimelockGet(depositor, withdrawer, params.Asset)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, depositToJSON(deposit))
}
