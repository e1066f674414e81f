package rpc

import (
	"encoding/json"
	"fmt"
	"net/http"
)

func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func writeDomainError(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, errorCode(err), err.Error(), nil)
}

func writeInvalidParams(w http.ResponseWriter, id interface{}, err error) {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
}

type tradeCreateParams struct {
	Caller  string `json:"caller"`
	OfferID string `json:"offerId"`
	Amount  string `json:"amount"`
	Contact string `json:"contact"`
	Nonce   string `json:"nonce"`
}

func (s *Server) handleTradeCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	nonce, err := parseTradeID(params.Nonce)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("nonce: %w", err))
		return
	}
	created, err := s.node.CreateTrade(caller, params.OfferID, amount, params.Contact, nonce)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newTradeJSON(created))
}

type tradeActionParams struct {
	Caller  string `json:"caller"`
	TradeID string `json:"tradeId"`
}

func (s *Server) decodeTradeAction(w http.ResponseWriter, req *RPCRequest) (caller [20]byte, tradeID [32]byte, ok bool) {
	var params tradeActionParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return caller, tradeID, false
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return caller, tradeID, false
	}
	tradeID, err = parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return caller, tradeID, false
	}
	return caller, tradeID, true
}

// writeTradeState responds with the current trade snapshot after a
// transition.
func (s *Server) writeTradeState(w http.ResponseWriter, req *RPCRequest, tradeID [32]byte) {
	current, err := s.node.GetTrade(tradeID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newTradeJSON(current))
}

type tradeAcceptParams struct {
	Caller  string `json:"caller"`
	TradeID string `json:"tradeId"`
	Contact string `json:"contact"`
}

func (s *Server) handleTradeAccept(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeAcceptParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	tradeID, err := parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.AcceptTrade(caller, tradeID, params.Contact); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeTradeState(w, req, tradeID)
}

func (s *Server) handleTradeFund(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, tradeID, ok := s.decodeTradeAction(w, req)
	if !ok {
		return
	}
	if err := s.node.FundEscrow(caller, tradeID); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeTradeState(w, req, tradeID)
}

func (s *Server) handleTradeMarkFiatDeposited(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, tradeID, ok := s.decodeTradeAction(w, req)
	if !ok {
		return
	}
	if err := s.node.MarkFiatDeposited(caller, tradeID); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeTradeState(w, req, tradeID)
}

func (s *Server) handleTradeRelease(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, tradeID, ok := s.decodeTradeAction(w, req)
	if !ok {
		return
	}
	if err := s.node.ReleaseEscrow(caller, tradeID); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeTradeState(w, req, tradeID)
}

func (s *Server) handleTradeCancel(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, tradeID, ok := s.decodeTradeAction(w, req)
	if !ok {
		return
	}
	if err := s.node.CancelTrade(caller, tradeID); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeTradeState(w, req, tradeID)
}

func (s *Server) handleTradeRefundExpired(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	caller, tradeID, ok := s.decodeTradeAction(w, req)
	if !ok {
		return
	}
	if err := s.node.RefundExpiredTrade(caller, tradeID); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	s.writeTradeState(w, req, tradeID)
}

type tradeDisputeParams struct {
	Caller  string `json:"caller"`
	TradeID string `json:"tradeId"`
	Reason  string `json:"reason"`
}

func (s *Server) handleTradeDispute(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeDisputeParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	tradeID, err := parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.DisputeTrade(caller, tradeID, params.Reason); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	dispute, _, err := s.node.GetDispute(tradeID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDisputeJSON(dispute))
}

type tradeEvidenceParams struct {
	Caller   string `json:"caller"`
	TradeID  string `json:"tradeId"`
	Evidence string `json:"evidence"`
}

func (s *Server) handleTradeSubmitEvidence(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeEvidenceParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	tradeID, err := parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SubmitEvidence(caller, tradeID, params.Evidence); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"accepted": true})
}

type tradeResolveParams struct {
	Caller  string `json:"caller"`
	TradeID string `json:"tradeId"`
	Winner  string `json:"winner"`
}

func (s *Server) handleTradeResolve(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeResolveParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	tradeID, err := parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	winner, err := parseAddress(params.Winner)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("winner: %w", err))
		return
	}
	if err := s.node.ResolveDispute(caller, tradeID, winner); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	dispute, _, err := s.node.GetDispute(tradeID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newDisputeJSON(dispute))
}

type tradeGetParams struct {
	TradeID string `json:"tradeId"`
}

func (s *Server) handleTradeGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeGetParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tradeID, err := parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	current, err := s.node.GetTrade(tradeID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	result := struct {
		Trade   *tradeJSON   `json:"trade"`
		Dispute *disputeJSON `json:"dispute,omitempty"`
	}{Trade: newTradeJSON(current)}
	if dispute, ok, err := s.node.GetDispute(tradeID); err == nil && ok {
		result.Dispute = newDisputeJSON(dispute)
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params tradeGetParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	tradeID, err := parseTradeID(params.TradeID)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	records, err := s.node.TradeHistory(tradeID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newHistoryJSON(records))
}

type offerCreateParams struct {
	Owner        string `json:"owner"`
	Kind         string `json:"kind"`
	Token        string `json:"token"`
	FiatCurrency string `json:"fiatCurrency"`
	Rate         string `json:"rate"`
	MinAmount    string `json:"minAmount"`
	MaxAmount    string `json:"maxAmount"`
}

func (s *Server) handleOfferCreate(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params offerCreateParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("owner: %w", err))
		return
	}
	kind, err := parseOfferKind(params.Kind)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("rate: %w", err))
		return
	}
	minAmount, err := parseAmount(params.MinAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("minAmount: %w", err))
		return
	}
	maxAmount, err := parseAmount(params.MaxAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("maxAmount: %w", err))
		return
	}
	offer, err := s.node.CreateOffer(owner, kind, params.Token, params.FiatCurrency, rate, minAmount, maxAmount)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, newOfferJSON(offer))
}

type offerSetActiveParams struct {
	Caller  string `json:"caller"`
	OfferID string `json:"offerId"`
	Active  bool   `json:"active"`
}

func (s *Server) handleOfferSetActive(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params offerSetActiveParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, fmt.Errorf("caller: %w", err))
		return
	}
	if err := s.node.SetOfferActive(caller, params.OfferID, params.Active); err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"active": params.Active})
}

type offerGetParams struct {
	OfferID string `json:"offerId"`
}

func (s *Server) handleOfferGet(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params offerGetParams
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	offer, ok, err := s.node.GetOffer(params.OfferID)
	if err != nil {
		writeDomainError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeTradeNotFound, "offer not found", params.OfferID)
		return
	}
	writeResult(w, req.ID, newOfferJSON(offer))
}
