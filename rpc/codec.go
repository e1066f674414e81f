package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"peertrade/native/arbitration"
	"peertrade/native/escrow"
	"peertrade/native/trade"
)

const (
	codeTradeNotFound     = -32021
	codeInvalidState      = -32022
	codeUnauthorizedActor = -32023
	codeDisputeError      = -32024
	codeInsufficientFunds = -32025
	codeOfferRejected     = -32026
)

func parseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return addr, fmt.Errorf("address must be 0x-prefixed hex")
	}
	raw, err := hex.DecodeString(trimmed[2:])
	if err != nil {
		return addr, fmt.Errorf("invalid address hex: %w", err)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address must be %d bytes", len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}

func parseTradeID(value string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("invalid trade id hex: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("trade id must be %d bytes", len(id))
	}
	copy(id[:], raw)
	return id, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseOfferKind(value string) (trade.OfferKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "sell":
		return trade.OfferSell, nil
	case "buy":
		return trade.OfferBuy, nil
	default:
		return 0, fmt.Errorf("offer kind must be \"sell\" or \"buy\"")
	}
}

func addressHex(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func tradeIDHex(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// errorCode maps domain sentinel errors onto JSON-RPC error codes so clients
// can branch without parsing message strings.
func errorCode(err error) int {
	switch {
	case errors.Is(err, trade.ErrTradeNotFound),
		errors.Is(err, trade.ErrDisputeNotFound),
		errors.Is(err, arbitration.ErrNotRegistered),
		errors.Is(err, arbitration.ErrRequestNotFound):
		return codeTradeNotFound
	case errors.Is(err, trade.ErrInvalidTransition),
		errors.Is(err, trade.ErrTradeExpired),
		errors.Is(err, trade.ErrTradeNotExpired):
		return codeInvalidState
	case errors.Is(err, trade.ErrUnauthorized),
		errors.Is(err, arbitration.ErrUnauthorized),
		errors.Is(err, arbitration.ErrUnauthorizedFulfiller):
		return codeUnauthorizedActor
	case errors.Is(err, trade.ErrDisputeExists),
		errors.Is(err, trade.ErrDisputeResolved),
		errors.Is(err, trade.ErrEvidenceExists),
		errors.Is(err, trade.ErrDisputeWindowClosed),
		errors.Is(err, trade.ErrArbitratorNotAssigned),
		errors.Is(err, trade.ErrInvalidWinner),
		errors.Is(err, arbitration.ErrNoArbitratorsAvailable),
		errors.Is(err, arbitration.ErrRequestAlreadyFulfilled),
		errors.Is(err, arbitration.ErrAlreadyRegistered):
		return codeDisputeError
	case errors.Is(err, escrow.ErrInsufficientBalance),
		errors.Is(err, escrow.ErrInsufficientEscrow):
		return codeInsufficientFunds
	case errors.Is(err, trade.ErrOfferNotActive),
		errors.Is(err, trade.ErrAmountOutOfRange),
		errors.Is(err, trade.ErrSelfTrade),
		errors.Is(err, trade.ErrTradeLimitExceeded):
		return codeOfferRejected
	default:
		return codeServerError
	}
}

type tradeJSON struct {
	ID              string `json:"id"`
	OfferID         string `json:"offerId"`
	Buyer           string `json:"buyer"`
	Seller          string `json:"seller"`
	Maker           string `json:"maker"`
	Arbitrator      string `json:"arbitrator,omitempty"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	FiatCurrency    string `json:"fiatCurrency"`
	FiatAmount      string `json:"fiatAmount"`
	Rate            string `json:"rate"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"createdAt"`
	ExpiresAt       int64  `json:"expiresAt"`
	DisputeDeadline int64  `json:"disputeDeadline,omitempty"`
	BuyerContact    string `json:"buyerContact,omitempty"`
	SellerContact   string `json:"sellerContact,omitempty"`
}

func newTradeJSON(t *trade.Trade) *tradeJSON {
	if t == nil {
		return nil
	}
	payload := &tradeJSON{
		ID:              tradeIDHex(t.ID),
		OfferID:         t.OfferID,
		Buyer:           addressHex(t.Buyer),
		Seller:          addressHex(t.Seller),
		Maker:           addressHex(t.Maker),
		Token:           t.Token,
		Amount:          bigString(t.Amount),
		FiatCurrency:    t.FiatCurrency,
		FiatAmount:      bigString(t.FiatAmount),
		Rate:            bigString(t.Rate),
		Status:          t.Status.String(),
		CreatedAt:       t.CreatedAt,
		ExpiresAt:       t.ExpiresAt,
		DisputeDeadline: t.DisputeDeadline,
		BuyerContact:    t.BuyerContact,
		SellerContact:   t.SellerContact,
	}
	if t.Arbitrator != ([20]byte{}) {
		payload.Arbitrator = addressHex(t.Arbitrator)
	}
	return payload
}

type disputeJSON struct {
	TradeID        string `json:"tradeId"`
	Initiator      string `json:"initiator"`
	InitiatedAt    int64  `json:"initiatedAt"`
	Arbitrator     string `json:"arbitrator,omitempty"`
	RequestID      string `json:"requestId,omitempty"`
	BuyerEvidence  string `json:"buyerEvidence,omitempty"`
	SellerEvidence string `json:"sellerEvidence,omitempty"`
	Winner         string `json:"winner,omitempty"`
	ResolvedAt     int64  `json:"resolvedAt,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Resolved       bool   `json:"resolved"`
}

func newDisputeJSON(d *trade.Dispute) *disputeJSON {
	if d == nil {
		return nil
	}
	payload := &disputeJSON{
		TradeID:     tradeIDHex(d.TradeID),
		Initiator:   addressHex(d.Initiator),
		InitiatedAt: d.InitiatedAt,
		RequestID:   d.RequestID,
		Reason:      d.Reason,
		Resolved:    d.Resolved,
	}
	if d.Arbitrator != ([20]byte{}) {
		payload.Arbitrator = addressHex(d.Arbitrator)
	}
	if d.Winner != ([20]byte{}) {
		payload.Winner = addressHex(d.Winner)
	}
	if d.Resolved {
		payload.BuyerEvidence = d.BuyerEvidence
		payload.SellerEvidence = d.SellerEvidence
		payload.ResolvedAt = d.ResolvedAt
	}
	return payload
}

type offerJSON struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	Kind         string `json:"kind"`
	Token        string `json:"token"`
	FiatCurrency string `json:"fiatCurrency"`
	Rate         string `json:"rate"`
	MinAmount    string `json:"minAmount"`
	MaxAmount    string `json:"maxAmount"`
	Active       bool   `json:"active"`
}

func newOfferJSON(o *trade.Offer) *offerJSON {
	if o == nil {
		return nil
	}
	kind := "sell"
	if o.Kind == trade.OfferBuy {
		kind = "buy"
	}
	return &offerJSON{
		ID:           o.ID,
		Owner:        addressHex(o.Owner),
		Kind:         kind,
		Token:        o.Token,
		FiatCurrency: o.FiatCurrency,
		Rate:         bigString(o.Rate),
		MinAmount:    bigString(o.MinAmount),
		MaxAmount:    bigString(o.MaxAmount),
		Active:       o.Active,
	}
}

type transitionJSON struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp int64  `json:"timestamp"`
	Actor     string `json:"actor"`
}

func newHistoryJSON(records []trade.TransitionRecord) []transitionJSON {
	out := make([]transitionJSON, 0, len(records))
	for _, record := range records {
		out = append(out, transitionJSON{
			From:      record.From.String(),
			To:        record.To.String(),
			Timestamp: record.Timestamp,
			Actor:     addressHex(record.Actor),
		})
	}
	return out
}

type arbitratorJSON struct {
	Address         string   `json:"address"`
	Active          bool     `json:"active"`
	Currencies      []string `json:"currencies"`
	EncryptionKey   string   `json:"encryptionKey,omitempty"`
	DisputesHandled uint64   `json:"disputesHandled"`
	DisputesWon     uint64   `json:"disputesWon"`
	ReputationScore uint64   `json:"reputationScore"`
	JoinedAt        int64    `json:"joinedAt"`
}

func newArbitratorJSON(addr [20]byte, info *arbitration.ArbitratorInfo) *arbitratorJSON {
	if info == nil {
		return nil
	}
	payload := &arbitratorJSON{
		Address:         addressHex(addr),
		Active:          info.Active,
		Currencies:      append([]string(nil), info.Currencies...),
		DisputesHandled: info.DisputesHandled,
		DisputesWon:     info.DisputesWon,
		ReputationScore: info.ReputationScore,
		JoinedAt:        info.JoinedAt,
	}
	if len(info.EncryptionKey) > 0 {
		payload.EncryptionKey = "0x" + hex.EncodeToString(info.EncryptionKey)
	}
	return payload
}
