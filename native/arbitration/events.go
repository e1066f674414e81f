package arbitration

import (
	"encoding/hex"
	"strconv"
	"strings"

	"peertrade/core/types"
)

const (
	EventTypeArbitratorRegistered  = "arbitration.registered"
	EventTypeArbitratorDeactivated = "arbitration.deactivated"
	EventTypeCurrencyRemoved       = "arbitration.currency_removed"
	EventTypeReputationUpdated     = "arbitration.reputation_updated"
	EventTypeSelectionRequested    = "arbitration.selection_requested"
	EventTypeSelectionFulfilled    = "arbitration.selection_fulfilled"
)

type arbitrationEvent struct {
	evt *types.Event
}

func (e arbitrationEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e arbitrationEvent) Event() *types.Event { return e.evt }

// NewArbitratorRegisteredEvent returns the canonical payload for a new
// arbitrator registration.
func NewArbitratorRegisteredEvent(addr [20]byte, info *ArbitratorInfo) arbitrationEvent {
	attrs := map[string]string{
		"arbitrator": hex.EncodeToString(addr[:]),
	}
	if info != nil {
		attrs["currencies"] = strings.Join(info.Currencies, ",")
		attrs["reputationScore"] = strconv.FormatUint(info.ReputationScore, 10)
		attrs["joinedAt"] = strconv.FormatInt(info.JoinedAt, 10)
	}
	return arbitrationEvent{evt: &types.Event{Type: EventTypeArbitratorRegistered, Attributes: attrs}}
}

// NewArbitratorDeactivatedEvent returns the payload emitted when an
// administrator deactivates an arbitrator.
func NewArbitratorDeactivatedEvent(addr [20]byte) arbitrationEvent {
	attrs := map[string]string{
		"arbitrator": hex.EncodeToString(addr[:]),
	}
	return arbitrationEvent{evt: &types.Event{Type: EventTypeArbitratorDeactivated, Attributes: attrs}}
}

// NewArbitratorCurrencyRemovedEvent returns the payload emitted when a
// currency is stripped from an arbitrator's eligibility set.
func NewArbitratorCurrencyRemovedEvent(addr [20]byte, currency string) arbitrationEvent {
	attrs := map[string]string{
		"arbitrator": hex.EncodeToString(addr[:]),
		"currency":   currency,
	}
	return arbitrationEvent{evt: &types.Event{Type: EventTypeCurrencyRemoved, Attributes: attrs}}
}

// NewReputationUpdatedEvent returns the payload emitted after a dispute
// resolution updates the arbitrator's track record.
func NewReputationUpdatedEvent(addr [20]byte, info *ArbitratorInfo) arbitrationEvent {
	attrs := map[string]string{
		"arbitrator": hex.EncodeToString(addr[:]),
	}
	if info != nil {
		attrs["disputesHandled"] = strconv.FormatUint(info.DisputesHandled, 10)
		attrs["disputesWon"] = strconv.FormatUint(info.DisputesWon, 10)
		attrs["reputationScore"] = strconv.FormatUint(info.ReputationScore, 10)
	}
	return arbitrationEvent{evt: &types.Event{Type: EventTypeReputationUpdated, Attributes: attrs}}
}

// NewSelectionRequestedEvent returns the payload emitted when a dispute asks
// the randomness provider for a selection value.
func NewSelectionRequestedEvent(req *PendingRequest) arbitrationEvent {
	attrs := make(map[string]string)
	if req != nil {
		attrs["requestId"] = req.ID
		attrs["tradeId"] = hex.EncodeToString(req.TradeID[:])
		attrs["currency"] = req.FiatCurrency
		attrs["requestedAt"] = strconv.FormatInt(req.RequestedAt, 10)
	}
	return arbitrationEvent{evt: &types.Event{Type: EventTypeSelectionRequested, Attributes: attrs}}
}

// NewSelectionFulfilledEvent returns the payload emitted when a selection
// resolves to a concrete arbitrator, flagging fallback selections for
// reconciliation.
func NewSelectionFulfilledEvent(sel *Selection) arbitrationEvent {
	attrs := make(map[string]string)
	if sel != nil {
		attrs["requestId"] = sel.RequestID
		attrs["tradeId"] = hex.EncodeToString(sel.TradeID[:])
		attrs["arbitrator"] = hex.EncodeToString(sel.Arbitrator[:])
		attrs["fallback"] = strconv.FormatBool(sel.Fallback)
	}
	return arbitrationEvent{evt: &types.Event{Type: EventTypeSelectionFulfilled, Attributes: attrs}}
}
