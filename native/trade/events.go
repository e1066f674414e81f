package trade

import (
	"encoding/hex"
	"strconv"

	"peertrade/core/types"
)

const (
	EventTypeTradeCreated       = "trade.created"
	EventTypeStateTransition    = "trade.state_transition"
	EventTypeTradeDisputed      = "trade.disputed"
	EventTypeEvidenceSubmitted  = "trade.evidence_submitted"
	EventTypeArbitratorAssigned = "trade.arbitrator_assigned"
	EventTypeDisputeResolved    = "trade.dispute_resolved"
)

type tradeEvent struct {
	evt *types.Event
}

func (e tradeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e tradeEvent) Event() *types.Event { return e.evt }

func idString(id [32]byte) string  { return hex.EncodeToString(id[:]) }
func addrString(a [20]byte) string { return hex.EncodeToString(a[:]) }

// NewTradeCreatedEvent returns the payload emitted when a trade request is
// opened against an offer.
func NewTradeCreatedEvent(t *Trade) tradeEvent {
	attrs := map[string]string{
		"tradeId":      idString(t.ID),
		"offerId":      t.OfferID,
		"buyer":        addrString(t.Buyer),
		"seller":       addrString(t.Seller),
		"token":        t.Token,
		"amount":       t.Amount.String(),
		"fiatCurrency": t.FiatCurrency,
		"fiatAmount":   t.FiatAmount.String(),
		"expiresAt":    strconv.FormatInt(t.ExpiresAt, 10),
	}
	return tradeEvent{evt: &types.Event{Type: EventTypeTradeCreated, Attributes: attrs}}
}

// NewStateTransitionEvent returns the payload emitted for every lifecycle
// transition.
func NewStateTransitionEvent(t *Trade, from, to Status, actor [20]byte) tradeEvent {
	attrs := map[string]string{
		"tradeId": idString(t.ID),
		"from":    from.String(),
		"to":      to.String(),
		"actor":   addrString(actor),
	}
	return tradeEvent{evt: &types.Event{Type: EventTypeStateTransition, Attributes: attrs}}
}

// NewTradeDisputedEvent returns the payload emitted when a party escalates a
// trade to arbitration.
func NewTradeDisputedEvent(t *Trade, d *Dispute) tradeEvent {
	attrs := map[string]string{
		"tradeId":   idString(t.ID),
		"initiator": addrString(d.Initiator),
		"requestId": d.RequestID,
		"reason":    d.Reason,
	}
	return tradeEvent{evt: &types.Event{Type: EventTypeTradeDisputed, Attributes: attrs}}
}

// NewEvidenceSubmittedEvent returns the payload emitted when a party attaches
// evidence to an open dispute.
func NewEvidenceSubmittedEvent(t *Trade, submitter [20]byte) tradeEvent {
	attrs := map[string]string{
		"tradeId":   idString(t.ID),
		"submitter": addrString(submitter),
	}
	return tradeEvent{evt: &types.Event{Type: EventTypeEvidenceSubmitted, Attributes: attrs}}
}

// NewArbitratorAssignedEvent returns the payload emitted once arbitrator
// selection completes for a disputed trade.
func NewArbitratorAssignedEvent(t *Trade, arbitrator [20]byte, fallback bool) tradeEvent {
	attrs := map[string]string{
		"tradeId":    idString(t.ID),
		"arbitrator": addrString(arbitrator),
		"fallback":   strconv.FormatBool(fallback),
	}
	return tradeEvent{evt: &types.Event{Type: EventTypeArbitratorAssigned, Attributes: attrs}}
}

// NewDisputeResolvedEvent returns the payload emitted when the assigned
// arbitrator settles a dispute.
func NewDisputeResolvedEvent(t *Trade, d *Dispute) tradeEvent {
	attrs := map[string]string{
		"tradeId":    idString(t.ID),
		"arbitrator": addrString(d.Arbitrator),
		"winner":     addrString(d.Winner),
		"resolvedAt": strconv.FormatInt(d.ResolvedAt, 10),
	}
	return tradeEvent{evt: &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}}
}
