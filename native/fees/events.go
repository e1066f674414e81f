package fees

import (
	"encoding/hex"
	"math/big"

	"peertrade/core/types"
)

const (
	EventTypeFeesDistributed = "fees.distributed"
	EventTypeBurned          = "fees.burned"
	EventTypeBurnFallback    = "fees.burn_fallback"
)

type feeEvent struct {
	evt *types.Event
}

func (e feeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e feeEvent) Event() *types.Event { return e.evt }

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewDistributionEvent returns the canonical payload emitted when a settlement
// distributes fee shares.
func NewDistributionEvent(tradeID [32]byte, token string, dist Distribution) feeEvent {
	attrs := map[string]string{
		"tradeId":    hex.EncodeToString(tradeID[:]),
		"token":      token,
		"burn":       amountString(dist.Burn),
		"chain":      amountString(dist.Chain),
		"warchest":   amountString(dist.Warchest),
		"arbitrator": amountString(dist.Arbitrator),
		"total":      amountString(dist.Total()),
	}
	return feeEvent{evt: &types.Event{Type: EventTypeFeesDistributed, Attributes: attrs}}
}

// NewBurnedEvent returns the payload emitted when a fee share is permanently
// removed from circulation.
func NewBurnedEvent(token string, amount *big.Int) feeEvent {
	attrs := map[string]string{
		"token":  token,
		"amount": amountString(amount),
	}
	return feeEvent{evt: &types.Event{Type: EventTypeBurned, Attributes: attrs}}
}

// NewBurnFallbackEvent returns the payload emitted when a burn share is
// redirected to the treasury instead of being burned.
func NewBurnFallbackEvent(token string, amount *big.Int, reason string) feeEvent {
	attrs := map[string]string{
		"token":  token,
		"amount": amountString(amount),
		"reason": reason,
	}
	return feeEvent{evt: &types.Event{Type: EventTypeBurnFallback, Attributes: attrs}}
}
