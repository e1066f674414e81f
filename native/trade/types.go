package trade

import (
	"fmt"
	"math/big"

	"peertrade/native/escrow"
)

// Status represents the lifecycle states of a peer-to-peer fiat trade.
type Status uint8

const (
	StatusRequestCreated Status = iota
	StatusRequestAccepted
	StatusEscrowFunded
	StatusFiatDeposited
	StatusEscrowReleased
	StatusEscrowCancelled
	StatusEscrowRefunded
	StatusEscrowDisputed
	StatusDisputeResolved
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusDisputeResolved
}

// Terminal reports whether the status is a permanent audit record. Terminal
// trades are never mutated again.
func (s Status) Terminal() bool {
	switch s {
	case StatusEscrowReleased, StatusEscrowCancelled, StatusEscrowRefunded, StatusDisputeResolved:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the transition is an edge of the lifecycle
// DAG. Every state change funnels through this check; nothing skips a
// required predecessor.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusRequestCreated:
		return next == StatusRequestAccepted || next == StatusEscrowCancelled
	case StatusRequestAccepted:
		return next == StatusEscrowFunded || next == StatusEscrowCancelled
	case StatusEscrowFunded:
		return next == StatusFiatDeposited || next == StatusEscrowRefunded || next == StatusEscrowCancelled
	case StatusFiatDeposited:
		return next == StatusEscrowReleased || next == StatusEscrowDisputed
	case StatusEscrowDisputed:
		return next == StatusDisputeResolved
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusRequestCreated:
		return "request_created"
	case StatusRequestAccepted:
		return "request_accepted"
	case StatusEscrowFunded:
		return "escrow_funded"
	case StatusFiatDeposited:
		return "fiat_deposited"
	case StatusEscrowReleased:
		return "escrow_released"
	case StatusEscrowCancelled:
		return "escrow_cancelled"
	case StatusEscrowRefunded:
		return "escrow_refunded"
	case StatusEscrowDisputed:
		return "escrow_disputed"
	case StatusDisputeResolved:
		return "dispute_resolved"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// RateDenominator scales the fiat rate locked onto a trade: a rate of
// 1_000_000 equals one fiat minor unit per token unit.
const RateDenominator int64 = 1_000_000

// Trade encapsulates the metadata and runtime status of a single trade. The
// identifiers are immutable after creation; only engine transitions mutate a
// trade and terminal trades persist as audit records.
type Trade struct {
	ID              [32]byte
	OfferID         string
	Buyer           [20]byte
	Seller          [20]byte
	Maker           [20]byte
	Arbitrator      [20]byte
	Token           string
	Amount          *big.Int
	FiatCurrency    string
	FiatAmount      *big.Int
	Rate            *big.Int
	Status          Status
	CreatedAt       int64
	ExpiresAt       int64
	DisputeDeadline int64
	BuyerContact    string
	SellerContact   string
}

// Clone returns a deep copy of the trade allowing callers to mutate the result
// without affecting the stored instance.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if t.FiatAmount != nil {
		clone.FiatAmount = new(big.Int).Set(t.FiatAmount)
	} else {
		clone.FiatAmount = big.NewInt(0)
	}
	if t.Rate != nil {
		clone.Rate = new(big.Int).Set(t.Rate)
	} else {
		clone.Rate = big.NewInt(0)
	}
	return &clone
}

// SanitizeTrade validates and normalises the supplied trade definition,
// returning a cloned instance with canonical token casing and non-nil amount
// fields. The function does not mutate the original value.
func SanitizeTrade(t *Trade) (*Trade, error) {
	if t == nil {
		return nil, fmt.Errorf("trade: nil trade")
	}
	clone := t.Clone()
	token, err := escrow.NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("trade: amount must be non-negative")
	}
	if clone.FiatAmount.Sign() < 0 {
		return nil, fmt.Errorf("trade: fiat amount must be non-negative")
	}
	if clone.Buyer == clone.Seller {
		return nil, fmt.Errorf("trade: buyer and seller must differ")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("trade: invalid status %d", clone.Status)
	}
	return clone, nil
}

// TransitionRecord is one append-only history entry per trade state change.
// Records are never mutated after append.
type TransitionRecord struct {
	From      Status
	To        Status
	Timestamp int64
	Actor     [20]byte
}

// ValidHistory reports whether the record sequence forms a valid path through
// the lifecycle DAG starting at StatusRequestCreated.
func ValidHistory(records []TransitionRecord) bool {
	cursor := StatusRequestCreated
	for _, rec := range records {
		if rec.From != cursor {
			return false
		}
		if !rec.From.CanTransitionTo(rec.To) {
			return false
		}
		cursor = rec.To
	}
	return true
}

// Dispute captures the arbitration record opened for a trade. A trade carries
// at most one dispute and the record is immutable once resolved.
type Dispute struct {
	TradeID        [32]byte
	Initiator      [20]byte
	InitiatedAt    int64
	Arbitrator     [20]byte
	RequestID      string
	BuyerEvidence  string
	SellerEvidence string
	Winner         [20]byte
	ResolvedAt     int64
	Reason         string
	Resolved       bool
}

// Clone returns a copy of the dispute record.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}
