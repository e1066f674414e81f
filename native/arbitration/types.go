package arbitration

import (
	"fmt"
	"strings"
)

// Reputation scoring constants. Scores live on a 10,000-point scale and are
// clamped so a single streak can neither zero out nor max out an arbitrator.
const (
	ReputationScale   uint64 = 10_000
	ReputationFloor   uint64 = 1_000
	ReputationCeiling uint64 = 9_000
	ReputationInitial uint64 = 5_000
)

// ArbitratorInfo captures the registration record and dispute track record of
// a single arbitrator. Records are never deleted; deactivation retains the
// history.
type ArbitratorInfo struct {
	Active          bool
	Currencies      []string
	EncryptionKey   []byte
	DisputesHandled uint64
	DisputesWon     uint64
	ReputationScore uint64
	JoinedAt        int64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (a *ArbitratorInfo) Clone() *ArbitratorInfo {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Currencies = append([]string(nil), a.Currencies...)
	clone.EncryptionKey = append([]byte(nil), a.EncryptionKey...)
	return &clone
}

// SupportsCurrency reports whether the arbitrator accepts disputes for the
// supplied fiat currency.
func (a *ArbitratorInfo) SupportsCurrency(currency string) bool {
	if a == nil {
		return false
	}
	normalized, err := NormalizeCurrency(currency)
	if err != nil {
		return false
	}
	for _, cur := range a.Currencies {
		if cur == normalized {
			return true
		}
	}
	return false
}

// NormalizeCurrency canonicalises a fiat currency code to uppercase.
func NormalizeCurrency(currency string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(currency))
	if trimmed == "" {
		return "", fmt.Errorf("arbitration: currency code required")
	}
	return trimmed, nil
}

// PendingRequest tracks an in-flight randomness request backing an arbitrator
// selection. A request accepts exactly one fulfillment and is inert afterward.
type PendingRequest struct {
	ID           string
	TradeID      [32]byte
	FiatCurrency string
	RequestedAt  int64
	Fulfilled    bool
}

// Clone returns a copy of the pending request.
func (p *PendingRequest) Clone() *PendingRequest {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
