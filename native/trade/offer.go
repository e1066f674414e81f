package trade

import "math/big"

// OfferKind distinguishes the direction of an offer: whether its owner sells
// or buys the crypto side.
type OfferKind uint8

const (
	// OfferSell marks offers whose owner sells crypto; the taker becomes the
	// buyer.
	OfferSell OfferKind = iota
	// OfferBuy marks offers whose owner buys crypto; the taker becomes the
	// seller.
	OfferBuy
)

// Offer is the marketplace listing a trade is created against. The engine
// reads it exactly once at trade creation; the rate is locked onto the trade
// and never re-queried.
type Offer struct {
	ID           string
	Owner        [20]byte
	Kind         OfferKind
	Token        string
	FiatCurrency string
	Rate         *big.Int
	MinAmount    *big.Int
	MaxAmount    *big.Int
	Active       bool
}

// OfferRegistry is the external offer marketplace consumed by the engine.
type OfferRegistry interface {
	GetOffer(id string) (*Offer, bool, error)
}

// ProfileRegistry is the external user profile service tracking per-identity
// trade counters.
type ProfileRegistry interface {
	ActiveTradeCount(addr [20]byte) (uint32, error)
	UpdateActiveTradeCount(addr [20]byte, delta int) error
	UpdateOutcomeCount(addr [20]byte, won bool) error
}
