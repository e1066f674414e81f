package state

import (
	"fmt"
	"math/big"

	"peertrade/native/trade"
)

var (
	offerPrefix   = []byte("offer:")
	profilePrefix = []byte("profile:")
)

type storedOffer struct {
	ID           string
	Owner        [20]byte
	Kind         uint8
	Token        string
	FiatCurrency string
	Rate         *big.Int
	MinAmount    *big.Int
	MaxAmount    *big.Int
	Active       bool
}

type storedProfile struct {
	ActiveTrades uint64
	TradesWon    uint64
	TradesLost   uint64
}

// OfferPut stores a marketplace offer.
func (m *Manager) OfferPut(offer *trade.Offer) error {
	if offer == nil {
		return fmt.Errorf("state: nil offer")
	}
	if offer.ID == "" {
		return fmt.Errorf("state: offer id required")
	}
	stored := &storedOffer{
		ID:           offer.ID,
		Owner:        offer.Owner,
		Kind:         uint8(offer.Kind),
		Token:        offer.Token,
		FiatCurrency: offer.FiatCurrency,
		Rate:         nonNil(offer.Rate),
		MinAmount:    nonNil(offer.MinAmount),
		MaxAmount:    nonNil(offer.MaxAmount),
		Active:       offer.Active,
	}
	return m.kvPut(prefixedKey(offerPrefix, []byte(offer.ID)), stored)
}

// GetOffer loads an offer by id.
func (m *Manager) GetOffer(id string) (*trade.Offer, bool, error) {
	stored := new(storedOffer)
	ok, err := m.kvGet(prefixedKey(offerPrefix, []byte(id)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &trade.Offer{
		ID:           stored.ID,
		Owner:        stored.Owner,
		Kind:         trade.OfferKind(stored.Kind),
		Token:        stored.Token,
		FiatCurrency: stored.FiatCurrency,
		Rate:         stored.Rate,
		MinAmount:    stored.MinAmount,
		MaxAmount:    stored.MaxAmount,
		Active:       stored.Active,
	}, true, nil
}

func (m *Manager) loadProfile(addr [20]byte) (*storedProfile, error) {
	profile := new(storedProfile)
	if _, err := m.kvGet(prefixedKey(profilePrefix, addr[:]), profile); err != nil {
		return nil, err
	}
	return profile, nil
}

func (m *Manager) writeProfile(addr [20]byte, profile *storedProfile) error {
	return m.kvPut(prefixedKey(profilePrefix, addr[:]), profile)
}

// ActiveTradeCount reports the number of open trades the address participates
// in.
func (m *Manager) ActiveTradeCount(addr [20]byte) (uint32, error) {
	profile, err := m.loadProfile(addr)
	if err != nil {
		return 0, err
	}
	return uint32(profile.ActiveTrades), nil
}

// UpdateActiveTradeCount adjusts the open-trade counter for the address.
func (m *Manager) UpdateActiveTradeCount(addr [20]byte, delta int) error {
	profile, err := m.loadProfile(addr)
	if err != nil {
		return err
	}
	next := int64(profile.ActiveTrades) + int64(delta)
	if next < 0 {
		return fmt.Errorf("state: active trade count underflow")
	}
	profile.ActiveTrades = uint64(next)
	return m.writeProfile(addr, profile)
}

// UpdateOutcomeCount records a settled trade outcome for the address.
func (m *Manager) UpdateOutcomeCount(addr [20]byte, won bool) error {
	profile, err := m.loadProfile(addr)
	if err != nil {
		return err
	}
	if won {
		profile.TradesWon++
	} else {
		profile.TradesLost++
	}
	return m.writeProfile(addr, profile)
}

// Profile reports the trade counters tracked for the address.
func (m *Manager) Profile(addr [20]byte) (active uint32, won, lost uint64, err error) {
	profile, err := m.loadProfile(addr)
	if err != nil {
		return 0, 0, 0, err
	}
	return uint32(profile.ActiveTrades), profile.TradesWon, profile.TradesLost, nil
}
