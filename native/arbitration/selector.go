package arbitration

import (
	"errors"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"peertrade/core/events"
)

var (
	errSelectorNilState    = errors.New("arbitration selector: state not configured")
	errSelectorNilRegistry = errors.New("arbitration selector: registry not configured")

	// ErrNoArbitratorsAvailable marks dispute escalations for which no active
	// arbitrator supports the trade's fiat currency.
	ErrNoArbitratorsAvailable = errors.New("arbitration selector: no eligible arbitrators")
	// ErrRequestNotFound marks fulfillments referencing an unknown request.
	ErrRequestNotFound = errors.New("arbitration selector: randomness request not found")
	// ErrRequestAlreadyFulfilled marks duplicate fulfillments. The original
	// assignment stands.
	ErrRequestAlreadyFulfilled = errors.New("arbitration selector: randomness request already fulfilled")
	// ErrUnauthorizedFulfiller marks fulfillment callbacks from an identity
	// other than the configured randomness provider.
	ErrUnauthorizedFulfiller = errors.New("arbitration selector: unauthorized fulfillment caller")
)

type selectorState interface {
	RandomnessRequestPut(*PendingRequest) error
	RandomnessRequestGet(id string) (*PendingRequest, bool, error)
}

// Provider is the external randomness source. Implementations forward the
// request id to a verifiable-randomness service which later calls back via
// Fulfill.
type Provider interface {
	RequestRandomness(requestID string) error
}

// Selection is the outcome of a selection request or fulfillment.
type Selection struct {
	RequestID  string
	TradeID    [32]byte
	Arbitrator [20]byte
	Pending    bool
	Fallback   bool
}

// Selector assigns an arbitrator to a disputed trade using externally sourced
// randomness. Selection is two-phase because unbiased randomness cannot
// resolve within the same atomic step as the dispute call; with no provider
// configured it degrades to a synchronous deterministic fallback.
type Selector struct {
	state            selectorState
	registry         *Registry
	provider         Provider
	providerIdentity [20]byte
	seedFn           func() []byte
	emitter          events.Emitter
	nowFn            func() int64
}

// NewSelector constructs a selector bound to the supplied registry.
func NewSelector(registry *Registry) *Selector {
	return &Selector{
		registry: registry,
		seedFn:   func() []byte { return nil },
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend holding pending requests.
func (s *Selector) SetState(state selectorState) { s.state = state }

// SetProvider configures the external randomness provider and the identity
// allowed to fulfill requests. Passing a nil provider switches all selections
// to the synchronous fallback path.
func (s *Selector) SetProvider(provider Provider, identity [20]byte) {
	s.provider = provider
	s.providerIdentity = identity
}

// SetSeedFunc configures the supplier of recent ledger state mixed into the
// deterministic fallback seed.
func (s *Selector) SetSeedFunc(seed func() []byte) {
	if seed == nil {
		s.seedFn = func() []byte { return nil }
		return
	}
	s.seedFn = seed
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (s *Selector) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		s.emitter = events.NoopEmitter{}
		return
	}
	s.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (s *Selector) SetNowFunc(now func() int64) {
	if now == nil {
		s.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	s.nowFn = now
}

func (s *Selector) emit(evt events.Event) {
	if s == nil || s.emitter == nil || evt == nil {
		return
	}
	s.emitter.Emit(evt)
}

func (s *Selector) now() int64 {
	if s == nil || s.nowFn == nil {
		return time.Now().Unix()
	}
	return s.nowFn()
}

// Request starts arbitrator selection for a disputed trade. With a provider
// configured the returned selection is pending until Fulfill is invoked;
// without one the fallback resolves immediately, trading unbiasedness for
// availability.
func (s *Selector) Request(tradeID [32]byte, fiatCurrency string) (*Selection, error) {
	if s == nil || s.state == nil {
		return nil, errSelectorNilState
	}
	if s.registry == nil {
		return nil, errSelectorNilRegistry
	}
	currency, err := NormalizeCurrency(fiatCurrency)
	if err != nil {
		return nil, err
	}
	eligible, err := s.registry.Eligible(currency)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, ErrNoArbitratorsAvailable
	}
	req := &PendingRequest{
		ID:           uuid.NewString(),
		TradeID:      tradeID,
		FiatCurrency: currency,
		RequestedAt:  s.now(),
	}
	if s.provider == nil {
		chosen := s.fallbackPick(tradeID, eligible)
		req.Fulfilled = true
		if err := s.state.RandomnessRequestPut(req); err != nil {
			return nil, err
		}
		sel := &Selection{RequestID: req.ID, TradeID: tradeID, Arbitrator: chosen, Fallback: true}
		s.emit(NewSelectionFulfilledEvent(sel))
		return sel, nil
	}
	if err := s.state.RandomnessRequestPut(req); err != nil {
		return nil, err
	}
	if err := s.provider.RequestRandomness(req.ID); err != nil {
		return nil, err
	}
	sel := &Selection{RequestID: req.ID, TradeID: tradeID, Pending: true}
	s.emit(NewSelectionRequestedEvent(req))
	return sel, nil
}

// Fulfill completes a pending selection with the provider-supplied random
// value. The callback is restricted to the configured provider identity and a
// request accepts exactly one fulfillment. The eligible set is re-filtered
// because registrations may have changed since the request; if it emptied, the
// fallback picks from all active arbitrators rather than aborting.
func (s *Selector) Fulfill(requestID string, caller [20]byte, randomValue *big.Int) (*Selection, error) {
	if s == nil || s.state == nil {
		return nil, errSelectorNilState
	}
	if s.registry == nil {
		return nil, errSelectorNilRegistry
	}
	if caller != s.providerIdentity || s.providerIdentity == ([20]byte{}) {
		return nil, ErrUnauthorizedFulfiller
	}
	req, ok, err := s.state.RandomnessRequestGet(requestID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.Fulfilled {
		return nil, ErrRequestAlreadyFulfilled
	}
	eligible, err := s.registry.Eligible(req.FiatCurrency)
	if err != nil {
		return nil, err
	}
	sel := &Selection{RequestID: req.ID, TradeID: req.TradeID}
	if len(eligible) == 0 {
		eligible, err = s.registry.ActiveSet()
		if err != nil {
			return nil, err
		}
		if len(eligible) == 0 {
			return nil, ErrNoArbitratorsAvailable
		}
		sel.Arbitrator = s.fallbackPick(req.TradeID, eligible)
		sel.Fallback = true
	} else {
		if randomValue == nil {
			randomValue = big.NewInt(0)
		}
		idx := new(big.Int).Mod(new(big.Int).Abs(randomValue), big.NewInt(int64(len(eligible))))
		sel.Arbitrator = eligible[idx.Int64()]
	}
	req.Fulfilled = true
	if err := s.state.RandomnessRequestPut(req); err != nil {
		return nil, err
	}
	s.emit(NewSelectionFulfilledEvent(sel))
	return sel, nil
}

// fallbackPick derives a deterministic pseudo-random index from the trade id
// and recent ledger state. Predictable to whoever orders operations; accepted
// for availability when the unbiased path cannot complete.
func (s *Selector) fallbackPick(tradeID [32]byte, eligible [][20]byte) [20]byte {
	seed := ethcrypto.Keccak256Hash(tradeID[:], s.seedFn())
	value := new(big.Int).SetBytes(seed[:])
	idx := new(big.Int).Mod(value, big.NewInt(int64(len(eligible))))
	return eligible[idx.Int64()]
}
