package arbitration

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"peertrade/core/events"
)

var (
	errRegistryNilState = errors.New("arbitration registry: state not configured")

	// ErrAlreadyRegistered marks duplicate registration attempts.
	ErrAlreadyRegistered = errors.New("arbitration registry: already registered")
	// ErrNotRegistered marks operations against unknown arbitrators.
	ErrNotRegistered = errors.New("arbitration registry: arbitrator not registered")
	// ErrUnauthorized marks calls from an identity that may not perform the
	// requested registry mutation.
	ErrUnauthorized = errors.New("arbitration registry: unauthorized caller")
)

type registryState interface {
	ArbitratorPut(addr [20]byte, info *ArbitratorInfo) error
	ArbitratorGet(addr [20]byte) (*ArbitratorInfo, bool, error)
	ArbitratorList() ([][20]byte, error)
}

// Registry tracks eligible arbitrators per fiat currency along with their
// activity flag and dispute reputation.
type Registry struct {
	state   registryState
	admin   [20]byte
	emitter events.Emitter
	nowFn   func() int64
}

// NewRegistry creates a registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) { r.state = state }

// SetAdmin configures the administrator identity allowed to deactivate
// arbitrators and strip currencies.
func (r *Registry) SetAdmin(addr [20]byte) { r.admin = addr }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (r *Registry) SetNowFunc(now func() int64) {
	if now == nil {
		r.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	r.nowFn = now
}

func (r *Registry) emit(evt events.Event) {
	if r == nil || r.emitter == nil || evt == nil {
		return
	}
	r.emitter.Emit(evt)
}

func (r *Registry) now() int64 {
	if r == nil || r.nowFn == nil {
		return time.Now().Unix()
	}
	return r.nowFn()
}

// Register records a new arbitrator eligible for the supplied fiat currencies.
// Duplicate registrations are rejected; the encryption key is required so
// parties can share evidence confidentially.
func (r *Registry) Register(addr [20]byte, currencies []string, encryptionKey []byte) (*ArbitratorInfo, error) {
	if r == nil || r.state == nil {
		return nil, errRegistryNilState
	}
	if len(encryptionKey) == 0 {
		return nil, fmt.Errorf("arbitration registry: encryption key required")
	}
	if len(currencies) == 0 {
		return nil, fmt.Errorf("arbitration registry: at least one currency required")
	}
	if _, ok, err := r.state.ArbitratorGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyRegistered
	}
	normalized := make([]string, 0, len(currencies))
	seen := make(map[string]struct{}, len(currencies))
	for _, cur := range currencies {
		canonical, err := NormalizeCurrency(cur)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		normalized = append(normalized, canonical)
	}
	sort.Strings(normalized)
	info := &ArbitratorInfo{
		Active:          true,
		Currencies:      normalized,
		EncryptionKey:   append([]byte(nil), encryptionKey...),
		ReputationScore: ReputationInitial,
		JoinedAt:        r.now(),
	}
	if err := r.state.ArbitratorPut(addr, info); err != nil {
		return nil, err
	}
	r.emit(NewArbitratorRegisteredEvent(addr, info))
	return info.Clone(), nil
}

// RemoveFromCurrency strips a currency from the arbitrator's eligibility set.
// Only the arbitrator itself or the administrator may invoke the change.
func (r *Registry) RemoveFromCurrency(caller, arbitrator [20]byte, currency string) error {
	if r == nil || r.state == nil {
		return errRegistryNilState
	}
	if caller != arbitrator && caller != r.admin {
		return ErrUnauthorized
	}
	normalized, err := NormalizeCurrency(currency)
	if err != nil {
		return err
	}
	info, ok, err := r.state.ArbitratorGet(arbitrator)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	filtered := info.Currencies[:0]
	removed := false
	for _, cur := range info.Currencies {
		if cur == normalized {
			removed = true
			continue
		}
		filtered = append(filtered, cur)
	}
	if !removed {
		return fmt.Errorf("arbitration registry: currency %s not supported by arbitrator", normalized)
	}
	info.Currencies = filtered
	if err := r.state.ArbitratorPut(arbitrator, info); err != nil {
		return err
	}
	r.emit(NewArbitratorCurrencyRemovedEvent(arbitrator, normalized))
	return nil
}

// Deactivate clears the arbitrator's activity flag while retaining the
// dispute history. Administrator only.
func (r *Registry) Deactivate(caller, arbitrator [20]byte) error {
	if r == nil || r.state == nil {
		return errRegistryNilState
	}
	if caller != r.admin {
		return ErrUnauthorized
	}
	info, ok, err := r.state.ArbitratorGet(arbitrator)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotRegistered
	}
	if !info.Active {
		return nil
	}
	info.Active = false
	if err := r.state.ArbitratorPut(arbitrator, info); err != nil {
		return err
	}
	r.emit(NewArbitratorDeactivatedEvent(arbitrator))
	return nil
}

// UpdateReputation records a resolved dispute for the arbitrator and
// recomputes the reputation score as clamp(won/handled*scale, floor, ceiling).
func (r *Registry) UpdateReputation(arbitrator [20]byte, won bool) (*ArbitratorInfo, error) {
	if r == nil || r.state == nil {
		return nil, errRegistryNilState
	}
	info, ok, err := r.state.ArbitratorGet(arbitrator)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotRegistered
	}
	info.DisputesHandled++
	if won {
		info.DisputesWon++
	}
	score := info.DisputesWon * ReputationScale / info.DisputesHandled
	if score < ReputationFloor {
		score = ReputationFloor
	}
	if score > ReputationCeiling {
		score = ReputationCeiling
	}
	info.ReputationScore = score
	if err := r.state.ArbitratorPut(arbitrator, info); err != nil {
		return nil, err
	}
	r.emit(NewReputationUpdatedEvent(arbitrator, info))
	return info.Clone(), nil
}

// Get returns the stored record for the arbitrator.
func (r *Registry) Get(arbitrator [20]byte) (*ArbitratorInfo, bool, error) {
	if r == nil || r.state == nil {
		return nil, false, errRegistryNilState
	}
	info, ok, err := r.state.ArbitratorGet(arbitrator)
	if err != nil || !ok {
		return nil, false, err
	}
	return info.Clone(), true, nil
}

// Eligible returns the active arbitrators supporting the supplied fiat
// currency in deterministic address order.
func (r *Registry) Eligible(currency string) ([][20]byte, error) {
	return r.filter(func(info *ArbitratorInfo) bool {
		return info.Active && info.SupportsCurrency(currency)
	})
}

// ActiveSet returns every active arbitrator regardless of currency. Used by
// the selection fallback when the currency-scoped set empties mid-flight.
func (r *Registry) ActiveSet() ([][20]byte, error) {
	return r.filter(func(info *ArbitratorInfo) bool { return info.Active })
}

func (r *Registry) filter(keep func(*ArbitratorInfo) bool) ([][20]byte, error) {
	if r == nil || r.state == nil {
		return nil, errRegistryNilState
	}
	addrs, err := r.state.ArbitratorList()
	if err != nil {
		return nil, err
	}
	eligible := make([][20]byte, 0, len(addrs))
	for _, addr := range addrs {
		info, ok, err := r.state.ArbitratorGet(addr)
		if err != nil {
			return nil, err
		}
		if !ok || !keep(info) {
			continue
		}
		eligible = append(eligible, addr)
	}
	sort.Slice(eligible, func(i, j int) bool {
		return string(eligible[i][:]) < string(eligible[j][:])
	})
	return eligible, nil
}
