package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"

	"peertrade/config"
	"peertrade/core/events"
	"peertrade/core/types"
	"peertrade/native/arbitration"
	"peertrade/native/escrow"
	"peertrade/native/fees"
	"peertrade/native/trade"
	"peertrade/observability"
	"peertrade/state"
	"peertrade/storage"
)

// Node is the central controller, wiring storage, the state layer and the
// domain engines together. Every public operation runs under the state mutex
// against a write overlay that commits only when the operation succeeds, so a
// failure mid-operation leaves no partial effects.
type Node struct {
	db      storage.Database
	cfg     *config.Config
	params  trade.Params
	admin   [20]byte
	logger  *slog.Logger
	metrics *observability.TradeMetrics

	stateMu sync.Mutex

	providerMu       sync.RWMutex
	providerIdentity [20]byte

	eventMu  sync.Mutex
	eventLog []*types.Event
}

const maxBufferedEvents = 1024

// NewNode constructs a node from the loaded configuration.
func NewNode(db storage.Database, cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("node: config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	treasury, err := cfg.Address(cfg.TreasuryAddress)
	if err != nil {
		return nil, err
	}
	warchest, err := cfg.Address(cfg.WarchestAddress)
	if err != nil {
		return nil, err
	}
	feeCollector, err := cfg.Address(cfg.FeeCollectorAddress)
	if err != nil {
		return nil, err
	}
	burnAccount, err := cfg.Address(cfg.BurnAddress)
	if err != nil {
		return nil, err
	}
	admin, err := cfg.Address(cfg.AdminAddress)
	if err != nil {
		return nil, err
	}
	provider, err := cfg.Address(cfg.ProviderAddress)
	if err != nil {
		return nil, err
	}
	params := trade.Params{
		FeeConfig:     cfg.FeeConfig(),
		FeeCollector:  feeCollector,
		Treasury:      treasury,
		Warchest:      warchest,
		BurnAccount:   burnAccount,
		MaxOpenTrades: cfg.MaxOpenTrades,
		TradeExpiry:   cfg.TradeExpirySecs,
		DisputeWindow: cfg.DisputeWindowSecs,
	}
	if err := params.FeeConfig.Validate(); err != nil {
		return nil, err
	}
	return &Node{
		db:               db,
		cfg:              cfg,
		params:           params,
		admin:            admin,
		logger:           logger,
		metrics:          observability.Trade(),
		providerIdentity: provider,
	}, nil
}

type eventWithPayload interface {
	Event() *types.Event
}

// opEmitter buffers engine events for the duration of one operation. The
// buffer is published only when the operation's overlay commits, so rolled
// back operations never surface events.
type opEmitter struct {
	buffered []*types.Event
}

func (e *opEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	e.buffered = append(e.buffered, event)
}

func (n *Node) appendEvent(event *types.Event) {
	n.eventMu.Lock()
	n.eventLog = append(n.eventLog, event)
	if len(n.eventLog) > maxBufferedEvents {
		n.eventLog = n.eventLog[len(n.eventLog)-maxBufferedEvents:]
	}
	n.eventMu.Unlock()

	attrs := make([]any, 0, len(event.Attributes)*2)
	for key, value := range event.Attributes {
		attrs = append(attrs, key, value)
	}
	n.logger.Info(event.Type, attrs...)

	switch event.Type {
	case trade.EventTypeStateTransition:
		n.metrics.ObserveTransition(event.Attributes["to"])
	case trade.EventTypeTradeDisputed:
		n.metrics.ObserveDispute("opened")
	case trade.EventTypeArbitratorAssigned:
		n.metrics.ObserveDispute("arbitrator_assigned")
	case trade.EventTypeDisputeResolved:
		n.metrics.ObserveDispute("resolved")
	case fees.EventTypeFeesDistributed:
		n.metrics.ObserveDistribution(event.Attributes["token"])
	case fees.EventTypeBurnFallback:
		n.metrics.ObserveBurnFallback()
	}
}

// Events returns a snapshot of the buffered event log.
func (n *Node) Events() []*types.Event {
	n.eventMu.Lock()
	defer n.eventMu.Unlock()
	return append([]*types.Event(nil), n.eventLog...)
}

// Admin returns the configured administrator identity.
func (n *Node) Admin() [20]byte { return n.admin }

// externalProvider notifies nothing: the selection request is persisted and
// its event emitted, and the off-process randomness service reacts to the
// event stream before calling back through FulfillArbitratorSelection.
type externalProvider struct{}

func (externalProvider) RequestRandomness(string) error { return nil }

func (n *Node) provider() (arbitration.Provider, [20]byte) {
	n.providerMu.RLock()
	defer n.providerMu.RUnlock()
	if n.providerIdentity == ([20]byte{}) {
		return nil, [20]byte{}
	}
	return externalProvider{}, n.providerIdentity
}

// ConfigureRandomnessProvider sets the identity allowed to fulfill randomness
// requests. A zero identity disables the provider, switching selection to the
// synchronous fallback. Restricted to the administrator.
func (n *Node) ConfigureRandomnessProvider(caller, identity [20]byte) error {
	if n.admin == ([20]byte{}) || caller != n.admin {
		return arbitration.ErrUnauthorized
	}
	n.providerMu.Lock()
	n.providerIdentity = identity
	n.providerMu.Unlock()
	return nil
}

type engineSet struct {
	trade    *trade.Engine
	registry *arbitration.Registry
	selector *arbitration.Selector
	ledger   *escrow.Ledger
	manager  *state.Manager
	emitter  *opEmitter
}

func (n *Node) newEngines(manager *state.Manager) (*engineSet, error) {
	emitter := &opEmitter{}

	ledger := escrow.NewLedger()
	ledger.SetState(manager)

	registry := arbitration.NewRegistry()
	registry.SetState(manager)
	registry.SetAdmin(n.admin)
	registry.SetEmitter(emitter)

	selector := arbitration.NewSelector(registry)
	selector.SetState(manager)
	selector.SetEmitter(emitter)
	if provider, identity := n.provider(); provider != nil {
		selector.SetProvider(provider, identity)
	}

	pipeline := fees.NewPipeline(n.cfg.NativeToken, ledger.Transfer, ledger.Burn)
	pipeline.SetTreasury(n.params.Treasury)
	pipeline.SetEmitter(emitter)

	engine := trade.NewEngine(ledger)
	engine.SetState(manager)
	engine.SetOfferRegistry(manager)
	engine.SetProfileRegistry(manager)
	engine.SetArbitration(registry, selector)
	engine.SetBurnPipeline(pipeline)
	engine.SetEmitter(emitter)
	if err := engine.SetParams(n.params); err != nil {
		return nil, err
	}
	return &engineSet{trade: engine, registry: registry, selector: selector, ledger: ledger, manager: manager, emitter: emitter}, nil
}

// withState runs fn against a fresh overlay-backed engine set, committing the
// overlay only when fn succeeds.
func (n *Node) withState(fn func(*engineSet) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	overlay := state.NewOverlay(n.db)
	engines, err := n.newEngines(state.NewManager(overlay))
	if err != nil {
		return err
	}
	if err := fn(engines); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	for _, event := range engines.emitter.buffered {
		n.appendEvent(event)
	}
	return nil
}

// CreateOffer stores a marketplace offer owned by the caller.
func (n *Node) CreateOffer(owner [20]byte, kind trade.OfferKind, token, fiatCurrency string, rate, minAmount, maxAmount *big.Int) (*trade.Offer, error) {
	normalizedToken, err := escrow.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	currency, err := arbitration.NormalizeCurrency(fiatCurrency)
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, fmt.Errorf("node: offer rate must be positive")
	}
	if minAmount != nil && maxAmount != nil && minAmount.Cmp(maxAmount) > 0 {
		return nil, fmt.Errorf("node: offer bounds inverted")
	}
	offer := &trade.Offer{
		ID:           newOfferID(owner, normalizedToken, currency),
		Owner:        owner,
		Kind:         kind,
		Token:        normalizedToken,
		FiatCurrency: currency,
		Rate:         new(big.Int).Set(rate),
		MinAmount:    minAmount,
		MaxAmount:    maxAmount,
		Active:       true,
	}
	err = n.withState(func(engines *engineSet) error {
		return engines.manager.OfferPut(offer)
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

// SetOfferActive toggles the offer's availability. Only the owner may change
// it.
func (n *Node) SetOfferActive(caller [20]byte, offerID string, active bool) error {
	return n.withState(func(engines *engineSet) error {
		offer, ok, err := engines.manager.GetOffer(offerID)
		if err != nil {
			return err
		}
		if !ok {
			return trade.ErrOfferNotActive
		}
		if offer.Owner != caller {
			return trade.ErrUnauthorized
		}
		offer.Active = active
		return engines.manager.OfferPut(offer)
	})
}

// GetOffer returns a stored offer.
func (n *Node) GetOffer(offerID string) (*trade.Offer, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).GetOffer(offerID)
}

// CreateTrade opens a trade against an offer.
func (n *Node) CreateTrade(caller [20]byte, offerID string, amount *big.Int, contact string, nonce [32]byte) (*trade.Trade, error) {
	var created *trade.Trade
	err := n.withState(func(engines *engineSet) error {
		t, err := engines.trade.CreateTrade(caller, offerID, amount, contact, nonce)
		if err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AcceptTrade records the maker's acceptance.
func (n *Node) AcceptTrade(caller [20]byte, tradeID [32]byte, contact string) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.AcceptTrade(caller, tradeID, contact)
	})
}

// FundEscrow moves the traded amount into escrow custody.
func (n *Node) FundEscrow(caller [20]byte, tradeID [32]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.FundEscrow(caller, tradeID)
	})
}

// MarkFiatDeposited records the buyer's fiat payment confirmation.
func (n *Node) MarkFiatDeposited(caller [20]byte, tradeID [32]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.MarkFiatDeposited(caller, tradeID)
	})
}

// ReleaseEscrow settles the trade in the buyer's favour.
func (n *Node) ReleaseEscrow(caller [20]byte, tradeID [32]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.ReleaseEscrow(caller, tradeID)
	})
}

// CancelTrade aborts a trade before settlement.
func (n *Node) CancelTrade(caller [20]byte, tradeID [32]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.CancelTrade(caller, tradeID)
	})
}

// RefundExpiredTrade refunds a funded trade after its deadline.
func (n *Node) RefundExpiredTrade(caller [20]byte, tradeID [32]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.RefundExpiredTrade(caller, tradeID)
	})
}

// DisputeTrade escalates a trade to arbitration.
func (n *Node) DisputeTrade(caller [20]byte, tradeID [32]byte, reason string) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.DisputeTrade(caller, tradeID, reason)
	})
}

// SubmitEvidence records a party's dispute evidence.
func (n *Node) SubmitEvidence(caller [20]byte, tradeID [32]byte, evidence string) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.SubmitEvidence(caller, tradeID, evidence)
	})
}

// FulfillArbitratorSelection completes a pending randomness request.
func (n *Node) FulfillArbitratorSelection(caller [20]byte, requestID string, randomValue *big.Int) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.FulfillArbitratorSelection(caller, requestID, randomValue)
	})
}

// ResolveDispute settles a disputed trade per the arbitrator's verdict.
func (n *Node) ResolveDispute(caller [20]byte, tradeID [32]byte, winner [20]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.trade.ResolveDispute(caller, tradeID, winner)
	})
}

// GetTrade returns the stored trade.
func (n *Node) GetTrade(tradeID [32]byte) (*trade.Trade, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engines, err := n.newEngines(state.NewManager(n.db))
	if err != nil {
		return nil, err
	}
	return engines.trade.GetTrade(tradeID)
}

// GetDispute returns the dispute record for a trade, if any.
func (n *Node) GetDispute(tradeID [32]byte) (*trade.Dispute, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engines, err := n.newEngines(state.NewManager(n.db))
	if err != nil {
		return nil, false, err
	}
	return engines.trade.GetDispute(tradeID)
}

// TradeHistory returns the trade's transition history.
func (n *Node) TradeHistory(tradeID [32]byte) ([]trade.TransitionRecord, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).TradeHistory(tradeID)
}

// EscrowBalance reports the escrowed balance held for a trade.
func (n *Node) EscrowBalance(tradeID [32]byte, token string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	ledger := escrow.NewLedger()
	ledger.SetState(state.NewManager(n.db))
	return ledger.Balance(tradeID, token)
}

// Balance reports an account's token balance.
func (n *Node) Balance(addr [20]byte, token string) (*big.Int, error) {
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	account, err := state.NewManager(n.db).GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return account.Balance(normalized), nil
}

// Mint credits newly issued token balance to an account. Restricted to the
// administrator; intended for bootstrapping local networks.
func (n *Node) Mint(caller, to [20]byte, token string, amount *big.Int) error {
	if n.admin == ([20]byte{}) || caller != n.admin {
		return trade.ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("node: mint amount must be positive")
	}
	normalized, err := escrow.NormalizeToken(token)
	if err != nil {
		return err
	}
	return n.withState(func(engines *engineSet) error {
		account, err := engines.manager.GetAccount(to[:])
		if err != nil {
			return err
		}
		account.SetBalance(normalized, new(big.Int).Add(account.Balance(normalized), amount))
		return engines.manager.PutAccount(to[:], account)
	})
}

// RegisterArbitrator registers the caller as an arbitrator.
func (n *Node) RegisterArbitrator(caller [20]byte, currencies []string, encryptionKey []byte) (*arbitration.ArbitratorInfo, error) {
	var info *arbitration.ArbitratorInfo
	err := n.withState(func(engines *engineSet) error {
		registered, err := engines.registry.Register(caller, currencies, encryptionKey)
		if err != nil {
			return err
		}
		info = registered
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// RemoveArbitratorCurrency strips a currency from an arbitrator's set.
func (n *Node) RemoveArbitratorCurrency(caller, arbitrator [20]byte, currency string) error {
	return n.withState(func(engines *engineSet) error {
		return engines.registry.RemoveFromCurrency(caller, arbitrator, currency)
	})
}

// DeactivateArbitrator deactivates an arbitrator. Admin only.
func (n *Node) DeactivateArbitrator(caller, arbitrator [20]byte) error {
	return n.withState(func(engines *engineSet) error {
		return engines.registry.Deactivate(caller, arbitrator)
	})
}

// GetArbitrator returns the stored arbitrator record.
func (n *Node) GetArbitrator(addr [20]byte) (*arbitration.ArbitratorInfo, bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return state.NewManager(n.db).ArbitratorGet(addr)
}

func newOfferID(owner [20]byte, token, currency string) string {
	return strings.ToLower(fmt.Sprintf("%x-%s-%s-%s", owner[:4], token, currency, uuid.NewString()))
}
