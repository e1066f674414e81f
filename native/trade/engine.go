package trade

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"peertrade/core/events"
	"peertrade/native/arbitration"
	"peertrade/native/escrow"
	"peertrade/native/fees"
)

var (
	errNilState  = errors.New("trade engine: state not configured")
	errNilLedger = errors.New("trade engine: escrow ledger not configured")

	// ErrTradeNotFound marks lookups for unknown trade identifiers.
	ErrTradeNotFound = errors.New("trade engine: trade not found")
	// ErrOfferNotActive marks creation attempts against inactive offers.
	ErrOfferNotActive = errors.New("trade engine: offer not active")
	// ErrAmountOutOfRange marks amounts outside the offer's bounds.
	ErrAmountOutOfRange = errors.New("trade engine: amount outside offer bounds")
	// ErrSelfTrade marks attempts to take one's own offer.
	ErrSelfTrade = errors.New("trade engine: cannot trade against own offer")
	// ErrTradeLimitExceeded marks callers above the open-trade ceiling.
	ErrTradeLimitExceeded = errors.New("trade engine: open trade limit exceeded")
	// ErrUnauthorized marks callers not permitted to perform the action in
	// the trade's current state.
	ErrUnauthorized = errors.New("trade engine: unauthorized caller")
	// ErrInvalidTransition marks operations not permitted by the lifecycle DAG.
	ErrInvalidTransition = errors.New("trade engine: status transition not allowed")
	// ErrTradeExpired marks operations attempted after the trade deadline.
	ErrTradeExpired = errors.New("trade engine: trade expired")
	// ErrTradeNotExpired marks permissionless refunds attempted before expiry.
	ErrTradeNotExpired = errors.New("trade engine: trade not yet expired")
	// ErrDisputeExists marks repeat dispute attempts for the same trade.
	ErrDisputeExists = errors.New("trade engine: dispute already exists")
	// ErrDisputeNotFound marks dispute operations on undisputed trades.
	ErrDisputeNotFound = errors.New("trade engine: dispute not found")
	// ErrDisputeResolved marks mutations of an already resolved dispute.
	ErrDisputeResolved = errors.New("trade engine: dispute already resolved")
	// ErrEvidenceExists rejects resubmission once a party's evidence is on
	// record.
	ErrEvidenceExists = errors.New("trade engine: evidence already submitted")
	// ErrDisputeWindowClosed marks escalations after the dispute deadline.
	ErrDisputeWindowClosed = errors.New("trade engine: dispute window closed")
	// ErrArbitratorNotAssigned marks resolutions before selection completed.
	ErrArbitratorNotAssigned = errors.New("trade engine: arbitrator not assigned")
	// ErrInvalidWinner marks resolutions naming a non-party winner.
	ErrInvalidWinner = errors.New("trade engine: winner must be buyer or seller")
)

type engineState interface {
	TradePut(*Trade) error
	TradeGet([32]byte) (*Trade, bool, error)
	TradeHistoryAppend([32]byte, TransitionRecord) error
	TradeHistory([32]byte) ([]TransitionRecord, error)
	DisputePut(*Dispute) error
	DisputeGet([32]byte) (*Dispute, bool, error)
}

// Engine is the trade-lifecycle state machine and the sole entry point for
// every trade mutation. All internal state is committed before any value
// transfer leaves the engine, so a reentrant call during a transfer observes
// a fully consistent trade.
type Engine struct {
	state    engineState
	ledger   *escrow.Ledger
	offers   OfferRegistry
	profiles ProfileRegistry
	registry *arbitration.Registry
	selector *arbitration.Selector
	pipeline *fees.Pipeline

	feeConfig     fees.Config
	feeCollector  [20]byte
	treasury      [20]byte
	warchest      [20]byte
	burnAccount   [20]byte
	maxOpenTrades uint32
	tradeExpiry   int64
	disputeWindow int64

	emitter events.Emitter
	nowFn   func() int64
}

// Params bundles the protocol accounts and windows applied to new trades.
type Params struct {
	FeeConfig     fees.Config
	FeeCollector  [20]byte
	Treasury      [20]byte
	Warchest      [20]byte
	BurnAccount   [20]byte
	MaxOpenTrades uint32
	TradeExpiry   int64
	DisputeWindow int64
}

// NewEngine constructs a trade engine bound to the supplied escrow ledger.
func NewEngine(ledger *escrow.Ledger) *Engine {
	return &Engine{
		ledger:  ledger,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetOfferRegistry configures the external offer marketplace.
func (e *Engine) SetOfferRegistry(offers OfferRegistry) { e.offers = offers }

// SetProfileRegistry configures the external profile counters.
func (e *Engine) SetProfileRegistry(profiles ProfileRegistry) { e.profiles = profiles }

// SetArbitration configures the arbitrator registry and selector used for
// disputed trades.
func (e *Engine) SetArbitration(registry *arbitration.Registry, selector *arbitration.Selector) {
	e.registry = registry
	e.selector = selector
}

// SetBurnPipeline configures the pipeline consuming the burn fee share.
func (e *Engine) SetBurnPipeline(pipeline *fees.Pipeline) { e.pipeline = pipeline }

// SetParams configures fee shares, protocol accounts and lifecycle windows.
// The fee configuration is validated against the protocol cap.
func (e *Engine) SetParams(p Params) error {
	if err := p.FeeConfig.Validate(); err != nil {
		return err
	}
	e.feeConfig = p.FeeConfig
	e.feeCollector = p.FeeCollector
	e.treasury = p.Treasury
	e.warchest = p.Warchest
	e.burnAccount = p.BurnAccount
	e.maxOpenTrades = p.MaxOpenTrades
	e.tradeExpiry = p.TradeExpiry
	e.disputeWindow = p.DisputeWindow
	return nil
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadTrade(id [32]byte) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	trade, ok, err := e.state.TradeGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTradeNotFound
	}
	return trade, nil
}

// transition advances the trade along the lifecycle DAG, persists it and
// appends the history record before emitting the transition event.
func (e *Engine) transition(t *Trade, to Status, actor [20]byte) error {
	if !t.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	from := t.Status
	t.Status = to
	if err := e.state.TradePut(t); err != nil {
		return err
	}
	rec := TransitionRecord{From: from, To: to, Timestamp: e.now(), Actor: actor}
	if err := e.state.TradeHistoryAppend(t.ID, rec); err != nil {
		return err
	}
	e.emit(NewStateTransitionEvent(t, from, to, actor))
	return nil
}

// CreateTrade opens a trade against the supplied offer. The offer is read
// exactly once: direction, token, currency and rate are locked onto the trade.
// The nonce makes creation idempotent; replaying an identical definition
// returns the stored trade.
func (e *Engine) CreateTrade(caller [20]byte, offerID string, amount *big.Int, contact string, nonce [32]byte) (*Trade, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.offers == nil {
		return nil, errors.New("trade engine: offer registry not configured")
	}
	trimmedOffer := strings.TrimSpace(offerID)
	if trimmedOffer == "" {
		return nil, fmt.Errorf("trade engine: offer id required")
	}
	offer, ok, err := e.offers.GetOffer(trimmedOffer)
	if err != nil {
		return nil, err
	}
	if !ok || offer == nil || !offer.Active {
		return nil, ErrOfferNotActive
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("trade engine: amount must be positive")
	}
	if offer.MinAmount != nil && amount.Cmp(offer.MinAmount) < 0 {
		return nil, ErrAmountOutOfRange
	}
	if offer.MaxAmount != nil && amount.Cmp(offer.MaxAmount) > 0 {
		return nil, ErrAmountOutOfRange
	}
	if caller == offer.Owner {
		return nil, ErrSelfTrade
	}
	if e.profiles != nil && e.maxOpenTrades > 0 {
		open, err := e.profiles.ActiveTradeCount(caller)
		if err != nil {
			return nil, err
		}
		if open >= e.maxOpenTrades {
			return nil, ErrTradeLimitExceeded
		}
	}
	token, err := escrow.NormalizeToken(offer.Token)
	if err != nil {
		return nil, err
	}
	currency, err := arbitration.NormalizeCurrency(offer.FiatCurrency)
	if err != nil {
		return nil, err
	}
	rate := big.NewInt(0)
	if offer.Rate != nil {
		rate = new(big.Int).Set(offer.Rate)
	}
	if rate.Sign() <= 0 {
		return nil, fmt.Errorf("trade engine: offer rate must be positive")
	}
	var buyer, seller [20]byte
	var buyerContact, sellerContact string
	switch offer.Kind {
	case OfferSell:
		seller, buyer = offer.Owner, caller
		buyerContact = contact
	case OfferBuy:
		buyer, seller = offer.Owner, caller
		sellerContact = contact
	default:
		return nil, fmt.Errorf("trade engine: unknown offer kind %d", offer.Kind)
	}
	now := e.now()
	fiatAmount := new(big.Int).Mul(amount, rate)
	fiatAmount.Div(fiatAmount, big.NewInt(RateDenominator))
	id := ethcrypto.Keccak256Hash([]byte(trimmedOffer), buyer[:], seller[:], nonce[:])
	if existing, ok, err := e.state.TradeGet(id); err != nil {
		return nil, err
	} else if ok {
		if existing.OfferID != trimmedOffer || existing.Buyer != buyer || existing.Seller != seller || existing.Amount.Cmp(amount) != 0 {
			return nil, fmt.Errorf("trade engine: identifier already exists with different definition")
		}
		return existing.Clone(), nil
	}
	trade := &Trade{
		ID:            id,
		OfferID:       trimmedOffer,
		Buyer:         buyer,
		Seller:        seller,
		Maker:         offer.Owner,
		Token:         token,
		Amount:        new(big.Int).Set(amount),
		FiatCurrency:  currency,
		FiatAmount:    fiatAmount,
		Rate:          rate,
		Status:        StatusRequestCreated,
		CreatedAt:     now,
		ExpiresAt:     now + e.tradeExpiry,
		BuyerContact:  buyerContact,
		SellerContact: sellerContact,
	}
	if _, err := SanitizeTrade(trade); err != nil {
		return nil, err
	}
	if err := e.state.TradePut(trade); err != nil {
		return nil, err
	}
	if err := e.adjustActiveCounts(trade, 1); err != nil {
		return nil, err
	}
	e.emit(NewTradeCreatedEvent(trade))
	return trade.Clone(), nil
}

// AcceptTrade records the offer owner's acceptance of a trade request along
// with their payment contact details.
func (e *Engine) AcceptTrade(caller [20]byte, tradeID [32]byte, contact string) error {
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	if trade.Status != StatusRequestCreated {
		return fmt.Errorf("%w: accept requires %s", ErrInvalidTransition, StatusRequestCreated)
	}
	if e.now() > trade.ExpiresAt {
		return ErrTradeExpired
	}
	if caller != trade.Maker {
		return ErrUnauthorized
	}
	if trade.Maker == trade.Seller {
		trade.SellerContact = contact
	} else {
		trade.BuyerContact = contact
	}
	return e.transition(trade, StatusRequestAccepted, caller)
}

// FundEscrow moves the traded amount from the seller into escrow custody. The
// funded status is committed before the transfer so a reentrant call observes
// an already-funded trade and cannot double-fund.
func (e *Engine) FundEscrow(caller [20]byte, tradeID [32]byte) error {
	if e.ledger == nil {
		return errNilLedger
	}
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	if trade.Status != StatusRequestAccepted {
		return fmt.Errorf("%w: fund requires %s", ErrInvalidTransition, StatusRequestAccepted)
	}
	if e.now() > trade.ExpiresAt {
		return ErrTradeExpired
	}
	if caller != trade.Seller {
		return ErrUnauthorized
	}
	if err := e.transition(trade, StatusEscrowFunded, caller); err != nil {
		return err
	}
	return e.ledger.Deposit(trade.ID, trade.Seller, trade.Token, trade.Amount)
}

// MarkFiatDeposited records the buyer's fiat payment confirmation and opens
// the dispute window.
func (e *Engine) MarkFiatDeposited(caller [20]byte, tradeID [32]byte) error {
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	if trade.Status != StatusEscrowFunded {
		return fmt.Errorf("%w: fiat confirmation requires %s", ErrInvalidTransition, StatusEscrowFunded)
	}
	if caller != trade.Buyer {
		return ErrUnauthorized
	}
	trade.DisputeDeadline = e.now() + e.disputeWindow
	return e.transition(trade, StatusFiatDeposited, caller)
}

// ReleaseEscrow settles the trade in the buyer's favour: the buyer receives
// the net amount and the protocol fee shares are routed. All state mutations
// commit before any transfer leaves escrow.
func (e *Engine) ReleaseEscrow(caller [20]byte, tradeID [32]byte) error {
	if e.ledger == nil {
		return errNilLedger
	}
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	if trade.Status != StatusFiatDeposited {
		return fmt.Errorf("%w: release requires %s", ErrInvalidTransition, StatusFiatDeposited)
	}
	if caller != trade.Seller {
		return ErrUnauthorized
	}
	dist := fees.Calculate(trade.Amount, e.feeConfig, false)
	net := new(big.Int).Sub(trade.Amount, dist.Total())
	if err := e.transition(trade, StatusEscrowReleased, caller); err != nil {
		return err
	}
	if err := e.ledger.Payout(trade.ID, trade.Buyer, trade.Token, net); err != nil {
		return err
	}
	if err := e.distributeFees(trade, dist); err != nil {
		return err
	}
	if err := e.adjustActiveCounts(trade, -1); err != nil {
		return err
	}
	if e.profiles != nil {
		if err := e.profiles.UpdateOutcomeCount(trade.Buyer, true); err != nil {
			return err
		}
		if err := e.profiles.UpdateOutcomeCount(trade.Seller, true); err != nil {
			return err
		}
	}
	return nil
}

// CancelTrade aborts a trade before settlement. Either party may cancel an
// unfunded trade; once funded only the buyer may walk away, returning the
// escrowed funds to the seller.
func (e *Engine) CancelTrade(caller [20]byte, tradeID [32]byte) error {
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	switch trade.Status {
	case StatusRequestCreated, StatusRequestAccepted:
		if caller != trade.Buyer && caller != trade.Seller {
			return ErrUnauthorized
		}
		if err := e.transition(trade, StatusEscrowCancelled, caller); err != nil {
			return err
		}
	case StatusEscrowFunded:
		if caller != trade.Buyer {
			return ErrUnauthorized
		}
		if e.ledger == nil {
			return errNilLedger
		}
		if err := e.transition(trade, StatusEscrowCancelled, caller); err != nil {
			return err
		}
		if err := e.ledger.Payout(trade.ID, trade.Seller, trade.Token, trade.Amount); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: cannot cancel in %s", ErrInvalidTransition, trade.Status)
	}
	return e.adjustActiveCounts(trade, -1)
}

// RefundExpiredTrade refunds a funded trade back to the seller once the trade
// deadline has elapsed. Callable by anyone, guaranteeing funds can never be
// permanently stuck on an abandoned trade.
func (e *Engine) RefundExpiredTrade(caller [20]byte, tradeID [32]byte) error {
	if e.ledger == nil {
		return errNilLedger
	}
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	if trade.Status != StatusEscrowFunded {
		return fmt.Errorf("%w: refund requires %s", ErrInvalidTransition, StatusEscrowFunded)
	}
	if e.now() <= trade.ExpiresAt {
		return ErrTradeNotExpired
	}
	if err := e.transition(trade, StatusEscrowRefunded, caller); err != nil {
		return err
	}
	if err := e.ledger.Payout(trade.ID, trade.Seller, trade.Token, trade.Amount); err != nil {
		return err
	}
	return e.adjustActiveCounts(trade, -1)
}

// DisputeTrade escalates a trade to arbitration inside the dispute window and
// kicks off arbitrator selection.
func (e *Engine) DisputeTrade(caller [20]byte, tradeID [32]byte, reason string) error {
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	if caller != trade.Buyer && caller != trade.Seller {
		return ErrUnauthorized
	}
	if trade.Status != StatusFiatDeposited {
		return fmt.Errorf("%w: dispute requires %s", ErrInvalidTransition, StatusFiatDeposited)
	}
	if e.now() > trade.DisputeDeadline {
		return ErrDisputeWindowClosed
	}
	if _, ok, err := e.state.DisputeGet(tradeID); err != nil {
		return err
	} else if ok {
		return ErrDisputeExists
	}
	if e.selector == nil {
		return errors.New("trade engine: arbitrator selector not configured")
	}
	sel, err := e.selector.Request(tradeID, trade.FiatCurrency)
	if err != nil {
		return err
	}
	dispute := &Dispute{
		TradeID:     tradeID,
		Initiator:   caller,
		InitiatedAt: e.now(),
		Reason:      strings.TrimSpace(reason),
		RequestID:   sel.RequestID,
	}
	if !sel.Pending {
		dispute.Arbitrator = sel.Arbitrator
		trade.Arbitrator = sel.Arbitrator
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	if err := e.transition(trade, StatusEscrowDisputed, caller); err != nil {
		return err
	}
	e.emit(NewTradeDisputedEvent(trade, dispute))
	if !sel.Pending {
		e.emit(NewArbitratorAssignedEvent(trade, sel.Arbitrator, sel.Fallback))
	}
	return nil
}

// FulfillArbitratorSelection completes a pending randomness request and
// assigns the selected arbitrator to the dispute. The callback is restricted
// to the randomness provider identity at the selector layer.
func (e *Engine) FulfillArbitratorSelection(caller [20]byte, requestID string, randomValue *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.selector == nil {
		return errors.New("trade engine: arbitrator selector not configured")
	}
	sel, err := e.selector.Fulfill(requestID, caller, randomValue)
	if err != nil {
		return err
	}
	trade, err := e.loadTrade(sel.TradeID)
	if err != nil {
		return err
	}
	dispute, ok, err := e.state.DisputeGet(sel.TradeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDisputeNotFound
	}
	dispute.Arbitrator = sel.Arbitrator
	trade.Arbitrator = sel.Arbitrator
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	if err := e.state.TradePut(trade); err != nil {
		return err
	}
	e.emit(NewArbitratorAssignedEvent(trade, sel.Arbitrator, sel.Fallback))
	return nil
}

// SubmitEvidence records a party's evidence while the dispute is unresolved.
// Each side gets exactly one submission; the record is immutable afterwards.
func (e *Engine) SubmitEvidence(caller [20]byte, tradeID [32]byte, evidence string) error {
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	dispute, ok, err := e.state.DisputeGet(tradeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDisputeNotFound
	}
	if dispute.Resolved {
		return ErrDisputeResolved
	}
	switch caller {
	case trade.Buyer:
		if dispute.BuyerEvidence != "" {
			return ErrEvidenceExists
		}
		dispute.BuyerEvidence = evidence
	case trade.Seller:
		if dispute.SellerEvidence != "" {
			return ErrEvidenceExists
		}
		dispute.SellerEvidence = evidence
	default:
		return ErrUnauthorized
	}
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	e.emit(NewEvidenceSubmittedEvent(trade, caller))
	return nil
}

// ResolveDispute settles a disputed trade according to the assigned
// arbitrator's verdict. The winner receives the net remainder and the
// arbitrator its fee share; the dispute record becomes immutable.
func (e *Engine) ResolveDispute(caller [20]byte, tradeID [32]byte, winner [20]byte) error {
	if e.ledger == nil {
		return errNilLedger
	}
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return err
	}
	dispute, ok, err := e.state.DisputeGet(tradeID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrDisputeNotFound
	}
	if dispute.Resolved {
		return ErrDisputeResolved
	}
	if trade.Status != StatusEscrowDisputed {
		return fmt.Errorf("%w: resolution requires %s", ErrInvalidTransition, StatusEscrowDisputed)
	}
	if dispute.Arbitrator == ([20]byte{}) {
		return ErrArbitratorNotAssigned
	}
	if caller != dispute.Arbitrator {
		return ErrUnauthorized
	}
	if winner != trade.Buyer && winner != trade.Seller {
		return ErrInvalidWinner
	}
	dist := fees.Calculate(trade.Amount, e.feeConfig, true)
	net := new(big.Int).Sub(trade.Amount, dist.Total())
	dispute.Winner = winner
	dispute.ResolvedAt = e.now()
	dispute.Resolved = true
	if err := e.state.DisputePut(dispute); err != nil {
		return err
	}
	if err := e.transition(trade, StatusDisputeResolved, caller); err != nil {
		return err
	}
	if err := e.ledger.Payout(trade.ID, winner, trade.Token, net); err != nil {
		return err
	}
	if err := e.ledger.Payout(trade.ID, dispute.Arbitrator, trade.Token, dist.Arbitrator); err != nil {
		return err
	}
	if err := e.distributeFees(trade, fees.Distribution{Burn: dist.Burn, Chain: dist.Chain, Warchest: dist.Warchest, Arbitrator: big.NewInt(0)}); err != nil {
		return err
	}
	if e.registry != nil {
		if _, err := e.registry.UpdateReputation(dispute.Arbitrator, winner == dispute.Initiator); err != nil {
			return err
		}
	}
	if err := e.adjustActiveCounts(trade, -1); err != nil {
		return err
	}
	if e.profiles != nil {
		loser := trade.Buyer
		if winner == trade.Buyer {
			loser = trade.Seller
		}
		if err := e.profiles.UpdateOutcomeCount(winner, true); err != nil {
			return err
		}
		if err := e.profiles.UpdateOutcomeCount(loser, false); err != nil {
			return err
		}
	}
	e.emit(NewDisputeResolvedEvent(trade, dispute))
	return nil
}

// GetTrade returns the stored trade.
func (e *Engine) GetTrade(tradeID [32]byte) (*Trade, error) {
	trade, err := e.loadTrade(tradeID)
	if err != nil {
		return nil, err
	}
	return trade.Clone(), nil
}

// GetDispute returns the dispute record for the trade if one exists.
func (e *Engine) GetDispute(tradeID [32]byte) (*Dispute, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	dispute, ok, err := e.state.DisputeGet(tradeID)
	if err != nil || !ok {
		return nil, false, err
	}
	return dispute.Clone(), true, nil
}

// History returns the append-only transition records for the trade.
func (e *Engine) History(tradeID [32]byte) ([]TransitionRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.TradeHistory(tradeID)
}

// distributeFees routes the chain, warchest and burn shares out of escrow.
// The chain share prefers the fee collector, falling back to the treasury.
func (e *Engine) distributeFees(trade *Trade, dist fees.Distribution) error {
	chainRecipient := e.feeCollector
	if chainRecipient == ([20]byte{}) {
		chainRecipient = e.treasury
	}
	if err := e.ledger.Payout(trade.ID, chainRecipient, trade.Token, dist.Chain); err != nil {
		return err
	}
	if err := e.ledger.Payout(trade.ID, e.warchest, trade.Token, dist.Warchest); err != nil {
		return err
	}
	if dist.Burn != nil && dist.Burn.Sign() > 0 {
		if err := e.ledger.Payout(trade.ID, e.burnAccount, trade.Token, dist.Burn); err != nil {
			return err
		}
		if e.pipeline != nil {
			if err := e.pipeline.SwapAndBurn(e.burnAccount, trade.Token, dist.Burn); err != nil {
				return err
			}
		}
	}
	e.emit(fees.NewDistributionEvent(trade.ID, trade.Token, dist))
	return nil
}

func (e *Engine) adjustActiveCounts(trade *Trade, delta int) error {
	if e.profiles == nil {
		return nil
	}
	if err := e.profiles.UpdateActiveTradeCount(trade.Buyer, delta); err != nil {
		return err
	}
	return e.profiles.UpdateActiveTradeCount(trade.Seller, delta)
}
