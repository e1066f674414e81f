package trade

import (
	"errors"
	"math/big"
	"testing"

	"peertrade/core/events"
	"peertrade/core/types"
	"peertrade/native/arbitration"
	"peertrade/native/escrow"
	"peertrade/native/fees"
)

const (
	testToken    = "PTC"
	testExpiry   = int64(172_800)
	testWindow   = int64(86_400)
	testMaxOpen  = uint32(3)
	testBaseTime = int64(1_700_000_000)
)

type mockState struct {
	trades    map[[32]byte]*Trade
	histories map[[32]byte][]TransitionRecord
	disputes  map[[32]byte]*Dispute

	accounts   map[[20]byte]*types.Account
	escrowBal  map[[32]byte]map[string]*big.Int
	vaultAddrs map[string][20]byte

	arbitrators map[[20]byte]*arbitration.ArbitratorInfo
	arbOrder    [][20]byte
	requests    map[string]*arbitration.PendingRequest

	offers map[string]*Offer

	active   map[[20]byte]uint32
	wins     map[[20]byte]int
	losses   map[[20]byte]int
	burnSums map[string]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		trades:      make(map[[32]byte]*Trade),
		histories:   make(map[[32]byte][]TransitionRecord),
		disputes:    make(map[[32]byte]*Dispute),
		accounts:    make(map[[20]byte]*types.Account),
		escrowBal:   make(map[[32]byte]map[string]*big.Int),
		vaultAddrs:  make(map[string][20]byte),
		arbitrators: make(map[[20]byte]*arbitration.ArbitratorInfo),
		requests:    make(map[string]*arbitration.PendingRequest),
		offers:      make(map[string]*Offer),
		active:      make(map[[20]byte]uint32),
		wins:        make(map[[20]byte]int),
		losses:      make(map[[20]byte]int),
		burnSums:    make(map[string]*big.Int),
	}
}

func (m *mockState) TradePut(t *Trade) error {
	m.trades[t.ID] = t.Clone()
	return nil
}

func (m *mockState) TradeGet(id [32]byte) (*Trade, bool, error) {
	t, ok := m.trades[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (m *mockState) TradeHistoryAppend(id [32]byte, rec TransitionRecord) error {
	m.histories[id] = append(m.histories[id], rec)
	return nil
}

func (m *mockState) TradeHistory(id [32]byte) ([]TransitionRecord, error) {
	return append([]TransitionRecord(nil), m.histories[id]...), nil
}

func (m *mockState) DisputePut(d *Dispute) error {
	m.disputes[d.TradeID] = d.Clone()
	return nil
}

func (m *mockState) DisputeGet(id [32]byte) (*Dispute, bool, error) {
	d, ok := m.disputes[id]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	var key [20]byte
	copy(key[:], addr)
	if acc, ok := m.accounts[key]; ok {
		return acc, nil
	}
	acc := types.NewAccount()
	m.accounts[key] = acc
	return acc, nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	var key [20]byte
	copy(key[:], addr)
	m.accounts[key] = account
	return nil
}

func (m *mockState) EscrowCredit(tradeID [32]byte, token string, amount *big.Int) error {
	bals, ok := m.escrowBal[tradeID]
	if !ok {
		bals = make(map[string]*big.Int)
		m.escrowBal[tradeID] = bals
	}
	current := bals[token]
	if current == nil {
		current = big.NewInt(0)
	}
	bals[token] = new(big.Int).Add(current, amount)
	return nil
}

func (m *mockState) EscrowDebit(tradeID [32]byte, token string, amount *big.Int) error {
	bals := m.escrowBal[tradeID]
	current := bals[token]
	if current == nil || current.Cmp(amount) < 0 {
		return errors.New("mock: escrow underflow")
	}
	bals[token] = new(big.Int).Sub(current, amount)
	return nil
}

func (m *mockState) EscrowBalance(tradeID [32]byte, token string) (*big.Int, error) {
	bals := m.escrowBal[tradeID]
	if bals == nil || bals[token] == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bals[token]), nil
}

func (m *mockState) EscrowVaultAddress(token string) ([20]byte, error) {
	if addr, ok := m.vaultAddrs[token]; ok {
		return addr, nil
	}
	var addr [20]byte
	addr[0] = 0xEC
	addr[19] = byte(len(m.vaultAddrs) + 1)
	m.vaultAddrs[token] = addr
	return addr, nil
}

func (m *mockState) ArbitratorPut(addr [20]byte, info *arbitration.ArbitratorInfo) error {
	if _, ok := m.arbitrators[addr]; !ok {
		m.arbOrder = append(m.arbOrder, addr)
	}
	m.arbitrators[addr] = info.Clone()
	return nil
}

func (m *mockState) ArbitratorGet(addr [20]byte) (*arbitration.ArbitratorInfo, bool, error) {
	info, ok := m.arbitrators[addr]
	if !ok {
		return nil, false, nil
	}
	return info.Clone(), true, nil
}

func (m *mockState) ArbitratorList() ([][20]byte, error) {
	return append([][20]byte(nil), m.arbOrder...), nil
}

func (m *mockState) RandomnessRequestPut(req *arbitration.PendingRequest) error {
	clone := *req
	m.requests[req.ID] = &clone
	return nil
}

func (m *mockState) RandomnessRequestGet(id string) (*arbitration.PendingRequest, bool, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, false, nil
	}
	clone := *req
	return &clone, true, nil
}

func (m *mockState) GetOffer(id string) (*Offer, bool, error) {
	offer, ok := m.offers[id]
	return offer, ok, nil
}

func (m *mockState) ActiveTradeCount(addr [20]byte) (uint32, error) {
	return m.active[addr], nil
}

func (m *mockState) UpdateActiveTradeCount(addr [20]byte, delta int) error {
	if delta < 0 && m.active[addr] == 0 {
		return errors.New("mock: active count underflow")
	}
	m.active[addr] = uint32(int(m.active[addr]) + delta)
	return nil
}

func (m *mockState) UpdateOutcomeCount(addr [20]byte, won bool) error {
	if won {
		m.wins[addr]++
	} else {
		m.losses[addr]++
	}
	return nil
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	acc, ok := m.accounts[addr]
	if !ok {
		return big.NewInt(0)
	}
	return acc.Balance(token)
}

func (m *mockState) fund(addr [20]byte, token string, amount int64) {
	acc, _ := m.GetAccount(addr[:])
	acc.SetBalance(token, big.NewInt(amount))
}

type stubProvider struct {
	requested []string
	err       error
}

func (p *stubProvider) RequestRandomness(requestID string) error {
	if p.err != nil {
		return p.err
	}
	p.requested = append(p.requested, requestID)
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = b
	out[19] = b
	return out
}

type testEnv struct {
	engine   *Engine
	state    *mockState
	ledger   *escrow.Ledger
	registry *arbitration.Registry
	selector *arbitration.Selector
	now      int64

	buyer        [20]byte
	seller       [20]byte
	feeCollector [20]byte
	treasury     [20]byte
	warchest     [20]byte
	burnAccount  [20]byte
	arbitrators  [][20]byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:        newMockState(),
		now:          testBaseTime,
		buyer:        addr(0x01),
		seller:       addr(0x02),
		feeCollector: addr(0xF1),
		treasury:     addr(0xF2),
		warchest:     addr(0xF3),
		burnAccount:  addr(0xF4),
	}
	nowFn := func() int64 { return env.now }

	env.ledger = escrow.NewLedger()
	env.ledger.SetState(env.state)

	env.registry = arbitration.NewRegistry()
	env.registry.SetState(env.state)
	env.registry.SetAdmin(addr(0xAD))
	env.registry.SetNowFunc(nowFn)

	env.selector = arbitration.NewSelector(env.registry)
	env.selector.SetState(env.state)
	env.selector.SetNowFunc(nowFn)

	burnFn := func(holder [20]byte, token string, amount *big.Int) error {
		if err := env.ledger.Burn(holder, token, amount); err != nil {
			return err
		}
		sum := env.state.burnSums[token]
		if sum == nil {
			sum = big.NewInt(0)
		}
		env.state.burnSums[token] = new(big.Int).Add(sum, amount)
		return nil
	}
	pipeline := fees.NewPipeline(testToken, env.ledger.Transfer, burnFn)
	pipeline.SetTreasury(env.treasury)

	env.engine = NewEngine(env.ledger)
	env.engine.SetState(env.state)
	env.engine.SetOfferRegistry(env.state)
	env.engine.SetProfileRegistry(env.state)
	env.engine.SetArbitration(env.registry, env.selector)
	env.engine.SetBurnPipeline(pipeline)
	env.engine.SetNowFunc(nowFn)
	if err := env.engine.SetParams(Params{
		FeeConfig:     fees.Config{BurnBps: 20, ChainBps: 30, WarchestBps: 50, ArbitratorBps: 100},
		FeeCollector:  env.feeCollector,
		Treasury:      env.treasury,
		Warchest:      env.warchest,
		BurnAccount:   env.burnAccount,
		MaxOpenTrades: testMaxOpen,
		TradeExpiry:   testExpiry,
		DisputeWindow: testWindow,
	}); err != nil {
		t.Fatalf("set params: %v", err)
	}

	env.state.offers["offer-1"] = &Offer{
		ID:           "offer-1",
		Owner:        env.seller,
		Kind:         OfferSell,
		Token:        testToken,
		FiatCurrency: "usd",
		Rate:         big.NewInt(1_500_000),
		MinAmount:    big.NewInt(100),
		MaxAmount:    big.NewInt(10_000),
		Active:       true,
	}
	env.state.fund(env.seller, testToken, 1_000)
	return env
}

func (env *testEnv) addArbitrators(t *testing.T, count int, currencies ...string) {
	t.Helper()
	if len(currencies) == 0 {
		currencies = []string{"USD"}
	}
	for i := 0; i < count; i++ {
		a := addr(byte(0xA0 + i))
		if _, err := env.registry.Register(a, currencies, []byte{0x04, byte(i)}); err != nil {
			t.Fatalf("register arbitrator %d: %v", i, err)
		}
		env.arbitrators = append(env.arbitrators, a)
	}
}

func (env *testEnv) createTrade(t *testing.T) *Trade {
	t.Helper()
	trade, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(500), "signal:buyer", [32]byte{0x01})
	if err != nil {
		t.Fatalf("create trade: %v", err)
	}
	return trade
}

func (env *testEnv) advanceToFiatDeposited(t *testing.T) *Trade {
	t.Helper()
	trade := env.createTrade(t)
	if err := env.engine.AcceptTrade(env.seller, trade.ID, "bank:seller"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := env.engine.FundEscrow(env.seller, trade.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := env.engine.MarkFiatDeposited(env.buyer, trade.ID); err != nil {
		t.Fatalf("fiat deposited: %v", err)
	}
	return trade
}

func TestCreateTradeLocksOfferTerms(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)

	if trade.Buyer != env.buyer || trade.Seller != env.seller {
		t.Fatalf("unexpected roles: buyer=%x seller=%x", trade.Buyer, trade.Seller)
	}
	if trade.Token != testToken {
		t.Fatalf("token = %q", trade.Token)
	}
	if trade.FiatCurrency != "USD" {
		t.Fatalf("currency = %q", trade.FiatCurrency)
	}
	if got, want := trade.FiatAmount, big.NewInt(750); got.Cmp(want) != 0 {
		t.Fatalf("fiat amount = %s, want %s", got, want)
	}
	if trade.Status != StatusRequestCreated {
		t.Fatalf("status = %s", trade.Status)
	}
	if trade.ExpiresAt != testBaseTime+testExpiry {
		t.Fatalf("expiresAt = %d", trade.ExpiresAt)
	}
	if env.state.active[env.buyer] != 1 || env.state.active[env.seller] != 1 {
		t.Fatalf("active counts = %d/%d", env.state.active[env.buyer], env.state.active[env.seller])
	}
}

func TestCreateTradeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTrade(t)
	second, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(500), "signal:buyer", [32]byte{0x01})
	if err != nil {
		t.Fatalf("replay create: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay produced different trade id")
	}
	if env.state.active[env.buyer] != 1 {
		t.Fatalf("replay incremented active count: %d", env.state.active[env.buyer])
	}
	other, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(500), "signal:buyer", [32]byte{0x02})
	if err != nil {
		t.Fatalf("second nonce: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("distinct nonce produced identical trade id")
	}
}

func TestCreateTradeValidation(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.CreateTrade(env.buyer, "missing", big.NewInt(500), "", [32]byte{0x01}); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("missing offer: %v", err)
	}
	env.state.offers["offer-1"].Active = false
	if _, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(500), "", [32]byte{0x01}); !errors.Is(err, ErrOfferNotActive) {
		t.Fatalf("inactive offer: %v", err)
	}
	env.state.offers["offer-1"].Active = true

	if _, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(50), "", [32]byte{0x01}); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("below min: %v", err)
	}
	if _, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(20_000), "", [32]byte{0x01}); !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("above max: %v", err)
	}
	if _, err := env.engine.CreateTrade(env.seller, "offer-1", big.NewInt(500), "", [32]byte{0x01}); !errors.Is(err, ErrSelfTrade) {
		t.Fatalf("self trade: %v", err)
	}

	env.state.active[env.buyer] = testMaxOpen
	if _, err := env.engine.CreateTrade(env.buyer, "offer-1", big.NewInt(500), "", [32]byte{0x01}); !errors.Is(err, ErrTradeLimitExceeded) {
		t.Fatalf("limit: %v", err)
	}
}

func TestBuyOfferInvertsRoles(t *testing.T) {
	env := newTestEnv(t)
	env.state.offers["offer-2"] = &Offer{
		ID:           "offer-2",
		Owner:        env.buyer,
		Kind:         OfferBuy,
		Token:        testToken,
		FiatCurrency: "EUR",
		Rate:         big.NewInt(1_000_000),
		Active:       true,
	}
	trade, err := env.engine.CreateTrade(env.seller, "offer-2", big.NewInt(200), "bank:seller", [32]byte{0x09})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if trade.Buyer != env.buyer || trade.Seller != env.seller {
		t.Fatalf("buy offer roles: buyer=%x seller=%x", trade.Buyer, trade.Seller)
	}
	if trade.Maker != env.buyer {
		t.Fatalf("maker = %x", trade.Maker)
	}
	if trade.SellerContact != "bank:seller" {
		t.Fatalf("seller contact = %q", trade.SellerContact)
	}
}

func TestHappyPathSettlement(t *testing.T) {
	env := newTestEnv(t)
	trade := env.advanceToFiatDeposited(t)

	escrowed, err := env.ledger.Balance(trade.ID, testToken)
	if err != nil {
		t.Fatalf("escrow balance: %v", err)
	}
	if escrowed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("escrowed = %s, want 500", escrowed)
	}
	if got := env.state.balance(env.seller, testToken); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("seller balance after funding = %s", got)
	}

	if err := env.engine.ReleaseEscrow(env.seller, trade.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	if got := env.state.balance(env.buyer, testToken); got.Cmp(big.NewInt(495)) != 0 {
		t.Fatalf("buyer net = %s, want 495", got)
	}
	if got := env.state.balance(env.feeCollector, testToken); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("chain share = %s, want 1", got)
	}
	if got := env.state.balance(env.warchest, testToken); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("warchest share = %s, want 3", got)
	}
	if got := env.state.burnSums[testToken]; got == nil || got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("burned = %v, want 1", got)
	}
	if got := env.state.balance(env.burnAccount, testToken); got.Sign() != 0 {
		t.Fatalf("burn account retained %s", got)
	}
	remaining, _ := env.ledger.Balance(trade.ID, testToken)
	if remaining.Sign() != 0 {
		t.Fatalf("escrow not emptied: %s", remaining)
	}

	stored, err := env.engine.GetTrade(trade.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if stored.Status != StatusEscrowReleased {
		t.Fatalf("status = %s", stored.Status)
	}
	history, err := env.engine.History(trade.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !ValidHistory(history) {
		t.Fatalf("history does not form a valid lifecycle path: %+v", history)
	}
	if len(history) != 4 {
		t.Fatalf("history length = %d", len(history))
	}
	if env.state.active[env.buyer] != 0 || env.state.active[env.seller] != 0 {
		t.Fatalf("active counts not released")
	}
	if env.state.wins[env.buyer] != 1 || env.state.wins[env.seller] != 1 {
		t.Fatalf("outcome counters = %d/%d", env.state.wins[env.buyer], env.state.wins[env.seller])
	}
}

func TestLifecycleAuthorization(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)

	if err := env.engine.AcceptTrade(env.buyer, trade.ID, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("accept by taker: %v", err)
	}
	if err := env.engine.AcceptTrade(env.seller, trade.ID, "bank:seller"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := env.engine.FundEscrow(env.buyer, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("fund by buyer: %v", err)
	}
	if err := env.engine.FundEscrow(env.seller, trade.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}
	if err := env.engine.MarkFiatDeposited(env.seller, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("fiat by seller: %v", err)
	}
	if err := env.engine.MarkFiatDeposited(env.buyer, trade.ID); err != nil {
		t.Fatalf("fiat: %v", err)
	}
	if err := env.engine.ReleaseEscrow(env.buyer, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("release by buyer: %v", err)
	}
}

func TestOutOfOrderTransitionsRejected(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)

	if err := env.engine.FundEscrow(env.seller, trade.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fund before accept: %v", err)
	}
	if err := env.engine.MarkFiatDeposited(env.buyer, trade.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("fiat before funding: %v", err)
	}
	if err := env.engine.ReleaseEscrow(env.seller, trade.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("release before fiat: %v", err)
	}
	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "x"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("dispute before fiat: %v", err)
	}
}

func TestAcceptExpiredTrade(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)
	env.now = testBaseTime + testExpiry + 1
	if err := env.engine.AcceptTrade(env.seller, trade.ID, ""); !errors.Is(err, ErrTradeExpired) {
		t.Fatalf("accept after expiry: %v", err)
	}
}

func TestCancelBeforeFunding(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)

	outsider := addr(0x77)
	if err := env.engine.CancelTrade(outsider, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cancel by outsider: %v", err)
	}
	if err := env.engine.CancelTrade(env.buyer, trade.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	stored, _ := env.engine.GetTrade(trade.ID)
	if stored.Status != StatusEscrowCancelled {
		t.Fatalf("status = %s", stored.Status)
	}
	if env.state.active[env.buyer] != 0 {
		t.Fatalf("active count not released")
	}
}

func TestBuyerCancelAfterFundingRefundsSeller(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)
	if err := env.engine.AcceptTrade(env.seller, trade.ID, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := env.engine.FundEscrow(env.seller, trade.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}

	if err := env.engine.CancelTrade(env.seller, trade.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("seller cancel of funded trade: %v", err)
	}
	if err := env.engine.CancelTrade(env.buyer, trade.ID); err != nil {
		t.Fatalf("buyer cancel: %v", err)
	}
	if got := env.state.balance(env.seller, testToken); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("seller balance after refund = %s, want 1000", got)
	}
	remaining, _ := env.ledger.Balance(trade.ID, testToken)
	if remaining.Sign() != 0 {
		t.Fatalf("escrow not emptied: %s", remaining)
	}
}

func TestRefundExpiredTrade(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)
	if err := env.engine.AcceptTrade(env.seller, trade.ID, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := env.engine.FundEscrow(env.seller, trade.ID); err != nil {
		t.Fatalf("fund: %v", err)
	}

	anyone := addr(0x55)
	env.now = testBaseTime + testExpiry
	if err := env.engine.RefundExpiredTrade(anyone, trade.ID); !errors.Is(err, ErrTradeNotExpired) {
		t.Fatalf("refund at deadline: %v", err)
	}
	env.now = testBaseTime + testExpiry + 1
	if err := env.engine.RefundExpiredTrade(anyone, trade.ID); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if got := env.state.balance(env.seller, testToken); got.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("seller balance after refund = %s", got)
	}
	stored, _ := env.engine.GetTrade(trade.ID)
	if stored.Status != StatusEscrowRefunded {
		t.Fatalf("status = %s", stored.Status)
	}
}

func TestRefundRequiresFundedState(t *testing.T) {
	env := newTestEnv(t)
	trade := env.createTrade(t)
	env.now = testBaseTime + testExpiry + 1
	if err := env.engine.RefundExpiredTrade(addr(0x55), trade.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("refund of unfunded trade: %v", err)
	}
}

func TestDisputeWithProviderIsTwoPhase(t *testing.T) {
	env := newTestEnv(t)
	env.addArbitrators(t, 3)
	provider := &stubProvider{}
	providerIdentity := addr(0xBB)
	env.selector.SetProvider(provider, providerIdentity)
	trade := env.advanceToFiatDeposited(t)

	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "fiat never arrived"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	stored, _ := env.engine.GetTrade(trade.ID)
	if stored.Status != StatusEscrowDisputed {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.Arbitrator != ([20]byte{}) {
		t.Fatalf("arbitrator assigned before fulfillment")
	}
	dispute, ok, err := env.engine.GetDispute(trade.ID)
	if err != nil || !ok {
		t.Fatalf("get dispute: ok=%v err=%v", ok, err)
	}
	if dispute.RequestID == "" {
		t.Fatalf("dispute carries no randomness request id")
	}
	if len(provider.requested) != 1 || provider.requested[0] != dispute.RequestID {
		t.Fatalf("provider request mismatch: %v", provider.requested)
	}
	if err := env.engine.ResolveDispute(env.arbitrators[0], trade.ID, env.buyer); !errors.Is(err, ErrArbitratorNotAssigned) {
		t.Fatalf("resolve before assignment: %v", err)
	}

	if err := env.engine.FulfillArbitratorSelection(addr(0xCC), dispute.RequestID, big.NewInt(7)); !errors.Is(err, arbitration.ErrUnauthorizedFulfiller) {
		t.Fatalf("fulfill by stranger: %v", err)
	}
	if err := env.engine.FulfillArbitratorSelection(providerIdentity, dispute.RequestID, big.NewInt(7)); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	stored, _ = env.engine.GetTrade(trade.ID)
	if want := env.arbitrators[7%3]; stored.Arbitrator != want {
		t.Fatalf("arbitrator = %x, want %x", stored.Arbitrator, want)
	}
	if err := env.engine.FulfillArbitratorSelection(providerIdentity, dispute.RequestID, big.NewInt(9)); !errors.Is(err, arbitration.ErrRequestAlreadyFulfilled) {
		t.Fatalf("double fulfill: %v", err)
	}
}

func TestDisputeFallbackAssignsImmediately(t *testing.T) {
	env := newTestEnv(t)
	env.addArbitrators(t, 2)
	trade := env.advanceToFiatDeposited(t)

	if err := env.engine.DisputeTrade(env.seller, trade.ID, "buyer ghosted"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	stored, _ := env.engine.GetTrade(trade.ID)
	if stored.Arbitrator == ([20]byte{}) {
		t.Fatalf("fallback left arbitrator unassigned")
	}
	dispute, _, _ := env.engine.GetDispute(trade.ID)
	if dispute.Arbitrator != stored.Arbitrator {
		t.Fatalf("dispute and trade disagree on arbitrator")
	}
}

func TestDisputeValidation(t *testing.T) {
	env := newTestEnv(t)
	env.addArbitrators(t, 1)
	trade := env.advanceToFiatDeposited(t)

	if err := env.engine.DisputeTrade(addr(0x77), trade.ID, "x"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("dispute by outsider: %v", err)
	}

	env.now = testBaseTime + testWindow + 1
	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "late"); !errors.Is(err, ErrDisputeWindowClosed) {
		t.Fatalf("dispute after window: %v", err)
	}
	env.now = testBaseTime

	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "first"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := env.engine.DisputeTrade(env.seller, trade.ID, "second"); !errors.Is(err, ErrDisputeExists) {
		t.Fatalf("duplicate dispute: %v", err)
	}
}

func TestDisputeWithoutArbitrators(t *testing.T) {
	env := newTestEnv(t)
	trade := env.advanceToFiatDeposited(t)
	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "x"); !errors.Is(err, arbitration.ErrNoArbitratorsAvailable) {
		t.Fatalf("dispute without arbitrators: %v", err)
	}
}

func TestSubmitEvidence(t *testing.T) {
	env := newTestEnv(t)
	env.addArbitrators(t, 1)
	trade := env.advanceToFiatDeposited(t)
	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "x"); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	if err := env.engine.SubmitEvidence(env.buyer, trade.ID, "receipt hash"); err != nil {
		t.Fatalf("buyer evidence: %v", err)
	}
	if err := env.engine.SubmitEvidence(env.seller, trade.ID, "bank statement"); err != nil {
		t.Fatalf("seller evidence: %v", err)
	}
	if err := env.engine.SubmitEvidence(addr(0x77), trade.ID, "noise"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider evidence: %v", err)
	}
	if err := env.engine.SubmitEvidence(env.buyer, trade.ID, "revised receipt"); !errors.Is(err, ErrEvidenceExists) {
		t.Fatalf("buyer resubmission: %v", err)
	}
	dispute, _, _ := env.engine.GetDispute(trade.ID)
	if dispute.BuyerEvidence != "receipt hash" || dispute.SellerEvidence != "bank statement" {
		t.Fatalf("evidence not recorded: %+v", dispute)
	}
}

func TestResolveDisputePaysWinnerAndArbitrator(t *testing.T) {
	env := newTestEnv(t)
	env.addArbitrators(t, 1)
	trade := env.advanceToFiatDeposited(t)
	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "no crypto released"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	arb := env.arbitrators[0]

	if err := env.engine.ResolveDispute(env.seller, trade.ID, env.buyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("resolve by party: %v", err)
	}
	if err := env.engine.ResolveDispute(arb, trade.ID, addr(0x77)); !errors.Is(err, ErrInvalidWinner) {
		t.Fatalf("outsider winner: %v", err)
	}
	if err := env.engine.ResolveDispute(arb, trade.ID, env.buyer); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if got := env.state.balance(env.buyer, testToken); got.Cmp(big.NewInt(490)) != 0 {
		t.Fatalf("winner net = %s, want 490", got)
	}
	if got := env.state.balance(arb, testToken); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("arbitrator share = %s, want 5", got)
	}
	if got := env.state.balance(env.feeCollector, testToken); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("chain share = %s", got)
	}
	if got := env.state.balance(env.warchest, testToken); got.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("warchest share = %s", got)
	}
	remaining, _ := env.ledger.Balance(trade.ID, testToken)
	if remaining.Sign() != 0 {
		t.Fatalf("escrow not emptied: %s", remaining)
	}

	stored, _ := env.engine.GetTrade(trade.ID)
	if stored.Status != StatusDisputeResolved {
		t.Fatalf("status = %s", stored.Status)
	}
	dispute, _, _ := env.engine.GetDispute(trade.ID)
	if !dispute.Resolved || dispute.Winner != env.buyer {
		t.Fatalf("dispute record: %+v", dispute)
	}
	if err := env.engine.ResolveDispute(arb, trade.ID, env.seller); !errors.Is(err, ErrDisputeResolved) {
		t.Fatalf("double resolve: %v", err)
	}
	if err := env.engine.SubmitEvidence(env.buyer, trade.ID, "late"); !errors.Is(err, ErrDisputeResolved) {
		t.Fatalf("evidence after resolution: %v", err)
	}

	info, ok, err := env.registry.Get(arb)
	if err != nil || !ok {
		t.Fatalf("registry get: ok=%v err=%v", ok, err)
	}
	if info.DisputesHandled != 1 || info.DisputesWon != 1 {
		t.Fatalf("reputation counters = %d/%d", info.DisputesHandled, info.DisputesWon)
	}
	if env.state.wins[env.buyer] != 1 || env.state.losses[env.seller] != 1 {
		t.Fatalf("outcome counters: wins=%v losses=%v", env.state.wins, env.state.losses)
	}
}

func TestResolveAgainstInitiatorCountsLoss(t *testing.T) {
	env := newTestEnv(t)
	env.addArbitrators(t, 1)
	trade := env.advanceToFiatDeposited(t)
	if err := env.engine.DisputeTrade(env.buyer, trade.ID, "x"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	arb := env.arbitrators[0]
	if err := env.engine.ResolveDispute(arb, trade.ID, env.seller); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := env.state.balance(env.seller, testToken); got.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("seller balance = %s, want 990", got)
	}
	info, _, _ := env.registry.Get(arb)
	if info.DisputesHandled != 1 || info.DisputesWon != 0 {
		t.Fatalf("reputation counters = %d/%d", info.DisputesHandled, info.DisputesWon)
	}
}

func TestEngineEmitsTransitionEvents(t *testing.T) {
	env := newTestEnv(t)
	var captured []events.Event
	env.engine.SetEmitter(emitterFunc(func(evt events.Event) { captured = append(captured, evt) }))

	trade := env.createTrade(t)
	if err := env.engine.AcceptTrade(env.seller, trade.ID, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}

	var sawCreated, sawTransition bool
	for _, evt := range captured {
		switch evt.EventType() {
		case EventTypeTradeCreated:
			sawCreated = true
		case EventTypeStateTransition:
			sawTransition = true
		}
	}
	if !sawCreated || !sawTransition {
		t.Fatalf("missing events: created=%v transition=%v", sawCreated, sawTransition)
	}
}

type emitterFunc func(events.Event)

func (f emitterFunc) Emit(evt events.Event) { f(evt) }
