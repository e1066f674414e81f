package state

import (
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"peertrade/core/types"
	"peertrade/native/arbitration"
	"peertrade/native/trade"
	"peertrade/storage"
)

var (
	tradePrefix     = []byte("trade:")
	historyPrefix   = []byte("trade-history:")
	disputePrefix   = []byte("dispute:")
	accountPrefix   = []byte("account:")
	escrowPrefix    = []byte("escrow-balance:")
	arbPrefix       = []byte("arbitrator:")
	arbListKey      = ethcrypto.Keccak256([]byte("arbitrator-list"))
	randReqPrefix   = []byte("randomness-request:")
	vaultSeedPrefix = []byte("escrow-vault:")
)

// Manager persists the engines' state as RLP-encoded records in a key-value
// database. It implements the narrow state interfaces consumed by the trade,
// escrow and arbitration engines.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func prefixedKey(prefix, suffix []byte) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) kvPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

func (m *Manager) kvGet(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if err == storage.ErrNotFound {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// RLP cannot encode signed integers, maps or nil big.Ints, so every persisted
// record goes through a stored mirror struct.

type storedTokenBalance struct {
	Token  string
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedTokenBalance
}

type storedTrade struct {
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
	Status          uint8
	CreatedAt       uint64
	ExpiresAt       uint64
	DisputeDeadline uint64
	BuyerContact    string
	SellerContact   string
}

type storedTransition struct {
	From      uint8
	To        uint8
	Timestamp uint64
	Actor     [20]byte
}

type storedDispute struct {
	TradeID        [32]byte
	Initiator      [20]byte
	InitiatedAt    uint64
	Arbitrator     [20]byte
	RequestID      string
	BuyerEvidence  string
	SellerEvidence string
	Winner         [20]byte
	ResolvedAt     uint64
	Reason         string
	Resolved       bool
}

type storedArbitrator struct {
	Active          bool
	Currencies      []string
	EncryptionKey   []byte
	DisputesHandled uint64
	DisputesWon     uint64
	ReputationScore uint64
	JoinedAt        uint64
}

type storedRequest struct {
	ID           string
	TradeID      [32]byte
	FiatCurrency string
	RequestedAt  uint64
	Fulfilled    bool
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// TradePut stores the trade record.
func (m *Manager) TradePut(t *trade.Trade) error {
	if t == nil {
		return fmt.Errorf("state: nil trade")
	}
	stored := &storedTrade{
		ID:              t.ID,
		OfferID:         t.OfferID,
		Buyer:           t.Buyer,
		Seller:          t.Seller,
		Maker:           t.Maker,
		Arbitrator:      t.Arbitrator,
		Token:           t.Token,
		Amount:          nonNil(t.Amount),
		FiatCurrency:    t.FiatCurrency,
		FiatAmount:      nonNil(t.FiatAmount),
		Rate:            nonNil(t.Rate),
		Status:          uint8(t.Status),
		CreatedAt:       uint64(t.CreatedAt),
		ExpiresAt:       uint64(t.ExpiresAt),
		DisputeDeadline: uint64(t.DisputeDeadline),
		BuyerContact:    t.BuyerContact,
		SellerContact:   t.SellerContact,
	}
	return m.kvPut(prefixedKey(tradePrefix, t.ID[:]), stored)
}

// TradeGet loads the trade record if present.
func (m *Manager) TradeGet(id [32]byte) (*trade.Trade, bool, error) {
	stored := new(storedTrade)
	ok, err := m.kvGet(prefixedKey(tradePrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &trade.Trade{
		ID:              stored.ID,
		OfferID:         stored.OfferID,
		Buyer:           stored.Buyer,
		Seller:          stored.Seller,
		Maker:           stored.Maker,
		Arbitrator:      stored.Arbitrator,
		Token:           stored.Token,
		Amount:          stored.Amount,
		FiatCurrency:    stored.FiatCurrency,
		FiatAmount:      stored.FiatAmount,
		Rate:            stored.Rate,
		Status:          trade.Status(stored.Status),
		CreatedAt:       int64(stored.CreatedAt),
		ExpiresAt:       int64(stored.ExpiresAt),
		DisputeDeadline: int64(stored.DisputeDeadline),
		BuyerContact:    stored.BuyerContact,
		SellerContact:   stored.SellerContact,
	}, true, nil
}

// TradeHistoryAppend appends a transition record to the trade's history list.
func (m *Manager) TradeHistoryAppend(id [32]byte, rec trade.TransitionRecord) error {
	key := prefixedKey(historyPrefix, id[:])
	var list []storedTransition
	if _, err := m.kvGet(key, &list); err != nil {
		return err
	}
	list = append(list, storedTransition{
		From:      uint8(rec.From),
		To:        uint8(rec.To),
		Timestamp: uint64(rec.Timestamp),
		Actor:     rec.Actor,
	})
	return m.kvPut(key, list)
}

// TradeHistory returns the trade's append-only transition history.
func (m *Manager) TradeHistory(id [32]byte) ([]trade.TransitionRecord, error) {
	var list []storedTransition
	if _, err := m.kvGet(prefixedKey(historyPrefix, id[:]), &list); err != nil {
		return nil, err
	}
	out := make([]trade.TransitionRecord, len(list))
	for i, rec := range list {
		out[i] = trade.TransitionRecord{
			From:      trade.Status(rec.From),
			To:        trade.Status(rec.To),
			Timestamp: int64(rec.Timestamp),
			Actor:     rec.Actor,
		}
	}
	return out, nil
}

// DisputePut stores the dispute record.
func (m *Manager) DisputePut(d *trade.Dispute) error {
	if d == nil {
		return fmt.Errorf("state: nil dispute")
	}
	stored := &storedDispute{
		TradeID:        d.TradeID,
		Initiator:      d.Initiator,
		InitiatedAt:    uint64(d.InitiatedAt),
		Arbitrator:     d.Arbitrator,
		RequestID:      d.RequestID,
		BuyerEvidence:  d.BuyerEvidence,
		SellerEvidence: d.SellerEvidence,
		Winner:         d.Winner,
		ResolvedAt:     uint64(d.ResolvedAt),
		Reason:         d.Reason,
		Resolved:       d.Resolved,
	}
	return m.kvPut(prefixedKey(disputePrefix, d.TradeID[:]), stored)
}

// DisputeGet loads the dispute for a trade if one exists.
func (m *Manager) DisputeGet(id [32]byte) (*trade.Dispute, bool, error) {
	stored := new(storedDispute)
	ok, err := m.kvGet(prefixedKey(disputePrefix, id[:]), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &trade.Dispute{
		TradeID:        stored.TradeID,
		Initiator:      stored.Initiator,
		InitiatedAt:    int64(stored.InitiatedAt),
		Arbitrator:     stored.Arbitrator,
		RequestID:      stored.RequestID,
		BuyerEvidence:  stored.BuyerEvidence,
		SellerEvidence: stored.SellerEvidence,
		Winner:         stored.Winner,
		ResolvedAt:     int64(stored.ResolvedAt),
		Reason:         stored.Reason,
		Resolved:       stored.Resolved,
	}, true, nil
}

// GetAccount loads the account stored for the address, or an empty account if
// none exists yet.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	stored := new(storedAccount)
	ok, err := m.kvGet(prefixedKey(accountPrefix, addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	for _, bal := range stored.Balances {
		account.SetBalance(bal.Token, nonNil(bal.Amount))
	}
	return account, nil
}

// PutAccount stores the account under the address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account")
	}
	stored := &storedAccount{Nonce: account.Nonce}
	tokens := make([]string, 0, len(account.Balances))
	for token := range account.Balances {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	for _, token := range tokens {
		stored.Balances = append(stored.Balances, storedTokenBalance{
			Token:  token,
			Amount: nonNil(account.Balances[token]),
		})
	}
	return m.kvPut(prefixedKey(accountPrefix, addr), stored)
}

func escrowKey(tradeID [32]byte, token string) []byte {
	suffix := make([]byte, len(tradeID)+1+len(token))
	copy(suffix, tradeID[:])
	suffix[len(tradeID)] = ':'
	copy(suffix[len(tradeID)+1:], token)
	return prefixedKey(escrowPrefix, suffix)
}

// EscrowCredit increases the escrowed balance tracked for the trade.
func (m *Manager) EscrowCredit(tradeID [32]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid escrow credit amount")
	}
	current, err := m.EscrowBalance(tradeID, token)
	if err != nil {
		return err
	}
	return m.kvPut(escrowKey(tradeID, token), new(big.Int).Add(current, amount))
}

// EscrowDebit decreases the escrowed balance tracked for the trade.
func (m *Manager) EscrowDebit(tradeID [32]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: invalid escrow debit amount")
	}
	current, err := m.EscrowBalance(tradeID, token)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return fmt.Errorf("state: escrow balance underflow")
	}
	return m.kvPut(escrowKey(tradeID, token), new(big.Int).Sub(current, amount))
}

// EscrowBalance reports the escrowed balance tracked for the trade.
func (m *Manager) EscrowBalance(tradeID [32]byte, token string) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.kvGet(escrowKey(tradeID, token), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// EscrowVaultAddress derives the deterministic vault account for a token. The
// vault has no key; funds leave it only through ledger payouts.
func (m *Manager) EscrowVaultAddress(token string) ([20]byte, error) {
	seed := make([]byte, len(vaultSeedPrefix)+len(token))
	copy(seed, vaultSeedPrefix)
	copy(seed[len(vaultSeedPrefix):], token)
	hash := ethcrypto.Keccak256(seed)
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr, nil
}

// ArbitratorPut stores the arbitrator record and indexes new addresses.
func (m *Manager) ArbitratorPut(addr [20]byte, info *arbitration.ArbitratorInfo) error {
	if info == nil {
		return fmt.Errorf("state: nil arbitrator info")
	}
	list, err := m.ArbitratorList()
	if err != nil {
		return err
	}
	known := false
	for _, existing := range list {
		if existing == addr {
			known = true
			break
		}
	}
	if !known {
		list = append(list, addr)
		if err := m.kvPut(arbListKey, list); err != nil {
			return err
		}
	}
	stored := &storedArbitrator{
		Active:          info.Active,
		Currencies:      append([]string(nil), info.Currencies...),
		EncryptionKey:   append([]byte(nil), info.EncryptionKey...),
		DisputesHandled: info.DisputesHandled,
		DisputesWon:     info.DisputesWon,
		ReputationScore: info.ReputationScore,
		JoinedAt:        uint64(info.JoinedAt),
	}
	return m.kvPut(prefixedKey(arbPrefix, addr[:]), stored)
}

// ArbitratorGet loads the arbitrator record if present.
func (m *Manager) ArbitratorGet(addr [20]byte) (*arbitration.ArbitratorInfo, bool, error) {
	stored := new(storedArbitrator)
	ok, err := m.kvGet(prefixedKey(arbPrefix, addr[:]), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &arbitration.ArbitratorInfo{
		Active:          stored.Active,
		Currencies:      stored.Currencies,
		EncryptionKey:   stored.EncryptionKey,
		DisputesHandled: stored.DisputesHandled,
		DisputesWon:     stored.DisputesWon,
		ReputationScore: stored.ReputationScore,
		JoinedAt:        int64(stored.JoinedAt),
	}, true, nil
}

// ArbitratorList returns every address that ever registered, in registration
// order.
func (m *Manager) ArbitratorList() ([][20]byte, error) {
	var list [][20]byte
	if _, err := m.kvGet(arbListKey, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// RandomnessRequestPut stores the randomness request record.
func (m *Manager) RandomnessRequestPut(req *arbitration.PendingRequest) error {
	if req == nil {
		return fmt.Errorf("state: nil randomness request")
	}
	stored := &storedRequest{
		ID:           req.ID,
		TradeID:      req.TradeID,
		FiatCurrency: req.FiatCurrency,
		RequestedAt:  uint64(req.RequestedAt),
		Fulfilled:    req.Fulfilled,
	}
	return m.kvPut(prefixedKey(randReqPrefix, []byte(req.ID)), stored)
}

// RandomnessRequestGet loads a randomness request by id.
func (m *Manager) RandomnessRequestGet(id string) (*arbitration.PendingRequest, bool, error) {
	stored := new(storedRequest)
	ok, err := m.kvGet(prefixedKey(randReqPrefix, []byte(id)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &arbitration.PendingRequest{
		ID:           stored.ID,
		TradeID:      stored.TradeID,
		FiatCurrency: stored.FiatCurrency,
		RequestedAt:  int64(stored.RequestedAt),
		Fulfilled:    stored.Fulfilled,
	}, true, nil
}
