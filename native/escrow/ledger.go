package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"peertrade/core/types"
)

var (
	errNilState            = errors.New("escrow ledger: state not configured")
	ErrInsufficientBalance = errors.New("escrow ledger: insufficient balance")
	ErrInsufficientEscrow  = errors.New("escrow ledger: insufficient escrowed funds")
)

// State abstracts the subset of state manager functionality required by the
// escrow ledger.
type State interface {
	EscrowCredit(tradeID [32]byte, token string, amount *big.Int) error
	EscrowDebit(tradeID [32]byte, token string, amount *big.Int) error
	EscrowBalance(tradeID [32]byte, token string) (*big.Int, error)
	EscrowVaultAddress(token string) ([20]byte, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Ledger custodies trade funds inside per-token vault accounts. A trade's
// escrowed balance moves only through the deposit and payout primitives, which
// are invoked exclusively by state-machine-authorized transitions.
type Ledger struct {
	state State
}

// NewLedger creates an escrow ledger without a state backend. Callers must
// configure one via SetState before use.
func NewLedger() *Ledger {
	return &Ledger{}
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state State) { l.state = state }

// NormalizeToken canonicalises a token symbol to its uppercase form.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("escrow ledger: token symbol required")
	}
	return trimmed, nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balances == nil {
		acc.Balances = make(map[string]*big.Int)
	}
	return acc
}

// Transfer moves token value between two accounts. A zero amount is a no-op.
func (l *Ledger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow ledger: negative transfer amount")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	fromAcc, err := l.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := l.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	balance := fromAcc.Balance(normalized)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	fromAcc.SetBalance(normalized, new(big.Int).Sub(balance, amount))
	toAcc.SetBalance(normalized, new(big.Int).Add(toAcc.Balance(normalized), amount))
	if err := l.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return l.state.PutAccount(to[:], toAcc)
}

// Burn permanently removes token value held by the supplied account. The
// debited amount is credited to no one, shrinking circulating supply.
func (l *Ledger) Burn(holder [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow ledger: negative burn amount")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	acc, err := l.state.GetAccount(holder[:])
	if err != nil {
		return err
	}
	acc = ensureAccount(acc)
	balance := acc.Balance(normalized)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	acc.SetBalance(normalized, new(big.Int).Sub(balance, amount))
	return l.state.PutAccount(holder[:], acc)
}

// Deposit moves the supplied amount from the payer into the token vault and
// credits the trade's escrowed balance.
func (l *Ledger) Deposit(tradeID [32]byte, from [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow ledger: deposit amount must be positive")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	vault, err := l.state.EscrowVaultAddress(normalized)
	if err != nil {
		return err
	}
	if err := l.Transfer(from, vault, normalized, amount); err != nil {
		return err
	}
	return l.state.EscrowCredit(tradeID, normalized, amount)
}

// Payout moves the supplied amount out of the token vault to the recipient and
// debits the trade's escrowed balance.
func (l *Ledger) Payout(tradeID [32]byte, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("escrow ledger: negative payout amount")
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return err
	}
	balance, err := l.Balance(tradeID, normalized)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientEscrow
	}
	vault, err := l.state.EscrowVaultAddress(normalized)
	if err != nil {
		return err
	}
	if err := l.Transfer(vault, to, normalized, amount); err != nil {
		return err
	}
	return l.state.EscrowDebit(tradeID, normalized, amount)
}

// Balance reports the escrowed balance currently held for the trade.
func (l *Ledger) Balance(tradeID [32]byte, token string) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	balance, err := l.state.EscrowBalance(tradeID, normalized)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(balance), nil
}
