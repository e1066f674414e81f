package fees

import (
	"errors"
	"fmt"
	"math/big"

	"peertrade/core/events"
)

var (
	errBurnNilTransfer = errors.New("burn pipeline: transfer primitive not configured")
	errBurnNilBurner   = errors.New("burn pipeline: burner not configured")
	errBurnNilTreasury = errors.New("burn pipeline: treasury not configured")
)

// TransferFunc moves token value between two accounts.
type TransferFunc func(from, to [20]byte, token string, amount *big.Int) error

// BurnFunc permanently removes token value held by the supplied account.
type BurnFunc func(holder [20]byte, token string, amount *big.Int) error

// SwapRoute converts token value held by an account into another token,
// returning the output amount credited to the same account.
type SwapRoute interface {
	Swap(holder [20]byte, tokenIn, tokenOut string, amountIn *big.Int) (*big.Int, error)
}

// Pipeline converts a fee share into the protocol's native unit and removes it
// from circulation. Swap failures are deliberately caught and redirected to
// the treasury so a completed settlement never fails over fee routing.
type Pipeline struct {
	nativeToken string
	route       SwapRoute
	treasury    [20]byte
	transfer    TransferFunc
	burn        BurnFunc
	emitter     events.Emitter
}

// NewPipeline constructs a burn pipeline for the supplied native token symbol.
func NewPipeline(nativeToken string, transfer TransferFunc, burn BurnFunc) *Pipeline {
	return &Pipeline{
		nativeToken: nativeToken,
		transfer:    transfer,
		burn:        burn,
		emitter:     events.NoopEmitter{},
	}
}

// SetRoute configures the exchange route used for non-native fee shares.
// Passing nil disables swapping; all non-native shares then fall back to the
// treasury.
func (p *Pipeline) SetRoute(route SwapRoute) {
	if p == nil {
		return
	}
	p.route = route
}

// SetTreasury configures the fallback recipient for shares that cannot be
// burned.
func (p *Pipeline) SetTreasury(addr [20]byte) {
	if p == nil {
		return
	}
	p.treasury = addr
}

// SetEmitter configures the event emitter used by the pipeline. Passing nil
// resets the emitter to a no-op implementation.
func (p *Pipeline) SetEmitter(emitter events.Emitter) {
	if p == nil {
		return
	}
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

func (p *Pipeline) emit(evt events.Event) {
	if p == nil || p.emitter == nil || evt == nil {
		return
	}
	p.emitter.Emit(evt)
}

func (p *Pipeline) ensureConfigured() error {
	if p == nil || p.transfer == nil {
		return errBurnNilTransfer
	}
	if p.burn == nil {
		return errBurnNilBurner
	}
	return nil
}

// SwapAndBurn removes the supplied fee share from circulation. Native-unit
// shares burn directly; other tokens are first swapped via the configured
// route. Any swap failure forwards the original share to the treasury and
// emits a fallback event for reconciliation.
func (p *Pipeline) SwapAndBurn(holder [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := p.ensureConfigured(); err != nil {
		return err
	}
	if token == p.nativeToken {
		if err := p.burn(holder, token, amount); err != nil {
			return err
		}
		p.emit(NewBurnedEvent(token, amount))
		return nil
	}
	if p.route == nil {
		return p.fallbackToTreasury(holder, token, amount, "no swap route configured")
	}
	out, err := p.route.Swap(holder, token, p.nativeToken, amount)
	if err != nil {
		return p.fallbackToTreasury(holder, token, amount, err.Error())
	}
	if out == nil || out.Sign() <= 0 {
		return p.fallbackToTreasury(holder, token, amount, "swap produced no output")
	}
	if err := p.burn(holder, p.nativeToken, out); err != nil {
		return err
	}
	p.emit(NewBurnedEvent(p.nativeToken, out))
	return nil
}

// fallbackToTreasury needs a treasury destination; native-unit burns never
// reach it and work without one.
func (p *Pipeline) fallbackToTreasury(holder [20]byte, token string, amount *big.Int, reason string) error {
	if p.treasury == ([20]byte{}) {
		return errBurnNilTreasury
	}
	if err := p.transfer(holder, p.treasury, token, amount); err != nil {
		return fmt.Errorf("burn pipeline: treasury fallback failed: %w", err)
	}
	p.emit(NewBurnFallbackEvent(token, amount, reason))
	return nil
}
