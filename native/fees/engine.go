package fees

import (
	"errors"
	"fmt"
	"math/big"
)

// MaxProtocolFeeBps caps the combined burn, chain and warchest shares at 10%
// of the traded amount.
const MaxProtocolFeeBps uint32 = 1_000

const bpsDenominator int64 = 10_000

// ErrFeeCapExceeded marks fee configurations whose combined protocol shares
// exceed MaxProtocolFeeBps.
var ErrFeeCapExceeded = errors.New("fees: combined protocol fee exceeds cap")

// Config captures the basis-point shares applied when settling a trade.
type Config struct {
	BurnBps       uint32
	ChainBps      uint32
	WarchestBps   uint32
	ArbitratorBps uint32
}

// Validate enforces the configuration-time fee invariants. The arbitrator
// share is charged only on disputed settlements and sits outside the protocol
// cap.
func (c Config) Validate() error {
	total := uint64(c.BurnBps) + uint64(c.ChainBps) + uint64(c.WarchestBps)
	if total > uint64(MaxProtocolFeeBps) {
		return fmt.Errorf("%w: %d bps", ErrFeeCapExceeded, total)
	}
	if c.ArbitratorBps > uint32(bpsDenominator) {
		return fmt.Errorf("fees: arbitrator bps out of range: %d", c.ArbitratorBps)
	}
	return nil
}

// Distribution summarises the fee shares computed for a single settlement. It
// is ephemeral: callers route the shares and discard the value.
type Distribution struct {
	Burn       *big.Int
	Chain      *big.Int
	Warchest   *big.Int
	Arbitrator *big.Int
}

// Total returns the sum of all shares in the distribution.
func (d Distribution) Total() *big.Int {
	total := big.NewInt(0)
	for _, share := range []*big.Int{d.Burn, d.Chain, d.Warchest, d.Arbitrator} {
		if share != nil {
			total.Add(total, share)
		}
	}
	return total
}

func share(amount *big.Int, bps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return out.Div(out, big.NewInt(bpsDenominator))
}

// Calculate computes the fee shares owed on the supplied amount. The combined
// protocol fee is computed over the summed bps so integer division loses
// nothing; the warchest share absorbs the per-share rounding remainder. The
// arbitrator share is included only when the settlement follows a dispute
// resolution.
func Calculate(amount *big.Int, cfg Config, includeArbitrator bool) Distribution {
	dist := Distribution{
		Burn:       share(amount, cfg.BurnBps),
		Chain:      share(amount, cfg.ChainBps),
		Arbitrator: big.NewInt(0),
	}
	protocolTotal := share(amount, cfg.BurnBps+cfg.ChainBps+cfg.WarchestBps)
	dist.Warchest = new(big.Int).Sub(protocolTotal, dist.Burn)
	dist.Warchest.Sub(dist.Warchest, dist.Chain)
	if includeArbitrator {
		dist.Arbitrator = share(amount, cfg.ArbitratorBps)
	}
	return dist
}
