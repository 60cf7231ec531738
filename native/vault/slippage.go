package vault

import (
	"fmt"
	"math/big"
)

var bpsDenominator = big.NewInt(10000)

// SlippageTolerance converts freshly quoted swap outputs into the minimum
// output the vault will accept.
type SlippageTolerance struct {
	Bps uint64
}

// NewSlippageTolerance validates the tolerance against the configured bounds.
func NewSlippageTolerance(bps uint64) (SlippageTolerance, error) {
	if bps < MinSlippageBps || bps > MaxSlippageBps {
		return SlippageTolerance{}, fmt.Errorf("vault: slippage tolerance must be between %d and %d bps", MinSlippageBps, MaxSlippageBps)
	}
	return SlippageTolerance{Bps: bps}, nil
}

// MinAcceptable computes quoted * (10000 - bps) / 10000 with truncating
// division. A zero quote means no route exists; a zero floor means the route
// is worth nothing after slippage. Both reject the asset rather than credit
// dust for free.
func (s SlippageTolerance) MinAcceptable(quoted *big.Int) (*big.Int, error) {
	if quoted == nil || quoted.Sign() <= 0 {
		return nil, fmt.Errorf("%w: no market quote", ErrUnsupportedAsset)
	}
	minOut := new(big.Int).Mul(quoted, big.NewInt(int64(10000-s.Bps)))
	minOut.Quo(minOut, bpsDenominator)
	if minOut.Sign() == 0 {
		return nil, fmt.Errorf("%w: quoted output too small", ErrUnsupportedAsset)
	}
	return minOut, nil
}
