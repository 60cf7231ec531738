package vault

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const defaultSwapDeadline = 5 * time.Minute

// Router decides which hop paths to attempt for an inbound asset and executes
// them against the exchange under the slippage guard. Direct pools are cheaper
// and have tighter spreads when they exist; the bridged path is the universal
// fallback because the bridge asset is the most liquid pair by construction.
type Router struct {
	exchange  Exchange
	stable    common.Address
	bridge    common.Address
	tolerance SlippageTolerance
	deadline  time.Duration
	clock     func() time.Time
}

// NewRouter constructs a router bound to the supplied exchange.
func NewRouter(exchange Exchange, stable, bridge common.Address, tolerance SlippageTolerance) (*Router, error) {
	if exchange == nil {
		return nil, fmt.Errorf("vault: exchange required")
	}
	if stable == (common.Address{}) || bridge == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	return &Router{
		exchange:  exchange,
		stable:    stable,
		bridge:    bridge,
		tolerance: tolerance,
		deadline:  defaultSwapDeadline,
		clock:     time.Now,
	}, nil
}

// SetClock overrides the time source (primarily for deterministic testing).
func (r *Router) SetClock(clock func() time.Time) {
	if r == nil || clock == nil {
		return
	}
	r.clock = clock
}

// SetDeadline overrides how far in the future swap deadlines are placed.
func (r *Router) SetDeadline(d time.Duration) {
	if r == nil || d <= 0 {
		return
	}
	r.deadline = d
}

// SwapTokenToStable normalises a fungible token already held in vault custody.
// The direct path is attempted first; its failure cause is not inspected
// before falling back to the bridged path. Exhausting both paths surfaces
// ErrUnsupportedAsset.
func (r *Router) SwapTokenToStable(ctx context.Context, asset common.Address, amountIn *big.Int, recipient common.Address) (*big.Int, bool, error) {
	direct := []common.Address{asset, r.stable}
	out, err := r.execute(ctx, amountIn, direct, recipient, false)
	if err == nil {
		return out, false, nil
	}
	bridged := []common.Address{asset, r.bridge, r.stable}
	out, err = r.execute(ctx, amountIn, bridged, recipient, false)
	if err != nil {
		return nil, true, fmt.Errorf("%w: no viable route for %s", ErrUnsupportedAsset, asset.Hex())
	}
	return out, true, nil
}

// SwapNativeToStable normalises native currency through the bridge pool.
// There is no fallback: native currency already equals the bridge asset's
// underlying.
func (r *Router) SwapNativeToStable(ctx context.Context, amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	path := []common.Address{r.bridge, r.stable}
	out, err := r.execute(ctx, amountIn, path, recipient, true)
	if err != nil {
		return nil, fmt.Errorf("%w: native bridge pool unavailable", ErrUnsupportedAsset)
	}
	return out, nil
}

// execute obtains a fresh quote, derives the slippage floor, and runs the
// swap. The quote must never be cached or reused across executions; the floor
// only bounds the attacker's window if it reflects the venue's state
// immediately before the swap.
func (r *Router) execute(ctx context.Context, amountIn *big.Int, path []common.Address, recipient common.Address, native bool) (*big.Int, error) {
	quoted, err := r.exchange.Quote(ctx, amountIn, path)
	if err != nil {
		return nil, err
	}
	minOut, err := r.tolerance.MinAcceptable(quoted)
	if err != nil {
		return nil, err
	}
	deadline := r.clock().Add(r.deadline)
	var out *big.Int
	if native {
		out, err = r.exchange.SwapNative(ctx, amountIn, minOut, path, recipient, deadline)
	} else {
		out, err = r.exchange.SwapTokens(ctx, amountIn, minOut, path, recipient, deadline)
	}
	if err != nil {
		return nil, err
	}
	// An execution delivering less than the floor never reaches the ledger.
	if out == nil || out.Cmp(minOut) < 0 {
		return nil, fmt.Errorf("%w: delivered below slippage floor", ErrSwapFailed)
	}
	return out, nil
}
