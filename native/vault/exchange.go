package vault

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNoLiquidity indicates the venue has no pool along the requested path.
	ErrNoLiquidity = errors.New("vault: no liquidity for requested path")
	// ErrSwapFailed indicates the venue rejected or reverted the execution.
	ErrSwapFailed = errors.New("vault: swap execution failed")
	// ErrDeadlineExpired indicates the requested deadline predates execution time.
	ErrDeadlineExpired = errors.New("vault: swap deadline already passed")
)

// Exchange is the typed contract over an external constant-product venue.
// Calls either fully complete or have no effect; partial fills are the
// venue's problem, not the caller's. Paths are ordered input-first with the
// final element being the output asset.
type Exchange interface {
	// Quote returns the venue's current output for amountIn along path.
	// A missing pool surfaces as ErrNoLiquidity.
	Quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error)
	// SwapTokens executes an exact-input token swap along path, refusing to
	// deliver less than minOut. Execution failure surfaces as ErrSwapFailed.
	SwapTokens(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline time.Time) (*big.Int, error)
	// SwapNative executes an exact-input swap funded with native currency.
	// The first path element must be the bridge asset.
	SwapNative(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline time.Time) (*big.Int, error)
	// BridgeAsset reports the venue's canonical wrapped-native asset, the
	// universal intermediate hop for multi-hop routing.
	BridgeAsset(ctx context.Context) (common.Address, error)
}
