package vault

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Custodian abstracts movement of fungible assets in and out of the vault's
// custody account. Implementations rely on the asset's own authorization
// mechanism: Pull requires the depositor to have pre-approved the vault.
type Custodian interface {
	// Pull moves amount of asset from the depositor into vault custody.
	Pull(ctx context.Context, asset, from common.Address, amount *big.Int) error
	// Release moves amount of asset from vault custody to the recipient.
	Release(ctx context.Context, asset, to common.Address, amount *big.Int) error
	// Approve sets the venue's spending allowance over vault custody to
	// exactly amount. Callers reset to zero before raising a live allowance;
	// some token implementations reject a nonzero to nonzero change.
	Approve(ctx context.Context, asset, spender common.Address, amount *big.Int) error
	// Balance reads the live holdings of asset in the given account.
	Balance(ctx context.Context, asset, holder common.Address) (*big.Int, error)
	// NativeBalance reads the live native-currency holdings of the account.
	NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error)
	// ReleaseNative moves amount of native currency from vault custody to the
	// recipient.
	ReleaseNative(ctx context.Context, to common.Address, amount *big.Int) error
}
