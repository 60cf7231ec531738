package vault

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Slippage tolerance bounds, expressed in basis points.
const (
	MinSlippageBps uint64 = 1
	MaxSlippageBps uint64 = 500
)

// Params holds the immutable construction-time configuration of a vault.
type Params struct {
	// CapacityCap bounds the aggregate stable value the vault may hold.
	CapacityCap *big.Int
	// WithdrawalLimit bounds any single withdrawal operation.
	WithdrawalLimit *big.Int
	// SlippageBps is the accepted quote/execution deviation in basis points.
	SlippageBps uint64
	// Admin is the identity allowed to pause and unpause the vault.
	Admin common.Address
	// StableAsset is the unit of account all balances are denominated in.
	StableAsset common.Address
	// Exchange is the venue contract granted swap allowances.
	Exchange common.Address
}

// Validate verifies the parameter domain. The bridge asset is intentionally
// absent: it is derived from the exchange adapter at engine construction.
func (p Params) Validate() error {
	if p.CapacityCap == nil || p.CapacityCap.Sign() <= 0 {
		return fmt.Errorf("vault: capacity cap must be positive")
	}
	if p.WithdrawalLimit == nil || p.WithdrawalLimit.Sign() <= 0 {
		return fmt.Errorf("vault: withdrawal limit must be positive")
	}
	if p.SlippageBps < MinSlippageBps || p.SlippageBps > MaxSlippageBps {
		return fmt.Errorf("vault: slippage tolerance must be between %d and %d bps", MinSlippageBps, MaxSlippageBps)
	}
	if p.Admin == (common.Address{}) {
		return fmt.Errorf("vault: admin address required")
	}
	if p.StableAsset == (common.Address{}) {
		return fmt.Errorf("vault: stable asset address required")
	}
	if p.Exchange == (common.Address{}) {
		return fmt.Errorf("vault: exchange address required")
	}
	return nil
}
