package vault

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetClass partitions inbound deposits by how they are normalised.
type AssetClass string

const (
	// AssetClassNative identifies deposits of the chain's native currency.
	AssetClassNative AssetClass = "native"
	// AssetClassStable identifies deposits already denominated in the stable asset.
	AssetClassStable AssetClass = "stable"
	// AssetClassToken identifies arbitrary fungible token deposits.
	AssetClassToken AssetClass = "token"
)

// DepositRecord captures a normalised deposit for observability. Credited is
// always denominated in the stable asset.
type DepositRecord struct {
	ID        string
	Depositor common.Address
	Asset     common.Address
	Class     AssetClass
	AmountIn  *big.Int
	Credited  *big.Int
	Bridged   bool
	CreatedAt int64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (r *DepositRecord) Copy() *DepositRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.AmountIn != nil {
		clone.AmountIn = new(big.Int).Set(r.AmountIn)
	}
	if r.Credited != nil {
		clone.Credited = new(big.Int).Set(r.Credited)
	}
	return &clone
}

// WithdrawalRecord captures a settled withdrawal of the stable asset.
type WithdrawalRecord struct {
	ID        string
	Depositor common.Address
	Amount    *big.Int
	CreatedAt int64
}

// Copy returns a deep copy to avoid callers mutating shared pointers.
func (r *WithdrawalRecord) Copy() *WithdrawalRecord {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	}
	return &clone
}
