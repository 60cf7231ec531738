package vault

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// Storage abstracts the subset of persistence functionality required by the
// accounting ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
	// Transact applies every write fn performs atomically: either all of them
	// persist or none do. Nested calls join the open transaction.
	Transact(fn func(Storage) error) error
}

var (
	balancePrefix    = []byte("vault/balance/")
	balanceIndexKey  = []byte("vault/balance/index")
	countersKey      = []byte("vault/counters")
	depositLogKey    = []byte("vault/deposits")
	withdrawalLogKey = []byte("vault/withdrawals")
)

// HeldFunc reads the live aggregate held value of the stable asset. The value
// is never cached: caching would drift from true custody the moment anything
// outside the deposit and withdraw paths touches the account.
type HeldFunc func(ctx context.Context) (*big.Int, error)

// Ledger is the single source of truth for depositor balances and the only
// component allowed to mutate them. It enforces the capacity cap on credits
// and the per-operation limit on debits.
type Ledger struct {
	store           Storage
	held            HeldFunc
	capacityCap     *big.Int
	withdrawalLimit *big.Int
	clock           func() time.Time
}

// NewLedger constructs a ledger bound to the provided storage backend and
// live held-value reader.
func NewLedger(store Storage, held HeldFunc, capacityCap, withdrawalLimit *big.Int) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("vault: ledger storage required")
	}
	if held == nil {
		return nil, fmt.Errorf("vault: held balance reader required")
	}
	if capacityCap == nil || capacityCap.Sign() <= 0 {
		return nil, fmt.Errorf("vault: capacity cap must be positive")
	}
	if withdrawalLimit == nil || withdrawalLimit.Sign() <= 0 {
		return nil, fmt.Errorf("vault: withdrawal limit must be positive")
	}
	return &Ledger{
		store:           store,
		held:            held,
		capacityCap:     new(big.Int).Set(capacityCap),
		withdrawalLimit: new(big.Int).Set(withdrawalLimit),
		clock:           time.Now,
	}, nil
}

// SetClock overrides the time source (primarily for deterministic testing).
func (l *Ledger) SetClock(clock func() time.Time) {
	if l == nil || clock == nil {
		return
	}
	l.clock = clock
}

type storedBalance struct {
	Amount string
}

type storedCounters struct {
	Deposits    uint64
	Withdrawals uint64
}

type storedDepositRecord struct {
	ID        string
	Depositor [20]byte
	Asset     [20]byte
	Class     string
	AmountIn  string
	Credited  string
	Bridged   bool
	CreatedAt uint64
}

type storedWithdrawalRecord struct {
	ID        string
	Depositor [20]byte
	Amount    string
	CreatedAt uint64
}

// Balance returns the depositor's stable-unit balance. Absent entries read as
// zero; balances are created implicitly on first credit.
func (l *Ledger) Balance(depositor common.Address) (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("vault: ledger not initialised")
	}
	var stored storedBalance
	ok, err := l.store.KVGet(balanceKey(depositor), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored.Amount)
}

// Credit increases the depositor's balance by record.Credited after verifying
// the capacity invariant. The held value is read live, after the credited
// funds have physically arrived in custody; the cap check therefore guards
// the resulting total rather than pre-reserving capacity.
func (l *Ledger) Credit(ctx context.Context, record *DepositRecord) error {
	if l == nil {
		return fmt.Errorf("vault: ledger not initialised")
	}
	if record == nil {
		return fmt.Errorf("vault: deposit record required")
	}
	amount := record.Credited
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	heldNow, err := l.held(ctx)
	if err != nil {
		return fmt.Errorf("vault: read held value: %w", err)
	}
	if heldNow == nil {
		heldNow = big.NewInt(0)
	}
	// heldNow already includes the arrived funds; the prior held value is
	// what capacity errors report to the caller.
	prior := new(big.Int).Sub(heldNow, amount)
	if prior.Sign() < 0 {
		prior = big.NewInt(0)
	}
	if heldNow.Cmp(l.capacityCap) > 0 {
		return &CapacityExceededError{
			Held:   prior,
			Amount: new(big.Int).Set(amount),
			Cap:    new(big.Int).Set(l.capacityCap),
		}
	}
	balance, err := l.Balance(record.Depositor)
	if err != nil {
		return err
	}
	// Balance, counter, and record land in one transaction: a failed credit
	// must leave no trace, or the engine's compensating refund would double
	// count the deposit.
	return l.store.Transact(func(s Storage) error {
		if err := putBalance(s, record.Depositor, new(big.Int).Add(balance, amount), balance.Sign() == 0); err != nil {
			return err
		}
		counters, err := readCounters(s)
		if err != nil {
			return err
		}
		counters.Deposits++
		if err := s.KVPut(countersKey, counters); err != nil {
			return err
		}
		return l.appendDeposit(s, record)
	})
}

// Debit validates and applies a withdrawal. The balance decrement happens
// before the payout callback runs; a reentrant call can no longer spend the
// same balance twice. A failed payout restores the balance so the whole
// operation has no effect.
func (l *Ledger) Debit(ctx context.Context, record *WithdrawalRecord, payout func(context.Context) error) error {
	if l == nil {
		return fmt.Errorf("vault: ledger not initialised")
	}
	if record == nil {
		return fmt.Errorf("vault: withdrawal record required")
	}
	amount := record.Amount
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(l.withdrawalLimit) > 0 {
		return &LimitExceededError{
			Amount: new(big.Int).Set(amount),
			Max:    new(big.Int).Set(l.withdrawalLimit),
		}
	}
	balance, err := l.Balance(record.Depositor)
	if err != nil {
		return err
	}
	if amount.Cmp(balance) > 0 {
		return &InsufficientBalanceError{
			Amount:  new(big.Int).Set(amount),
			Balance: balance,
		}
	}
	remaining := new(big.Int).Sub(balance, amount)
	if err := putBalance(l.store, record.Depositor, remaining, false); err != nil {
		return err
	}
	if payout != nil {
		if err := payout(ctx); err != nil {
			if restoreErr := putBalance(l.store, record.Depositor, balance, false); restoreErr != nil {
				return fmt.Errorf("vault: payout failed (%v) and balance restore failed: %w", err, restoreErr)
			}
			return fmt.Errorf("vault: payout failed: %w", err)
		}
	}
	return l.store.Transact(func(s Storage) error {
		counters, err := readCounters(s)
		if err != nil {
			return err
		}
		counters.Withdrawals++
		if err := s.KVPut(countersKey, counters); err != nil {
			return err
		}
		return l.appendWithdrawal(s, record)
	})
}

// Counters returns the monotonically increasing deposit and withdrawal counts.
func (l *Ledger) Counters() (deposits, withdrawals uint64, err error) {
	if l == nil {
		return 0, 0, fmt.Errorf("vault: ledger not initialised")
	}
	counters, err := readCounters(l.store)
	if err != nil {
		return 0, 0, err
	}
	return counters.Deposits, counters.Withdrawals, nil
}

// SumBalances walks the depositor index and totals every live balance. The
// conservation invariant requires this sum to never exceed the held value.
func (l *Ledger) SumBalances() (*big.Int, error) {
	if l == nil {
		return nil, fmt.Errorf("vault: ledger not initialised")
	}
	var raw [][]byte
	if err := l.store.KVGetList(balanceIndexKey, &raw); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	seen := make(map[common.Address]struct{}, len(raw))
	for _, encoded := range raw {
		if len(encoded) != common.AddressLength {
			continue
		}
		addr := common.BytesToAddress(encoded)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		balance, err := l.Balance(addr)
		if err != nil {
			return nil, err
		}
		total.Add(total, balance)
	}
	return total, nil
}

// Deposits returns every recorded deposit in append order.
func (l *Ledger) Deposits() ([]*DepositRecord, error) {
	if l == nil {
		return nil, fmt.Errorf("vault: ledger not initialised")
	}
	var raw [][]byte
	if err := l.store.KVGetList(depositLogKey, &raw); err != nil {
		return nil, err
	}
	records := make([]*DepositRecord, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var stored storedDepositRecord
		if err := rlp.DecodeBytes(encoded, &stored); err != nil {
			return nil, err
		}
		record, err := depositFromStored(&stored)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Withdrawals returns every recorded withdrawal in append order.
func (l *Ledger) Withdrawals() ([]*WithdrawalRecord, error) {
	if l == nil {
		return nil, fmt.Errorf("vault: ledger not initialised")
	}
	var raw [][]byte
	if err := l.store.KVGetList(withdrawalLogKey, &raw); err != nil {
		return nil, err
	}
	records := make([]*WithdrawalRecord, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var stored storedWithdrawalRecord
		if err := rlp.DecodeBytes(encoded, &stored); err != nil {
			return nil, err
		}
		record, err := withdrawalFromStored(&stored)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func putBalance(store Storage, depositor common.Address, amount *big.Int, index bool) error {
	stored := storedBalance{Amount: amount.String()}
	if err := store.KVPut(balanceKey(depositor), stored); err != nil {
		return err
	}
	if index {
		return store.KVAppend(balanceIndexKey, depositor.Bytes())
	}
	return nil
}

func readCounters(store Storage) (storedCounters, error) {
	var counters storedCounters
	if _, err := store.KVGet(countersKey, &counters); err != nil {
		return storedCounters{}, err
	}
	return counters, nil
}

func (l *Ledger) appendDeposit(store Storage, record *DepositRecord) error {
	stored := storedDepositRecord{
		ID:        strings.TrimSpace(record.ID),
		Depositor: record.Depositor,
		Asset:     record.Asset,
		Class:     string(record.Class),
		AmountIn:  bigString(record.AmountIn),
		Credited:  bigString(record.Credited),
		Bridged:   record.Bridged,
		CreatedAt: clampUnix(record.CreatedAt),
	}
	if stored.CreatedAt == 0 {
		stored.CreatedAt = clampUnix(l.clock().UTC().Unix())
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return store.KVAppend(depositLogKey, encoded)
}

func (l *Ledger) appendWithdrawal(store Storage, record *WithdrawalRecord) error {
	stored := storedWithdrawalRecord{
		ID:        strings.TrimSpace(record.ID),
		Depositor: record.Depositor,
		Amount:    bigString(record.Amount),
		CreatedAt: clampUnix(record.CreatedAt),
	}
	if stored.CreatedAt == 0 {
		stored.CreatedAt = clampUnix(l.clock().UTC().Unix())
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return store.KVAppend(withdrawalLogKey, encoded)
}

func depositFromStored(stored *storedDepositRecord) (*DepositRecord, error) {
	amountIn, err := parseAmount(stored.AmountIn)
	if err != nil {
		return nil, err
	}
	credited, err := parseAmount(stored.Credited)
	if err != nil {
		return nil, err
	}
	return &DepositRecord{
		ID:        stored.ID,
		Depositor: common.Address(stored.Depositor),
		Asset:     common.Address(stored.Asset),
		Class:     AssetClass(stored.Class),
		AmountIn:  amountIn,
		Credited:  credited,
		Bridged:   stored.Bridged,
		CreatedAt: int64(stored.CreatedAt),
	}, nil
}

func withdrawalFromStored(stored *storedWithdrawalRecord) (*WithdrawalRecord, error) {
	amount, err := parseAmount(stored.Amount)
	if err != nil {
		return nil, err
	}
	return &WithdrawalRecord{
		ID:        stored.ID,
		Depositor: common.Address(stored.Depositor),
		Amount:    amount,
		CreatedAt: int64(stored.CreatedAt),
	}, nil
}

func balanceKey(depositor common.Address) []byte {
	buf := make([]byte, len(balancePrefix)+common.AddressLength)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], depositor.Bytes())
	return buf
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("vault: invalid stored amount %q", raw)
	}
	return amount, nil
}

func clampUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
