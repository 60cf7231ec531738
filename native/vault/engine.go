package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// RoleAdmin gates the pause and unpause entry points.
const RoleAdmin = "ROLE_ADMIN"

// Authorizer reports whether the caller holds the required role. Injected
// rather than inherited so deployments can plug in their own role store.
type Authorizer func(caller common.Address, role string) bool

// Engine orchestrates deposit normalisation and withdrawal settlement. Every
// state-mutating call runs to completion under a single global lock, nested
// exchange calls included; operations are totally ordered by submission.
type Engine struct {
	mu        sync.Mutex
	params    Params
	bridge    common.Address
	ledger    *Ledger
	router    *Router
	custodian Custodian
	account   common.Address
	authorize Authorizer
	emitter   Emitter
	clock     func() time.Time
	paused    bool

	// nativeAccounted is the portion of the custody account's native balance
	// already owned by the vault; everything above it is value depositors have
	// sent but not yet claimed.
	nativeAccounted *big.Int
}

// NewEngine constructs an engine from validated params. The bridge asset is
// derived from the exchange adapter here, never configured directly.
func NewEngine(ctx context.Context, params Params, store Storage, exchange Exchange, custodian Custodian, account common.Address) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if exchange == nil {
		return nil, fmt.Errorf("vault: exchange required")
	}
	if custodian == nil {
		return nil, fmt.Errorf("vault: custodian required")
	}
	if account == (common.Address{}) {
		return nil, fmt.Errorf("vault: custody account required")
	}
	bridge, err := exchange.BridgeAsset(ctx)
	if err != nil {
		return nil, fmt.Errorf("vault: derive bridge asset: %w", err)
	}
	tolerance, err := NewSlippageTolerance(params.SlippageBps)
	if err != nil {
		return nil, err
	}
	router, err := NewRouter(exchange, params.StableAsset, bridge, tolerance)
	if err != nil {
		return nil, err
	}
	held := func(ctx context.Context) (*big.Int, error) {
		return custodian.Balance(ctx, params.StableAsset, account)
	}
	ledger, err := NewLedger(store, held, params.CapacityCap, params.WithdrawalLimit)
	if err != nil {
		return nil, err
	}
	nativeAccounted, err := custodian.NativeBalance(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("vault: read native balance: %w", err)
	}
	if nativeAccounted == nil {
		nativeAccounted = big.NewInt(0)
	}
	admin := params.Admin
	return &Engine{
		params:    params,
		bridge:    bridge,
		ledger:    ledger,
		router:    router,
		custodian: custodian,
		account:   account,
		authorize: func(caller common.Address, role string) bool {
			return role == RoleAdmin && caller == admin
		},
		emitter:         NoopEmitter{},
		clock:           time.Now,
		nativeAccounted: new(big.Int).Set(nativeAccounted),
	}, nil
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetAuthorizer overrides the role check. Passing nil keeps the current one.
func (e *Engine) SetAuthorizer(authorize Authorizer) {
	if e == nil || authorize == nil {
		return
	}
	e.authorize = authorize
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
	e.router.SetClock(clock)
	e.ledger.SetClock(clock)
}

// SetSwapDeadline overrides how far in the future swap deadlines are set.
func (e *Engine) SetSwapDeadline(d time.Duration) {
	if e == nil {
		return
	}
	e.router.SetDeadline(d)
}

// Ledger exposes the accounting ledger for read paths.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// BridgeAsset reports the bridge asset derived at construction.
func (e *Engine) BridgeAsset() common.Address { return e.bridge }

// DepositToken normalises a fungible token deposit and credits the result.
// The depositor must have pre-approved the vault for amount; the pull, the
// allowance dance, the swap, and the credit all happen inside the critical
// section, so the swap sub-call cannot re-enter.
func (e *Engine) DepositToken(ctx context.Context, depositor, asset common.Address, amount *big.Int) (*DepositRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return nil, ErrPaused
	}
	if depositor == (common.Address{}) || asset == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	if err := e.custodian.Pull(ctx, asset, depositor, amount); err != nil {
		return nil, fmt.Errorf("vault: pull deposit: %w", err)
	}

	class := AssetClassToken
	credited := new(big.Int).Set(amount)
	bridged := false
	if asset == e.params.StableAsset {
		class = AssetClassStable
	} else {
		// Reset the venue allowance before setting it to exactly amount.
		if err := e.custodian.Approve(ctx, asset, e.params.Exchange, big.NewInt(0)); err != nil {
			return nil, e.refund(ctx, asset, depositor, amount, err)
		}
		if err := e.custodian.Approve(ctx, asset, e.params.Exchange, amount); err != nil {
			return nil, e.refund(ctx, asset, depositor, amount, err)
		}
		out, viaBridge, err := e.router.SwapTokenToStable(ctx, asset, amount, e.account)
		if err != nil {
			return nil, e.refund(ctx, asset, depositor, amount, err)
		}
		credited = out
		bridged = viaBridge
	}

	record := &DepositRecord{
		ID:        uuid.NewString(),
		Depositor: depositor,
		Asset:     asset,
		Class:     class,
		AmountIn:  new(big.Int).Set(amount),
		Credited:  credited,
		Bridged:   bridged,
		CreatedAt: e.clock().UTC().Unix(),
	}
	if err := e.ledger.Credit(ctx, record); err != nil {
		// The stable value has already arrived; a rejected credit returns it
		// so the depositor is left whole.
		return nil, e.refund(ctx, e.params.StableAsset, depositor, credited, err)
	}
	e.emit(NewDepositEvent(record))
	return record.Copy(), nil
}

// DepositNative normalises a native-currency deposit. The depositor sends the
// native value to the custody account first, then claims it here; the claim is
// verified against the live native balance before anything is swapped or
// credited. A failed swap releases the verified value back to the depositor.
func (e *Engine) DepositNative(ctx context.Context, depositor common.Address, amount *big.Int) (*DepositRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return nil, ErrPaused
	}
	if depositor == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	current, err := e.custodian.NativeBalance(ctx, e.account)
	if err != nil {
		return nil, fmt.Errorf("vault: read native balance: %w", err)
	}
	unclaimed := new(big.Int).Sub(current, e.nativeAccounted)
	if unclaimed.Sign() < 0 {
		unclaimed = big.NewInt(0)
	}
	if unclaimed.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: claimed %s, unclaimed value %s", ErrValueNotReceived, amount, unclaimed)
	}
	// The swap spends amount out of the unclaimed portion; a refund returns
	// it to the depositor. Either way nativeAccounted is unchanged.
	credited, err := e.router.SwapNativeToStable(ctx, amount, e.account)
	if err != nil {
		return nil, e.refundNative(ctx, depositor, amount, err)
	}
	record := &DepositRecord{
		ID:        uuid.NewString(),
		Depositor: depositor,
		Class:     AssetClassNative,
		AmountIn:  new(big.Int).Set(amount),
		Credited:  credited,
		CreatedAt: e.clock().UTC().Unix(),
	}
	if err := e.ledger.Credit(ctx, record); err != nil {
		return nil, e.refund(ctx, e.params.StableAsset, depositor, credited, err)
	}
	e.emit(NewDepositEvent(record))
	return record.Copy(), nil
}

// Withdraw debits the depositor and releases stable funds. The ledger
// decrements before the transfer runs and restores on transfer failure.
func (e *Engine) Withdraw(ctx context.Context, depositor common.Address, amount *big.Int) (*WithdrawalRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return nil, ErrPaused
	}
	if depositor == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	record := &WithdrawalRecord{
		ID:        uuid.NewString(),
		Depositor: depositor,
		CreatedAt: e.clock().UTC().Unix(),
	}
	if amount != nil {
		record.Amount = new(big.Int).Set(amount)
	}
	payout := func(ctx context.Context) error {
		return e.custodian.Release(ctx, e.params.StableAsset, depositor, amount)
	}
	if err := e.ledger.Debit(ctx, record, payout); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawalEvent(record))
	return record.Copy(), nil
}

// UserBalance reads the depositor's ledger balance.
func (e *Engine) UserBalance(depositor common.Address) (*big.Int, error) {
	return e.ledger.Balance(depositor)
}

// BankBalance reads the live custodial total of the stable asset.
func (e *Engine) BankBalance(ctx context.Context) (*big.Int, error) {
	return e.custodian.Balance(ctx, e.params.StableAsset, e.account)
}

// Pause gates all deposit and withdraw entry points.
func (e *Engine) Pause(caller common.Address) error {
	return e.setPaused(caller, true)
}

// Unpause reopens the deposit and withdraw entry points.
func (e *Engine) Unpause(caller common.Address) error {
	return e.setPaused(caller, false)
}

// Paused reports whether the vault is gated.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	if !e.authorize(caller, RoleAdmin) {
		return ErrUnauthorized
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused == paused {
		return nil
	}
	e.paused = paused
	e.emit(NewPauseEvent(paused, caller))
	return nil
}

// refund compensates a failed deposit by returning funds already held in
// custody, keeping the pull-then-swap sequence all-or-nothing.
func (e *Engine) refund(ctx context.Context, asset, depositor common.Address, amount *big.Int, cause error) error {
	if releaseErr := e.custodian.Release(ctx, asset, depositor, amount); releaseErr != nil {
		return fmt.Errorf("vault: deposit failed (%v) and refund failed: %w", cause, releaseErr)
	}
	return cause
}

// refundNative compensates a failed native deposit by releasing the verified
// claim back to the depositor.
func (e *Engine) refundNative(ctx context.Context, depositor common.Address, amount *big.Int, cause error) error {
	if releaseErr := e.custodian.ReleaseNative(ctx, depositor, amount); releaseErr != nil {
		return fmt.Errorf("vault: deposit failed (%v) and native refund failed: %w", cause, releaseErr)
	}
	return cause
}

func (e *Engine) emit(event Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}
