package adapters

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"stablevault/native/vault"
)

const routerABIJSON = `[
  {"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"WETH","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20ABIJSON = `[
  {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const defaultConfirmTimeout = 2 * time.Minute

// UniswapRouter adapts a uniswap-v2 style router contract to the vault's
// Exchange contract and the custody ERC-20 surface. All transactions are
// signed with the vault's own key; the vault account is both custodian and
// swap recipient.
type UniswapRouter struct {
	client         *ethclient.Client
	router         common.Address
	routerABI      abi.ABI
	erc20ABI       abi.ABI
	key            *ecdsa.PrivateKey
	account        common.Address
	chainID        *big.Int
	confirmTimeout time.Duration
}

// NewUniswapRouter dials the node and prepares the ABI codecs.
func NewUniswapRouter(ctx context.Context, rpcURL string, router common.Address, key *ecdsa.PrivateKey, chainID *big.Int) (*UniswapRouter, error) {
	if strings.TrimSpace(rpcURL) == "" {
		return nil, fmt.Errorf("adapters: rpc url required")
	}
	if router == (common.Address{}) {
		return nil, fmt.Errorf("adapters: router address required")
	}
	if key == nil {
		return nil, fmt.Errorf("adapters: signing key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("adapters: chain id required")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("adapters: dial node: %w", err)
	}
	routerABI, err := abi.JSON(strings.NewReader(routerABIJSON))
	if err != nil {
		return nil, fmt.Errorf("adapters: parse router abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("adapters: parse erc20 abi: %w", err)
	}
	return &UniswapRouter{
		client:         client,
		router:         router,
		routerABI:      routerABI,
		erc20ABI:       erc20ABI,
		key:            key,
		account:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:        new(big.Int).Set(chainID),
		confirmTimeout: defaultConfirmTimeout,
	}, nil
}

// SetConfirmTimeout overrides how long mined receipts are awaited.
func (r *UniswapRouter) SetConfirmTimeout(d time.Duration) {
	if r == nil || d <= 0 {
		return
	}
	r.confirmTimeout = d
}

// Account reports the custody account derived from the signing key.
func (r *UniswapRouter) Account() common.Address { return r.account }

// Close releases the underlying RPC connection.
func (r *UniswapRouter) Close() {
	if r != nil && r.client != nil {
		r.client.Close()
	}
}

// Quote calls getAmountsOut along path. The venue reverts on missing pools,
// which surfaces as ErrNoLiquidity; the cause is not inspected further.
func (r *UniswapRouter) Quote(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	data, err := r.routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("adapters: pack getAmountsOut: %w", err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vault.ErrNoLiquidity, err)
	}
	decoded, err := r.routerABI.Unpack("getAmountsOut", raw)
	if err != nil {
		return nil, fmt.Errorf("adapters: unpack getAmountsOut: %w", err)
	}
	amounts, ok := decoded[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("%w: malformed quote", vault.ErrNoLiquidity)
	}
	return amounts[len(amounts)-1], nil
}

// SwapTokens executes swapExactTokensForTokens and reports the delivered
// output as the recipient's stable balance delta, which stays honest for
// fee-on-transfer tokens.
func (r *UniswapRouter) SwapTokens(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline time.Time) (*big.Int, error) {
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	data, err := r.routerABI.Pack("swapExactTokensForTokens", amountIn, minOut, path, recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("adapters: pack swap: %w", err)
	}
	return r.executeSwap(ctx, data, nil, path, recipient)
}

// SwapNative executes swapExactETHForTokens funding the call with amountIn of
// native currency.
func (r *UniswapRouter) SwapNative(ctx context.Context, amountIn, minOut *big.Int, path []common.Address, recipient common.Address, deadline time.Time) (*big.Int, error) {
	if err := r.checkDeadline(deadline); err != nil {
		return nil, err
	}
	data, err := r.routerABI.Pack("swapExactETHForTokens", minOut, path, recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("adapters: pack swap: %w", err)
	}
	return r.executeSwap(ctx, data, amountIn, path, recipient)
}

// BridgeAsset reads the router's canonical wrapped-native token.
func (r *UniswapRouter) BridgeAsset(ctx context.Context) (common.Address, error) {
	data, err := r.routerABI.Pack("WETH")
	if err != nil {
		return common.Address{}, fmt.Errorf("adapters: pack WETH: %w", err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &r.router, Data: data}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("adapters: read bridge asset: %w", err)
	}
	decoded, err := r.routerABI.Unpack("WETH", raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("adapters: unpack WETH: %w", err)
	}
	bridge, ok := decoded[0].(common.Address)
	if !ok || bridge == (common.Address{}) {
		return common.Address{}, fmt.Errorf("adapters: malformed bridge asset")
	}
	return bridge, nil
}

// Pull moves amount of asset from the depositor into the custody account via
// transferFrom; the depositor must have approved the custody account.
func (r *UniswapRouter) Pull(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	data, err := r.erc20ABI.Pack("transferFrom", from, r.account, amount)
	if err != nil {
		return fmt.Errorf("adapters: pack transferFrom: %w", err)
	}
	_, err = r.transact(ctx, asset, nil, data)
	return err
}

// Release transfers amount of asset from custody to the recipient.
func (r *UniswapRouter) Release(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	data, err := r.erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("adapters: pack transfer: %w", err)
	}
	_, err = r.transact(ctx, asset, nil, data)
	return err
}

// Approve sets the spender allowance over custody holdings to exactly amount.
func (r *UniswapRouter) Approve(ctx context.Context, asset, spender common.Address, amount *big.Int) error {
	data, err := r.erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return fmt.Errorf("adapters: pack approve: %w", err)
	}
	_, err = r.transact(ctx, asset, nil, data)
	return err
}

// Balance reads the live ERC-20 holdings of the account.
func (r *UniswapRouter) Balance(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	data, err := r.erc20ABI.Pack("balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("adapters: pack balanceOf: %w", err)
	}
	raw, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("adapters: read balance: %w", err)
	}
	decoded, err := r.erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, fmt.Errorf("adapters: unpack balanceOf: %w", err)
	}
	balance, ok := decoded[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("adapters: malformed balance")
	}
	return balance, nil
}

// NativeBalance reads the live native-currency holdings of the account.
func (r *UniswapRouter) NativeBalance(ctx context.Context, holder common.Address) (*big.Int, error) {
	balance, err := r.client.BalanceAt(ctx, holder, nil)
	if err != nil {
		return nil, fmt.Errorf("adapters: read native balance: %w", err)
	}
	return balance, nil
}

// ReleaseNative transfers amount of native currency from custody to the
// recipient.
func (r *UniswapRouter) ReleaseNative(ctx context.Context, to common.Address, amount *big.Int) error {
	_, err := r.transact(ctx, to, amount, nil)
	return err
}

func (r *UniswapRouter) checkDeadline(deadline time.Time) error {
	if deadline.Before(time.Now()) {
		return vault.ErrDeadlineExpired
	}
	return nil
}

func (r *UniswapRouter) executeSwap(ctx context.Context, data []byte, value *big.Int, path []common.Address, recipient common.Address) (*big.Int, error) {
	stable := path[len(path)-1]
	before, err := r.Balance(ctx, stable, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vault.ErrSwapFailed, err)
	}
	if _, err := r.transact(ctx, r.router, value, data); err != nil {
		return nil, fmt.Errorf("%w: %v", vault.ErrSwapFailed, err)
	}
	after, err := r.Balance(ctx, stable, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vault.ErrSwapFailed, err)
	}
	return new(big.Int).Sub(after, before), nil
}

func (r *UniswapRouter) transact(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	nonce, err := r.client.PendingNonceAt(ctx, r.account)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := r.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	msg := ethereum.CallMsg{From: r.account, To: &to, Value: value, Data: data, GasPrice: gasPrice}
	gas, err := r.client.EstimateGas(ctx, msg)
	if err != nil {
		// Estimation runs the call; a revert here never reaches the chain.
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := r.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, r.confirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, r.client, signed)
	if err != nil {
		return nil, fmt.Errorf("await receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("tx %s reverted", signed.Hash().Hex())
	}
	return receipt, nil
}
