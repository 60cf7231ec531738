package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"stablevault/native/vault"
)

var (
	testAdmin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	testExchange  = common.HexToAddress("0x00000000000000000000000000000000000000e5")
	testVaultAcct = common.HexToAddress("0x000000000000000000000000000000000000cafe")
	testStable    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testBridge    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testToken     = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testDepositor = common.HexToAddress("0x7777777777777777777777777777777777777777")
)

const adminToken = "test-admin-token"

// memStore is an in-memory vault.Storage for wiring an engine under httptest.
type memStore struct {
	values map[string][]byte
	lists  map[string][][]byte
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string][]byte), lists: make(map[string][][]byte)}
}

func (m *memStore) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.values[string(key)] = encoded
	return nil
}

func (m *memStore) KVGet(key []byte, out interface{}) (bool, error) {
	encoded, ok := m.values[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	return true, rlp.DecodeBytes(encoded, out)
}

func (m *memStore) KVAppend(key []byte, value []byte) error {
	m.lists[string(key)] = append(m.lists[string(key)], append([]byte(nil), value...))
	return nil
}

func (m *memStore) KVGetList(key []byte, out interface{}) error {
	encoded, err := rlp.EncodeToBytes(m.lists[string(key)])
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(encoded, out)
}

func (m *memStore) Transact(fn func(vault.Storage) error) error {
	values := make(map[string][]byte, len(m.values))
	for k, v := range m.values {
		values[k] = v
	}
	lists := make(map[string][][]byte, len(m.lists))
	for k, v := range m.lists {
		lists[k] = append([][]byte(nil), v...)
	}
	if err := fn(m); err != nil {
		m.values, m.lists = values, lists
		return err
	}
	return nil
}

// fakeRouter plays both exchange and custodian, quoting a fixed rate of two
// stable units per unit in on the direct pool only.
type fakeRouter struct {
	account  common.Address
	balances map[string]*big.Int
	native   map[string]*big.Int
}

func newFakeRouter(account common.Address) *fakeRouter {
	return &fakeRouter{
		account:  account,
		balances: make(map[string]*big.Int),
		native:   make(map[string]*big.Int),
	}
}

func key(asset, holder common.Address) string { return asset.Hex() + "|" + holder.Hex() }

func (f *fakeRouter) balance(asset, holder common.Address) *big.Int {
	if bal, ok := f.balances[key(asset, holder)]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (f *fakeRouter) set(asset, holder common.Address, amount int64) {
	f.balances[key(asset, holder)] = big.NewInt(amount)
}

func (f *fakeRouter) Quote(_ context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) != 2 {
		return nil, vault.ErrNoLiquidity
	}
	return new(big.Int).Mul(amountIn, big.NewInt(2)), nil
}

func (f *fakeRouter) swap(amountIn *big.Int, recipient common.Address) (*big.Int, error) {
	out := new(big.Int).Mul(amountIn, big.NewInt(2))
	f.balances[key(testStable, recipient)] = new(big.Int).Add(f.balance(testStable, recipient), out)
	return out, nil
}

func (f *fakeRouter) SwapTokens(_ context.Context, amountIn, _ *big.Int, _ []common.Address, recipient common.Address, _ time.Time) (*big.Int, error) {
	return f.swap(amountIn, recipient)
}

func (f *fakeRouter) SwapNative(_ context.Context, amountIn, _ *big.Int, _ []common.Address, recipient common.Address, _ time.Time) (*big.Int, error) {
	held := f.nativeBalance(f.account)
	if held.Cmp(amountIn) < 0 {
		return nil, fmt.Errorf("swap not funded")
	}
	f.native[f.account.Hex()] = new(big.Int).Sub(held, amountIn)
	return f.swap(amountIn, recipient)
}

func (f *fakeRouter) nativeBalance(holder common.Address) *big.Int {
	if bal, ok := f.native[holder.Hex()]; ok {
		return bal
	}
	return big.NewInt(0)
}

func (f *fakeRouter) setNative(holder common.Address, amount int64) {
	f.native[holder.Hex()] = big.NewInt(amount)
}

func (f *fakeRouter) NativeBalance(_ context.Context, holder common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.nativeBalance(holder)), nil
}

func (f *fakeRouter) ReleaseNative(_ context.Context, to common.Address, amount *big.Int) error {
	held := f.nativeBalance(f.account)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient native custody")
	}
	f.native[f.account.Hex()] = new(big.Int).Sub(held, amount)
	f.native[to.Hex()] = new(big.Int).Add(f.nativeBalance(to), amount)
	return nil
}

func (f *fakeRouter) BridgeAsset(_ context.Context) (common.Address, error) {
	return testBridge, nil
}

func (f *fakeRouter) Pull(_ context.Context, asset, from common.Address, amount *big.Int) error {
	bal := f.balance(asset, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient holdings")
	}
	f.balances[key(asset, from)] = new(big.Int).Sub(bal, amount)
	f.balances[key(asset, f.account)] = new(big.Int).Add(f.balance(asset, f.account), amount)
	return nil
}

func (f *fakeRouter) Release(_ context.Context, asset, to common.Address, amount *big.Int) error {
	bal := f.balance(asset, f.account)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient custody")
	}
	f.balances[key(asset, f.account)] = new(big.Int).Sub(bal, amount)
	f.balances[key(asset, to)] = new(big.Int).Add(f.balance(asset, to), amount)
	return nil
}

func (f *fakeRouter) Approve(_ context.Context, _, _ common.Address, _ *big.Int) error { return nil }

func (f *fakeRouter) Balance(_ context.Context, asset, holder common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance(asset, holder)), nil
}

type serverFixture struct {
	server *httptest.Server
	router *fakeRouter
	engine *vault.Engine
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	router := newFakeRouter(testVaultAcct)
	params := vault.Params{
		CapacityCap:     big.NewInt(1_000_000),
		WithdrawalLimit: big.NewInt(1_000),
		SlippageBps:     50,
		Admin:           testAdmin,
		StableAsset:     testStable,
		Exchange:        testExchange,
	}
	engine, err := vault.NewEngine(context.Background(), params, newMemStore(), router, router, testVaultAcct)
	require.NoError(t, err)

	srv, err := New(Config{AdminToken: adminToken, AdminAddr: testAdmin}, engine, slog.Default())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &serverFixture{server: ts, router: router, engine: engine}
}

func (f *serverFixture) post(t *testing.T, path string, payload interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (f *serverFixture) get(t *testing.T, path string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := f.server.Client().Get(f.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	fix := newServerFixture(t)
	resp, body := fix.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestDepositTokenEndpoint(t *testing.T) {
	fix := newServerFixture(t)
	fix.router.set(testToken, testDepositor, 500)

	resp, body := fix.post(t, "/v1/deposits/token", depositTokenRequest{
		Depositor: testDepositor.Hex(),
		Asset:     testToken.Hex(),
		Amount:    "500",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "token", body["class"])
	require.Equal(t, "1000", body["credited"])
	require.NotEmpty(t, body["id"])

	resp, balance := fix.get(t, "/v1/balances/"+testDepositor.Hex())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "1000", balance["balance"])
}

func TestDepositNativeEndpoint(t *testing.T) {
	fix := newServerFixture(t)
	fix.router.setNative(testVaultAcct, 300)

	resp, body := fix.post(t, "/v1/deposits/native", depositNativeRequest{
		Depositor: testDepositor.Hex(),
		Amount:    "300",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "native", body["class"])
	require.Equal(t, "600", body["credited"])
}

func TestDepositNativeRejectsUnbackedClaim(t *testing.T) {
	fix := newServerFixture(t)

	resp, body := fix.post(t, "/v1/deposits/native", depositNativeRequest{
		Depositor: testDepositor.Hex(),
		Amount:    "300",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "value_not_received", body["kind"])

	resp, balance := fix.get(t, "/v1/balances/"+testDepositor.Hex())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "0", balance["balance"])
}

func TestWithdrawEndpoint(t *testing.T) {
	fix := newServerFixture(t)
	fix.router.set(testStable, testDepositor, 5000)
	resp, _ := fix.post(t, "/v1/deposits/token", depositTokenRequest{
		Depositor: testDepositor.Hex(),
		Asset:     testStable.Hex(),
		Amount:    "5000",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := fix.post(t, "/v1/withdrawals", withdrawRequest{
		Depositor: testDepositor.Hex(),
		Amount:    "800",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "800", body["amount"])

	resp, balance := fix.get(t, "/v1/balances/"+testDepositor.Hex())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "4200", balance["balance"])
}

func TestWithdrawOverLimitReportsContext(t *testing.T) {
	fix := newServerFixture(t)
	fix.router.set(testStable, testDepositor, 5000)
	resp, _ := fix.post(t, "/v1/deposits/token", depositTokenRequest{
		Depositor: testDepositor.Hex(),
		Asset:     testStable.Hex(),
		Amount:    "5000",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := fix.post(t, "/v1/withdrawals", withdrawRequest{
		Depositor: testDepositor.Hex(),
		Amount:    "1500",
	}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "limit_exceeded", body["kind"])
	ctx, ok := body["context"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "1500", ctx["requested"])
	require.Equal(t, "1000", ctx["max"])
}

func TestDepositRejectsBadInput(t *testing.T) {
	fix := newServerFixture(t)

	resp, body := fix.post(t, "/v1/deposits/token", depositTokenRequest{
		Depositor: testDepositor.Hex(),
		Asset:     "not-an-address",
		Amount:    "500",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "zero_address", body["kind"])

	resp, body = fix.post(t, "/v1/deposits/token", depositTokenRequest{
		Depositor: testDepositor.Hex(),
		Asset:     testToken.Hex(),
		Amount:    "-5",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_amount", body["kind"])
}

func TestMalformedBodyReportsDistinctKind(t *testing.T) {
	fix := newServerFixture(t)

	for _, path := range []string{"/v1/deposits/token", "/v1/deposits/native", "/v1/withdrawals"} {
		resp, err := fix.server.Client().Post(fix.server.URL+path, "application/json", strings.NewReader(`{"amount":`))
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		require.Equal(t, "malformed_body", body["kind"], path)
	}
}

func TestAdminEndpointsRequireBearerToken(t *testing.T) {
	fix := newServerFixture(t)

	resp, _ := fix.post(t, "/v1/admin/pause", struct{}{}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = fix.post(t, "/v1/admin/pause", struct{}{}, map[string]string{"Authorization": "Bearer wrong"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := fix.post(t, "/v1/admin/pause", struct{}{}, map[string]string{"Authorization": "Bearer " + adminToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["paused"])

	resp, errBody := fix.post(t, "/v1/deposits/native", depositNativeRequest{
		Depositor: testDepositor.Hex(),
		Amount:    "10",
	}, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "paused", errBody["kind"])

	resp, body = fix.post(t, "/v1/admin/unpause", struct{}{}, map[string]string{"Authorization": "Bearer " + adminToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["paused"])
}

func TestBankEndpointReportsHeldValue(t *testing.T) {
	fix := newServerFixture(t)
	fix.router.set(testStable, testDepositor, 5000)
	resp, _ := fix.post(t, "/v1/deposits/token", depositTokenRequest{
		Depositor: testDepositor.Hex(),
		Asset:     testStable.Hex(),
		Amount:    "5000",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := fix.get(t, "/v1/bank")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "5000", body["held"])
}
