package a2a_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"simengine/pkg/a2a"
	"simengine/pkg/ledger"
	"simengine/pkg/marketstore"
	"simengine/pkg/tradeexec"
)

// signDigest reproduces the canonical envelope digest verifyCredential
// recomputes server-side: msgpack(method, params, nonce) with compact
// ints, keccak256, ECDSA sign.
func signDigest(t *testing.T, priv *ecdsa.PrivateKey, method string, params []byte, nonce int64) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseCompactInts(true)
	require.NoError(t, enc.Encode(struct {
		Method string `msgpack:"method"`
		Params []byte `msgpack:"params"`
		Nonce  int64  `msgpack:"nonce"`
	}{Method: method, Params: params, Nonce: nonce}))

	sig, err := crypto.Sign(crypto.Keccak256(buf.Bytes()), priv)
	require.NoError(t, err)
	return sig
}

// signedRequest builds a fully-signed a2a.Request the way a real caller
// would: sign Keccak256(msgpack(method, params, nonce)) with an ECDSA
// key, matching pkg/a2a/auth.go's verifyCredential.
func signedRequest(t *testing.T, key []byte, callerID, method string, params interface{}) a2a.Request {
	t.Helper()
	priv, err := crypto.ToECDSA(key)
	require.NoError(t, err)

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	nonce := time.Now().UnixNano()

	sig := signDigest(t, priv, method, raw, nonce)

	return a2a.Request{
		JSONRPC: a2a.Version, ID: json.RawMessage(`1`), Method: method, Params: raw,
		CallerID: callerID, Nonce: nonce, Signature: "0x" + hex.EncodeToString(sig),
	}
}

func newRegistryWithKey(t *testing.T, callerID string) (*a2a.StaticRegistry, []byte) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	reg := a2a.NewStaticRegistry()
	reg.Register(callerID, crypto.PubkeyToAddress(priv.PublicKey).Hex())
	return reg, crypto.FromECDSA(priv)
}

func TestGateway_GetPredictions_ReturnsOpenMarkets(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	_, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", Prompt: "will it rain", B: 100})
	require.NoError(t, err)

	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	reg, key := newRegistryWithKey(t, "caller-1")
	gw := a2a.NewGateway(store, exec, a2a.NewMemModerationStore(), reg, a2a.NewCallerLimiter(1000, 1000))

	req := signedRequest(t, key, "caller-1", "a2a.getPredictions", map[string]any{})
	resp := gw.Dispatch(ctx, req)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestGateway_Dispatch_RejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	reg, _ := newRegistryWithKey(t, "caller-1")
	_, otherKey := newRegistryWithKey(t, "someone-else")
	gw := a2a.NewGateway(store, exec, a2a.NewMemModerationStore(), reg, a2a.NewCallerLimiter(1000, 1000))

	// Sign with the wrong key: recovered address won't match caller-1's
	// registered address.
	req := signedRequest(t, otherKey, "caller-1", "a2a.getPredictions", map[string]any{})
	resp := gw.Dispatch(ctx, req)
	require.NotNil(t, resp.Error)
	require.Equal(t, "unauthorized", resp.Error.Data.Code)
}

func TestGateway_Dispatch_RateLimitsPerCaller(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	reg, key := newRegistryWithKey(t, "caller-1")
	// Window limit of 1: the second request inside the window must be
	// rejected with the taxonomy code and a retry hint. The literal
	// 60-allowed/61st-rejected boundary is covered in ratelimit_test.go
	// against a fake clock.
	gw := a2a.NewGateway(store, exec, a2a.NewMemModerationStore(), reg, a2a.NewCallerLimiter(1, 1))

	req := signedRequest(t, key, "caller-1", "a2a.getPredictions", map[string]any{})
	first := gw.Dispatch(ctx, req)
	require.Nil(t, first.Error)

	req2 := signedRequest(t, key, "caller-1", "a2a.getPredictions", map[string]any{})
	second := gw.Dispatch(ctx, req2)
	require.NotNil(t, second.Error)
	require.Equal(t, "rate_limited", second.Error.Data.Code)
	require.Greater(t, second.Error.Data.RetryAfter, int64(0))
}

func TestGateway_BuyShares_ExecutesAgainstLedgerAndMarketStore(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	_, err := store.CreatePredictionMarket(ctx, marketstore.PredictionMarket{ID: "m1", Prompt: "x", B: 100})
	require.NoError(t, err)

	led := ledger.New(ledger.NewMemStore())
	_, err = led.Credit(ctx, "caller-1", ledger.AccountVirtualBalance, decimal.NewFromInt(1000), ledger.KindDeposit, "seed")
	require.NoError(t, err)

	exec := tradeexec.New(store, led, 0)
	reg, key := newRegistryWithKey(t, "caller-1")
	gw := a2a.NewGateway(store, exec, a2a.NewMemModerationStore(), reg, a2a.NewCallerLimiter(1000, 1000))

	req := signedRequest(t, key, "caller-1", "a2a.buyShares", map[string]any{
		"market_id": "m1", "side": "YES", "cash_amount": 10,
	})
	resp := gw.Dispatch(ctx, req)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
}

func TestGateway_BlockUser_RecordsBlock(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	reg, key := newRegistryWithKey(t, "caller-1")
	mod := a2a.NewMemModerationStore()
	gw := a2a.NewGateway(store, exec, mod, reg, a2a.NewCallerLimiter(1000, 1000))

	req := signedRequest(t, key, "caller-1", "a2a.blockUser", map[string]any{"target_id": "bad-actor"})
	resp := gw.Dispatch(ctx, req)
	require.Nil(t, resp.Error)

	blocked, err := mod.IsBlocked(ctx, "caller-1", "bad-actor")
	require.NoError(t, err)
	require.True(t, blocked)
}

func TestGateway_Dispatch_UnknownMethod(t *testing.T) {
	ctx := context.Background()
	store := marketstore.NewMemStore()
	led := ledger.New(ledger.NewMemStore())
	exec := tradeexec.New(store, led, 0)
	reg, key := newRegistryWithKey(t, "caller-1")
	gw := a2a.NewGateway(store, exec, a2a.NewMemModerationStore(), reg, a2a.NewCallerLimiter(1000, 1000))

	req := signedRequest(t, key, "caller-1", "a2a.doesNotExist", map[string]any{})
	resp := gw.Dispatch(ctx, req)
	require.NotNil(t, resp.Error)
	require.Equal(t, -32601, resp.Error.Code)
}
