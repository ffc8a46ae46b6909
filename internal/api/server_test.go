package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"binExchange/internal/exchange"
	"binExchange/internal/feetier"
	"binExchange/internal/fixedpoint"
	"binExchange/internal/indexer"
	"binExchange/internal/model"
	"binExchange/internal/staking"
	"binExchange/internal/storage/memory"
	"binExchange/internal/treasury"
)

var testNow = time.Unix(1_700_000_000, 0)

type converter struct{}

func (converter) Convert(_ context.Context, _ solana.PublicKey, amount uint64) (treasury.Conversion, error) {
	return treasury.Conversion{AmountOut: amount}, nil
}

type envelope struct {
	Result json.RawMessage
	Error  *string
}

type testServer struct {
	srv      *Server
	ex       *exchange.Exchange
	store    *memory.Store
	operator solana.PrivateKey
	creator  solana.PrivateKey
	base     solana.PublicKey
	quote    solana.PublicKey
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	table, err := feetier.NewTable(feetier.DefaultTiers(0))
	require.NoError(t, err)
	stakes, err := staking.NewPool(table, nil)
	require.NoError(t, err)
	dist, err := treasury.NewDistributor(converter{}, stakes, treasury.DefaultSplit(), nil)
	require.NoError(t, err)

	store := memory.NewStore()
	applier := indexer.NewApplier(memory.NewIDSet(), store, nil)
	params := exchange.DefaultParams()
	params.BondAmount = 100
	operator := solana.NewWallet().PrivateKey
	ex, err := exchange.New(params, dist, stakes,
		exchange.WithEventSink(applier),
		exchange.WithClock(func() time.Time { return testNow }),
		exchange.WithEventSource("api-test", 0),
		exchange.WithOperator(operator.PublicKey()),
	)
	require.NoError(t, err)

	srv, err := NewServer(Config{Operator: operator.PublicKey(), Debug: true}, ex, store, nil,
		WithMetrics(store),
		WithClock(func() time.Time { return testNow }),
	)
	require.NoError(t, err)
	return &testServer{
		srv:      srv,
		ex:       ex,
		store:    store,
		operator: operator,
		creator:  solana.NewWallet().PrivateKey,
		base:     solana.NewWallet().PublicKey(),
		quote:    solana.NewWallet().PublicKey(),
	}
}

func signedRequest(t *testing.T, key solana.PrivateKey, path string, body map[string]interface{}) *http.Request {
	t.Helper()
	if _, ok := body["timestamp"]; !ok {
		body["timestamp"] = testNow.Unix()
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	sig, err := key.Sign(raw)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerOwner, key.PublicKey().String())
	req.Header.Set(headerSignature, sig.String())
	return req
}

func (ts *testServer) do(t *testing.T, req *http.Request, wantStatus int) envelope {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: status %d, want %d: %s", req.Method, req.URL.Path, rec.Code, wantStatus, rec.Body.String())
	}
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) get(t *testing.T, path string, wantStatus int) envelope {
	t.Helper()
	return ts.do(t, httptest.NewRequest(http.MethodGet, path, nil), wantStatus)
}

type poolRef struct {
	ID     solana.PublicKey `json:"id"`
	Status model.PoolStatus `json:"status"`
	Price  string           `json:"price"`
}

func (ts *testServer) createPool(t *testing.T) poolRef {
	t.Helper()
	out := ts.do(t, signedRequest(t, ts.creator, "/pools", map[string]interface{}{
		"base_mint":    ts.base.String(),
		"quote_mint":   ts.quote.String(),
		"bin_step":     10,
		"base_fee_bps": 25,
		"price":        "1",
	}), http.StatusCreated)
	var p poolRef
	require.NoError(t, json.Unmarshal(out.Result, &p))
	return p
}

func (ts *testServer) activePool(t *testing.T) poolRef {
	t.Helper()
	p := ts.createPool(t)
	out := ts.do(t, signedRequest(t, ts.operator, fmt.Sprintf("/pools/%s/bond", p.ID), map[string]interface{}{
		"escrowed": "100",
	}), http.StatusOK)
	require.NoError(t, json.Unmarshal(out.Result, &p))
	return p
}

func TestHealthAndUnknownPool(t *testing.T) {
	ts := newTestServer(t)
	ts.get(t, "/health", http.StatusOK)

	out := ts.get(t, "/pools/"+solana.NewWallet().PublicKey().String(), http.StatusNotFound)
	require.NotNil(t, out.Error)
	ts.get(t, "/pools/not-a-key", http.StatusBadRequest)
}

func TestPoolTradingFlow(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createPool(t)
	require.Equal(t, model.PoolBonded, p.Status)
	require.Equal(t, "1", p.Price)

	// Swaps need an active pool.
	trader := solana.NewWallet().PrivateKey
	ts.do(t, signedRequest(t, trader, fmt.Sprintf("/pools/%s/swap", p.ID), map[string]interface{}{
		"direction": "quote_in",
		"amount_in": "1000",
	}), http.StatusConflict)

	p = ts.activePool(t)
	require.Equal(t, model.PoolActive, p.Status)

	lp := solana.NewWallet().PrivateKey
	ts.do(t, signedRequest(t, lp, fmt.Sprintf("/pools/%s/liquidity", p.ID), map[string]interface{}{
		"range":       map[string]int{"lower_bin_id": 0, "upper_bin_id": 0},
		"base_amount": "1000000",
	}), http.StatusOK)

	out := ts.get(t, fmt.Sprintf("/pools/%s/quote?direction=quote_in&amount=10000", p.ID), http.StatusOK)
	var quoted struct {
		Direction string `json:"direction"`
		Quote     struct {
			AmountOut string `json:"amount_out"`
			Fee       string `json:"fee"`
		} `json:"quote"`
	}
	require.NoError(t, json.Unmarshal(out.Result, &quoted))
	require.Equal(t, "quote_in", quoted.Direction)
	require.Equal(t, "25", quoted.Quote.Fee)
	require.Equal(t, "9975", quoted.Quote.AmountOut)

	out = ts.do(t, signedRequest(t, trader, fmt.Sprintf("/pools/%s/swap", p.ID), map[string]interface{}{
		"direction":      "quote_in",
		"amount_in":      "10000",
		"min_amount_out": "9975",
	}), http.StatusOK)
	var swapped struct {
		Record model.SwapRecord `json:"record"`
	}
	require.NoError(t, json.Unmarshal(out.Result, &swapped))
	require.Equal(t, uint64(9975), swapped.Record.OutAmount)
	require.True(t, swapped.Record.Trader.Equals(trader.PublicKey()))

	out = ts.get(t, "/swaps?pool="+p.ID.String(), http.StatusOK)
	var page struct {
		Items []model.SwapRecord `json:"items"`
		More  bool               `json:"more"`
	}
	require.NoError(t, json.Unmarshal(out.Result, &page))
	require.Len(t, page.Items, 1)
	require.False(t, page.More)

	out = ts.get(t, "/pools/"+p.ID.String(), http.StatusOK)
	var view struct {
		TVLQuote *string `json:"tvl_quote"`
	}
	require.NoError(t, json.Unmarshal(out.Result, &view))
	require.NotNil(t, view.TVLQuote)
	require.Equal(t, "1000020", *view.TVLQuote)
}

func TestSignatureChecks(t *testing.T) {
	ts := newTestServer(t)

	req := signedRequest(t, ts.creator, "/staking/stake", map[string]interface{}{"amount": "10"})
	req.Header.Set(headerOwner, solana.NewWallet().PublicKey().String())
	ts.do(t, req, http.StatusUnauthorized)

	req = httptest.NewRequest(http.MethodPost, "/staking/stake", bytes.NewReader([]byte(`{}`)))
	ts.do(t, req, http.StatusUnauthorized)

	stale := signedRequest(t, ts.creator, "/staking/stake", map[string]interface{}{
		"amount":    "10",
		"timestamp": testNow.Add(-time.Hour).Unix(),
	})
	ts.do(t, stale, http.StatusUnauthorized)
}

func TestReplayRejected(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]interface{}{"amount": "10"}
	first := signedRequest(t, ts.creator, "/staking/stake", body)
	raw, _ := json.Marshal(body)
	replay := httptest.NewRequest(http.MethodPost, "/staking/stake", bytes.NewReader(raw))
	replay.Header = first.Header.Clone()

	ts.do(t, first, http.StatusOK)
	ts.do(t, replay, http.StatusConflict)

	acc, ok := ts.ex.Staking().Account(ts.creator.PublicKey())
	require.True(t, ok)
	require.Equal(t, uint64(10), acc.StakedAmount)
}

func TestOperatorGate(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createPool(t)
	ts.do(t, signedRequest(t, ts.creator, fmt.Sprintf("/pools/%s/bond", p.ID), map[string]interface{}{
		"escrowed": "100",
	}), http.StatusForbidden)
	ts.do(t, signedRequest(t, ts.creator, "/treasury/harvest", map[string]interface{}{}), http.StatusForbidden)

	out := ts.do(t, signedRequest(t, ts.operator, "/treasury/harvest", map[string]interface{}{}), http.StatusOK)
	var recs []model.BuybackRecord
	require.NoError(t, json.Unmarshal(out.Result, &recs))
	require.Empty(t, recs)
}

func TestClosePoolErrors(t *testing.T) {
	ts := newTestServer(t)
	p := ts.activePool(t)
	path := fmt.Sprintf("/pools/%s/close", p.ID)

	ts.do(t, signedRequest(t, solana.NewWallet().PrivateKey, path, map[string]interface{}{}), http.StatusForbidden)
	out := ts.do(t, signedRequest(t, ts.creator, path, map[string]interface{}{}), http.StatusOK)
	require.Contains(t, string(out.Result), `"returned_bond":"100"`)
	ts.do(t, signedRequest(t, ts.creator, path, map[string]interface{}{"nonce": 1}), http.StatusConflict)
}

func TestCloseBondedPoolRejected(t *testing.T) {
	ts := newTestServer(t)
	p := ts.createPool(t)
	ts.do(t, signedRequest(t, ts.creator, fmt.Sprintf("/pools/%s/close", p.ID), map[string]interface{}{}), http.StatusConflict)
	out := ts.get(t, "/pools/"+p.ID.String(), http.StatusOK)
	require.NoError(t, json.Unmarshal(out.Result, &p))
	require.Equal(t, model.PoolBonded, p.Status)
}

func TestPauseRoutes(t *testing.T) {
	ts := newTestServer(t)
	p := ts.activePool(t)
	pause := fmt.Sprintf("/pools/%s/pause", p.ID)
	unpause := fmt.Sprintf("/pools/%s/unpause", p.ID)

	ts.do(t, signedRequest(t, solana.NewWallet().PrivateKey, pause, map[string]interface{}{}), http.StatusForbidden)
	out := ts.do(t, signedRequest(t, ts.creator, pause, map[string]interface{}{}), http.StatusOK)
	require.Contains(t, string(out.Result), `"paused":true`)

	ts.do(t, signedRequest(t, solana.NewWallet().PrivateKey, fmt.Sprintf("/pools/%s/liquidity", p.ID), map[string]interface{}{
		"range":       map[string]int{"lower_bin_id": 0, "upper_bin_id": 0},
		"base_amount": "1000",
	}), http.StatusConflict)

	ts.do(t, signedRequest(t, ts.operator, unpause, map[string]interface{}{}), http.StatusOK)
	stored, ok, err := ts.store.GetPool(context.Background(), p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stored.Paused)
}

func TestCreatePoolRejectsBadPrice(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, signedRequest(t, ts.creator, "/pools", map[string]interface{}{
		"base_mint":    ts.base.String(),
		"quote_mint":   ts.quote.String(),
		"bin_step":     10,
		"base_fee_bps": 25,
		"price":        "-2",
	}), http.StatusBadRequest)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrapped: %w", model.ErrPoolNotFound), http.StatusNotFound},
		{model.ErrSlippageExceeded, http.StatusUnprocessableEntity},
		{model.ErrConversionFailed, http.StatusBadGateway},
		{model.ErrInvalidAmount, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestParsePrice(t *testing.T) {
	v, err := parsePrice("1")
	require.NoError(t, err)
	require.True(t, v.Eq(fixedpoint.One()))
	require.Equal(t, "1.5", displayPrice(mustPrice(t, "1.5")))

	_, err = parsePrice("abc")
	require.Error(t, err)
	_, err = parsePrice("0")
	require.ErrorIs(t, err, model.ErrInvalidPoolConfig)
}

func mustPrice(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := parsePrice(s)
	require.NoError(t, err)
	return v
}
