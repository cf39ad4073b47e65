package exchange

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trendbot-go/internal/execution"
)

func TestSignMatchesBinanceExample(t *testing.T) {
	// example pair from the Binance API documentation
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := sign(payload, secret); got != want {
		t.Fatalf("unexpected signature %s", got)
	}
}

func TestPlaceMarketOrderSignsRequest(t *testing.T) {
	var form url.Values
	var apiKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v3/order" {
			http.NotFound(w, r)
			return
		}
		apiKey = r.Header.Get("X-MBX-APIKEY")
		body, _ := io.ReadAll(r.Body)
		raw := string(body)
		idx := strings.LastIndex(raw, "&signature=")
		if idx < 0 || sign(raw[:idx], "secret") != raw[idx+len("&signature="):] {
			http.Error(w, `{"code":-1022,"msg":"Signature for this request is not valid."}`, http.StatusBadRequest)
			return
		}
		form, _ = url.ParseQuery(raw)
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"abc","status":"FILLED","executedQty":"0.00100000","cummulativeQuoteQty":"37.00000000"}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithCredentials("key", "secret"), WithRecvWindow(3*time.Second))
	fill, err := client.PlaceMarketOrder(context.Background(), execution.Order{
		ClientID: "abc",
		Symbol:   "btcusdt",
		Side:     execution.Buy,
		Qty:      decimal.RequireFromString("0.001"),
	})
	if err != nil {
		t.Fatalf("PlaceMarketOrder error: %v", err)
	}
	if apiKey != "key" {
		t.Fatalf("expected API key header, got %q", apiKey)
	}
	if form.Get("symbol") != "BTCUSDT" || form.Get("type") != "MARKET" || form.Get("side") != "BUY" {
		t.Fatalf("unexpected order form %v", form)
	}
	if form.Get("quantity") != "0.001" || form.Get("newClientOrderId") != "abc" || form.Get("recvWindow") != "3000" {
		t.Fatalf("unexpected order form %v", form)
	}
	if fill.OrderID != "28" || fill.Status != "FILLED" || !fill.Quote.Equal(decimal.NewFromInt(37)) {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestSignedEndpointsRequireCredentials(t *testing.T) {
	client := NewRESTClient("http://127.0.0.1:1")
	if _, err := client.Account(context.Background()); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}

func TestAssetBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/account" || r.URL.Query().Get("signature") == "" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"canTrade":true,"accountType":"SPOT","balances":[{"asset":"BTC","free":"0.5","locked":"0"},{"asset":"USDT","free":"1234.56","locked":"10"}]}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithCredentials("key", "secret"))
	bal, err := client.AssetBalance(context.Background(), "usdt")
	if err != nil {
		t.Fatalf("AssetBalance error: %v", err)
	}
	if !bal.Free.Equal(decimal.RequireFromString("1234.56")) {
		t.Fatalf("unexpected free balance %s", bal.Free)
	}
	missing, err := client.AssetBalance(context.Background(), "ETH")
	if err != nil || !missing.Free.IsZero() {
		t.Fatalf("expected zero balance for missing asset, got %+v %v", missing, err)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	defer server.Close()

	client := NewRESTClient(server.URL, WithCredentials("key", "secret"))
	_, err := client.Account(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Code != -2015 {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()
	if err := NewRESTClient(server.URL, WithRateLimit(100)).Ping(context.Background()); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}
