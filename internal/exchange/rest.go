package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"trendbot-go/internal/execution"
	"trendbot-go/internal/signal"
)

// ErrMissingCredentials is returned by signed endpoints when no key pair is configured.
var ErrMissingCredentials = errors.New("binance: API key/secret required")

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: http %d code %d: %s", e.Status, e.Code, e.Msg)
}

// Kline is one candlestick from /api/v3/klines.
type Kline struct {
	OpenTime  time.Time
	CloseTime time.Time
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Balance is the free and locked amount of one asset.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// Account is the subset of /api/v3/account the bot reads.
type Account struct {
	CanTrade    bool      `json:"canTrade"`
	AccountType string    `json:"accountType"`
	Permissions []string  `json:"permissions"`
	Balances    []Balance `json:"balances"`
}

type orderResponse struct {
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	Status              string          `json:"status"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
}

// RESTOption configures a RESTClient.
type RESTOption func(*RESTClient)

// WithCredentials sets the key pair used by signed endpoints.
func WithCredentials(key, secret string) RESTOption {
	return func(c *RESTClient) {
		c.apiKey = key
		c.apiSecret = secret
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithRecvWindow overrides the signed request validity window.
func WithRecvWindow(d time.Duration) RESTOption {
	return func(c *RESTClient) {
		if d > 0 {
			c.recvWindow = d
		}
	}
}

// WithRateLimit paces outgoing requests.
func WithRateLimit(perSecond int) RESTOption {
	return func(c *RESTClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// RESTClient talks to the Binance spot REST API.
type RESTClient struct {
	http       *resty.Client
	apiKey     string
	apiSecret  string
	recvWindow time.Duration
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewRESTClient builds a client against baseURL (production or testnet).
func NewRESTClient(baseURL string, opts ...RESTOption) *RESTClient {
	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(baseURL, "/"))
	client.SetTimeout(10 * time.Second)
	client.SetHeader("Accept", "application/json")

	c := &RESTClient{
		http:       client,
		recvWindow: 5 * time.Second,
		limiter:    rate.NewLimiter(rate.Limit(10), 10),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks connectivity.
func (c *RESTClient) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "/api/v3/ping", nil, false)
	return err
}

// Klines returns up to limit candles, oldest first. The last one may still be forming.
func (c *RESTClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		if limit > 1000 {
			limit = 1000
		}
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.get(ctx, "/api/v3/klines", params, false)
	if err != nil {
		return nil, err
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]Kline, 0, len(rows))
	for i, row := range rows {
		k, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("kline %d: %w", i, err)
		}
		out = append(out, k)
	}
	return out, nil
}

// Bars converts klines to closed bars, dropping any that close after now.
func Bars(klines []Kline, now time.Time) []signal.Bar {
	out := make([]signal.Bar, 0, len(klines))
	for _, k := range klines {
		if k.CloseTime.After(now) {
			continue
		}
		out = append(out, signal.Bar{Ts: k.CloseTime, Close: k.Close, Volume: k.Volume, Closed: true})
	}
	return out
}

// Account returns the signed account view; it also validates the key pair.
func (c *RESTClient) Account(ctx context.Context) (Account, error) {
	body, err := c.get(ctx, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return Account{}, err
	}
	var acct Account
	if err := json.Unmarshal(body, &acct); err != nil {
		return Account{}, fmt.Errorf("decode account: %w", err)
	}
	return acct, nil
}

// AssetBalance returns the balance of asset, zero when the account holds none.
func (c *RESTClient) AssetBalance(ctx context.Context, asset string) (Balance, error) {
	acct, err := c.Account(ctx)
	if err != nil {
		return Balance{}, err
	}
	for _, b := range acct.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return b, nil
		}
	}
	return Balance{Asset: strings.ToUpper(asset)}, nil
}

// PlaceMarketOrder submits a MARKET order and implements execution.Venue.
func (c *RESTClient) PlaceMarketOrder(ctx context.Context, order execution.Order) (execution.Fill, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(order.Symbol))
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", order.Qty.String())
	if order.ClientID != "" {
		params.Set("newClientOrderId", order.ClientID)
	}
	params.Set("newOrderRespType", "RESULT")

	body, err := c.do(ctx, resty.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return execution.Fill{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return execution.Fill{}, fmt.Errorf("decode order response: %w", err)
	}
	return execution.Fill{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		ClientID: resp.ClientOrderID,
		Status:   resp.Status,
		Qty:      resp.ExecutedQty,
		Quote:    resp.CummulativeQuoteQty,
	}, nil
}

func (c *RESTClient) get(ctx context.Context, path string, params url.Values, signed bool) ([]byte, error) {
	return c.do(ctx, resty.MethodGet, path, params, signed)
}

func (c *RESTClient) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}
	req := c.http.R().SetContext(ctx)
	if signed {
		if c.apiKey == "" || c.apiSecret == "" {
			return nil, ErrMissingCredentials
		}
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", strconv.FormatInt(c.recvWindow.Milliseconds(), 10))
		req.SetHeader("X-MBX-APIKEY", c.apiKey)
	}
	// the signature covers the exact encoded payload and must come last
	payload := params.Encode()
	if signed {
		payload += "&signature=" + sign(payload, c.apiSecret)
	}

	target := path
	switch method {
	case resty.MethodPost:
		req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(payload)
	default:
		if payload != "" {
			target = path + "?" + payload
		}
	}

	resp, err := req.Execute(method, target)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		if jsonErr := json.Unmarshal(resp.Body(), apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(resp.String())
		}
		return nil, apiErr
	}
	return resp.Body(), nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseKline(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("short row of %d fields", len(row))
	}
	var (
		openMs, closeMs int64
		closeStr, volStr string
	)
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return Kline{}, fmt.Errorf("open time: %w", err)
	}
	if err := json.Unmarshal(row[4], &closeStr); err != nil {
		return Kline{}, fmt.Errorf("close: %w", err)
	}
	if err := json.Unmarshal(row[5], &volStr); err != nil {
		return Kline{}, fmt.Errorf("volume: %w", err)
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return Kline{}, fmt.Errorf("close time: %w", err)
	}
	closePx, err := decimal.NewFromString(closeStr)
	if err != nil {
		return Kline{}, fmt.Errorf("close: %w", err)
	}
	vol, err := decimal.NewFromString(volStr)
	if err != nil {
		return Kline{}, fmt.Errorf("volume: %w", err)
	}
	return Kline{
		OpenTime:  time.UnixMilli(openMs),
		CloseTime: time.UnixMilli(closeMs),
		Close:     closePx,
		Volume:    vol,
	}, nil
}
