// Package futures implements the exchange gateway against Binance USDT-M
// futures. It handles API mechanics only: signing, rate limiting, wire
// formats. Business validation happens upstream.
package futures

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client talks to the Binance USDT-M futures REST API. All calls funnel
// through the shared throttle.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	throttle   *common.Throttle
	timeSync   *common.TimeSync
}

// NewClient creates a futures REST client. The throttle is shared across the
// process; pass the same instance to every component that produces orders.
func NewClient(cfg Config, throttle *common.Throttle) *Client {
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		throttle:   throttle,
	}
	c.timeSync = common.NewTimeSync(c.GetServerTime)
	return c
}

// StartTimeSync keeps request timestamps aligned with the exchange clock.
func (c *Client) StartTimeSync(ctx context.Context) { c.timeSync.Start(ctx) }

// GetSymbolRules fetches the precision and notional filters for a symbol.
func (c *Client) GetSymbolRules(ctx context.Context, symbol string) (common.SymbolRules, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", params)
	if err != nil {
		return common.SymbolRules{}, err
	}

	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return common.SymbolRules{}, fmt.Errorf("decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rules := common.SymbolRules{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				rules.TickSize = parseFloat(f.TickSize)
			case "LOT_SIZE":
				rules.StepSize = parseFloat(f.StepSize)
			case "MIN_NOTIONAL":
				rules.MinNotional = parseFloat(f.Notional)
			}
		}
		return rules, nil
	}
	return common.SymbolRules{}, fmt.Errorf("symbol %s not in exchange info", symbol)
}

// PlaceOrder submits an order. Exchange rejections come back as
// *common.ExchangeError with the venue's reason verbatim.
func (c *Client) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderRecord, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return common.OrderRecord{}, errors.New("binance futures: API key/secret required")
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", wireType(req.Type))
	params.Set("quantity", formatFloat(req.Qty))

	if req.Type.RequiresPrice() {
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = common.TIFGTC
		}
		params.Set("timeInForce", string(tif))
	}
	if req.Type.RequiresStopPrice() {
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderRecord{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderRecord{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toRecord(), nil
}

// CancelOrder cancels an order by exchange id. "Order not found" is returned
// as an ExchangeError; the execution engine decides idempotency.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// GetOrderStatus queries a single order.
func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderRecord, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderRecord{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderRecord{}, fmt.Errorf("decode order status: %w", err)
	}
	return resp.toRecord(), nil
}

// GetOpenOrders lists open orders; symbol may be empty for all symbols.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]common.OrderRecord, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var resp []orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	records := make([]common.OrderRecord, len(resp))
	for i, o := range resp {
		records[i] = o.toRecord()
	}
	return records, nil
}

// GetPosition returns the signed position for a symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (common.Position, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return common.Position{}, err
	}
	var risks []positionRisk
	if err := json.Unmarshal(body, &risks); err != nil {
		return common.Position{}, fmt.Errorf("decode position risk: %w", err)
	}
	for _, r := range risks {
		if r.Symbol != symbol {
			continue
		}
		lev, _ := strconv.Atoi(r.Leverage)
		return common.Position{
			Symbol:           r.Symbol,
			Amount:           parseFloat(r.PositionAmt),
			EntryPrice:       parseFloat(r.EntryPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
			UnrealizedPnL:    parseFloat(r.UnRealizedProfit),
			LiquidationPrice: parseFloat(r.LiquidationPrice),
			Leverage:         lev,
		}, nil
	}
	// No row means no exposure; a flat position is not an error.
	return common.Position{Symbol: symbol}, nil
}

// GetMarkPrice fetches the current mark price.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	body, err := c.doPublic(ctx, "/fapi/v1/premiumIndex", params)
	if err != nil {
		return 0, err
	}
	var resp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode mark price: %w", err)
	}
	return parseFloat(resp.MarkPrice), nil
}

// GetKlines returns recent candles, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	klines := make([]common.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		var o, h, l, cl, v string
		_ = json.Unmarshal(row[0], &openTime)
		_ = json.Unmarshal(row[1], &o)
		_ = json.Unmarshal(row[2], &h)
		_ = json.Unmarshal(row[3], &l)
		_ = json.Unmarshal(row[4], &cl)
		_ = json.Unmarshal(row[5], &v)
		klines = append(klines, common.Kline{
			OpenTime: time.UnixMilli(openTime),
			Open:     parseFloat(o),
			High:     parseFloat(h),
			Low:      parseFloat(l),
			Close:    parseFloat(cl),
			Volume:   parseFloat(v),
		})
	}
	return klines, nil
}

// GetServerTime fetches the exchange clock.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server time status %d: %s", resp.StatusCode, string(b))
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// doSigned signs and sends an authenticated request.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("timestamp", strconv.FormatInt(c.timeSync.Now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	endpoint := c.baseURL + path
	encoded := params.Encode()

	var (
		req *http.Request
		err error
	)
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	c.throttle.ObserveWeight(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		// Binance error bodies carry {"code": -xxxx, "msg": "..."}; surface
		// them verbatim instead of flattening into a generic message.
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return nil, &common.ExchangeError{Code: apiErr.Code, Message: apiErr.Msg}
		}
		return nil, fmt.Errorf("binance futures %s %s status %d: %s", req.Method, req.URL.Path, res.StatusCode, string(body))
	}
	return body, nil
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// wireType maps engine order types to Binance futures type names.
// Futures calls the stop-limit type "STOP".
func wireType(t common.OrderType) string {
	if t == common.OrderTypeStopLimit {
		return "STOP"
	}
	return string(t)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
