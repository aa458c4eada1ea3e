package binance

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
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hedge-volume/internal/core"
	"hedge-volume/internal/venue"
)

type authType int

const (
	authNone authType = iota
	authAPIKey
	authSigned
)

// Gateway is a spot REST gateway. Market orders fill synchronously and the
// fill report carries the executed quote amount, so no price hint and no
// settlement re-query are needed.
type Gateway struct {
	name       string
	caps       venue.Capabilities
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow time.Duration
	httpClient *http.Client

	mu        sync.Mutex
	infoCache map[string]symbolInfo
}

type Options struct {
	Name         string
	Capabilities venue.Capabilities
	APIKey       string
	APISecret    string
	RestBaseURL  string
	RecvWindowMs int64
	TimeoutSec   int64
}

func New(opts Options) (*Gateway, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("api_key/api_secret required")
	}
	name := opts.Name
	if name == "" {
		name = "binance"
	}
	baseURL := strings.TrimRight(opts.RestBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	timeout := 15 * time.Second
	if opts.TimeoutSec > 0 {
		timeout = time.Duration(opts.TimeoutSec) * time.Second
	}
	recvWindow := 5000 * time.Millisecond
	if opts.RecvWindowMs > 0 {
		recvWindow = time.Duration(opts.RecvWindowMs) * time.Millisecond
	}
	return &Gateway{
		name:       name,
		caps:       opts.Capabilities,
		apiKey:     opts.APIKey,
		apiSecret:  opts.APISecret,
		baseURL:    baseURL,
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: timeout},
		infoCache:  make(map[string]symbolInfo),
	}, nil
}

func (g *Gateway) Name() string { return g.name }

func (g *Gateway) Capabilities() venue.Capabilities { return g.caps }

// rawSymbol converts "BASE/QUOTE" or "BASE/QUOTE:SETTLE" to the venue's
// concatenated form.
func rawSymbol(native string) string {
	if idx := strings.Index(native, ":"); idx >= 0 {
		native = native[:idx]
	}
	return strings.ReplaceAll(native, "/", "")
}

func (g *Gateway) Markets(ctx context.Context) ([]string, error) {
	body, err := g.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", url.Values{}, authNone)
	if err != nil {
		return nil, err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		out = append(out, s.BaseAsset+"/"+s.QuoteAsset)
	}
	return out, nil
}

func (g *Gateway) FetchOrderBook(ctx context.Context, symbol string, depth int) (core.OrderBook, error) {
	if depth <= 0 {
		depth = 5
	}
	params := url.Values{}
	params.Set("symbol", rawSymbol(symbol))
	params.Set("limit", strconv.Itoa(depth))
	body, err := g.doRequest(ctx, http.MethodGet, "/api/v3/depth", params, authNone)
	if err != nil {
		return core.OrderBook{}, err
	}
	var resp depthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderBook{}, err
	}
	return core.OrderBook{
		Symbol:    symbol,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (g *Gateway) FetchBalance(ctx context.Context) (core.Balance, error) {
	body, err := g.doRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, authSigned)
	if err != nil {
		return nil, err
	}
	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	bal := make(core.Balance, len(resp.Balances))
	for _, b := range resp.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total := free.Add(locked)
		if total.Cmp(decimal.Zero) > 0 {
			bal[b.Asset] = total
		}
	}
	return bal, nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req core.OrderRequest) (core.Order, error) {
	params := url.Values{}
	params.Set("symbol", rawSymbol(req.Symbol))
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("type", strings.ToUpper(string(req.Type)))
	params.Set("quantity", req.Amount.String())
	if req.Type == core.Limit {
		params.Set("timeInForce", "GTC")
		params.Set("price", req.Price.String())
	}
	params.Set("newOrderRespType", "FULL")
	body, err := g.doRequest(ctx, http.MethodPost, "/api/v3/order", params, authSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	return resp.toOrder(req.Symbol), nil
}

func (g *Gateway) FetchOrder(ctx context.Context, id, symbol string) (core.Order, error) {
	params := url.Values{}
	params.Set("symbol", rawSymbol(symbol))
	params.Set("orderId", id)
	body, err := g.doRequest(ctx, http.MethodGet, "/api/v3/order", params, authSigned)
	if err != nil {
		return core.Order{}, err
	}
	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.Order{}, err
	}
	return resp.toOrder(symbol), nil
}

func (g *Gateway) CancelOrder(ctx context.Context, id, symbol string) error {
	params := url.Values{}
	params.Set("symbol", rawSymbol(symbol))
	params.Set("orderId", id)
	_, err := g.doRequest(ctx, http.MethodDelete, "/api/v3/order", params, authSigned)
	return err
}

func (g *Gateway) FetchPositions(ctx context.Context, symbols []string) ([]core.PositionInfo, error) {
	// Spot accounts have no derivative positions.
	return nil, core.ErrNotSupported
}

func (g *Gateway) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	return core.ErrNotSupported
}

func (g *Gateway) MarketRules(ctx context.Context, symbol string) (core.Rules, error) {
	info, err := g.getSymbolInfo(ctx, rawSymbol(symbol))
	if err != nil {
		return core.Rules{}, err
	}
	return info.rules, nil
}

func (g *Gateway) Connect(ctx context.Context) error {
	_, err := g.doRequest(ctx, http.MethodGet, "/api/v3/ping", url.Values{}, authNone)
	return err
}

func (g *Gateway) Close() error { return nil }

func (g *Gateway) getSymbolInfo(ctx context.Context, raw string) (symbolInfo, error) {
	if raw == "" {
		return symbolInfo{}, errors.New("symbol is required")
	}
	g.mu.Lock()
	if info, ok := g.infoCache[raw]; ok {
		g.mu.Unlock()
		return info, nil
	}
	g.mu.Unlock()

	params := url.Values{}
	params.Set("symbol", raw)
	body, err := g.doRequest(ctx, http.MethodGet, "/api/v3/exchangeInfo", params, authNone)
	if err != nil {
		return symbolInfo{}, err
	}
	var resp exchangeInfoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return symbolInfo{}, err
	}
	if len(resp.Symbols) == 0 {
		return symbolInfo{}, errors.New("symbol not found")
	}
	info := parseSymbolInfo(resp.Symbols[0])
	g.mu.Lock()
	g.infoCache[raw] = info
	g.mu.Unlock()
	return info, nil
}

func (g *Gateway) doRequest(ctx context.Context, method, path string, params url.Values, auth authType) ([]byte, error) {
	if auth == authSigned {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		if g.recvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(g.recvWindow.Milliseconds(), 10))
		}
		params.Set("signature", sign(g.apiSecret, params.Encode()))
	}
	var (
		req *http.Request
		err error
	)
	urlStr := g.baseURL + path
	if method == http.MethodGet || method == http.MethodDelete {
		if encoded := params.Encode(); encoded != "" {
			urlStr += "?" + encoded
		}
		req, err = http.NewRequestWithContext(ctx, method, urlStr, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, urlStr, strings.NewReader(params.Encode()))
	}
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet && method != http.MethodDelete {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if auth == authAPIKey || auth == authSigned {
		req.Header.Set("X-MBX-APIKEY", g.apiKey)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func parseAPIError(status int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return classifyAPIError(apiErr)
	}
	return fmt.Errorf("binance http error %d: %s", status, strings.TrimSpace(string(body)))
}

func sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseLevels(raw [][]string) []core.Level {
	out := make([]core.Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, errP := decimal.NewFromString(pair[0])
		qty, errQ := decimal.NewFromString(pair[1])
		if errP != nil || errQ != nil {
			continue
		}
		out = append(out, core.Level{Price: price, Qty: qty})
	}
	return out
}

var _ venue.Gateway = (*Gateway)(nil)
