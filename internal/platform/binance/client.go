// Package binance is a client for a Binance-futures-style exchange API: a
// signed REST surface plus a user-data WebSocket stream.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// Client is the REST client for one exchange account.
type Client struct {
	baseURL      string
	apiKey       string
	secretKey    string
	recvWindowMs int
	httpClient   *http.Client

	// now is swappable in tests so signatures are deterministic.
	now func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithRecvWindow widens the signed-request acceptance window (epoch ms) so
// clock skew against the venue does not reject requests.
func WithRecvWindow(ms int) Option {
	return func(c *Client) { c.recvWindowMs = ms }
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a REST client for the given API root, e.g.
// "https://fapi.binance.com".
func NewClient(baseURL, apiKey, secretKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ServerTime returns the venue's clock. It doubles as the connectivity probe
// the orchestrator runs before entering the run loop.
func (c *Client) ServerTime(ctx context.Context) (time.Time, error) {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/time", nil, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("binance: server time: %w", err)
	}

	var resp serverTimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return time.Time{}, fmt.Errorf("binance: decode server time: %w", err)
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// AccountTrades returns the account's fills for symbol starting at startTime
// (epoch ms, inclusive), oldest first, up to limit entries.
func (c *Client) AccountTrades(ctx context.Context, symbol string, startTime int64, limit int) ([]AccountTrade, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}

	body, err := c.do(ctx, http.MethodGet, "/fapi/v1/userTrades", params, true)
	if err != nil {
		return nil, fmt.Errorf("binance: account trades %s: %w", symbol, err)
	}

	var trades []AccountTrade
	if err := json.Unmarshal(body, &trades); err != nil {
		return nil, fmt.Errorf("binance: decode account trades: %w", err)
	}
	return trades, nil
}

// NewMarketOrder places a market order. clientOrderID lets a retried request
// land on the same venue order instead of creating a second one.
func (c *Client) NewMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, clientOrderID string) (OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", string(side))
	params.Set("type", "MARKET")
	params.Set("quantity", qty.String())
	if clientOrderID != "" {
		params.Set("newClientOrderId", clientOrderID)
	}

	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return OrderAck{}, fmt.Errorf("binance: new market order %s: %w", symbol, err)
	}

	var ack OrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return OrderAck{}, fmt.Errorf("binance: decode order ack: %w", err)
	}
	return ack, nil
}

// PositionRisk returns every position on the account, including flat ones
// (PositionAmt zero); callers filter.
func (c *Client) PositionRisk(ctx context.Context) ([]PositionRisk, error) {
	body, err := c.do(ctx, http.MethodGet, "/fapi/v2/positionRisk", nil, true)
	if err != nil {
		return nil, fmt.Errorf("binance: position risk: %w", err)
	}

	var positions []PositionRisk
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("binance: decode position risk: %w", err)
	}
	return positions, nil
}

// NewListenKey opens a user-data stream session and returns its key. The key
// expires unless kept alive; see KeepAliveListenKey.
func (c *Client) NewListenKey(ctx context.Context) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/fapi/v1/listenKey", nil, false)
	if err != nil {
		return "", fmt.Errorf("binance: new listen key: %w", err)
	}

	var resp listenKeyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("binance: decode listen key: %w", err)
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends the user-data stream session validity.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	if _, err := c.do(ctx, http.MethodPut, "/fapi/v1/listenKey", nil, false); err != nil {
		return fmt.Errorf("binance: keepalive listen key: %w", err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// do builds, optionally signs, sends, and reads one request. Signed requests
// carry a timestamp, an optional recvWindow, and an HMAC-SHA256 signature
// over the query string.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.recvWindowMs > 0 {
			params.Set("recvWindow", strconv.Itoa(c.recvWindowMs))
		}
		params.Set("signature", c.sign(params.Encode()))
	}

	fullURL := c.baseURL + path

	var bodyReader io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			fullURL += "?" + params.Encode()
		}
	} else {
		bodyReader = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransport, err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// sign computes the hex-encoded HMAC-SHA256 of the query string under the
// account secret.
func (c *Client) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// checkStatus maps non-2xx HTTP status codes onto the error taxonomy:
// auth failures are fatal, 5xx and rate limits are retriable, and any other
// 4xx is a venue rejection carried verbatim.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var venueErr apiError
	_ = json.Unmarshal(body, &venueErr)
	msg := venueErr.Msg
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrAuth, statusCode, msg)
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		// 418 is the venue's auto-ban response for ignoring 429s.
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrRateLimited, statusCode, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransport, statusCode, msg)
	default:
		code := venueErr.Code
		if code == 0 {
			code = statusCode
		}
		return &domain.VenueError{Code: code, Message: msg}
	}
}
