// Package bitfinex implements the broker.Client contract against the
// Bitfinex v1 REST API.
package bitfinex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"alerttrader/internal/broker"
	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
)

// DefaultBaseURL is the production endpoint.
const DefaultBaseURL = "https://api.bitfinex.com"

const apiVersion = "v1"

// orderType places exchange-wallet market orders.
const orderType = "exchange market"

// Compile-time interface check.
var (
	_ broker.Client            = (*Client)(nil)
	_ broker.CredentialChecker = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	MinNotional decimal.Decimal
	Transport   broker.TransportOptions

	// Nonces defaults to broker.DefaultNonceClock.
	Nonces *broker.NonceClock
}

// Client talks to Bitfinex for one or more credentials.
type Client struct {
	baseURL   string
	transport *broker.Transport
	nonces    *broker.NonceClock
	rules     sizing.Rules
}

// New creates a Client.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	nonces := opts.Nonces
	if nonces == nil {
		nonces = broker.DefaultNonceClock
	}
	return &Client{
		baseURL:   base,
		transport: broker.NewTransport(string(domain.BrokerBitfinex), opts.Transport),
		nonces:    nonces,
		rules: sizing.Rules{
			QuantityPlaces: 8,
			MinNotional:    opts.MinNotional,
			OrderType:      domain.OrderTypeMarket,
		},
	}
}

// Name returns "bitfinex".
func (c *Client) Name() domain.BrokerType { return domain.BrokerBitfinex }

// CheckCredential requires key and secret. The ticker endpoint is public, so
// without this a keyless credential would still reach the venue.
func (c *Client) CheckCredential(cred domain.ServiceCredential) error {
	return broker.RequireKeys(cred)
}

// Rules returns unit-denominated market-order rules.
func (c *Client) Rules() sizing.Rules { return c.rules }

// NormalizePair maps both legs to Bitfinex codes.
func (c *Client) NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
	return NormalizePair(pair)
}

type balanceEntry struct {
	Type      string          `json:"type"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}

// FetchBalances returns the exchange-wallet balances.
func (c *Client) FetchBalances(ctx context.Context, cred domain.ServiceCredential) (domain.Balances, error) {
	var entries []balanceEntry
	if err := c.post(ctx, cred, "balances", nil, &entries); err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	out := make(domain.Balances)
	for _, e := range entries {
		if e.Type != "exchange" {
			continue
		}
		out.Add(NormalizeCurrency(e.Currency), e.Amount, e.Available)
	}
	return out, nil
}

type tickerResponse struct {
	Mid decimal.Decimal `json:"mid"`
	Bid decimal.Decimal `json:"bid"`
	Ask decimal.Decimal `json:"ask"`
}

// FetchTicker reads the public ticker. Bitfinex supplies mid directly.
func (c *Client) FetchTicker(ctx context.Context, _ domain.ServiceCredential, pair domain.SymbolPair) (domain.Ticker, error) {
	pair, err := NormalizePair(pair)
	if err != nil {
		return domain.Ticker{}, err
	}
	symbol := Symbol(pair)
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/"+apiVersion+"/pubticker/"+symbol, nil)
	if err != nil {
		return domain.Ticker{}, err
	}
	req.Header.Set("Accept", "application/json")

	var tr tickerResponse
	if err := c.transport.DoJSON(ctx, req, &tr); err != nil {
		return domain.Ticker{}, fmt.Errorf("fetch ticker %s: %w", symbol, err)
	}
	tk := domain.Ticker{Symbol: symbol, Bid: tr.Bid, Ask: tr.Ask, Mid: tr.Mid}
	if tk.Mid.IsZero() {
		tk = domain.NewTicker(symbol, tr.Bid, tr.Ask)
	}
	return tk, nil
}

type orderResponse struct {
	ID      json.Number `json:"id"`
	OrderID json.Number `json:"order_id"`
}

// SubmitOrder places an exchange market order. Sells set use_all_available
// so rounding never leaves a remainder behind.
func (c *Client) SubmitOrder(ctx context.Context, cred domain.ServiceCredential, order domain.Order) (domain.Receipt, error) {
	if order.Quantity == nil || order.Price == nil {
		return domain.Receipt{}, domain.Validationf("order requires amount and price")
	}
	params := map[string]any{
		"symbol":   Symbol(order.Pair),
		"amount":   order.Quantity.String(),
		"price":    order.Price.String(),
		"side":     string(order.Side),
		"type":     orderType,
		"exchange": "bitfinex",
	}
	if order.Side == domain.SideSell {
		params["use_all_available"] = 1
	}

	var resp orderResponse
	if err := c.post(ctx, cred, "order/new", params, &resp); err != nil {
		return domain.Receipt{}, fmt.Errorf("create order: %w", err)
	}
	id := resp.OrderID.String()
	if id == "" {
		id = resp.ID.String()
	}
	return domain.Receipt{OrderID: id, Payload: params}, nil
}

// post sends a signed request. A JSON object carrying "message" is a
// rejection even on a 2xx status.
func (c *Client) post(ctx context.Context, cred domain.ServiceCredential, path string, params map[string]any, out any) error {
	signer, err := NewSigner(cred.APIKey, cred.APISecret)
	if err != nil {
		return err
	}
	reqPath := "/" + apiVersion + "/" + path
	headers, body, err := signer.Sign(reqPath, c.nonces.Next(), params)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+reqPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	raw, err := c.transport.Do(ctx, req)
	if err != nil {
		return err
	}
	var rejection struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &rejection) == nil && rejection.Message != "" {
		return domain.BrokerError(rejection.Message, map[string]any{"path": reqPath})
	}
	return broker.DecodeJSON(raw, out)
}
