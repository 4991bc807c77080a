// Package itbit implements the broker.Client contract against the itBit v1
// REST API. Balances and orders are scoped to a wallet.
package itbit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"alerttrader/internal/broker"
	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
)

// DefaultBaseURL is the production endpoint.
const DefaultBaseURL = "https://api.itbit.com/v1"

// pricePlaces is the fixed precision of amount and price on the wire.
const pricePlaces = 4

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

	// Nonces supplies both X-Auth-Nonce and X-Auth-Timestamp; defaults to
	// broker.DefaultNonceClock.
	Nonces *broker.NonceClock
}

// Client talks to itBit for one or more credentials.
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
		transport: broker.NewTransport(string(domain.BrokerItBit), opts.Transport),
		nonces:    nonces,
		rules: sizing.Rules{
			QuantityPlaces: pricePlaces,
			MinNotional:    opts.MinNotional,
			OrderType:      domain.OrderTypeLimit,
		},
	}
}

// Name returns "itbit".
func (c *Client) Name() domain.BrokerType { return domain.BrokerItBit }

// CheckCredential requires key and secret.
func (c *Client) CheckCredential(cred domain.ServiceCredential) error {
	return broker.RequireKeys(cred)
}

// Rules returns unit-denominated limit-order rules.
func (c *Client) Rules() sizing.Rules { return c.rules }

// NormalizePair maps both legs to itBit codes.
func (c *Client) NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
	return NormalizePair(pair)
}

// Wallet is one itBit wallet.
type Wallet struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	Name     string          `json:"name"`
	Balances []WalletBalance `json:"balances"`
}

// WalletBalance is one currency inside a wallet.
type WalletBalance struct {
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	TotalBalance     decimal.Decimal `json:"totalBalance"`
}

// FetchWallet returns the credential's configured wallet, or the first
// wallet of its user when none is configured.
func (c *Client) FetchWallet(ctx context.Context, cred domain.ServiceCredential) (Wallet, error) {
	if cred.WalletID != "" {
		var w Wallet
		if err := c.do(ctx, cred, http.MethodGet, "/wallets/"+url.PathEscape(cred.WalletID), nil, &w); err != nil {
			return Wallet{}, err
		}
		return w, nil
	}
	if cred.BrokerUserID == "" {
		return Wallet{}, domain.Authf("missing user id")
	}

	var wallets []Wallet
	path := "/wallets?userId=" + url.QueryEscape(cred.BrokerUserID)
	if err := c.do(ctx, cred, http.MethodGet, path, nil, &wallets); err != nil {
		return Wallet{}, err
	}
	if len(wallets) == 0 {
		return Wallet{}, domain.NotFoundf("no wallet for user %s", cred.BrokerUserID)
	}
	return wallets[0], nil
}

// FetchBalances returns the wallet balances.
func (c *Client) FetchBalances(ctx context.Context, cred domain.ServiceCredential) (domain.Balances, error) {
	w, err := c.FetchWallet(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	out := make(domain.Balances)
	for _, b := range w.Balances {
		out.Add(NormalizeCurrency(b.Currency), b.TotalBalance, b.AvailableBalance)
	}
	return out, nil
}

type tickerResponse struct {
	Pair string          `json:"pair"`
	Bid  decimal.Decimal `json:"bid"`
	Ask  decimal.Decimal `json:"ask"`
}

// FetchTicker reads the market ticker; mid is the bid/ask midpoint.
func (c *Client) FetchTicker(ctx context.Context, cred domain.ServiceCredential, pair domain.SymbolPair) (domain.Ticker, error) {
	pair, err := NormalizePair(pair)
	if err != nil {
		return domain.Ticker{}, err
	}
	instrument := Instrument(pair)
	var tr tickerResponse
	if err := c.do(ctx, cred, http.MethodGet, "/markets/"+instrument+"/ticker", nil, &tr); err != nil {
		return domain.Ticker{}, fmt.Errorf("fetch ticker %s: %w", instrument, err)
	}
	return domain.NewTicker(instrument, tr.Bid, tr.Ask), nil
}

// OrderRequest is the wallet order payload.
type OrderRequest struct {
	Side       string `json:"side"`
	Type       string `json:"type"`
	Currency   string `json:"currency"`
	Amount     string `json:"amount"`
	Display    string `json:"display"`
	Price      string `json:"price"`
	Instrument string `json:"instrument"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubmitOrder places a limit order at the sized price in the credential's
// wallet. Amount and price are sent with four decimals.
func (c *Client) SubmitOrder(ctx context.Context, cred domain.ServiceCredential, order domain.Order) (domain.Receipt, error) {
	if order.Quantity == nil || order.Price == nil {
		return domain.Receipt{}, domain.Validationf("order requires amount and price")
	}
	if err := broker.RequireKeys(cred); err != nil {
		return domain.Receipt{}, err
	}
	walletID := cred.WalletID
	if walletID == "" {
		w, err := c.FetchWallet(ctx, cred)
		if err != nil {
			return domain.Receipt{}, fmt.Errorf("create order: %w", err)
		}
		walletID = w.ID
	}

	amount := order.Quantity.StringFixed(pricePlaces)
	req := OrderRequest{
		Side:       string(order.Side),
		Type:       string(domain.OrderTypeLimit),
		Currency:   NormalizeCurrency(order.Pair.Base),
		Amount:     amount,
		Display:    amount,
		Price:      order.Price.StringFixed(pricePlaces),
		Instrument: Instrument(order.Pair),
	}

	var resp orderResponse
	if err := c.do(ctx, cred, http.MethodPost, "/wallets/"+url.PathEscape(walletID)+"/orders", req, &resp); err != nil {
		return domain.Receipt{}, fmt.Errorf("create order: %w", err)
	}
	return domain.Receipt{OrderID: resp.ID, Payload: req}, nil
}

// do sends a signed request. path includes any query string; the signed URL
// is the full request URL.
func (c *Client) do(ctx context.Context, cred domain.ServiceCredential, method, path string, body, out any) error {
	signer, err := NewSigner(cred.APIKey, cred.APISecret)
	if err != nil {
		return err
	}

	var payload string
	if body != nil {
		raw, err := marshal(body)
		if err != nil {
			return err
		}
		payload = string(raw)
	}

	fullURL := c.baseURL + path
	n := c.nonces.Next()
	headers, err := signer.Sign(method, fullURL, payload, n, n)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(method, fullURL, strings.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.transport.DoJSON(ctx, req, out)
}
