// Package drivewealth implements the broker.Client contract against the
// DriveWealth v1 REST API. Calls are authorized by a login session rather
// than a per-request signature.
package drivewealth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"

	"github.com/shopspring/decimal"

	"alerttrader/internal/broker"
	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
)

// DefaultBaseURL is the production endpoint.
const DefaultBaseURL = "https://api.drivewealth.net/v1"

// Long positions are reported with side "B".
const longSide = "B"

// Wire codes for order side and type.
const (
	sideBuy    = "B"
	sideSell   = "S"
	ordTypeMkt = "1"
)

// Compile-time interface checks.
var (
	_ broker.Client              = (*Client)(nil)
	_ broker.SessionCreator      = (*Client)(nil)
	_ broker.AccountStateFetcher = (*Client)(nil)
	_ broker.AccountFetcher      = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	MinNotional decimal.Decimal
	Transport   broker.TransportOptions

	// ClientIP and ScreenRes are reported at login.
	ClientIP  string
	ScreenRes string
}

// Client talks to DriveWealth for one or more credentials.
type Client struct {
	baseURL   string
	transport *broker.Transport
	clientIP  string
	screenRes string
	rules     sizing.Rules
}

// New creates a Client.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ip := opts.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	res := opts.ScreenRes
	if res == "" {
		res = "1920x1080"
	}
	return &Client{
		baseURL:   base,
		transport: broker.NewTransport(string(domain.BrokerDriveWealth), opts.Transport),
		clientIP:  ip,
		screenRes: res,
		rules: sizing.Rules{
			CashDenominated: true,
			PositionBased:   true,
			LongSide:        longSide,
			MinNotional:     opts.MinNotional,
			OrderType:       domain.OrderTypeMarket,
		},
	}
}

// Name returns "drivewealth".
func (c *Client) Name() domain.BrokerType { return domain.BrokerDriveWealth }

// Rules returns cash-denominated, position-based rules.
func (c *Client) Rules() sizing.Rules { return c.rules }

// NormalizePair upper-cases the ticker symbol. Only USD quotes are traded.
func (c *Client) NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
	out := domain.SymbolPair{
		Base:  strings.ToUpper(strings.TrimSpace(pair.Base)),
		Quote: strings.ToUpper(strings.TrimSpace(pair.Quote)),
	}
	if out.Quote == "" {
		out.Quote = "USD"
	}
	if out.Base == "" || out.Quote != "USD" {
		return out, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"pair": pair.String()})
	}
	return out, nil
}

// CreateSession logs in with the credential's username and password.
func (c *Client) CreateSession(ctx context.Context, cred domain.ServiceCredential) (*domain.Session, error) {
	if cred.Username == "" || cred.Password == "" {
		return nil, domain.Authf("missing username or password")
	}
	body := loginRequest{
		Username:    cred.Username,
		Password:    cred.Password,
		AccountType: accountType,
		AppTypeID:   appTypeID,
		AppVersion:  appVersion,
		LanguageID:  languageID,
		OSType:      runtime.GOOS,
		OSVersion:   runtime.Version(),
		ScrRes:      c.screenRes,
		IPAddress:   c.clientIP,
	}
	var resp loginResponse
	if err := c.send(ctx, nil, http.MethodPost, "/userSessions", body, &resp); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s := resp.session()
	if !s.Valid() {
		return nil, domain.Authf("login returned no session key")
	}
	return s, nil
}

type accountSummary struct {
	Cash struct {
		CashBalance           decimal.Decimal `json:"cashBalance"`
		CashAvailableForTrade decimal.Decimal `json:"cashAvailableForTrade"`
	} `json:"cash"`
	Equity struct {
		EquityPositions []domain.Position `json:"equityPositions"`
	} `json:"equity"`
}

// FetchAccountState returns cash and open positions from the account
// summary.
func (c *Client) FetchAccountState(ctx context.Context, cred domain.ServiceCredential) (domain.AccountState, error) {
	s, acct, err := requireSession(cred)
	if err != nil {
		return domain.AccountState{}, err
	}
	path := "/users/" + url.PathEscape(s.UserID) + "/accountSummary/" + url.PathEscape(acct.AccountID)
	var sum accountSummary
	if err := c.send(ctx, s, http.MethodGet, path, nil, &sum); err != nil {
		return domain.AccountState{}, fmt.Errorf("fetch account summary: %w", err)
	}
	bals := domain.Balances{
		"USD": domain.NewBalance("USD", sum.Cash.CashBalance, sum.Cash.CashAvailableForTrade),
	}
	if sum.Cash.CashBalance.IsZero() {
		bals["USD"] = domain.NewBalance("USD", sum.Cash.CashAvailableForTrade, sum.Cash.CashAvailableForTrade)
	}
	return domain.AccountState{Balances: bals, Positions: sum.Equity.EquityPositions}, nil
}

// FetchBalances returns the cash balance.
func (c *Client) FetchBalances(ctx context.Context, cred domain.ServiceCredential) (domain.Balances, error) {
	st, err := c.FetchAccountState(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("fetch balances: %w", err)
	}
	return st.Balances, nil
}

// FetchAccount returns the raw account record of the session's primary
// account.
func (c *Client) FetchAccount(ctx context.Context, cred domain.ServiceCredential) (map[string]any, error) {
	s, acct, err := requireSession(cred)
	if err != nil {
		return nil, err
	}
	path := "/users/" + url.PathEscape(s.UserID) + "/accounts/" + url.PathEscape(acct.AccountID)
	var out map[string]any
	if err := c.send(ctx, s, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("fetch account: %w", err)
	}
	return out, nil
}

// Instrument is a tradable equity.
type Instrument struct {
	InstrumentID string          `json:"instrumentID"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	RateBid      decimal.Decimal `json:"rateBid"`
	RateAsk      decimal.Decimal `json:"rateAsk"`
}

// FetchInstrument looks up symbol.
func (c *Client) FetchInstrument(ctx context.Context, cred domain.ServiceCredential, symbol string) (Instrument, error) {
	s, _, err := requireSession(cred)
	if err != nil {
		return Instrument{}, err
	}
	var list []Instrument
	if err := c.send(ctx, s, http.MethodGet, "/instruments?symbols="+url.QueryEscape(symbol), nil, &list); err != nil {
		return Instrument{}, fmt.Errorf("fetch instrument %s: %w", symbol, err)
	}
	for _, in := range list {
		if strings.EqualFold(in.Symbol, symbol) || len(list) == 1 {
			return in, nil
		}
	}
	return Instrument{}, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"symbol": symbol})
}

// FetchTicker resolves the instrument and returns its quote. The instrument
// id is carried on the ticker for position matching and order placement.
func (c *Client) FetchTicker(ctx context.Context, cred domain.ServiceCredential, pair domain.SymbolPair) (domain.Ticker, error) {
	in, err := c.FetchInstrument(ctx, cred, pair.Base)
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("fetch ticker %s: %w", pair.Base, err)
	}
	tk := domain.NewTicker(in.Symbol, in.RateBid, in.RateAsk)
	tk.InstrumentID = in.InstrumentID
	return tk, nil
}

// OrderRequest is the order payload. At most one of AmountCash and OrderQty
// is set; both are sent as bare JSON numbers.
type OrderRequest struct {
	InstrumentID string      `json:"instrumentID"`
	AccountID    string      `json:"accountID"`
	AccountNo    string      `json:"accountNo"`
	AccountType  int         `json:"accountType"`
	UserID       string      `json:"userID"`
	OrdType      string      `json:"ordType"`
	Side         string      `json:"side"`
	AmountCash   json.Number `json:"amountCash,omitempty"`
	OrderQty     json.Number `json:"orderQty,omitempty"`
}

type orderResponse struct {
	OrderID string `json:"orderID"`
}

// SubmitOrder places a market order: buys by cash amount, sells by the
// position quantity. A full liquidation is a sell without a quantity, which
// the venue sizes from the held position.
func (c *Client) SubmitOrder(ctx context.Context, cred domain.ServiceCredential, order domain.Order) (domain.Receipt, error) {
	s, acct, err := requireSession(cred)
	if err != nil {
		return domain.Receipt{}, err
	}
	if order.InstrumentID == "" {
		return domain.Receipt{}, domain.Validationf("order requires an instrument")
	}
	req := OrderRequest{
		InstrumentID: order.InstrumentID,
		AccountID:    acct.AccountID,
		AccountNo:    acct.AccountNo,
		AccountType:  acct.AccountType,
		UserID:       s.UserID,
		OrdType:      ordTypeMkt,
		Side:         sideBuy,
	}
	switch {
	case order.Side == domain.SideBuy:
		if order.CashAmount == nil {
			return domain.Receipt{}, domain.Validationf("buy requires a cash amount")
		}
		req.AmountCash = json.Number(order.CashAmount.RoundDown(2).String())
	case order.FullLiquidation:
		req.Side = sideSell
	default:
		if order.Quantity == nil {
			return domain.Receipt{}, domain.Validationf("sell requires a quantity")
		}
		req.Side = sideSell
		req.OrderQty = json.Number(order.Quantity.String())
	}

	var resp orderResponse
	if err := c.send(ctx, s, http.MethodPost, "/orders", req, &resp); err != nil {
		return domain.Receipt{}, fmt.Errorf("create order: %w", err)
	}
	return domain.Receipt{OrderID: resp.OrderID, Payload: req}, nil
}

// send issues a JSON request, authorized when s is non-nil.
func (c *Client) send(ctx context.Context, s *domain.Session, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = raw
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s != nil {
		authorize(req, s)
	}
	return c.transport.DoJSON(ctx, req, out)
}
