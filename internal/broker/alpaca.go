package broker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
)

// Compile-time interface checks.
var _ Client = (*AlpacaBroker)(nil)
var _ AccountStateFetcher = (*AlpacaBroker)(nil)
var _ AccountFetcher = (*AlpacaBroker)(nil)
var _ CredentialChecker = (*AlpacaBroker)(nil)

// AlpacaBroker trades US equities through the Alpaca SDK. Buys are placed as
// notional (cash) market orders; sells close the available quantity.
type AlpacaBroker struct {
	baseURL string
	dataURL string
	timeout time.Duration
	rules   sizing.Rules
}

// NewAlpacaBroker creates an AlpacaBroker against the given trading and
// market-data endpoints. Empty URLs use the SDK defaults; a zero timeout uses
// DefaultTimeout.
func NewAlpacaBroker(baseURL, dataURL string, minNotional decimal.Decimal, timeout time.Duration) *AlpacaBroker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &AlpacaBroker{
		baseURL: baseURL,
		dataURL: dataURL,
		timeout: timeout,
		rules: sizing.Rules{
			CashDenominated: true,
			PositionBased:   true,
			LongSide:        "long",
			MinNotional:     minNotional,
			OrderType:       domain.OrderTypeMarket,
		},
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() domain.BrokerType { return domain.BrokerAlpaca }

// CheckCredential requires key and secret.
func (b *AlpacaBroker) CheckCredential(cred domain.ServiceCredential) error {
	return RequireKeys(cred)
}

// Rules returns the Alpaca sizing rules.
func (b *AlpacaBroker) Rules() sizing.Rules { return b.rules }

// NormalizePair upper-cases the ticker. Only USD-quoted symbols trade.
func (b *AlpacaBroker) NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
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

// contextTransport sends every request under ctx. The SDK builds its
// requests without a context.
type contextTransport struct {
	ctx context.Context
}

func (t contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return http.DefaultTransport.RoundTrip(req.WithContext(t.ctx))
}

// httpClient returns a client for one SDK call, bounded by the broker timeout
// and cancelled with ctx. The SDK reads and closes each response before it
// returns, so cancel runs once the call is done.
func (b *AlpacaBroker) httpClient(ctx context.Context) (*http.Client, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	return &http.Client{Transport: contextTransport{ctx: ctx}}, cancel
}

func (b *AlpacaBroker) trading(hc *http.Client, cred domain.ServiceCredential) (*alpaca.Client, error) {
	if err := RequireKeys(cred); err != nil {
		return nil, err
	}
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:     cred.APIKey,
		APISecret:  cred.APISecret,
		BaseURL:    b.baseURL,
		HTTPClient: hc,
	}), nil
}

// FetchBalances returns the account cash as the USD balance.
func (b *AlpacaBroker) FetchBalances(ctx context.Context, cred domain.ServiceCredential) (domain.Balances, error) {
	hc, cancel := b.httpClient(ctx)
	defer cancel()
	client, err := b.trading(hc, cred)
	if err != nil {
		return nil, err
	}
	acct, err := client.GetAccount()
	if err != nil {
		return nil, classifyAlpaca("fetch account", err)
	}
	return domain.Balances{"USD": domain.NewBalance("USD", acct.Cash, acct.Cash)}, nil
}

// FetchAccount returns the SDK account record as a generic map.
func (b *AlpacaBroker) FetchAccount(ctx context.Context, cred domain.ServiceCredential) (map[string]any, error) {
	hc, cancel := b.httpClient(ctx)
	defer cancel()
	client, err := b.trading(hc, cred)
	if err != nil {
		return nil, err
	}
	acct, err := client.GetAccount()
	if err != nil {
		return nil, classifyAlpaca("fetch account", err)
	}
	raw, err := json.Marshal(acct)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAccountState returns cash and open positions.
func (b *AlpacaBroker) FetchAccountState(ctx context.Context, cred domain.ServiceCredential) (domain.AccountState, error) {
	bals, err := b.FetchBalances(ctx, cred)
	if err != nil {
		return domain.AccountState{}, err
	}
	hc, cancel := b.httpClient(ctx)
	defer cancel()
	client, err := b.trading(hc, cred)
	if err != nil {
		return domain.AccountState{}, err
	}
	positions, err := client.GetPositions()
	if err != nil {
		return domain.AccountState{}, classifyAlpaca("fetch positions", err)
	}
	out := make([]domain.Position, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.Position{
			Symbol:       p.Symbol,
			Side:         p.Side,
			AvailableQty: p.QtyAvailable,
		})
	}
	return domain.AccountState{Balances: bals, Positions: out}, nil
}

// FetchTicker returns the latest NBBO quote for the symbol.
func (b *AlpacaBroker) FetchTicker(ctx context.Context, cred domain.ServiceCredential, pair domain.SymbolPair) (domain.Ticker, error) {
	if err := RequireKeys(cred); err != nil {
		return domain.Ticker{}, err
	}
	hc, cancel := b.httpClient(ctx)
	defer cancel()
	md := marketdata.NewClient(marketdata.ClientOpts{
		APIKey:     cred.APIKey,
		APISecret:  cred.APISecret,
		BaseURL:    b.dataURL,
		HTTPClient: hc,
	})
	q, err := md.GetLatestQuote(pair.Base, marketdata.GetLatestQuoteRequest{})
	if err != nil {
		return domain.Ticker{}, classifyAlpaca("fetch quote", err)
	}
	if q == nil {
		return domain.Ticker{}, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"symbol": pair.Base})
	}
	return domain.NewTicker(pair.Base, decimal.NewFromFloat(q.BidPrice), decimal.NewFromFloat(q.AskPrice)), nil
}

// SubmitOrder places a notional buy, a quantity sell, or closes the whole
// position when the order is a full liquidation.
func (b *AlpacaBroker) SubmitOrder(ctx context.Context, cred domain.ServiceCredential, order domain.Order) (domain.Receipt, error) {
	hc, cancel := b.httpClient(ctx)
	defer cancel()
	client, err := b.trading(hc, cred)
	if err != nil {
		return domain.Receipt{}, err
	}

	if order.FullLiquidation {
		placed, err := client.ClosePosition(order.Pair.Base, alpaca.ClosePositionRequest{})
		if err != nil {
			return domain.Receipt{}, classifyAlpaca("close position", err)
		}
		return domain.Receipt{OrderID: placed.ID, Payload: map[string]any{"symbol": order.Pair.Base, "close": true}}, nil
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:      order.Pair.Base,
		Side:        alpaca.Buy,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if order.Side == domain.SideSell {
		req.Side = alpaca.Sell
	}
	if order.CashAmount != nil {
		notional := order.CashAmount.RoundDown(2)
		req.Notional = &notional
	}
	if order.Quantity != nil {
		qty := *order.Quantity
		req.Qty = &qty
	}

	placed, err := client.PlaceOrder(req)
	if err != nil {
		return domain.Receipt{}, classifyAlpaca("place order", err)
	}
	return domain.Receipt{OrderID: placed.ID, Payload: req}, nil
}

// classifyAlpaca maps SDK errors onto domain error kinds.
func classifyAlpaca(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		details := map[string]any{"status": apiErr.StatusCode, "op": op}
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			return domain.NewError(domain.KindAuth, apiErr.Message, details)
		}
		return domain.BrokerError(apiErr.Message, details)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NetworkError("timeout", err)
	}
	return domain.NetworkError(op, err)
}
