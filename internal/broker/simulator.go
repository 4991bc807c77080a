package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"alerttrader/internal/domain"
	"alerttrader/internal/sizing"
)

// Compile-time interface check.
var (
	_ Client            = (*SimulatorBroker)(nil)
	_ CredentialChecker = (*SimulatorBroker)(nil)
)

// SimulatorBroker implements Client for paper trading. It keeps one in-memory
// book per API key and fills every order immediately at the quoted mid.
type SimulatorBroker struct {
	mu     sync.Mutex
	books  map[string]domain.Balances // API key -> balances
	quotes map[string]domain.Ticker   // "BASE/QUOTE" -> ticker
	orders []domain.Order
	seed   domain.Balances // credited to every new book
	rules  sizing.Rules
}

// NewSimulatorBroker creates a SimulatorBroker with no accounts or quotes.
func NewSimulatorBroker() *SimulatorBroker {
	return &SimulatorBroker{
		books:  make(map[string]domain.Balances),
		quotes: make(map[string]domain.Ticker),
		seed:   make(domain.Balances),
		rules:  sizing.Rules{QuantityPlaces: 8, OrderType: domain.OrderTypeMarket},
	}
}

// Name returns "paper".
func (b *SimulatorBroker) Name() domain.BrokerType { return domain.BrokerPaper }

// CheckCredential requires the API key that selects the book.
func (b *SimulatorBroker) CheckCredential(cred domain.ServiceCredential) error {
	if cred.APIKey == "" {
		return domain.Authf("missing key")
	}
	return nil
}

// Rules returns unit-denominated market-order rules.
func (b *SimulatorBroker) Rules() sizing.Rules { return b.rules }

// Seed sets a starting balance for books opened after the call.
func (b *SimulatorBroker) Seed(currency string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	currency = strings.ToUpper(currency)
	b.seed[currency] = domain.NewBalance(currency, amount, amount)
}

// SetQuote sets the bid/ask for a pair.
func (b *SimulatorBroker) SetQuote(pair domain.SymbolPair, bid, ask decimal.Decimal) {
	pair, _ = b.NormalizePair(pair)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[pair.String()] = domain.NewTicker(pair.Base+pair.Quote, bid, ask)
}

// Orders returns a copy of every filled order.
func (b *SimulatorBroker) Orders() []domain.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Order(nil), b.orders...)
}

// NormalizePair upper-cases both legs.
func (b *SimulatorBroker) NormalizePair(pair domain.SymbolPair) (domain.SymbolPair, error) {
	out := domain.SymbolPair{
		Base:  strings.ToUpper(strings.TrimSpace(pair.Base)),
		Quote: strings.ToUpper(strings.TrimSpace(pair.Quote)),
	}
	if out.Base == "" || out.Quote == "" {
		return out, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"pair": pair.String()})
	}
	return out, nil
}

// FetchBalances returns a snapshot of the credential's book.
func (b *SimulatorBroker) FetchBalances(_ context.Context, cred domain.ServiceCredential) (domain.Balances, error) {
	if cred.APIKey == "" {
		return nil, domain.Authf("missing key")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(domain.Balances)
	for k, v := range b.book(cred.APIKey) {
		out[k] = v
	}
	return out, nil
}

// FetchTicker returns the configured quote for pair.
func (b *SimulatorBroker) FetchTicker(_ context.Context, _ domain.ServiceCredential, pair domain.SymbolPair) (domain.Ticker, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.quotes[pair.String()]
	if !ok {
		return domain.Ticker{}, domain.NewError(domain.KindValidation, "unsupported symbol", map[string]any{"pair": pair.String()})
	}
	return t, nil
}

// SubmitOrder fills the order at its price and moves balances.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, cred domain.ServiceCredential, order domain.Order) (domain.Receipt, error) {
	if cred.APIKey == "" {
		return domain.Receipt{}, domain.Authf("missing key")
	}
	if order.Quantity == nil || order.Price == nil {
		return domain.Receipt{}, domain.BrokerError("order requires quantity and price", nil)
	}
	qty, price := *order.Quantity, *order.Price
	notional := qty.Mul(price)

	b.mu.Lock()
	defer b.mu.Unlock()
	book := b.book(cred.APIKey)
	base, quote := order.Pair.Base, order.Pair.Quote

	switch order.Side {
	case domain.SideBuy:
		if book.Available(quote).LessThan(notional) {
			return domain.Receipt{}, domain.BrokerError("insufficient funds", map[string]any{"need": notional.String()})
		}
		book.Add(quote, notional.Neg(), notional.Neg())
		book.Add(base, qty, qty)
	case domain.SideSell:
		if book.Available(base).LessThan(qty) {
			return domain.Receipt{}, domain.BrokerError("insufficient balance", map[string]any{"need": qty.String()})
		}
		book.Add(base, qty.Neg(), qty.Neg())
		book.Add(quote, notional, notional)
	default:
		return domain.Receipt{}, domain.BrokerError(fmt.Sprintf("unknown side %q", order.Side), nil)
	}

	b.orders = append(b.orders, order)
	return domain.Receipt{OrderID: uuid.NewString(), Payload: order}, nil
}

// book returns the balances for apiKey, creating them. Must be called with
// mu held.
func (b *SimulatorBroker) book(apiKey string) domain.Balances {
	book, ok := b.books[apiKey]
	if !ok {
		book = make(domain.Balances, len(b.seed))
		for k, v := range b.seed {
			book[k] = v
		}
		b.books[apiKey] = book
	}
	return book
}
