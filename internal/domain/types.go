// Package domain defines the core value types shared by the broker adapters,
// the order sizer, and the orchestration engine.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Broker types
// ---------------------------------------------------------------------------

// BrokerType tags a service credential with the venue it authenticates
// against. It is the only input used to select a broker client.
type BrokerType string

const (
	BrokerDriveWealth BrokerType = "drivewealth" // equities, session token
	BrokerBitfinex    BrokerType = "bitfinex"    // crypto A, HMAC-SHA384
	BrokerItBit       BrokerType = "itbit"       // crypto B, HMAC-SHA512
	BrokerAlpaca      BrokerType = "alpaca"      // equities, API key
	BrokerPaper       BrokerType = "paper"       // in-memory simulator
)

// Market groups services for fan-out.
type Market string

const (
	MarketEquities Market = "equities"
	MarketCrypto   Market = "cryptocurrency"
)

// ---------------------------------------------------------------------------
// Credentials and sessions
// ---------------------------------------------------------------------------

// Account is one brokerage account returned by an equities login.
type Account struct {
	AccountID   string `json:"accountID"`
	AccountNo   string `json:"accountNo"`
	AccountType int    `json:"accountType"`
}

// Session is the server-issued login state of an equities broker. Only the
// presence of SessionKey is checked locally; expiry is discovered when the
// broker rejects a call.
type Session struct {
	SessionKey string    `json:"sessionKey"`
	UserID     string    `json:"userID"`
	Accounts   []Account `json:"accounts"`
}

// Valid reports whether the session carries a token.
func (s *Session) Valid() bool {
	return s != nil && s.SessionKey != ""
}

// PrimaryAccount returns the first account of the session.
func (s *Session) PrimaryAccount() (Account, bool) {
	if s == nil || len(s.Accounts) == 0 {
		return Account{}, false
	}
	return s.Accounts[0], true
}

// ServiceCredential identifies one broker account registered by a user.
type ServiceCredential struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Market     Market     `json:"market"`
	BrokerType BrokerType `json:"broker_type"`

	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	Username  string `json:"-"`
	Password  string `json:"-"`

	// BrokerUserID and WalletID address itBit wallets.
	BrokerUserID string `json:"broker_user_id,omitempty"`
	WalletID     string `json:"wallet_id,omitempty"`

	// AllocationPercent overrides the venue default when positive.
	AllocationPercent float64 `json:"allocation_percent,omitempty"`

	Session *Session `json:"session,omitempty"`
}

// WithSession returns a copy of the credential carrying s.
func (c ServiceCredential) WithSession(s *Session) ServiceCredential {
	c.Session = s
	return c
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Balance is the holding of one currency at a venue.
type Balance struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}

// NewBalance builds a Balance, clamping available to amount.
func NewBalance(currency string, amount, available decimal.Decimal) Balance {
	if available.GreaterThan(amount) {
		available = amount
	}
	return Balance{Currency: currency, Amount: amount, Available: available}
}

// Balances maps a normalized currency code to its balance.
type Balances map[string]Balance

// Available returns the available amount for currency, or zero.
func (b Balances) Available(currency string) decimal.Decimal {
	if bal, ok := b[currency]; ok {
		return bal.Available
	}
	return decimal.Zero
}

// Add accumulates amount and available into the currency's entry.
func (b Balances) Add(currency string, amount, available decimal.Decimal) {
	cur := b[currency]
	b[currency] = NewBalance(currency, cur.Amount.Add(amount), cur.Available.Add(available))
}

// Ticker is the best bid/ask for a pair.
type Ticker struct {
	Symbol       string          `json:"symbol"`
	InstrumentID string          `json:"instrument_id,omitempty"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	Mid          decimal.Decimal `json:"mid"`
}

var two = decimal.NewFromInt(2)

// NewTicker builds a Ticker with mid derived from bid and ask.
func NewTicker(symbol string, bid, ask decimal.Decimal) Ticker {
	return Ticker{Symbol: symbol, Bid: bid, Ask: ask, Mid: bid.Add(ask).Div(two)}
}

// Position is an open equities holding.
type Position struct {
	InstrumentID string          `json:"instrumentID"`
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	AvailableQty decimal.Decimal `json:"availableForTradingQty"`
}

// AccountState is the equities account summary: cash plus positions.
type AccountState struct {
	Balances  Balances   `json:"balances"`
	Positions []Position `json:"positions"`
}

// ---------------------------------------------------------------------------
// Intents
// ---------------------------------------------------------------------------

// Action is the abstract trading intent carried by an alert.
type Action string

const (
	ActionBuy       Action = "buy"
	ActionSell      Action = "sell"
	ActionEnterLong Action = "enterlong"
	ActionExitLong  Action = "exitlong"
)

// ParseAction maps an alert verb to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", Validationf("invalid action %q", s)
	}
	return a, nil
}

// Valid reports whether a is one of the four supported actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionEnterLong, ActionExitLong:
		return true
	}
	return false
}

// Opens reports whether a spends quote currency.
func (a Action) Opens() bool { return a == ActionBuy || a == ActionEnterLong }

// Closes reports whether a liquidates the base asset.
func (a Action) Closes() bool { return a == ActionSell || a == ActionExitLong }

// SymbolPair is a base asset quoted in a quote currency.
type SymbolPair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

func (p SymbolPair) String() string { return p.Base + "/" + p.Quote }

// OrderIntent is a parsed alert. It is never mutated by the core.
type OrderIntent struct {
	Action            Action     `json:"action"`
	Pair              SymbolPair `json:"pair"`
	AllocationPercent float64    `json:"allocation_percent,omitempty"`
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType selects execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Order is the sized, venue-neutral order handed to a broker client, which
// converts it to its own wire payload. Exactly one of Quantity and CashAmount
// is set unless FullLiquidation is true.
type Order struct {
	Pair            SymbolPair       `json:"pair"`
	InstrumentID    string           `json:"instrument_id,omitempty"`
	Side            OrderSide        `json:"side"`
	Type            OrderType        `json:"type"`
	Quantity        *decimal.Decimal `json:"quantity,omitempty"`
	CashAmount      *decimal.Decimal `json:"cash_amount,omitempty"`
	Price           *decimal.Decimal `json:"price,omitempty"`
	FullLiquidation bool             `json:"full_liquidation,omitempty"`
}

func (o Order) String() string {
	switch {
	case o.CashAmount != nil:
		return fmt.Sprintf("%s %s cash=%s", o.Side, o.Pair, o.CashAmount)
	case o.Quantity != nil:
		return fmt.Sprintf("%s %s qty=%s", o.Side, o.Pair, o.Quantity)
	default:
		return fmt.Sprintf("%s %s all", o.Side, o.Pair)
	}
}

// Receipt is what a broker returns for an accepted order.
type Receipt struct {
	OrderID string `json:"order_id"`
	Payload any    `json:"payload"`
}

// OrderResult is the normalized outcome of one intent against one service.
type OrderResult struct {
	ServiceID     string         `json:"service_id"`
	BrokerType    BrokerType     `json:"broker_type"`
	Success       bool           `json:"success"`
	BrokerOrderID string         `json:"broker_order_id,omitempty"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	Error         string         `json:"error,omitempty"`
	Order         *Order         `json:"order,omitempty"`
	Payload       any            `json:"payload,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// OrderAttempt is the audit record of one intent processed against one
// service, successful or not.
type OrderAttempt struct {
	ID         string      `json:"id"`
	Seq        uint64      `json:"seq"`
	UserID     string      `json:"user_id"`
	Intent     OrderIntent `json:"intent"`
	Result     OrderResult `json:"result"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}
