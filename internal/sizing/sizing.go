// Package sizing turns a trading intent plus fresh balances and prices into a
// sized, venue-neutral order. It performs no I/O.
package sizing

import (
	"github.com/shopspring/decimal"

	"alerttrader/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Rules describes how a venue denominates and validates orders.
type Rules struct {
	// CashDenominated venues take a cash amount for buys instead of a unit
	// quantity.
	CashDenominated bool

	// PositionBased venues liquidate a broker-reported position on sell
	// rather than the raw base-currency balance.
	PositionBased bool

	// LongSide is the venue's side code for a long position. A matching
	// position with any other side is liquidated in full by the broker.
	LongSide string

	// MinNotional rejects buys whose cash value is below it. Zero disables
	// the check.
	MinNotional decimal.Decimal

	// QuantityPlaces truncates unit quantities to the venue precision.
	QuantityPlaces int32

	OrderType domain.OrderType
}

// Input is everything needed to size one order.
type Input struct {
	Action            domain.Action
	Pair              domain.SymbolPair
	Balances          domain.Balances
	Ticker            domain.Ticker
	Positions         []domain.Position
	AllocationPercent float64
	Rules             Rules
}

// Size computes the order for in. Buys spend AllocationPercent of the
// available quote balance; sells liquidate everything available in the base
// asset.
func Size(in Input) (domain.Order, error) {
	order := domain.Order{
		Pair:         in.Pair,
		InstrumentID: in.Ticker.InstrumentID,
		Type:         in.Rules.OrderType,
	}
	if order.Type == "" {
		order.Type = domain.OrderTypeMarket
	}

	switch {
	case in.Action.Opens():
		order.Side = domain.SideBuy
		return sizeBuy(in, order)
	case in.Action.Closes():
		order.Side = domain.SideSell
		return sizeSell(in, order)
	default:
		return domain.Order{}, domain.NewError(domain.KindValidation, "invalid action",
			map[string]any{"action": string(in.Action)})
	}
}

func sizeBuy(in Input, order domain.Order) (domain.Order, error) {
	if in.AllocationPercent <= 0 || in.AllocationPercent > 100 {
		return domain.Order{}, domain.NewError(domain.KindValidation, "invalid allocation percent",
			map[string]any{"percent": in.AllocationPercent})
	}
	available := in.Balances.Available(in.Pair.Quote)
	percent := decimal.NewFromFloat(in.AllocationPercent)
	cash := available.Mul(percent).Div(hundred)

	details := map[string]any{
		"available": available.String(),
		"percent":   in.AllocationPercent,
		"cash":      cash.String(),
	}
	if !cash.IsPositive() || (in.Rules.MinNotional.IsPositive() && cash.LessThan(in.Rules.MinNotional)) {
		return domain.Order{}, domain.NewError(domain.KindValidation, "trade size too small", details)
	}

	if in.Rules.CashDenominated {
		order.CashAmount = &cash
		return order, nil
	}

	mid := in.Ticker.Mid
	if !mid.IsPositive() {
		return domain.Order{}, domain.NewError(domain.KindValidation, "invalid ticker price",
			map[string]any{"mid": mid.String()})
	}
	qty := cash.Div(mid).RoundDown(in.Rules.QuantityPlaces)
	if !qty.IsPositive() {
		return domain.Order{}, domain.NewError(domain.KindValidation, "trade size too small", details)
	}
	order.Quantity = &qty
	order.Price = &mid
	return order, nil
}

func sizeSell(in Input, order domain.Order) (domain.Order, error) {
	if in.Rules.PositionBased {
		return sizePositionSell(in, order)
	}

	qty := in.Balances.Available(in.Pair.Base).RoundDown(in.Rules.QuantityPlaces)
	if !qty.IsPositive() {
		return domain.Order{}, domain.NewError(domain.KindNotFound, "no position to sell",
			map[string]any{"currency": in.Pair.Base})
	}
	order.Quantity = &qty
	if mid := in.Ticker.Mid; mid.IsPositive() {
		order.Price = &mid
	}
	return order, nil
}

func sizePositionSell(in Input, order domain.Order) (domain.Order, error) {
	pos, ok := findPosition(in.Positions, in.Ticker.InstrumentID, in.Pair.Base)
	if !ok {
		return domain.Order{}, domain.NewError(domain.KindNotFound, "no position to sell",
			map[string]any{"instrument": in.Ticker.InstrumentID, "positions": len(in.Positions)})
	}
	if pos.Side != in.Rules.LongSide {
		order.FullLiquidation = true
		return order, nil
	}
	qty := pos.AvailableQty
	if !qty.IsPositive() {
		return domain.Order{}, domain.NewError(domain.KindNotFound, "no position to sell",
			map[string]any{"instrument": pos.InstrumentID, "available": qty.String()})
	}
	order.Quantity = &qty
	return order, nil
}

// findPosition matches by instrument id when the venue reports one, and by
// symbol otherwise.
func findPosition(positions []domain.Position, instrumentID, symbol string) (domain.Position, bool) {
	for _, p := range positions {
		if instrumentID != "" && p.InstrumentID == instrumentID {
			return p, true
		}
		if instrumentID == "" && p.Symbol == symbol {
			return p, true
		}
	}
	return domain.Position{}, false
}
