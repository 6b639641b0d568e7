package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// PaperOrderStatus tracks the simulated order lifecycle. FILLED and CANCELLED
// are terminal.
type PaperOrderStatus string

const (
	PaperOrderStatusNew       PaperOrderStatus = "new"
	PaperOrderStatusFilled    PaperOrderStatus = "filled"
	PaperOrderStatusCancelled PaperOrderStatus = "cancelled"
)

// PaperOrder is a simulated order created by the paper trading simulator in
// response to an arbitrage signal. Orders are never created externally.
type PaperOrder struct {
	ID         string
	SignalID   string
	EventID    string
	MarketID   string
	AssetID    string
	Outcome    Outcome
	Side       OrderSide
	Quantity   float64
	LimitPrice *float64
	Status     PaperOrderStatus
	CreatedAt  time.Time
	ClosedAt   *time.Time
}

// PaperFill records a simulated execution against an order. The static
// one-shot fill policy produces exactly one full fill per filled order.
type PaperFill struct {
	ID       string
	OrderID  string
	Quantity float64
	Price    float64
	Fee      float64
	FilledAt time.Time
}

// PaperPosition is the net simulated holding per market+outcome, with
// volume-weighted average entry price.
type PaperPosition struct {
	EventID   string
	MarketID  string
	Outcome   Outcome
	Quantity  float64
	AvgPrice  float64
	UpdatedAt time.Time
}

// ApplyFill blends a fill into the position and returns the realized P&L of
// the closing portion, if any. Buying adds quantity; selling reduces it.
// Realized P&L accrues only when a fill reduces the position's magnitude,
// priced against the prior average.
func (p *PaperPosition) ApplyFill(side OrderSide, qty, price float64, at time.Time) float64 {
	signed := qty
	if side == OrderSideSell {
		signed = -qty
	}

	var realized float64
	switch {
	case p.Quantity == 0 || (p.Quantity > 0) == (signed > 0):
		// Opening or adding: volume-weighted blend.
		total := p.Quantity + signed
		p.AvgPrice = (p.AvgPrice*abs(p.Quantity) + price*qty) / (abs(p.Quantity) + qty)
		p.Quantity = total
	default:
		// Reducing (possibly through zero).
		closing := qty
		if closing > abs(p.Quantity) {
			closing = abs(p.Quantity)
		}
		if p.Quantity > 0 {
			realized = (price - p.AvgPrice) * closing
		} else {
			realized = (p.AvgPrice - price) * closing
		}
		p.Quantity += signed
		if p.Quantity == 0 {
			p.AvgPrice = 0
		} else if (p.Quantity > 0) == (signed > 0) {
			// Flipped through zero: remainder opens at the fill price.
			p.AvgPrice = price
		}
	}
	p.UpdatedAt = at
	return realized
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PaperPnL is the per-event profit summary, recomputed whenever a position or
// a relevant quote changes.
type PaperPnL struct {
	EventID       string
	RealizedPnL   float64
	UnrealizedPnL float64
	FeesPaid      float64
	UpdatedAt     time.Time
}
