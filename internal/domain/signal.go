package domain

import "time"

// SignalKind names the GMP basket direction of a detected opportunity.
type SignalKind string

const (
	// SignalBuyAllYes: buy the YES token of every market in the event.
	// Payoff at settlement is 1 because exactly one market resolves YES.
	SignalBuyAllYes SignalKind = "buy_all_yes"
	// SignalBuyAllNo: buy the NO token of every market. Payoff is N-1.
	SignalBuyAllNo SignalKind = "buy_all_no"
)

// SignalLeg is one constituent of a detected opportunity: the asset and the
// executable ask it was priced at.
type SignalLeg struct {
	MarketID string
	AssetID  string
	Outcome  Outcome
	AskPrice float64
	AsOf     time.Time
}

// ArbSignal is the append-only audit record of a detected GMP opportunity.
// Every detection is recorded, whether or not it is acted upon.
type ArbSignal struct {
	ID      string
	EventID string
	AsOf    time.Time
	Kind    SignalKind
	// Cost is the summed ask across legs; Edge the profit after fees
	// against the settlement payoff.
	Cost float64
	Fee  float64
	Edge float64
	Legs []SignalLeg
}

// Payoff returns the guaranteed settlement value of the basket.
func (s ArbSignal) Payoff() float64 {
	if s.Kind == SignalBuyAllNo {
		return float64(len(s.Legs) - 1)
	}
	return 1
}
