package domain

import "time"

// Quote is the latest observed top-of-book for one asset. BestBid/BestAsk are
// pointers because an empty book side is a real state, distinct from zero.
type Quote struct {
	AssetID string
	BestBid *float64
	BestAsk *float64
	AsOf    time.Time
	Source  string
}

// Mid returns the midpoint price, or false when either side is missing.
func (q Quote) Mid() (float64, bool) {
	if q.BestBid == nil || q.BestAsk == nil {
		return 0, false
	}
	return (*q.BestBid + *q.BestAsk) / 2, true
}

// NewerThan reports whether this quote strictly supersedes other under the
// as_of monotonicity rule.
func (q Quote) NewerThan(other Quote) bool {
	return q.AsOf.After(other.AsOf)
}

// PriceTick is an append-only historical record of a quote observation,
// keyed by (asset, as_of). Never mutated after insert.
type PriceTick struct {
	AssetID  string
	MarketID string
	Outcome  Outcome
	BestBid  *float64
	BestAsk  *float64
	Mid      *float64
	AsOf     time.Time
	Source   string
}

// TickFromQuote builds the historical record for an accepted quote.
func TickFromQuote(q Quote, marketID string, outcome Outcome) PriceTick {
	t := PriceTick{
		AssetID:  q.AssetID,
		MarketID: marketID,
		Outcome:  outcome,
		BestBid:  q.BestBid,
		BestAsk:  q.BestAsk,
		AsOf:     q.AsOf,
		Source:   q.Source,
	}
	if mid, ok := q.Mid(); ok {
		t.Mid = &mid
	}
	return t
}
