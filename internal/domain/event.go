package domain

import (
	"encoding/json"
	"time"
)

// EventStatus represents the lifecycle state of an event.
type EventStatus string

const (
	EventStatusActive   EventStatus = "active"
	EventStatusClosed   EventStatus = "closed"
	EventStatusResolved EventStatus = "resolved"
)

// Event is a real-world question grouping mutually exclusive outcome markets.
// Exactly one of its markets resolves YES at settlement; that invariant is
// what the GMP arbitrage condition relies on.
type Event struct {
	ID        string
	Status    EventStatus
	Title     string
	Slug      string
	UpdatedAt time.Time
	// Raw preserves the source payload untouched so fields we do not model
	// yet survive a round trip through staging.
	Raw json.RawMessage

	IngestedAt time.Time
}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market is one outcome market within an event. Its two outcome tokens are
// the units of price subscription.
type Market struct {
	ID         string
	EventID    string
	Status     MarketStatus
	Question   string
	YesAssetID string
	NoAssetID  string
	UpdatedAt  time.Time
	Raw        json.RawMessage

	IngestedAt time.Time
}

// Outcome names which side of a market an asset represents.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// AssetID returns the token id for the given outcome.
func (m Market) AssetID(o Outcome) string {
	if o == OutcomeYes {
		return m.YesAssetID
	}
	return m.NoAssetID
}

// WatchEntry is one watchlist row: an event actively monitored for arbitrage.
type WatchEntry struct {
	EventID string
	AddedAt time.Time
}
