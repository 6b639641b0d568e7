package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexStrings unmarshals from a JSON array of strings or from a JSON string
// that itself contains an encoded array. Gamma sends clob_token_ids and
// outcomes in both shapes depending on the endpoint.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*f = arr
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent represents an event as returned by the Polymarket Gamma API.
// An event groups one or more related markets.
type APIEvent struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Slug      string      `json:"slug"`
	Active    flexBool    `json:"active"`
	Closed    bool        `json:"closed"`
	Markets   []APIMarket `json:"markets"`
	UpdatedAt string      `json:"updatedAt"`

	// Raw is the verbatim source payload, attached by the client after
	// decoding so unmapped fields survive into storage.
	Raw json.RawMessage `json:"-"`
}

// ToDomainEvent converts an APIEvent to a domain.Event.
func (e *APIEvent) ToDomainEvent() domain.Event {
	ev := domain.Event{
		ID:    e.ID,
		Title: e.Title,
		Slug:  e.Slug,
		Raw:   e.Raw,
	}
	if e.Closed {
		ev.Status = domain.EventStatusClosed
	} else if bool(e.Active) {
		ev.Status = domain.EventStatusActive
	} else {
		ev.Status = domain.EventStatusResolved
	}
	ev.UpdatedAt = parseGammaTime(e.UpdatedAt)
	return ev
}

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID           string      `json:"id"`
	Question     string      `json:"question"`
	Active       flexBool    `json:"active"`
	Closed       bool        `json:"closed"`
	Outcomes     flexStrings `json:"outcomes"`
	ClobTokenIDs flexStrings `json:"clobTokenIds"`
	UpdatedAt    string      `json:"updatedAt"`

	Raw json.RawMessage `json:"-"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. The first
// clob token maps to the first outcome; Gamma orders them Yes then No for
// binary markets.
func (m *APIMarket) ToDomainMarket(eventID string) domain.Market {
	dm := domain.Market{
		ID:       m.ID,
		EventID:  eventID,
		Question: m.Question,
		Raw:      m.Raw,
	}
	if m.Closed {
		dm.Status = domain.MarketStatusClosed
	} else if bool(m.Active) {
		dm.Status = domain.MarketStatusActive
	} else {
		dm.Status = domain.MarketStatusSettled
	}
	if len(m.ClobTokenIDs) > 0 {
		dm.YesAssetID = m.ClobTokenIDs[0]
	}
	if len(m.ClobTokenIDs) > 1 {
		dm.NoAssetID = m.ClobTokenIDs[1]
	}
	// Respect explicit outcome labels when Gamma sends them No-first.
	if len(m.Outcomes) > 1 && strings.EqualFold(m.Outcomes[0], "No") {
		dm.YesAssetID, dm.NoAssetID = dm.NoAssetID, dm.YesAssetID
	}
	dm.UpdatedAt = parseGammaTime(m.UpdatedAt)
	return dm
}

// parseGammaTime handles the timestamp layouts Gamma is known to emit.
func parseGammaTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// --------------------------------------------------------------------------
// CLOB REST DTOs
// --------------------------------------------------------------------------

// APIBook is a full orderbook as returned by the CLOB REST /book endpoint.
type APIBook struct {
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
}

// PriceLevel is a single bid/ask level. Prices and sizes arrive as strings.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSSubscribe is the JSON payload sent to the market channel on connect.
type WSSubscribe struct {
	AssetIDs []string `json:"assets_ids"`
	Type     string   `json:"type"`
}

// BookMessage is a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string       `json:"event_type"`
	AssetID   string       `json:"asset_id"`
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp string       `json:"timestamp"`
	Hash      string       `json:"hash"`
}

// PriceChangeMessage carries incremental price-level updates. Newer server
// versions batch changes per asset; older ones send one change at top level.
type PriceChangeMessage struct {
	EventType string          `json:"event_type"`
	AssetID   string          `json:"asset_id"`
	Market    string          `json:"market"`
	Side      string          `json:"side"`
	Price     string          `json:"price"`
	Size      string          `json:"size"`
	Changes   []WSPriceChange `json:"changes"`
	Timestamp string          `json:"timestamp"`
}

// WSPriceChange is one entry of a batched price_change message.
type WSPriceChange struct {
	AssetID string `json:"asset_id"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
}

// --------------------------------------------------------------------------
// Conversion helpers: API types -> domain types
// --------------------------------------------------------------------------

// BookToQuote reduces an orderbook to its top of book. An empty side yields a
// nil pointer, not zero.
func BookToQuote(assetID string, bids, asks []PriceLevel, ts string, source string) domain.Quote {
	q := domain.Quote{
		AssetID: assetID,
		AsOf:    parseWSTimestamp(ts),
		Source:  source,
	}
	for _, lvl := range bids {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if q.BestBid == nil || p > *q.BestBid {
			bid := p
			q.BestBid = &bid
		}
	}
	for _, lvl := range asks {
		p, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			continue
		}
		if q.BestAsk == nil || p < *q.BestAsk {
			ask := p
			q.BestAsk = &ask
		}
	}
	return q
}

// parseWSTimestamp parses CLOB timestamps, which arrive as epoch strings in
// milliseconds or seconds depending on endpoint age.
func parseWSTimestamp(s string) time.Time {
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC()
		}
		return time.Now().UTC()
	}
	if ts > 1_000_000_000_000 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}
