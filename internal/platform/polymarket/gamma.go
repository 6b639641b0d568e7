package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// GammaClient is the REST client for the Polymarket Gamma API, which provides
// event and market metadata. All requests pass through a shared rate limiter.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// rps bounds requests per second; burst allows short spikes.
func NewGammaClient(baseURL string, rps float64, burst int) *GammaClient {
	if rps <= 0 {
		rps = 5
	}
	if burst < 1 {
		burst = 1
	}
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ListEventsUpdatedSince returns one page of events with updated_at >= since,
// ordered by updated_at ascending then id ascending. The stable order is what
// makes checkpointed pagination safe across page boundaries.
func (g *GammaClient) ListEventsUpdatedSince(ctx context.Context, since time.Time, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("order", "updatedAt,id")
	params.Set("ascending", "true")
	if !since.IsZero() {
		params.Set("start_date_min", since.UTC().Format(time.RFC3339))
	}

	path := "/events?" + params.Encode()

	body, err := g.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list events: %w", err)
	}

	return decodeEvents(body)
}

// GetEvent returns a single event by its ID.
func (g *GammaClient) GetEvent(ctx context.Context, id string) (APIEvent, error) {
	path := fmt.Sprintf("/events/%s", url.PathEscape(id))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", id, err)
	}

	var event APIEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode event: %w", err)
	}
	event.Raw = append(json.RawMessage(nil), body...)
	attachMarketRaw(&event, body)

	return event, nil
}

// decodeEvents decodes a Gamma event list while preserving each element's raw
// payload.
func decodeEvents(body []byte) ([]APIEvent, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}

	events := make([]APIEvent, 0, len(raws))
	for _, raw := range raws {
		var e APIEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("polymarket/gamma: decode event: %w", err)
		}
		e.Raw = raw
		attachMarketRaw(&e, raw)
		events = append(events, e)
	}
	return events, nil
}

// attachMarketRaw re-decodes the event's markets array as raw messages and
// attaches each element to the already-decoded APIMarket.
func attachMarketRaw(e *APIEvent, eventRaw []byte) {
	var wrapper struct {
		Markets []json.RawMessage `json:"markets"`
	}
	if err := json.Unmarshal(eventRaw, &wrapper); err != nil {
		return
	}
	for i := range e.Markets {
		if i < len(wrapper.Markets) {
			e.Markets[i].Raw = wrapper.Markets[i]
		}
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}
