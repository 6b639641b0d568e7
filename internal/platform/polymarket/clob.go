package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/gmparb/internal/domain"
)

// ClobClient is the REST client for the Polymarket CLOB API. Only public
// market-data endpoints are used; no authentication is carried.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewClobClient creates a new CLOB API client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
func NewClobClient(baseURL string) *ClobClient {
	return &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetBook returns the top-of-book quote for one asset via a REST snapshot.
func (c *ClobClient) GetBook(ctx context.Context, assetID string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("token_id", assetID)

	body, err := c.doGet(ctx, "/book?"+params.Encode())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: get book %s: %w", assetID, err)
	}

	var book APIBook
	if err := json.Unmarshal(body, &book); err != nil {
		return domain.Quote{}, fmt.Errorf("polymarket/clob: decode book: %w", err)
	}

	return BookToQuote(assetID, book.Bids, book.Asks, book.Timestamp, "rest"), nil
}

// GetBooks returns top-of-book quotes for many assets in one request.
func (c *ClobClient) GetBooks(ctx context.Context, assetIDs []string) ([]domain.Quote, error) {
	type bookParam struct {
		TokenID string `json:"token_id"`
	}
	reqBody := make([]bookParam, 0, len(assetIDs))
	for _, id := range assetIDs {
		reqBody = append(reqBody, bookParam{TokenID: id})
	}

	body, err := c.doPost(ctx, "/books", reqBody)
	if err != nil {
		return nil, fmt.Errorf("polymarket/clob: get books: %w", err)
	}

	var books []APIBook
	if err := json.Unmarshal(body, &books); err != nil {
		return nil, fmt.Errorf("polymarket/clob: decode books: %w", err)
	}

	quotes := make([]domain.Quote, 0, len(books))
	for _, b := range books {
		quotes = append(quotes, BookToQuote(b.AssetID, b.Bids, b.Asks, b.Timestamp, "rest"))
	}
	return quotes, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *ClobClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req)
}

func (c *ClobClient) doPost(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return c.do(req)
}

func (c *ClobClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
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

// checkHTTPStatus maps non-2xx responses to sentinel errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
