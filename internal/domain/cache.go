package domain

import "context"

// QuoteCache mirrors the latest quote per asset for cheap cross-process
// reads. The in-memory aggregator remains the source of truth; cache misses
// and write failures are never fatal to the pipeline.
type QuoteCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, assetID string) (Quote, error)
	GetQuotes(ctx context.Context, assetIDs []string) (map[string]Quote, error)
}
