package ports

import (
	"context"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

// PageQuery is one page request against the activity feed.
// Offset is used in offset mode, EndTs (inclusive) in cursor mode; zero values
// are omitted from the request.
type PageQuery struct {
	Page    int // 1-based page number within the run, for logs and errors
	Account string
	Limit   int
	Offset  int
	StartTs int64
	EndTs   int64
}

// EventFeed supplies one page of validated activity records per call, newest first.
type EventFeed interface {
	// FetchPage returns the page in feed order. A transport failure is returned
	// as *domain.FetchError, a body that is not an array of records as
	// *domain.ParseError.
	FetchPage(ctx context.Context, q PageQuery) ([]domain.TradeEvent, error)
}

// PriceSource provides mark prices for open positions.
type PriceSource interface {
	// LastTradedPrice returns the last traded price of a CLOB token.
	// ok=false means the market has no price (never traded, delisted).
	LastTradedPrice(ctx context.Context, tokenID string) (price float64, ok bool, err error)
}
