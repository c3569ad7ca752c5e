package polymarket

// activity.go — Data API /activity adapter (feed de actividad por cuenta).
//
// Cada llamada devuelve una página ordenada de más reciente a más antigua.
// La paginación (offset o cursor por end) la decide el collector.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/ports"
)

const (
	activityPath = "/activity"
	// MaxPageSize es el techo que aplica la Data API por request.
	MaxPageSize = 500
)

var _ ports.EventFeed = (*Client)(nil)

// FetchPage pide una página de actividad de la cuenta.
func (c *Client) FetchPage(ctx context.Context, q ports.PageQuery) ([]domain.TradeEvent, error) {
	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}

	params := url.Values{}
	params.Set("user", q.Account)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("sortBy", "TIMESTAMP")
	params.Set("sortDirection", "DESC")
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.StartTs > 0 {
		params.Set("start", strconv.FormatInt(q.StartTs, 10))
	}
	if q.EndTs > 0 {
		params.Set("end", strconv.FormatInt(q.EndTs, 10))
	}
	u := c.dataBase + activityPath + "?" + params.Encode()

	body, err := c.get(ctx, c.activityLimiter, u)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.FetchError{Account: q.Account, Page: q.Page, Err: fmt.Errorf("data-api.FetchPage: %w", err)}
	}

	events, err := decodeActivityPage(body, q.Account)
	if err != nil {
		return nil, &domain.ParseError{Account: q.Account, Page: q.Page, Err: fmt.Errorf("data-api.FetchPage: %w", err)}
	}

	slog.Debug("fetched activity page",
		"account", q.Account,
		"page", q.Page,
		"offset", q.Offset,
		"end", q.EndTs,
		"count", len(events),
	)
	return events, nil
}
