package polymarket

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/alejandrodnm/polypnl/internal/ports"
)

const lastTradePricePath = "/last-trade-price"

var _ ports.PriceSource = (*Client)(nil)

// LastTradedPrice devuelve el último precio negociado de un token del CLOB.
// Un 4xx (token desconocido o sin trades) devuelve ok=false sin error.
func (c *Client) LastTradedPrice(ctx context.Context, tokenID string) (float64, bool, error) {
	u := c.clobBase + lastTradePricePath + "?token_id=" + url.QueryEscape(tokenID)

	body, err := c.get(ctx, c.clobLimiter, u)
	if err != nil {
		if errors.Is(err, errClient) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("clob.LastTradedPrice: %w", err)
	}

	var resp lastTradePriceResponse
	if err := decodeJSON(body, &resp); err != nil {
		return 0, false, fmt.Errorf("clob.LastTradedPrice: %w", err)
	}
	p := resp.Price.Float64()
	if p <= 0 {
		return 0, false, nil
	}
	return p, true, nil
}
