package collector

// fanout.go — recolección concurrente de varias cuentas.
//
// Cada cuenta se pagina secuencialmente; las cuentas corren en paralelo hasta
// Config.FanOut a la vez. El rate limiter del feed sigue siendo compartido.

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

// AccountResult es el resultado de una cuenta dentro de CollectMany.
type AccountResult struct {
	Request domain.CollectRequest
	Result  domain.CollectResult
	Err     error
}

// CollectMany corre Collect por cada request, como mucho Config.FanOut a la vez.
// Los resultados siguen el orden de reqs. Si una cuenta falla, las demás siguen.
func (c *Collector) CollectMany(ctx context.Context, reqs []domain.CollectRequest) []AccountResult {
	results := make([]AccountResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(c.cfg.FanOut)
	for i, req := range reqs {
		g.Go(func() error {
			res, err := c.Collect(ctx, req)
			results[i] = AccountResult{Request: req, Result: res, Err: err}
			return nil
		})
	}
	g.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	slog.Info("multi-account collection complete",
		"accounts", len(reqs),
		"failed", failed,
		"fan_out", c.cfg.FanOut,
	)
	return results
}
