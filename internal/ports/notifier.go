package ports

import (
	"context"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

// ReportWriter presenta los reportes de PnL al usuario.
type ReportWriter interface {
	// WriteReport renders one account's report. In the console implementation
	// it prints formatted tables.
	WriteReport(ctx context.Context, report domain.Report) error

	// WriteCollect renders the outcome of a collection run without replaying it.
	WriteCollect(ctx context.Context, res domain.CollectResult) error
}
