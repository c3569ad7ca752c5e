package ports

import (
	"context"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

// Checkpoint is the last persisted collection run for an (account, mode) pair.
type Checkpoint struct {
	RunID      string
	Account    string
	Mode       domain.PaginationMode
	Boundary   domain.Boundary
	Exhausted  bool
	StopReason domain.StopReason
	Events     int
	UpdatedAt  int64
}

// ActivityArchive persiste la actividad recolectada y los checkpoints de reanudación.
type ActivityArchive interface {
	// SaveEvents upserts events keyed by domain.DedupeKey. Returns rows written.
	SaveEvents(ctx context.Context, account string, events []domain.TradeEvent) (int, error)

	// LoadEvents returns archived events of the account inside r, timestamp ascending.
	LoadEvents(ctx context.Context, account string, r domain.TimeRange) ([]domain.TradeEvent, error)

	// SaveCheckpoint records where a run stopped.
	SaveCheckpoint(ctx context.Context, res domain.CollectResult) error

	// LoadCheckpoint returns the last checkpoint; ok=false if none exists.
	LoadCheckpoint(ctx context.Context, account string, mode domain.PaginationMode) (Checkpoint, bool, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
