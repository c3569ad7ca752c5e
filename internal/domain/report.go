package domain

import "time"

// Report agrupa todo lo calculado para una cuenta sobre un set de eventos.
type Report struct {
	Account     string
	Range       TimeRange
	GeneratedAt time.Time
	Source      string // "live", "archive" o "cache"
	Marked      bool   // el summary usa marks externos

	// metadata de la recolección
	Events     int
	Exhausted  bool
	StopReason StopReason
	Boundary   Boundary
	Warning    string

	Ledger LedgerResult
	Pnl    PnlResult
}

// Truncated indica si la recolección se detuvo antes del final del feed.
func (r Report) Truncated() bool {
	return !r.Exhausted
}

// BuildReport corre el replay del ledger y la agregación de caja sobre el mismo
// set de eventos. El ledger puede limitarse a TRADE; la agregación ve todo.
func BuildReport(account string, events []TradeEvent, tradesOnly bool) Report {
	ledgerInput := events
	if tradesOnly {
		ledgerInput = TradesOnly(events)
	}
	return Report{
		Account:   account,
		Events:    len(events),
		Exhausted: true,
		Ledger:    Replay(ledgerInput),
		Pnl:       Aggregate(events),
	}
}
