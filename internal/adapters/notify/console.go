package notify

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/ports"
	"github.com/olekukonko/tablewriter"
)

var _ ports.ReportWriter = (*Console)(nil)

// Console implementa ports.ReportWriter.
type Console struct {
	out      io.Writer
	json     bool
	maxDaily int // 0 = todas las filas
}

// NewConsoleWriter crea un writer sobre w.
func NewConsoleWriter(w io.Writer, jsonOut bool, maxDaily int) *Console {
	return &Console{out: w, json: jsonOut, maxDaily: maxDaily}
}

// WriteReport imprime el reporte en el modo configurado.
func (c *Console) WriteReport(_ context.Context, r domain.Report) error {
	if c.json {
		return writeJSON(c.out, newReportView(r))
	}

	c.printHeader(r)
	if len(r.Ledger.Summary) == 0 && len(r.Pnl.Daily) == 0 {
		fmt.Fprintf(c.out, "  no activity in range\n\n")
		return nil
	}
	c.printPositions(r.Ledger.Summary)
	c.printDaily(r.Pnl.Daily)
	c.printLifetime(r.Pnl.Lifetime)
	return nil
}

// WriteCollect imprime el resultado de un run de recolección.
func (c *Console) WriteCollect(_ context.Context, res domain.CollectResult) error {
	if c.json {
		return writeJSON(c.out, newCollectView(res))
	}

	fmt.Fprintf(c.out, "[%s] %s  run=%s  mode=%s  events=%d  pages=%d  dup=%d  filtered=%d  reason=%s\n",
		stamp(res.CompletedAt), res.Account, shortID(res.RunID), res.Mode,
		len(res.Events), res.Pages, res.Duplicates, res.Filtered, res.StopReason)
	if !res.Exhausted {
		fmt.Fprintf(c.out, "  !! TRUNCATED: resume with --resume (%s)\n", boundaryLabel(res.Mode, res.Boundary))
	}
	if res.Warning != nil {
		fmt.Fprintf(c.out, "  >> %s\n", res.Warning)
	}
	return nil
}

// printHeader imprime cuenta, rango y el banner de truncado.
func (c *Console) printHeader(r domain.Report) {
	fmt.Fprintf(c.out, "\n=== %s | %s | %d events | source: %s ===\n",
		r.Account, rangeLabel(r.Range), r.Events, r.Source)
	if r.Truncated() {
		fmt.Fprintf(c.out, "  !! TRUNCATED: collection stopped early (%s). Figures cover a partial history.\n", r.StopReason)
	}
	if r.Warning != "" {
		fmt.Fprintf(c.out, "  >> %s\n", r.Warning)
	}
	if r.Pnl.Undated > 0 {
		fmt.Fprintf(c.out, "  >> %d events without a valid timestamp left out of the daily buckets\n", r.Pnl.Undated)
	}
	if r.Marked {
		fmt.Fprintf(c.out, "  open positions marked at last traded price\n")
	}
}

// printPositions imprime una fila por instrumento.
func (c *Console) printPositions(summary []domain.PositionSummaryEntry) {
	if len(summary) == 0 {
		return
	}
	fmt.Fprintf(c.out, "\n  --- POSITIONS ---\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Market", "Outcome", "Bought", "Sold", "Avg In", "Avg Out", "Open", "Last", "Realized", "Unreal.", "Total", "Status")

	for i, p := range summary {
		table.Append(
			fmt.Sprintf("%d", i+1),
			positionLabel(p),
			dash(p.Outcome),
			fmt.Sprintf("%.2f", p.BuySize),
			fmt.Sprintf("%.2f", p.SellSize),
			fmt.Sprintf("%.4f", p.AvgEntryPrice),
			fmt.Sprintf("%.4f", p.AvgExitPrice),
			fmt.Sprintf("%.2f", p.OpenSize),
			optPrice(p.LastPrice),
			usd(p.RealizedPnl),
			optUSD(p.UnrealizedPnl),
			usd(p.TotalPnl),
			string(p.Status),
		)
	}
	table.Render()
}

// printDaily imprime los buckets diarios. Con maxDaily solo los más recientes.
func (c *Console) printDaily(daily []domain.DailyBucket) {
	if len(daily) == 0 {
		return
	}
	rows := daily
	if c.maxDaily > 0 && len(rows) > c.maxDaily {
		rows = rows[len(rows)-c.maxDaily:]
	}
	fmt.Fprintf(c.out, "\n  --- DAILY (UTC) ---\n")

	table := tablewriter.NewWriter(c.out)
	table.Header("Date", "Net", "Profit", "Loss", "Events")
	for _, d := range rows {
		table.Append(
			d.Date,
			usd(d.Net),
			usd(d.Profit),
			usd(d.Loss),
			fmt.Sprintf("%d", d.EventCount),
		)
	}
	table.Render()
	if len(rows) < len(daily) {
		fmt.Fprintf(c.out, "  (%d earlier days not shown)\n", len(daily)-len(rows))
	}
}

// printLifetime imprime las estadísticas agregadas.
func (c *Console) printLifetime(l domain.LifetimeSummary) {
	fmt.Fprintf(c.out, "\n  --- LIFETIME ---\n")
	fmt.Fprintf(c.out, "  Net PnL:          %s\n", usd(l.NetPnl))
	fmt.Fprintf(c.out, "  Total profit:     %s\n", usd(l.TotalProfit))
	fmt.Fprintf(c.out, "  Total loss:       %s\n", usd(l.TotalLoss))
	fmt.Fprintf(c.out, "  Win rate:         %s\n", optPct(l.WinRate))
	fmt.Fprintf(c.out, "  Profit factor:    %s\n", optRatio(l.ProfitFactor))
	fmt.Fprintf(c.out, "  Avg win day:      %s\n", optUSD(l.AvgWinDay))
	fmt.Fprintf(c.out, "  Avg loss day:     %s\n", optUSD(l.AvgLossDay))
	fmt.Fprintf(c.out, "  Max drawdown:     %s\n", usd(l.MaxDrawdown))
	fmt.Fprintf(c.out, "  Sharpe (annual.): %s\n", optRatio(l.SharpeRatio))
	fmt.Fprintf(c.out, "  Active days:      %d (W:%d L:%d)\n", l.ActiveDays, l.WinDays, l.LossDays)
	fmt.Fprintf(c.out, "  Last day net:     %s\n", optUSD(l.LastDayNet))
	if l.FirstEventTs > 0 {
		fmt.Fprintf(c.out, "  Span:             %s to %s\n", day(l.FirstEventTs), day(l.LastEventTs))
	}
	fmt.Fprintln(c.out)
}

// --- helpers ---

func positionLabel(p domain.PositionSummaryEntry) string {
	if p.Title != "" {
		return truncate(p.Title, 38)
	}
	return truncate(string(p.Instrument), 38)
}

func rangeLabel(r domain.TimeRange) string {
	from, to := "start", "now"
	if r.StartTs > 0 {
		from = day(r.StartTs)
	}
	if r.EndTs > 0 {
		to = day(r.EndTs)
	}
	return from + " to " + to
}

func boundaryLabel(mode domain.PaginationMode, b domain.Boundary) string {
	if mode == domain.ModeCursor {
		return fmt.Sprintf("end_ts=%d", b.EndTs)
	}
	return fmt.Sprintf("offset=%d", b.Offset)
}

func day(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(domain.DayLayout)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func usd(v float64) string {
	if v < 0 {
		return fmt.Sprintf("-$%.2f", -v)
	}
	return fmt.Sprintf("$%.2f", v)
}

func optUSD(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return usd(*v)
}

func optPrice(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func optPct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func optRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *v)
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
