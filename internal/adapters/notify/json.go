package notify

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

// Vistas JSON estables del reporte. Los campos opcionales sin valor salen como null.

type reportView struct {
	Account     string          `json:"account"`
	StartTs     int64           `json:"start_ts,omitempty"`
	EndTs       int64           `json:"end_ts,omitempty"`
	GeneratedAt int64           `json:"generated_at"`
	Source      string          `json:"source"`
	Marked      bool            `json:"marked"`
	Events      int             `json:"events"`
	Exhausted   bool            `json:"exhausted"`
	Truncated   bool            `json:"truncated"`
	StopReason  string          `json:"stop_reason,omitempty"`
	Boundary    domain.Boundary `json:"boundary"`
	Warning     string          `json:"warning,omitempty"`
	Undated     int             `json:"undated_events,omitempty"`
	Positions   []positionView  `json:"positions"`
	Daily       []dailyView     `json:"daily"`
	Lifetime    lifetimeView    `json:"lifetime"`
}

type positionView struct {
	Instrument    string   `json:"instrument"`
	Title         string   `json:"title,omitempty"`
	Outcome       string   `json:"outcome,omitempty"`
	BuySize       float64  `json:"buy_size"`
	BuyCostUSD    float64  `json:"buy_cost_usd"`
	SellSize      float64  `json:"sell_size"`
	SellProceeds  float64  `json:"sell_proceeds_usd"`
	AvgEntryPrice float64  `json:"avg_entry_price"`
	AvgExitPrice  float64  `json:"avg_exit_price"`
	OpenSize      float64  `json:"open_size"`
	CostBasisUSD  float64  `json:"cost_basis_usd"`
	LastPrice     *float64 `json:"last_price"`
	RealizedPnl   float64  `json:"realized_pnl"`
	UnrealizedPnl *float64 `json:"unrealized_pnl"`
	TotalPnl      float64  `json:"total_pnl"`
	Status        string   `json:"status"`
	EventCount    int      `json:"event_count"`
	FirstEventTs  int64    `json:"first_event_ts"`
	LastEventTs   int64    `json:"last_event_ts"`
}

type dailyView struct {
	Date       string  `json:"date"`
	Net        float64 `json:"net"`
	Profit     float64 `json:"profit"`
	Loss       float64 `json:"loss"`
	EventCount int     `json:"event_count"`
}

type lifetimeView struct {
	TotalProfit  float64  `json:"total_profit"`
	TotalLoss    float64  `json:"total_loss"`
	NetPnl       float64  `json:"net_pnl"`
	WinRate      *float64 `json:"win_rate"`
	ProfitFactor *float64 `json:"profit_factor"`
	AvgWinDay    *float64 `json:"avg_win_day"`
	AvgLossDay   *float64 `json:"avg_loss_day"`
	MaxDrawdown  float64  `json:"max_drawdown"`
	SharpeRatio  *float64 `json:"sharpe_ratio"`
	ActiveDays   int      `json:"active_days"`
	WinDays      int      `json:"win_days"`
	LossDays     int      `json:"loss_days"`
	FirstEventTs int64    `json:"first_event_ts,omitempty"`
	LastEventTs  int64    `json:"last_event_ts,omitempty"`
	LastDayNet   *float64 `json:"last_day_net"`
}

type collectView struct {
	RunID      string          `json:"run_id"`
	Account    string          `json:"account"`
	Mode       string          `json:"mode"`
	Events     int             `json:"events"`
	Pages      int             `json:"pages"`
	Duplicates int             `json:"duplicates"`
	Filtered   int             `json:"filtered"`
	Exhausted  bool            `json:"exhausted"`
	StopReason string          `json:"stop_reason"`
	Boundary   domain.Boundary `json:"boundary"`
	Warning    string          `json:"warning,omitempty"`
}

func newReportView(r domain.Report) reportView {
	v := reportView{
		Account:     r.Account,
		StartTs:     r.Range.StartTs,
		EndTs:       r.Range.EndTs,
		GeneratedAt: r.GeneratedAt.Unix(),
		Source:      r.Source,
		Marked:      r.Marked,
		Events:      r.Events,
		Exhausted:   r.Exhausted,
		Truncated:   r.Truncated(),
		StopReason:  string(r.StopReason),
		Boundary:    r.Boundary,
		Warning:     r.Warning,
		Undated:     r.Pnl.Undated,
		Positions:   make([]positionView, 0, len(r.Ledger.Summary)),
		Daily:       make([]dailyView, 0, len(r.Pnl.Daily)),
	}
	if r.GeneratedAt.IsZero() {
		v.GeneratedAt = 0
	}
	for _, p := range r.Ledger.Summary {
		v.Positions = append(v.Positions, positionView{
			Instrument:    string(p.Instrument),
			Title:         p.Title,
			Outcome:       p.Outcome,
			BuySize:       p.BuySize,
			BuyCostUSD:    p.BuyCostUSD,
			SellSize:      p.SellSize,
			SellProceeds:  p.SellProceeds,
			AvgEntryPrice: p.AvgEntryPrice,
			AvgExitPrice:  p.AvgExitPrice,
			OpenSize:      p.OpenSize,
			CostBasisUSD:  p.CostBasisUSD,
			LastPrice:     p.LastPrice,
			RealizedPnl:   p.RealizedPnl,
			UnrealizedPnl: p.UnrealizedPnl,
			TotalPnl:      p.TotalPnl,
			Status:        string(p.Status),
			EventCount:    p.EventCount,
			FirstEventTs:  p.FirstEventTs,
			LastEventTs:   p.LastEventTs,
		})
	}
	for _, d := range r.Pnl.Daily {
		v.Daily = append(v.Daily, dailyView{
			Date:       d.Date,
			Net:        d.Net,
			Profit:     d.Profit,
			Loss:       d.Loss,
			EventCount: d.EventCount,
		})
	}
	l := r.Pnl.Lifetime
	v.Lifetime = lifetimeView{
		TotalProfit:  l.TotalProfit,
		TotalLoss:    l.TotalLoss,
		NetPnl:       l.NetPnl,
		WinRate:      l.WinRate,
		ProfitFactor: l.ProfitFactor,
		AvgWinDay:    l.AvgWinDay,
		AvgLossDay:   l.AvgLossDay,
		MaxDrawdown:  l.MaxDrawdown,
		SharpeRatio:  l.SharpeRatio,
		ActiveDays:   l.ActiveDays,
		WinDays:      l.WinDays,
		LossDays:     l.LossDays,
		FirstEventTs: l.FirstEventTs,
		LastEventTs:  l.LastEventTs,
		LastDayNet:   l.LastDayNet,
	}
	return v
}

func newCollectView(res domain.CollectResult) collectView {
	v := collectView{
		RunID:      res.RunID,
		Account:    res.Account,
		Mode:       string(res.Mode),
		Events:     len(res.Events),
		Pages:      res.Pages,
		Duplicates: res.Duplicates,
		Filtered:   res.Filtered,
		Exhausted:  res.Exhausted,
		StopReason: string(res.StopReason),
		Boundary:   res.Boundary,
	}
	if res.Warning != nil {
		v.Warning = res.Warning.Error()
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("notify.writeJSON: %w", err)
	}
	return nil
}
