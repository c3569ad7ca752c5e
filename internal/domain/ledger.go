package domain

import "sort"

// ledger.go — reconstruye posiciones por instrumento a partir de la actividad.
//
// Cost basis a costo promedio: una venta realiza proceeds menos avgCost × size
// casado. Una venta mayor que lo abierto solo casa lo abierto; el exceso nunca
// abre un short (openSize se recorta a cero).

const sizeEpsilon = 1e-9

// PositionStatus es el estado final de la posición de un instrumento.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// PositionState es el estado de un instrumento durante el replay.
type PositionState struct {
	OpenSize              float64
	CostBasisUSD          float64
	CumulativeRealizedPnl float64
}

// AvgPrice es el costo promedio de lo abierto; 0 sin posición.
func (s PositionState) AvgPrice() float64 {
	if s.OpenSize <= 0 {
		return 0
	}
	return s.CostBasisUSD / s.OpenSize
}

// PositionHistoryEntry es el snapshot tras aplicar un evento.
type PositionHistoryEntry struct {
	Index                 int // índice de llegada en la entrada del replay
	EventID               string
	TimestampSec          int64
	Type                  string
	Side                  Side
	Instrument            InstrumentKey
	Size                  float64
	Price                 float64
	Notional              float64
	RealizedDelta         float64
	OpenSize              float64
	CostBasisUSD          float64
	AvgPrice              float64
	CumulativeRealizedPnl float64
}

// PositionSummaryEntry es la vista final de un instrumento.
type PositionSummaryEntry struct {
	Instrument    InstrumentKey
	Title         string
	Outcome       string
	BuySize       float64
	BuyCostUSD    float64
	SellSize      float64
	SellProceeds  float64
	AvgEntryPrice float64
	AvgExitPrice  float64
	OpenSize      float64
	CostBasisUSD  float64
	LastPrice     *float64
	RealizedPnl   float64
	UnrealizedPnl *float64
	TotalPnl      float64
	Status        PositionStatus
	EventCount    int
	FirstEventTs  int64
	LastEventTs   int64
}

// LedgerResult es la salida de Replay.
type LedgerResult struct {
	History []PositionHistoryEntry
	Summary []PositionSummaryEntry
}

type instrumentBook struct {
	state     PositionState
	summary   PositionSummaryEntry
	lastPrice float64
	hasPrice  bool
}

// Replay ordena los eventos (timestamp asc, orden de llegada en empates) y
// reconstruye la posición de cada instrumento. El summary sigue el orden de
// primera aparición. Números malformados nunca fallan: ya vienen como 0.
func Replay(events []TradeEvent) LedgerResult {
	type indexed struct {
		idx int
		ev  TradeEvent
	}
	ordered := make([]indexed, len(events))
	for i, e := range events {
		ordered[i] = indexed{idx: i, ev: e}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ev.TimestampSec < ordered[j].ev.TimestampSec
	})

	books := make(map[InstrumentKey]*instrumentBook)
	var keys []InstrumentKey
	history := make([]PositionHistoryEntry, 0, len(events))

	for _, item := range ordered {
		e := item.ev
		side := e.Side
		if side != SideSell {
			side = SideBuy
		}
		trade := ResolveTrade(e)
		key := ResolveInstrumentKey(e)

		book, ok := books[key]
		if !ok {
			book = &instrumentBook{summary: PositionSummaryEntry{
				Instrument:   key,
				Title:        e.Title,
				Outcome:      e.Outcome,
				FirstEventTs: e.TimestampSec,
			}}
			books[key] = book
			keys = append(keys, key)
		}

		realized := applyTrade(&book.state, side, trade)
		book.state.CumulativeRealizedPnl += realized

		if side == SideSell {
			book.summary.SellSize += trade.Size
			book.summary.SellProceeds += trade.Notional
		} else {
			book.summary.BuySize += trade.Size
			book.summary.BuyCostUSD += trade.Notional
		}
		if trade.Price > 0 {
			book.lastPrice = trade.Price
			book.hasPrice = true
		}
		if book.summary.Title == "" {
			book.summary.Title = e.Title
		}
		if book.summary.Outcome == "" {
			book.summary.Outcome = e.Outcome
		}
		book.summary.EventCount++
		book.summary.LastEventTs = e.TimestampSec

		history = append(history, PositionHistoryEntry{
			Index:                 item.idx,
			EventID:               e.ID,
			TimestampSec:          e.TimestampSec,
			Type:                  e.Type,
			Side:                  side,
			Instrument:            key,
			Size:                  trade.Size,
			Price:                 trade.Price,
			Notional:              trade.Notional,
			RealizedDelta:         realized,
			OpenSize:              book.state.OpenSize,
			CostBasisUSD:          book.state.CostBasisUSD,
			AvgPrice:              book.state.AvgPrice(),
			CumulativeRealizedPnl: book.state.CumulativeRealizedPnl,
		})
	}

	summary := make([]PositionSummaryEntry, 0, len(keys))
	for _, k := range keys {
		b := books[k]
		s := b.summary
		s.OpenSize = b.state.OpenSize
		s.CostBasisUSD = b.state.CostBasisUSD
		s.RealizedPnl = b.state.CumulativeRealizedPnl
		if s.BuySize > 0 {
			s.AvgEntryPrice = s.BuyCostUSD / s.BuySize
		}
		if s.SellSize > 0 {
			s.AvgExitPrice = s.SellProceeds / s.SellSize
		}
		if b.hasPrice {
			p := b.lastPrice
			s.LastPrice = &p
		}
		summary = append(summary, finalizeSummary(s))
	}

	return LedgerResult{History: history, Summary: summary}
}

// applyTrade muta state y devuelve el realized delta del evento.
func applyTrade(state *PositionState, side Side, t ResolvedTrade) float64 {
	if side == SideSell && state.OpenSize > 0 {
		matched := t.Size
		if matched > state.OpenSize {
			matched = state.OpenSize
		}
		avgCost := state.CostBasisUSD / state.OpenSize

		proceeds := t.Notional
		if t.Size > 0 && matched < t.Size {
			proceeds = t.Notional * matched / t.Size
		}
		realized := proceeds - avgCost*matched

		state.OpenSize -= matched
		state.CostBasisUSD -= avgCost * matched
		if state.OpenSize <= sizeEpsilon {
			state.OpenSize = 0
			state.CostBasisUSD = 0
		}
		return realized
	}

	state.OpenSize += t.Size
	state.CostBasisUSD += t.Notional
	if state.OpenSize <= sizeEpsilon {
		state.OpenSize = 0
		state.CostBasisUSD = 0
	}
	return 0
}

// finalizeSummary deriva unrealized, total y status desde LastPrice.
func finalizeSummary(s PositionSummaryEntry) PositionSummaryEntry {
	s.UnrealizedPnl = nil
	if s.OpenSize > 0 && s.LastPrice != nil {
		u := *s.LastPrice*s.OpenSize - s.CostBasisUSD
		s.UnrealizedPnl = &u
	}
	s.TotalPnl = s.RealizedPnl
	if s.UnrealizedPnl != nil {
		s.TotalPnl += *s.UnrealizedPnl
	}
	s.Status = PositionClosed
	if s.OpenSize > 0 {
		s.Status = PositionOpen
	}
	return s
}

// MarkFunc devuelve un precio externo para un instrumento; ok=false si no hay.
type MarkFunc func(InstrumentKey) (float64, bool)

// MarkToMarket devuelve una copia del summary donde las entradas OPEN con mark
// externo lo usan en lugar del último precio observado. Sin mark se conservan
// los valores del replay.
func MarkToMarket(summary []PositionSummaryEntry, mark MarkFunc) []PositionSummaryEntry {
	out := make([]PositionSummaryEntry, len(summary))
	for i, s := range summary {
		if mark != nil && s.OpenSize > 0 {
			if p, ok := mark(s.Instrument); ok && p > 0 {
				price := p
				s.LastPrice = &price
			}
		}
		out[i] = finalizeSummary(s)
	}
	return out
}
