package domain

import (
	"math"
	"sort"
	"strings"
)

// DayLayout es el formato de fecha UTC de DailyBucket.Date.
const DayLayout = "2006-01-02"

// DailyBucket agrega los deltas de caja de un día UTC.
type DailyBucket struct {
	Date         string
	Net          float64
	Profit       float64
	Loss         float64 // valor absoluto de los deltas negativos
	EventCount   int
	FirstEventTs int64
	LastEventTs  int64
}

// LifetimeSummary se deriva solo de la secuencia ordenada de buckets.
// Un puntero nil es "no definido" (sin días, sin pérdidas, varianza cero).
type LifetimeSummary struct {
	TotalProfit  float64
	TotalLoss    float64
	NetPnl       float64
	WinRate      *float64
	ProfitFactor *float64
	AvgWinDay    *float64
	AvgLossDay   *float64
	MaxDrawdown  float64
	SharpeRatio  *float64
	ActiveDays   int
	WinDays      int
	LossDays     int
	FirstEventTs int64
	LastEventTs  int64
	LastDayNet   *float64
}

// PnlResult es la salida de Aggregate. Undated cuenta los eventos con delta
// pero sin timestamp válido, que no entran en ningún bucket.
type PnlResult struct {
	Daily    []DailyBucket
	Lifetime LifetimeSummary
	Undated  int
}

var (
	creditTypes = []string{"REDEEM", "SETTLEMENT", "CLAIM", "PAYOUT", "REWARD", "REBATE", "REFUND", "CREDIT"}
	debitTypes  = []string{"FEE", "PENALTY", "DEBIT"}
	// movimientos de fondos: no son PnL
	ignoredTypes = []string{"TRANSFER", "DEPOSIT", "WITHDRAW", "BRIDGE"}
)

// ClassifyDelta devuelve el delta de caja con signo de un evento.
//
// Orden: un monto negativo explícito gana; luego el signo buy/sell; luego el
// tag de tipo. Los tags ignorados se miran antes que créditos y débitos, así
// algo como "FEE_TRANSFER" nunca cuenta como PnL.
func ClassifyDelta(e TradeEvent) float64 {
	if e.NotionalUSD < 0 {
		return e.NotionalUSD
	}
	amount := ResolveTrade(e).Notional

	if e.Side != SideUnknown {
		if e.Side == SideBuy {
			return -amount
		}
		return amount
	}

	t := strings.ToUpper(strings.TrimSpace(e.Type))
	switch {
	case t == "":
		return 0
	case containsAny(t, ignoredTypes):
		return 0
	case containsAny(t, creditTypes):
		return amount
	case containsAny(t, debitTypes):
		return -amount
	default:
		return 0
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Aggregate agrupa cada delta no nulo por día UTC y deriva las estadísticas
// lifetime. Los buckets salen en orden de fecha ascendente.
func Aggregate(events []TradeEvent) PnlResult {
	sorted := SortEvents(events)

	byDay := make(map[string]*DailyBucket)
	undated := 0
	for _, e := range sorted {
		delta := ClassifyDelta(e)
		if delta == 0 {
			continue
		}
		// sin fecha no hay día al que atribuirlo
		if e.TimestampSec <= 0 {
			undated++
			continue
		}
		day := e.Time().Format(DayLayout)
		b, ok := byDay[day]
		if !ok {
			b = &DailyBucket{Date: day, FirstEventTs: e.TimestampSec}
			byDay[day] = b
		}
		b.Net += delta
		if delta > 0 {
			b.Profit += delta
		} else {
			b.Loss += -delta
		}
		b.EventCount++
		b.LastEventTs = e.TimestampSec
	}

	daily := make([]DailyBucket, 0, len(byDay))
	for _, b := range byDay {
		daily = append(daily, *b)
	}
	// YYYY-MM-DD ordena lexicográficamente igual que cronológicamente
	sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

	return PnlResult{Daily: daily, Lifetime: Lifetime(daily), Undated: undated}
}

// Lifetime calcula las estadísticas de una secuencia de buckets ascendente.
func Lifetime(daily []DailyBucket) LifetimeSummary {
	s := LifetimeSummary{ActiveDays: len(daily)}
	if len(daily) == 0 {
		return s
	}

	var winSum, lossSum float64
	for _, b := range daily {
		s.TotalProfit += b.Profit
		s.TotalLoss += b.Loss
		s.NetPnl += b.Net
		switch {
		case b.Net > 0:
			s.WinDays++
			winSum += b.Net
		case b.Net < 0:
			s.LossDays++
			lossSum += -b.Net
		}
	}

	s.WinRate = ptr(float64(s.WinDays) / float64(s.ActiveDays))
	if lossSum > 0 {
		s.ProfitFactor = ptr(winSum / lossSum)
	}
	if s.WinDays > 0 {
		s.AvgWinDay = ptr(winSum / float64(s.WinDays))
	}
	if s.LossDays > 0 {
		s.AvgLossDay = ptr(lossSum / float64(s.LossDays))
	}

	nets := make([]float64, len(daily))
	for i, b := range daily {
		nets[i] = b.Net
	}
	s.MaxDrawdown = MaxDrawdown(nets)
	s.SharpeRatio = SharpeRatio(nets)

	s.FirstEventTs = daily[0].FirstEventTs
	s.LastEventTs = daily[len(daily)-1].LastEventTs
	s.LastDayNet = ptr(daily[len(daily)-1].Net)
	return s
}

// MaxDrawdown recorre la suma acumulada y devuelve la mayor caída desde el
// pico. El pico arranca en el primer valor acumulado.
func MaxDrawdown(nets []float64) float64 {
	if len(nets) == 0 {
		return 0
	}
	var cum, maxDD float64
	peak := math.Inf(-1)
	for _, n := range nets {
		cum += n
		if cum > peak {
			peak = cum
		}
		if dd := peak - cum; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// SharpeRatio es mean/sampleStd × sqrt(365). Nil con menos de dos días o
// varianza cero.
func SharpeRatio(nets []float64) *float64 {
	n := len(nets)
	if n < 2 {
		return nil
	}
	var sum float64
	for _, v := range nets {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range nets {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n-1))
	if std == 0 {
		return nil
	}
	return ptr(mean / std * math.Sqrt(365))
}

func ptr(v float64) *float64 { return &v }
