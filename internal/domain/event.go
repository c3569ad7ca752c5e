package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Side es la dirección de un trade o de un flujo de caja con dirección.
type Side string

const (
	SideUnknown Side = ""
	SideBuy     Side = "BUY"
	SideSell    Side = "SELL"
)

// ParseSide normaliza el side de la API. Lo que no sea buy/sell es SideUnknown.
func ParseSide(s string) Side {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return SideBuy
	case "SELL", "S":
		return SideSell
	default:
		return SideUnknown
	}
}

// EventTypeTrade es el tag de los fills. El resto (REDEEM, FEE, TRANSFER...)
// se guarda tal cual en TradeEvent.Type.
const EventTypeTrade = "TRADE"

// TradeEvent es un registro validado del feed de actividad.
// Los numéricos ya vienen coercionados: lo no parseable llega como 0.
type TradeEvent struct {
	ID              string
	Account         string
	Type            string // TRADE, REDEEM, FEE, TRANSFER, ...
	Side            Side
	Asset           string
	Slug            string
	EventSlug       string
	Title           string
	Outcome         string
	Price           float64
	Size            float64
	NotionalUSD     float64 // usdcSize de la API; negativo en débitos explícitos
	TimestampSec    int64
	TransactionHash string
}

// Time devuelve el timestamp en UTC.
func (e TradeEvent) Time() time.Time {
	return time.Unix(e.TimestampSec, 0).UTC()
}

// IsTrade indica si el evento es un fill.
func (e TradeEvent) IsTrade() bool {
	return strings.EqualFold(e.Type, EventTypeTrade)
}

// DedupeKey es la identidad estable para descartar registros repetidos entre
// páginas: id, si no tx hash, si no un compuesto del contenido.
func DedupeKey(e TradeEvent) string {
	if e.ID != "" {
		return "id:" + e.ID
	}
	if e.TransactionHash != "" {
		return "tx:" + e.TransactionHash
	}
	return fmt.Sprintf("ts:%d|%s|%s|%s|%s|%s|%g|%g|%g",
		e.TimestampSec, strings.ToUpper(e.Type), e.Side, e.Asset, e.Slug, e.Outcome,
		e.Size, e.Price, e.NotionalUSD)
}

// ResolvedTrade tiene size, price y notional con el faltante ya derivado.
type ResolvedTrade struct {
	Size     float64
	Price    float64
	Notional float64
}

// ResolveTrade deriva size o price faltante a partir del notional y el otro
// campo, y el notional de size × price. Nunca divide por cero.
func ResolveTrade(e TradeEvent) ResolvedTrade {
	size, price, notional := e.Size, e.Price, e.NotionalUSD
	if notional < 0 {
		notional = -notional
	}

	switch {
	case size <= 0 && price > 0 && notional > 0:
		size = notional / price
	case price <= 0 && size > 0 && notional > 0:
		price = notional / size
	}
	if notional == 0 && size > 0 && price > 0 {
		notional = size * price
	}
	if size < 0 {
		size = 0
	}
	if price < 0 {
		price = 0
	}
	return ResolvedTrade{Size: size, Price: price, Notional: notional}
}

// SortEvents devuelve una copia ordenada por timestamp ascendente. Los empates
// conservan el orden de llegada.
func SortEvents(events []TradeEvent) []TradeEvent {
	sorted := make([]TradeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampSec < sorted[j].TimestampSec
	})
	return sorted
}

// TradesOnly deja solo los eventos TRADE, en el mismo orden.
func TradesOnly(events []TradeEvent) []TradeEvent {
	out := make([]TradeEvent, 0, len(events))
	for _, e := range events {
		if e.IsTrade() {
			out = append(out, e)
		}
	}
	return out
}
