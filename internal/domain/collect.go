package domain

import (
	"strings"
	"time"
)

// PaginationMode elige cómo recorre el collector el feed.
type PaginationMode string

const (
	ModeOffset PaginationMode = "offset"
	ModeCursor PaginationMode = "cursor"
)

// ParsePaginationMode traduce un valor de config o flag; ok=false si no se conoce.
func ParsePaginationMode(s string) (PaginationMode, bool) {
	switch PaginationMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOffset, "":
		return ModeOffset, true
	case ModeCursor:
		return ModeCursor, true
	default:
		return "", false
	}
}

// TimeRange es un intervalo cerrado en unix seconds. Un límite 0 queda abierto.
type TimeRange struct {
	StartTs int64
	EndTs   int64
}

// Contains indica si ts cae en [StartTs, EndTs].
func (r TimeRange) Contains(ts int64) bool {
	if r.StartTs > 0 && ts < r.StartTs {
		return false
	}
	if r.EndTs > 0 && ts > r.EndTs {
		return false
	}
	return true
}

// Boundary es donde se detuvo un run; se pasa como CollectRequest.Resume para
// continuar. Offset aplica en modo offset, EndTs (inclusivo) en modo cursor.
type Boundary struct {
	Offset int   `json:"offset"`
	EndTs  int64 `json:"end_ts"`
}

// StopReason registra por qué terminó un run.
type StopReason string

const (
	StopEmptyPage   StopReason = "empty_page"
	StopShortPage   StopReason = "short_page"
	StopStartPassed StopReason = "start_reached"
	StopMaxEvents   StopReason = "max_events"
	StopEmptyWindow StopReason = "empty_window"
	StopPageCap     StopReason = "page_cap"
	StopStall       StopReason = "stall"
	StopCanceled    StopReason = "canceled"
	StopError       StopReason = "error"
)

// CollectRequest describe el run de recolección de una cuenta.
type CollectRequest struct {
	Account          string
	Range            TimeRange
	InstrumentFilter string // substring sobre slug, eventSlug, title
	PageSize         int
	Mode             PaginationMode
	MaxEvents        int // 0 = sin límite
	Resume           *Boundary
}

// MatchesInstrument indica si e pasa el filtro opcional de instrumento.
func (r CollectRequest) MatchesInstrument(e TradeEvent) bool {
	f := strings.ToLower(strings.TrimSpace(r.InstrumentFilter))
	if f == "" {
		return true
	}
	for _, field := range []string{e.Slug, e.EventSlug, e.Title} {
		if strings.Contains(strings.ToLower(field), f) {
			return true
		}
	}
	return false
}

// CollectResult es el resultado de un run. Events van en orden de llegada del
// feed; los consumidores los ordenan. Exhausted=false significa truncado y
// Boundary sirve para reanudar.
type CollectResult struct {
	RunID       string
	Account     string
	Mode        PaginationMode
	Events      []TradeEvent
	Boundary    Boundary
	Exhausted   bool
	StopReason  StopReason
	Pages       int
	Duplicates  int
	Filtered    int
	Warning     error
	StartedAt   time.Time
	CompletedAt time.Time
}

// Truncated es !Exhausted.
func (r CollectResult) Truncated() bool {
	return !r.Exhausted
}
