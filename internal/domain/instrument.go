package domain

import "strings"

// InstrumentKey agrupa eventos en una posición.
type InstrumentKey string

const (
	unknownMarket  = "unknown-market"
	unknownOutcome = "unknown-outcome"
)

// ResolveInstrumentKey deriva la clave de un evento. Precedencia fija:
//
//  1. asset (token id del CLOB) si existe: "asset:<asset>"
//  2. si no, "market:<label>|<outcome>", con label el primero no vacío de
//     slug, title, eventSlug (si no "unknown-market") y outcome por defecto
//     "unknown-outcome".
//
// Los labels se recortan y pasan a minúsculas: "Yes" y "yes " coinciden. Un
// evento con asset nunca cae al compuesto aunque traiga labels.
func ResolveInstrumentKey(e TradeEvent) InstrumentKey {
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		return InstrumentKey("asset:" + asset)
	}

	label := firstNonEmpty(e.Slug, e.Title, e.EventSlug)
	if label == "" {
		label = unknownMarket
	}
	outcome := normalizeLabel(e.Outcome)
	if outcome == "" {
		outcome = unknownOutcome
	}
	return InstrumentKey("market:" + label + "|" + outcome)
}

// Asset devuelve el token id de las claves por asset.
func (k InstrumentKey) Asset() (string, bool) {
	s := string(k)
	if !strings.HasPrefix(s, "asset:") {
		return "", false
	}
	return strings.TrimPrefix(s, "asset:"), true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if n := normalizeLabel(v); n != "" {
			return n
		}
	}
	return ""
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
