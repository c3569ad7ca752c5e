package polymarket

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

var errNotArray = errors.New("response is not a JSON array")

// decodeActivityPage valida que el body sea un array de objetos y lo convierte
// a domain.TradeEvent. Es el único punto donde se coercionan los campos crudos:
// un campo con tipo inesperado queda en su zero value, no invalida el registro.
func decodeActivityPage(body []byte, account string) ([]domain.TradeEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errNotArray
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("decode activity: %w", err)
	}

	raw := make([]rawActivity, 0, len(items))
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 || item[0] != '{' {
			return nil, fmt.Errorf("decode activity: record %d is not an object", i)
		}
		var r rawActivity
		if err := json.Unmarshal(item, &r); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				return nil, fmt.Errorf("decode activity: record %d: %w", i, err)
			}
		}
		raw = append(raw, r)
	}
	return mapActivities(raw, account), nil
}

// mapActivities convierte los DTOs de /activity a domain.TradeEvent.
func mapActivities(raw []rawActivity, account string) []domain.TradeEvent {
	events := make([]domain.TradeEvent, 0, len(raw))
	for _, r := range raw {
		events = append(events, mapActivity(r, account))
	}
	return events
}

// mapActivity convierte un rawActivity a domain.TradeEvent.
func mapActivity(r rawActivity, account string) domain.TradeEvent {
	ts := parseTimestamp(r.Timestamp)
	if r.ProxyWallet != "" {
		account = r.ProxyWallet
	}
	return domain.TradeEvent{
		ID:              activityID(r, ts),
		Account:         strings.ToLower(account),
		Type:            strings.ToUpper(strings.TrimSpace(r.Type)),
		Side:            domain.ParseSide(r.Side),
		Asset:           strings.TrimSpace(r.Asset),
		Slug:            r.Slug,
		EventSlug:       r.EventSlug,
		Title:           r.Title,
		Outcome:         r.Outcome,
		Price:           r.Price.Float64(),
		Size:            r.Size.Float64(),
		NotionalUSD:     r.UsdcSize.Float64(),
		TimestampSec:    ts,
		TransactionHash: r.TransactionHash,
	}
}

// activityID usa el id del feed; si falta, lo sintetiza con hash+timestamp.
// Un mismo tx puede redimir varios mercados, así que se añade asset o conditionId.
func activityID(r rawActivity, ts int64) string {
	if id := strings.TrimSpace(r.ID); id != "" {
		return id
	}
	if r.TransactionHash == "" {
		return ""
	}
	id := fmt.Sprintf("%s-%d", r.TransactionHash, ts)
	switch {
	case r.Asset != "":
		id += "-" + r.Asset
	case r.ConditionID != "":
		id += "-" + r.ConditionID
	}
	return id
}

// parseTimestamp acepta segundos o milisegundos.
func parseTimestamp(n Numeric) int64 {
	f := n.Float64()
	if f <= 0 || math.IsInf(f, 0) {
		return 0
	}
	sec := int64(f)
	if sec > 1e12 {
		sec /= 1000
	}
	return sec
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
