package polymarket

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// DTOs raw de la API de Polymarket. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// Numeric acepta números de Polymarket que llegan como string o como número.
// Un valor que no se puede parsear queda en 0 en lugar de fallar el registro.
type Numeric float64

func (n *Numeric) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*n = 0
	if len(data) == 0 || strings.EqualFold(string(data), "null") {
		return nil
	}

	s := string(data)
	if data[0] == '"' {
		var unq string
		if err := json.Unmarshal(data, &unq); err != nil {
			return nil
		}
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = Numeric(f)
	return nil
}

func (n Numeric) Float64() float64 {
	return float64(n)
}

// --- Data API ---

// rawActivity es un registro de GET /activity. Todos los campos son opcionales.
type rawActivity struct {
	ID              string  `json:"id"`
	ProxyWallet     string  `json:"proxyWallet"`
	Type            string  `json:"type"` // TRADE, REDEEM, SPLIT, MERGE, REWARD, ...
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            Numeric `json:"size"`
	UsdcSize        Numeric `json:"usdcSize"` // para REDEEM es el payout
	Price           Numeric `json:"price"`
	Timestamp       Numeric `json:"timestamp"`
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	EventSlug       string  `json:"eventSlug"`
	Outcome         string  `json:"outcome"`
	TransactionHash string  `json:"transactionHash"`
}

// --- CLOB API ---

// lastTradePriceResponse es la respuesta de GET /last-trade-price.
type lastTradePriceResponse struct {
	Price Numeric `json:"price"`
	Side  string  `json:"side"`
}
