package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/alejandrodnm/polypnl/internal/domain"
)

// KeyParts son los inputs que determinan un reporte.
type KeyParts struct {
	Account    string
	Range      domain.TimeRange
	Filter     string
	Mode       domain.PaginationMode
	MaxEvents  int
	TradesOnly bool
	Marked     bool
	Offline    bool
}

// Key construye una clave estable: "report:<account>:<hash de los demás inputs>".
// La cuenta queda legible para poder invalidar a mano.
func Key(p KeyParts) string {
	raw := fmt.Sprintf("%d|%d|%s|%s|%d|%t|%t|%t",
		p.Range.StartTs, p.Range.EndTs,
		strings.ToLower(strings.TrimSpace(p.Filter)),
		p.Mode, p.MaxEvents, p.TradesOnly, p.Marked, p.Offline)
	sum := sha256.Sum256([]byte(raw))
	return "report:" + strings.ToLower(strings.TrimSpace(p.Account)) + ":" + hex.EncodeToString(sum[:8])
}
