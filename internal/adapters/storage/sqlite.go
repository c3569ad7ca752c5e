package storage

// sqlite.go — archivo local de actividad y checkpoints de reanudación.
//
// Estrategia:
//   - `events`: UNA fila por registro (clave = cuenta + domain.DedupeKey). Reescribir la
//     misma página no duplica nada.
//   - `checkpoints`: último run por (cuenta, modo). Es lo que lee `collect --resume`.
//   - Cache en memoria de claves ya guardadas: evita writes de registros que ya
//     están en disco (lo normal al re-recolectar una cuenta).

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/ports"
	_ "modernc.org/sqlite"
)

const schema = `
-- Una fila por registro del feed, sin duplicados entre runs
CREATE TABLE IF NOT EXISTS events (
    dedupe_key   TEXT    NOT NULL,
    account      TEXT    NOT NULL,
    id           TEXT    NOT NULL DEFAULT '',
    type         TEXT    NOT NULL DEFAULT '',
    side         TEXT    NOT NULL DEFAULT '',
    asset        TEXT    NOT NULL DEFAULT '',
    slug         TEXT    NOT NULL DEFAULT '',
    event_slug   TEXT    NOT NULL DEFAULT '',
    title        TEXT    NOT NULL DEFAULT '',
    outcome      TEXT    NOT NULL DEFAULT '',
    price        REAL    NOT NULL DEFAULT 0,
    size         REAL    NOT NULL DEFAULT 0,
    notional     REAL    NOT NULL DEFAULT 0,
    ts           INTEGER NOT NULL,
    tx_hash      TEXT    NOT NULL DEFAULT '',
    collected_at DATETIME NOT NULL,
    PRIMARY KEY (account, dedupe_key)
);

-- Último run por cuenta y modo de paginación
CREATE TABLE IF NOT EXISTS checkpoints (
    account         TEXT    NOT NULL,
    mode            TEXT    NOT NULL,
    run_id          TEXT    NOT NULL,
    boundary_offset INTEGER NOT NULL DEFAULT 0,
    boundary_end_ts INTEGER NOT NULL DEFAULT 0,
    exhausted       INTEGER NOT NULL DEFAULT 0,
    stop_reason     TEXT    NOT NULL DEFAULT '',
    events          INTEGER NOT NULL DEFAULT 0,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (account, mode)
);

CREATE INDEX IF NOT EXISTS idx_events_account_ts ON events(account, ts);
`

var _ ports.ActivityArchive = (*SQLiteStorage)(nil)

// SQLiteStorage implementa ports.ActivityArchive usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	known map[string]struct{} // cuenta|dedupe key ya persistidas
	mu    sync.Mutex
	now   func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	return &SQLiteStorage{
		db:    db,
		known: make(map[string]struct{}),
		now:   time.Now,
	}, nil
}

// SaveEvents hace upsert de los eventos de la cuenta. Devuelve cuántos eran nuevos.
func (s *SQLiteStorage) SaveEvents(ctx context.Context, account string, events []domain.TradeEvent) (int, error) {
	account = normalizeAccount(account)
	toWrite, keys := s.filterNew(account, events)
	if len(toWrite) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("storage.SaveEvents: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events
			(dedupe_key, account, id, type, side, asset, slug, event_slug, title,
			 outcome, price, size, notional, ts, tx_hash, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, dedupe_key) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("storage.SaveEvents: prepare: %w", err)
	}
	defer stmt.Close()

	now := s.now().UTC()
	written := 0
	for i, e := range toWrite {
		res, err := stmt.ExecContext(ctx,
			keys[i],
			account,
			e.ID,
			e.Type,
			string(e.Side),
			e.Asset,
			e.Slug,
			e.EventSlug,
			e.Title,
			e.Outcome,
			e.Price,
			e.Size,
			e.NotionalUSD,
			e.TimestampSec,
			e.TransactionHash,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("storage.SaveEvents: insert %s: %w", keys[i], err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("storage.SaveEvents: commit: %w", err)
	}

	s.mu.Lock()
	for _, k := range keys {
		s.known[account+"|"+k] = struct{}{}
	}
	s.mu.Unlock()
	return written, nil
}

// LoadEvents devuelve los eventos archivados de la cuenta dentro del rango,
// ordenados por timestamp ascendente y, a igual timestamp, por orden de inserción.
func (s *SQLiteStorage) LoadEvents(ctx context.Context, account string, r domain.TimeRange) ([]domain.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account, type, side, asset, slug, event_slug, title, outcome,
		       price, size, notional, ts, tx_hash
		FROM events
		WHERE account = ?
		  AND (? = 0 OR ts >= ?)
		  AND (? = 0 OR ts <= ?)
		ORDER BY ts ASC, rowid ASC
	`, normalizeAccount(account), r.StartTs, r.StartTs, r.EndTs, r.EndTs)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadEvents: query: %w", err)
	}
	defer rows.Close()

	var events []domain.TradeEvent
	for rows.Next() {
		var e domain.TradeEvent
		var side string
		if err := rows.Scan(
			&e.ID,
			&e.Account,
			&e.Type,
			&side,
			&e.Asset,
			&e.Slug,
			&e.EventSlug,
			&e.Title,
			&e.Outcome,
			&e.Price,
			&e.Size,
			&e.NotionalUSD,
			&e.TimestampSec,
			&e.TransactionHash,
		); err != nil {
			return nil, fmt.Errorf("storage.LoadEvents: scan row: %w", err)
		}
		e.Side = domain.Side(side)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveCheckpoint guarda dónde paró el run. Sobrescribe el anterior de la misma cuenta y modo.
func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, res domain.CollectResult) error {
	updated := res.CompletedAt
	if updated.IsZero() {
		updated = s.now()
	}
	exhausted := 0
	if res.Exhausted {
		exhausted = 1
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(account, mode, run_id, boundary_offset, boundary_end_ts, exhausted,
			 stop_reason, events, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, mode) DO UPDATE SET
			run_id          = excluded.run_id,
			boundary_offset = excluded.boundary_offset,
			boundary_end_ts = excluded.boundary_end_ts,
			exhausted       = excluded.exhausted,
			stop_reason     = excluded.stop_reason,
			events          = excluded.events,
			updated_at      = excluded.updated_at
	`,
		normalizeAccount(res.Account),
		string(modeOrDefault(res.Mode)),
		res.RunID,
		res.Boundary.Offset,
		res.Boundary.EndTs,
		exhausted,
		string(res.StopReason),
		len(res.Events),
		updated.Unix(),
	); err != nil {
		return fmt.Errorf("storage.SaveCheckpoint: upsert %s: %w", res.Account, err)
	}
	return nil
}

// LoadCheckpoint devuelve el último checkpoint de la cuenta y modo.
func (s *SQLiteStorage) LoadCheckpoint(ctx context.Context, account string, mode domain.PaginationMode) (ports.Checkpoint, bool, error) {
	var cp ports.Checkpoint
	var modeStr, reason string
	var exhausted int

	err := s.db.QueryRowContext(ctx, `
		SELECT account, mode, run_id, boundary_offset, boundary_end_ts, exhausted,
		       stop_reason, events, updated_at
		FROM checkpoints
		WHERE account = ? AND mode = ?
	`, normalizeAccount(account), string(modeOrDefault(mode))).Scan(
		&cp.Account,
		&modeStr,
		&cp.RunID,
		&cp.Boundary.Offset,
		&cp.Boundary.EndTs,
		&exhausted,
		&reason,
		&cp.Events,
		&cp.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return ports.Checkpoint{}, false, nil
	}
	if err != nil {
		return ports.Checkpoint{}, false, fmt.Errorf("storage.LoadCheckpoint: %w", err)
	}

	cp.Mode = domain.PaginationMode(modeStr)
	cp.Exhausted = exhausted == 1
	cp.StopReason = domain.StopReason(reason)
	return cp, true, nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// filterNew descarta eventos cuya clave ya está en disco o repetida en el batch.
func (s *SQLiteStorage) filterNew(account string, events []domain.TradeEvent) ([]domain.TradeEvent, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make(map[string]struct{}, len(events))
	var toWrite []domain.TradeEvent
	var keys []string
	for _, e := range events {
		k := domain.DedupeKey(e)
		if _, ok := s.known[account+"|"+k]; ok {
			continue
		}
		if _, ok := batch[k]; ok {
			continue
		}
		batch[k] = struct{}{}
		toWrite = append(toWrite, e)
		keys = append(keys, k)
	}
	return toWrite, keys
}

func normalizeAccount(a string) string {
	return strings.ToLower(strings.TrimSpace(a))
}

func modeOrDefault(m domain.PaginationMode) domain.PaginationMode {
	if m == "" {
		return domain.ModeOffset
	}
	return m
}
