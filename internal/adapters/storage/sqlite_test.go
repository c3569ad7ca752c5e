package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alejandrodnm/polypnl/internal/adapters/storage"
	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvent(id string, ts int64) domain.TradeEvent {
	return domain.TradeEvent{
		ID:           id,
		Type:         domain.EventTypeTrade,
		Side:         domain.SideBuy,
		Asset:        "111",
		Slug:         "will-x-happen",
		Title:        "Will X happen?",
		Outcome:      "Yes",
		Price:        0.4,
		Size:         10,
		NotionalUSD:  4,
		TimestampSec: ts,
	}
}

func openDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStorage_SaveAndLoadEvents(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	n, err := db.SaveEvents(ctx, "0xABC", []domain.TradeEvent{
		makeEvent("b", 200),
		makeEvent("a", 100),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err := db.LoadEvents(ctx, "0xabc", domain.TimeRange{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Ordenados por timestamp asc
	assert.Equal(t, "a", events[0].ID)
	assert.Equal(t, "b", events[1].ID)
	assert.Equal(t, "0xabc", events[0].Account)
	assert.Equal(t, domain.SideBuy, events[0].Side)
	assert.InDelta(t, 0.4, events[0].Price, 1e-9)
	assert.InDelta(t, 4.0, events[0].NotionalUSD, 1e-9)
	assert.Equal(t, "Will X happen?", events[0].Title)
}

func TestSQLiteStorage_SaveEventsIsIdempotent(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	batch := []domain.TradeEvent{makeEvent("a", 100), makeEvent("b", 200), makeEvent("a", 100)}
	n, err := db.SaveEvents(ctx, "0xabc", batch)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Segundo run con solapamiento
	n, err = db.SaveEvents(ctx, "0xabc", []domain.TradeEvent{makeEvent("b", 200), makeEvent("c", 300)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := db.LoadEvents(ctx, "0xabc", domain.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestSQLiteStorage_DedupeAcrossReopen(t *testing.T) {
	path := fmt.Sprintf("%s/archive.db", t.TempDir())
	ctx := context.Background()

	db, err := storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	_, err = db.SaveEvents(ctx, "0xabc", []domain.TradeEvent{makeEvent("a", 100)})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// La cache en memoria está vacía: el conflicto lo resuelve la DB
	db, err = storage.NewSQLiteStorage(path)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.SaveEvents(ctx, "0xabc", []domain.TradeEvent{makeEvent("a", 100)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteStorage_AccountsAreIsolated(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, err := db.SaveEvents(ctx, "0xaaa", []domain.TradeEvent{makeEvent("same-id", 100)})
	require.NoError(t, err)
	n, err := db.SaveEvents(ctx, "0xbbb", []domain.TradeEvent{makeEvent("same-id", 100)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events, err := db.LoadEvents(ctx, "0xbbb", domain.TimeRange{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSQLiteStorage_LoadEventsRange(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, err := db.SaveEvents(ctx, "0xabc", []domain.TradeEvent{
		makeEvent("a", 100), makeEvent("b", 200), makeEvent("c", 300), makeEvent("d", 400),
	})
	require.NoError(t, err)

	events, err := db.LoadEvents(ctx, "0xabc", domain.TimeRange{StartTs: 200, EndTs: 300})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
	assert.Equal(t, "c", events[1].ID)

	events, err = db.LoadEvents(ctx, "0xabc", domain.TimeRange{StartTs: 250})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSQLiteStorage_LoadEvents_Empty(t *testing.T) {
	db := openDB(t)

	// Sin datos
	events, err := db.LoadEvents(context.Background(), "0xabc", domain.TimeRange{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStorage_SaveEmptySlice(t *testing.T) {
	db := openDB(t)
	n, err := db.SaveEvents(context.Background(), "0xabc", nil)
	assert.NoError(t, err)
	assert.Zero(t, n)
}

// --- Checkpoints ---

func TestSQLiteStorage_Checkpoint(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, ok, err := db.LoadCheckpoint(ctx, "0xabc", domain.ModeOffset)
	require.NoError(t, err)
	assert.False(t, ok)

	done := time.Unix(1_714_600_000, 0)
	res := domain.CollectResult{
		RunID:       "run-1",
		Account:     "0xABC",
		Mode:        domain.ModeOffset,
		Events:      []domain.TradeEvent{makeEvent("a", 1)},
		Boundary:    domain.Boundary{Offset: 700},
		Exhausted:   false,
		StopReason:  domain.StopMaxEvents,
		CompletedAt: done,
	}
	require.NoError(t, db.SaveCheckpoint(ctx, res))

	cp, ok, err := db.LoadCheckpoint(ctx, "0xabc", domain.ModeOffset)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", cp.RunID)
	assert.Equal(t, 700, cp.Boundary.Offset)
	assert.False(t, cp.Exhausted)
	assert.Equal(t, domain.StopMaxEvents, cp.StopReason)
	assert.Equal(t, 1, cp.Events)
	assert.Equal(t, done.Unix(), cp.UpdatedAt)

	// Otro modo, otro checkpoint
	_, ok, err = db.LoadCheckpoint(ctx, "0xabc", domain.ModeCursor)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStorage_CheckpointOverwrite(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	first := domain.CollectResult{RunID: "run-1", Account: "0xabc", Mode: domain.ModeCursor, Boundary: domain.Boundary{EndTs: 500}}
	second := domain.CollectResult{RunID: "run-2", Account: "0xabc", Mode: domain.ModeCursor, Boundary: domain.Boundary{EndTs: 100},
		Exhausted: true, StopReason: domain.StopShortPage}
	require.NoError(t, db.SaveCheckpoint(ctx, first))
	require.NoError(t, db.SaveCheckpoint(ctx, second))

	cp, ok, err := db.LoadCheckpoint(ctx, "0xabc", domain.ModeCursor)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-2", cp.RunID)
	assert.Equal(t, int64(100), cp.Boundary.EndTs)
	assert.True(t, cp.Exhausted)
	assert.NotZero(t, cp.UpdatedAt)
}
