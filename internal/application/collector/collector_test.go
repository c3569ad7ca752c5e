package collector_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/polypnl/internal/application/collector"
	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/observability"
	"github.com/alejandrodnm/polypnl/internal/ports"
)

// fakeFeed sirve eventos ordenados de más nuevo a más antiguo, por offset o por
// cursor inclusivo. Con pages != nil devuelve páginas fijas en orden.
type fakeFeed struct {
	mu         sync.Mutex
	events     []domain.TradeEvent
	byCursor   bool
	pages      [][]domain.TradeEvent
	repeatLast bool
	failAt     int
	failErr    error
	onCall     func(call int)
	queries    []ports.PageQuery
}

func (f *fakeFeed) FetchPage(ctx context.Context, q ports.PageQuery) ([]domain.TradeEvent, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	call := len(f.queries)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.failAt == call {
		return nil, f.failErr
	}

	if f.pages != nil {
		idx := call - 1
		if idx >= len(f.pages) {
			if !f.repeatLast {
				return nil, nil
			}
			idx = len(f.pages) - 1
		}
		return append([]domain.TradeEvent(nil), f.pages[idx]...), nil
	}

	src := f.events
	if f.byCursor {
		src = nil
		for _, e := range f.events {
			if q.EndTs == 0 || e.TimestampSec <= q.EndTs {
				src = append(src, e)
			}
		}
	} else {
		if q.Offset >= len(src) {
			return nil, nil
		}
		src = src[q.Offset:]
	}
	if len(src) > q.Limit {
		src = src[:q.Limit]
	}
	return append([]domain.TradeEvent(nil), src...), nil
}

// makeEvents genera n eventos distintos, el primero con timestamp base.
func makeEvents(prefix string, n int, base int64) []domain.TradeEvent {
	out := make([]domain.TradeEvent, n)
	for i := range out {
		out[i] = domain.TradeEvent{
			ID:           fmt.Sprintf("%s%d", prefix, i),
			Type:         domain.EventTypeTrade,
			Side:         domain.SideBuy,
			Asset:        "tok",
			Slug:         "some-market",
			Size:         1,
			Price:        0.5,
			TimestampSec: base - int64(i),
		}
	}
	return out
}

func withTimestamps(ts ...int64) []domain.TradeEvent {
	out := make([]domain.TradeEvent, len(ts))
	for i, t := range ts {
		out[i] = domain.TradeEvent{ID: string(rune('a' + i)), Type: "TRADE", TimestampSec: t}
	}
	return out
}

// mergeEvents une dos runs descartando claves repetidas.
func mergeEvents(a, b []domain.TradeEvent) []domain.TradeEvent {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []domain.TradeEvent
	for _, e := range append(append([]domain.TradeEvent{}, a...), b...) {
		k := domain.DedupeKey(e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

func newCollector(feed ports.EventFeed, cfg collector.Config) *collector.Collector {
	return collector.New(cfg, feed, nil)
}

// --- Offset mode ---

func TestCollect_OffsetStopsOnShortPage(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 1120, 1_700_000_000)}
	c := newCollector(feed, collector.Config{})

	res, err := c.Collect(context.Background(), domain.CollectRequest{Account: "0xabc", PageSize: 500, Mode: domain.ModeOffset})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Events, 1120)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopShortPage, res.StopReason)
	assert.Equal(t, 1120, res.Boundary.Offset)
	assert.Nil(t, res.Warning)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, feed.queries, 3)
	assert.Equal(t, []int{0, 500, 1000}, []int{feed.queries[0].Offset, feed.queries[1].Offset, feed.queries[2].Offset})
}

func TestCollect_OffsetOverlappingPagesAreDeduplicated(t *testing.T) {
	all := makeEvents("e", 1110, 1_700_000_000)
	page1 := all[:500]
	page2 := append(append([]domain.TradeEvent{}, all[490:500]...), all[500:990]...)
	page3 := all[990:1110]
	feed := &fakeFeed{pages: [][]domain.TradeEvent{page1, page2, page3}}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 500})
	require.NoError(t, err)

	// 500 + 500 + 120 records, 10 of them repeated across pages
	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Events, 1110)
	assert.Equal(t, 10, res.Duplicates)
	assert.True(t, res.Exhausted)
}

func TestCollect_OffsetEmptyFirstPage(t *testing.T) {
	res, err := newCollector(&fakeFeed{}, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc"})
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopEmptyPage, res.StopReason)
	assert.Empty(t, res.Events)
}

func TestCollect_OffsetStopsWhenStartPassed(t *testing.T) {
	const base = 100_000
	feed := &fakeFeed{events: makeEvents("e", 1500, base)}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(), domain.CollectRequest{
		Account:  "0xabc",
		PageSize: 500,
		Range:    domain.TimeRange{StartTs: base - 700},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Len(t, res.Events, 701)
	assert.Equal(t, 299, res.Filtered)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopStartPassed, res.StopReason)
}

func TestCollect_FiltersRangeAndInstrument(t *testing.T) {
	events := makeEvents("e", 10, 110)
	events[2].Slug = "other-market"
	feed := &fakeFeed{events: events}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(), domain.CollectRequest{
		Account:          "0xabc",
		Range:            domain.TimeRange{EndTs: 105},
		InstrumentFilter: "SOME-MARKET",
	})
	require.NoError(t, err)

	// ts 110..106 fuera de rango, e2 tiene otro slug (y también está fuera)
	assert.Len(t, res.Events, 5)
	assert.Equal(t, 5, res.Filtered)
	for _, e := range res.Events {
		assert.LessOrEqual(t, e.TimestampSec, int64(105))
		assert.Equal(t, "0xabc", e.Account)
	}
}

func TestCollect_ClampsPageSize(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 10, 100)}
	_, err := newCollector(feed, collector.Config{MaxPageSize: 500}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 5000})
	require.NoError(t, err)
	require.NotEmpty(t, feed.queries)
	assert.Equal(t, 500, feed.queries[0].Limit)
}

func TestCollect_MaxEventsReturnsResumableBoundary(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 1120, 1_700_000_000)}
	c := newCollector(feed, collector.Config{})

	first, err := c.Collect(context.Background(), domain.CollectRequest{Account: "0xabc", PageSize: 500, MaxEvents: 700})
	require.NoError(t, err)
	assert.Len(t, first.Events, 700)
	assert.False(t, first.Exhausted)
	assert.True(t, first.Truncated())
	assert.Equal(t, domain.StopMaxEvents, first.StopReason)
	assert.Equal(t, 700, first.Boundary.Offset)

	resume := first.Boundary
	second, err := c.Collect(context.Background(), domain.CollectRequest{Account: "0xabc", PageSize: 500, Resume: &resume})
	require.NoError(t, err)
	assert.Len(t, second.Events, 420)
	assert.True(t, second.Exhausted)

	assert.Len(t, mergeEvents(first.Events, second.Events), 1120)
}

func TestCollect_MaxEventsOnLastShortPageIsExhausted(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 120, 1000)}
	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 500, MaxEvents: 120})
	require.NoError(t, err)
	assert.Len(t, res.Events, 120)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopMaxEvents, res.StopReason)
}

// --- Guards ---

func TestCollect_EmptyWindowGuard(t *testing.T) {
	page := makeEvents("e", 500, 1000)
	feed := &fakeFeed{pages: [][]domain.TradeEvent{page}, repeatLast: true}

	res, err := newCollector(feed, collector.Config{EmptyWindowLimit: 25}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 500})
	require.NoError(t, err)

	assert.Equal(t, 27, res.Pages, "1 productive page + 26 empty ones")
	assert.Len(t, res.Events, 500)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopEmptyWindow, res.StopReason)

	var capErr *domain.SafetyCapError
	require.True(t, errors.As(res.Warning, &capErr))
	assert.Equal(t, "empty window", capErr.Guard)
}

func TestCollect_PageCap(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 5000, 1_000_000)}
	res, err := newCollector(feed, collector.Config{MaxPages: 3}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 100})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Events, 300)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.StopPageCap, res.StopReason)
	assert.Equal(t, 300, res.Boundary.Offset)

	var capErr *domain.SafetyCapError
	require.True(t, errors.As(res.Warning, &capErr))
	assert.Equal(t, "page cap", capErr.Guard)
	assert.Equal(t, 3, capErr.Limit)
}

// --- Failures ---

func TestCollect_FetchErrorReturnsPartial(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 1200, 1_000_000), failAt: 2, failErr: errors.New("connection reset")}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 500})

	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 2, fetchErr.Page)
	assert.Len(t, res.Events, 500)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.StopError, res.StopReason)
	assert.Equal(t, 500, res.Boundary.Offset)
}

func TestCollect_ParseErrorPassesThrough(t *testing.T) {
	feed := &fakeFeed{failAt: 1, failErr: &domain.ParseError{Account: "0xabc", Page: 1, Err: errors.New("not an array")}}

	_, err := newCollector(feed, collector.Config{}).Collect(context.Background(), domain.CollectRequest{Account: "0xabc"})

	var parseErr *domain.ParseError
	assert.True(t, errors.As(err, &parseErr))
}

func TestCollect_CancellationKeepsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feed := &fakeFeed{events: makeEvents("e", 2000, 1_000_000)}
	feed.onCall = func(call int) {
		if call == 2 {
			cancel()
		}
	}

	res, err := newCollector(feed, collector.Config{}).Collect(ctx, domain.CollectRequest{Account: "0xabc", PageSize: 500})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, res.Events, 500)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.StopCanceled, res.StopReason)
	assert.Equal(t, 500, res.Boundary.Offset)
}

func TestCollect_PageTimeoutIsFetchError(t *testing.T) {
	slow := feedFunc(func(ctx context.Context, q ports.PageQuery) ([]domain.TradeEvent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := newCollector(slow, collector.Config{PageTimeout: 10 * time.Millisecond}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc"})

	var fetchErr *domain.FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type feedFunc func(ctx context.Context, q ports.PageQuery) ([]domain.TradeEvent, error)

func (f feedFunc) FetchPage(ctx context.Context, q ports.PageQuery) ([]domain.TradeEvent, error) {
	return f(ctx, q)
}

// --- Cursor mode ---

func TestCollect_CursorInclusiveBoundaryDeduplicates(t *testing.T) {
	feed := &fakeFeed{events: withTimestamps(10, 9, 8, 8, 7, 6, 5), byCursor: true}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 3, Mode: domain.ModeCursor})
	require.NoError(t, err)

	assert.Len(t, res.Events, 7)
	assert.Equal(t, 3, res.Duplicates)
	assert.Equal(t, 4, res.Pages)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopShortPage, res.StopReason)
	assert.Nil(t, res.Warning)

	ends := make([]int64, 0, len(feed.queries))
	for _, q := range feed.queries {
		ends = append(ends, q.EndTs)
	}
	assert.Equal(t, []int64{0, 8, 7, 5}, ends)
}

func TestCollect_CursorStall(t *testing.T) {
	feed := &fakeFeed{events: withTimestamps(100, 100, 100, 100), byCursor: true}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 3, Mode: domain.ModeCursor})
	require.NoError(t, err)

	assert.Len(t, res.Events, 3)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.StopStall, res.StopReason)
	assert.Equal(t, int64(100), res.Boundary.EndTs)

	var stall *domain.StallError
	require.True(t, errors.As(res.Warning, &stall))
	assert.Equal(t, int64(100), stall.Cursor)
}

func TestCollect_CursorStopsAtStart(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 100, 100), byCursor: true}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(), domain.CollectRequest{
		Account:  "0xabc",
		PageSize: 10,
		Mode:     domain.ModeCursor,
		Range:    domain.TimeRange{StartTs: 75},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Events, 26)
	assert.Equal(t, 2, res.Filtered)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopStartPassed, res.StopReason)
}

func TestCollect_CursorMaxEventsBoundary(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 100, 100), byCursor: true}
	c := newCollector(feed, collector.Config{})

	res, err := c.Collect(context.Background(), domain.CollectRequest{
		Account: "0xabc", PageSize: 10, Mode: domain.ModeCursor, MaxEvents: 15,
	})
	require.NoError(t, err)
	assert.Len(t, res.Events, 15)
	assert.False(t, res.Exhausted)
	assert.Equal(t, int64(86), res.Boundary.EndTs)

	resume := res.Boundary
	rest, err := c.Collect(context.Background(), domain.CollectRequest{
		Account: "0xabc", PageSize: 10, Mode: domain.ModeCursor, Resume: &resume,
	})
	require.NoError(t, err)
	assert.True(t, rest.Exhausted)
	assert.Len(t, mergeEvents(res.Events, rest.Events), 100)
}

func TestCollect_CursorEmptyWindowGuard(t *testing.T) {
	feed := &fakeFeed{events: makeEvents("e", 400, 10_000), byCursor: true}

	res, err := newCollector(feed, collector.Config{EmptyWindowLimit: 25}).Collect(context.Background(), domain.CollectRequest{
		Account:          "0xabc",
		PageSize:         10,
		Mode:             domain.ModeCursor,
		InstrumentFilter: "no-such-market",
	})
	require.NoError(t, err)

	assert.Equal(t, 26, res.Pages)
	assert.Empty(t, res.Events)
	assert.Equal(t, 260, res.Filtered)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopEmptyWindow, res.StopReason)

	var capErr *domain.SafetyCapError
	require.True(t, errors.As(res.Warning, &capErr))
	assert.Equal(t, "empty window", capErr.Guard)
}

func TestCollect_CursorPageCap(t *testing.T) {
	const base = 1_000_000
	feed := &fakeFeed{events: makeEvents("e", 5000, base), byCursor: true}

	res, err := newCollector(feed, collector.Config{MaxPages: 3}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 100, Mode: domain.ModeCursor})
	require.NoError(t, err)

	// cada página repite el registro del límite inclusivo
	assert.Equal(t, 3, res.Pages)
	assert.Len(t, res.Events, 298)
	assert.Equal(t, 2, res.Duplicates)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.StopPageCap, res.StopReason)
	assert.Equal(t, int64(base-297), res.Boundary.EndTs)

	var capErr *domain.SafetyCapError
	require.True(t, errors.As(res.Warning, &capErr))
	assert.Equal(t, "page cap", capErr.Guard)
}

func TestCollect_CursorIgnoresZeroTimestamps(t *testing.T) {
	events := makeEvents("e", 30, 1_700_000_000)
	events[5].TimestampSec = 0
	feed := &fakeFeed{events: events, byCursor: true}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 10, Mode: domain.ModeCursor})
	require.NoError(t, err)

	assert.Len(t, res.Events, 30)
	assert.Equal(t, 4, res.Pages)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopShortPage, res.StopReason)
	for _, q := range feed.queries[1:] {
		assert.Positive(t, q.EndTs, "cursor must never fall back to an open end")
	}
}

func TestCollect_CursorPageWithoutTimestampsStalls(t *testing.T) {
	page := withTimestamps(0, 0)
	feed := &fakeFeed{pages: [][]domain.TradeEvent{page}, repeatLast: true}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 2, Mode: domain.ModeCursor})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Pages)
	assert.Len(t, res.Events, 2)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.StopStall, res.StopReason)
}

func TestCollect_OffsetZeroTimestampDoesNotEndRun(t *testing.T) {
	events := makeEvents("e", 30, 1_700_000_000)
	events[5].TimestampSec = 0
	feed := &fakeFeed{events: events}

	res, err := newCollector(feed, collector.Config{}).Collect(context.Background(), domain.CollectRequest{
		Account:  "0xabc",
		PageSize: 10,
		Range:    domain.TimeRange{StartTs: 1_600_000_000},
	})
	require.NoError(t, err)

	// el registro sin fecha cae fuera del rango pero no corta la paginación
	assert.Len(t, res.Events, 29)
	assert.Equal(t, 1, res.Filtered)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.StopEmptyPage, res.StopReason)
}

func TestCollect_UsesConfigMode(t *testing.T) {
	feed := &fakeFeed{events: withTimestamps(3, 2, 1), byCursor: true}
	res, err := newCollector(feed, collector.Config{Mode: domain.ModeCursor}).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, domain.ModeCursor, res.Mode)
}

// --- Metrics ---

func TestCollect_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg, "test")
	feed := &fakeFeed{events: makeEvents("e", 1120, 1_700_000_000)}

	_, err := collector.New(collector.Config{}, feed, m).Collect(context.Background(),
		domain.CollectRequest{Account: "0xabc", PageSize: 500})
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PagesFetched.WithLabelValues("offset")))
	assert.Equal(t, 1120.0, testutil.ToFloat64(m.EventsAccepted.WithLabelValues("offset")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StopReasons.WithLabelValues("offset", "short_page")))
}

// --- Fan-out ---

func TestCollectMany_IndependentAccounts(t *testing.T) {
	var inFlight, peak atomic.Int32
	feed := feedFunc(func(ctx context.Context, q ports.PageQuery) ([]domain.TradeEvent, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)

		if q.Account == "bad" {
			return nil, errors.New("boom")
		}
		return makeEvents(q.Account, 3, 100), nil
	})

	c := collector.New(collector.Config{FanOut: 2}, feed, nil)
	reqs := []domain.CollectRequest{{Account: "a"}, {Account: "bad"}, {Account: "c"}, {Account: "d"}}
	results := c.CollectMany(context.Background(), reqs)

	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, reqs[i].Account, r.Request.Account)
	}
	assert.Error(t, results[1].Err)
	for _, i := range []int{0, 2, 3} {
		require.NoError(t, results[i].Err)
		assert.Len(t, results[i].Result.Events, 3)
		assert.True(t, results[i].Result.Exhausted)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
