package collector

// collector.go — paginación del feed de actividad de una cuenta.
//
// Las páginas de una misma cuenta son secuenciales: la decisión de seguir depende
// del timestamp más antiguo de la página anterior. El paralelismo es entre
// cuentas (ver fanout.go).

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/observability"
	"github.com/alejandrodnm/polypnl/internal/ports"
	"github.com/alejandrodnm/polypnl/internal/trace"
)

const (
	DefaultPageSize         = 500
	DefaultMaxPageSize      = 500
	DefaultEmptyWindowLimit = 25
	DefaultMaxPages         = 400
	DefaultFanOut           = 4
)

// Config contiene los límites de paginación del collector.
type Config struct {
	Mode             domain.PaginationMode
	PageSize         int
	MaxPageSize      int // techo del feed; páginas mayores se recortan antes de pedirlas
	MaxEvents        int // 0 = sin límite
	EmptyWindowLimit int // páginas consecutivas sin registros nuevos toleradas
	MaxPages         int // tope duro de páginas por run
	PageTimeout      time.Duration
	FanOut           int
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = domain.ModeOffset
	}
	if c.MaxPageSize <= 0 {
		c.MaxPageSize = DefaultMaxPageSize
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.EmptyWindowLimit <= 0 {
		c.EmptyWindowLimit = DefaultEmptyWindowLimit
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.FanOut <= 0 {
		c.FanOut = DefaultFanOut
	}
	return c
}

// Collector recorre un EventFeed página a página, una cuenta por run.
type Collector struct {
	cfg     Config
	feed    ports.EventFeed
	metrics *observability.Metrics
	now     func() time.Time
}

// New crea un Collector. metrics puede ser nil.
func New(cfg Config, feed ports.EventFeed, metrics *observability.Metrics) *Collector {
	return &Collector{
		cfg:     cfg.withDefaults(),
		feed:    feed,
		metrics: metrics,
		now:     time.Now,
	}
}

// run es el estado de una ejecución de Collect.
type run struct {
	req         domain.CollectRequest
	res         domain.CollectResult
	seen        map[string]struct{}
	limit       int
	maxEvents   int
	emptyStreak int
}

type pageStats struct {
	accepted   int
	duplicates int
	filtered   int
	capHit     bool
	consumed   int   // records examinados antes de cortar por MaxEvents
	lastTs     int64 // timestamp del último registro aceptado
	oldestTs   int64 // mínimo sobre timestamps > 0; 0 si la página no trae ninguno
	hasTs      bool
}

// Collect junta los eventos deduplicados y filtrados por rango de una cuenta.
//
// Un fallo fatal de página devuelve el resultado parcial junto con un
// *domain.FetchError o *domain.ParseError. La cancelación devuelve el parcial,
// Exhausted=false y un Boundary reanudable, más el error del contexto.
// Stalls y safety caps no son errores: cortan el run y van en
// CollectResult.Warning.
func (c *Collector) Collect(ctx context.Context, req domain.CollectRequest) (domain.CollectResult, error) {
	req = c.normalize(req)

	ctx, span := trace.StartSpan(ctx, "collector.Collect")
	defer span.End()
	span.SetAttributes(
		attribute.String("account", req.Account),
		attribute.String("mode", string(req.Mode)),
		attribute.Int("page_size", req.PageSize),
	)

	r := &run{
		req: req,
		res: domain.CollectResult{
			RunID:     uuid.NewString(),
			Account:   req.Account,
			Mode:      req.Mode,
			StartedAt: c.now(),
		},
		seen:      make(map[string]struct{}),
		limit:     req.PageSize,
		maxEvents: req.MaxEvents,
	}

	var err error
	switch req.Mode {
	case domain.ModeCursor:
		err = c.collectCursor(ctx, r)
	default:
		err = c.collectOffset(ctx, r)
	}

	r.res.CompletedAt = c.now()
	c.metrics.RecordRun(string(req.Mode), string(r.res.StopReason), r.res.CompletedAt.Sub(r.res.StartedAt))
	span.SetAttributes(
		attribute.Int("events", len(r.res.Events)),
		attribute.Int("pages", r.res.Pages),
		attribute.Bool("exhausted", r.res.Exhausted),
		attribute.String("stop_reason", string(r.res.StopReason)),
	)

	attrs := []any{
		"account", req.Account,
		"mode", req.Mode,
		"run_id", r.res.RunID,
		"events", len(r.res.Events),
		"pages", r.res.Pages,
		"duplicates", r.res.Duplicates,
		"filtered", r.res.Filtered,
		"exhausted", r.res.Exhausted,
		"reason", r.res.StopReason,
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("collection aborted", append(attrs, "err", err)...)
	case r.res.Warning != nil:
		slog.Warn("collection stopped early", append(attrs, "warning", r.res.Warning)...)
	default:
		slog.Info("collection complete", attrs...)
	}
	return r.res, err
}

// normalize aplica los defaults del Config y recorta el tamaño de página.
func (c *Collector) normalize(req domain.CollectRequest) domain.CollectRequest {
	if req.Mode == "" {
		req.Mode = c.cfg.Mode
	}
	if req.PageSize <= 0 {
		req.PageSize = c.cfg.PageSize
	}
	if req.PageSize > c.cfg.MaxPageSize {
		req.PageSize = c.cfg.MaxPageSize
	}
	if req.MaxEvents <= 0 {
		req.MaxEvents = c.cfg.MaxEvents
	}
	return req
}

func (c *Collector) collectOffset(ctx context.Context, r *run) error {
	offset := 0
	if r.req.Resume != nil && r.req.Resume.Offset > 0 {
		offset = r.req.Resume.Offset
	}
	r.res.Boundary = domain.Boundary{Offset: offset}

	for page := 1; ; page++ {
		if page > c.cfg.MaxPages {
			r.stop(domain.StopPageCap, false)
			r.res.Warning = &domain.SafetyCapError{Account: r.req.Account, Guard: "page cap", Limit: c.cfg.MaxPages}
			return nil
		}

		st, n, err := c.page(ctx, r, ports.PageQuery{
			Page:    page,
			Account: r.req.Account,
			Limit:   r.limit,
			Offset:  offset,
			StartTs: r.req.Range.StartTs,
			EndTs:   r.req.Range.EndTs,
		})
		if err != nil {
			return c.fail(ctx, r, err)
		}
		if n == 0 {
			r.stop(domain.StopEmptyPage, true)
			return nil
		}
		short := n < r.limit

		if st.capHit {
			r.res.Boundary.Offset = offset + st.consumed
			r.stop(domain.StopMaxEvents, short && st.consumed == n)
			return nil
		}

		offset += n
		r.res.Boundary.Offset = offset

		if short {
			r.stop(domain.StopShortPage, true)
			return nil
		}
		if r.req.Range.StartTs > 0 && st.hasTs && st.oldestTs < r.req.Range.StartTs {
			r.stop(domain.StopStartPassed, true)
			return nil
		}
		if r.emptyWindowTripped(st, c.cfg.EmptyWindowLimit) {
			r.stop(domain.StopEmptyWindow, true)
			r.res.Warning = &domain.SafetyCapError{Account: r.req.Account, Guard: "empty window", Limit: c.cfg.EmptyWindowLimit}
			return nil
		}
	}
}

func (c *Collector) collectCursor(ctx context.Context, r *run) error {
	cursor := r.req.Range.EndTs
	if r.req.Resume != nil && r.req.Resume.EndTs > 0 {
		cursor = r.req.Resume.EndTs
	}
	r.res.Boundary = domain.Boundary{EndTs: cursor}

	for page := 1; ; page++ {
		if page > c.cfg.MaxPages {
			r.stop(domain.StopPageCap, false)
			r.res.Warning = &domain.SafetyCapError{Account: r.req.Account, Guard: "page cap", Limit: c.cfg.MaxPages}
			return nil
		}

		st, n, err := c.page(ctx, r, ports.PageQuery{
			Page:    page,
			Account: r.req.Account,
			Limit:   r.limit,
			StartTs: r.req.Range.StartTs,
			EndTs:   cursor,
		})
		if err != nil {
			return c.fail(ctx, r, err)
		}
		if n == 0 {
			r.stop(domain.StopEmptyPage, true)
			return nil
		}
		short := n < r.limit

		if st.capHit {
			// límite inclusivo: al reanudar, los registros de ese segundo se deduplican
			r.res.Boundary.EndTs = st.lastTs
			r.stop(domain.StopMaxEvents, short && st.consumed == n)
			return nil
		}

		// sin timestamps válidos el cursor no se mueve
		next := cursor
		if st.hasTs {
			next = st.oldestTs
		}
		progressed := st.hasTs && (cursor == 0 || st.oldestTs < cursor)

		if short {
			r.res.Boundary.EndTs = next
			r.stop(domain.StopShortPage, true)
			return nil
		}
		if r.req.Range.StartTs > 0 && st.hasTs && st.oldestTs <= r.req.Range.StartTs {
			r.res.Boundary.EndTs = next
			r.stop(domain.StopStartPassed, true)
			return nil
		}
		if !progressed && st.accepted == 0 {
			r.stop(domain.StopStall, false)
			r.res.Warning = &domain.StallError{Account: r.req.Account, Page: page, Cursor: cursor}
			return nil
		}

		cursor = next
		r.res.Boundary.EndTs = cursor

		if r.emptyWindowTripped(st, c.cfg.EmptyWindowLimit) {
			r.stop(domain.StopEmptyWindow, true)
			r.res.Warning = &domain.SafetyCapError{Account: r.req.Account, Guard: "empty window", Limit: c.cfg.EmptyWindowLimit}
			return nil
		}
	}
}

// page pide una página con timeout propio, la absorbe y registra métricas y traza.
// n es el número de registros devueltos por el feed antes de filtrar.
func (c *Collector) page(ctx context.Context, r *run, q ports.PageQuery) (st pageStats, n int, err error) {
	if err := ctx.Err(); err != nil {
		return pageStats{}, 0, err
	}

	pageCtx := ctx
	if c.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		pageCtx, cancel = context.WithTimeout(ctx, c.cfg.PageTimeout)
		defer cancel()
	}

	pageCtx, span := trace.StartSpan(pageCtx, "collector.FetchPage")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", q.Page),
		attribute.Int("offset", q.Offset),
		attribute.Int64("end_ts", q.EndTs),
	)

	start := c.now()
	events, err := c.feed.FetchPage(pageCtx, q)
	latency := c.now().Sub(start)
	r.res.Pages++
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return pageStats{}, 0, err
	}

	st = r.absorb(events)
	c.metrics.RecordPage(string(r.req.Mode), latency, st.accepted, st.duplicates, st.filtered)
	span.SetAttributes(
		attribute.Int("count", len(events)),
		attribute.Int("accepted", st.accepted),
	)

	slog.Debug("page fetched",
		"account", q.Account,
		"page", q.Page,
		"offset", q.Offset,
		"cursor", q.EndTs,
		"count", len(events),
		"accepted", st.accepted,
		"total", len(r.res.Events),
	)
	return st, len(events), nil
}

// fail clasifica el error de una página y cierra el run.
func (c *Collector) fail(ctx context.Context, r *run, err error) error {
	if ctx.Err() != nil {
		r.stop(domain.StopCanceled, false)
		return ctx.Err()
	}

	r.stop(domain.StopError, false)

	var fetchErr *domain.FetchError
	var parseErr *domain.ParseError
	switch {
	case errors.As(err, &parseErr):
		c.metrics.RecordFetchError("parse")
		return err
	case errors.As(err, &fetchErr):
		c.metrics.RecordFetchError("fetch")
		return err
	default:
		c.metrics.RecordFetchError("fetch")
		return &domain.FetchError{Account: r.req.Account, Page: r.res.Pages, Err: fmt.Errorf("collector.Collect: %w", err)}
	}
}

// absorb filtra, deduplica y acumula una página. Corta al llegar a maxEvents.
func (r *run) absorb(events []domain.TradeEvent) pageStats {
	var st pageStats
	for i, e := range events {
		// timestamp 0 = no parseable; no sirve para decidir la paginación
		if e.TimestampSec > 0 && (!st.hasTs || e.TimestampSec < st.oldestTs) {
			st.oldestTs = e.TimestampSec
			st.hasTs = true
		}
		if !r.req.Range.Contains(e.TimestampSec) || !r.req.MatchesInstrument(e) {
			st.filtered++
			continue
		}
		key := domain.DedupeKey(e)
		if _, dup := r.seen[key]; dup {
			st.duplicates++
			continue
		}
		r.seen[key] = struct{}{}
		if e.Account == "" {
			e.Account = r.req.Account
		}
		r.res.Events = append(r.res.Events, e)
		st.accepted++
		st.lastTs = e.TimestampSec

		if r.maxEvents > 0 && len(r.res.Events) >= r.maxEvents {
			st.capHit = true
			st.consumed = i + 1
			break
		}
	}
	if !st.capHit {
		st.consumed = len(events)
	}
	r.res.Duplicates += st.duplicates
	r.res.Filtered += st.filtered
	return st
}

// emptyWindowTripped cuenta páginas seguidas sin registros nuevos.
func (r *run) emptyWindowTripped(st pageStats, limit int) bool {
	if st.accepted > 0 {
		r.emptyStreak = 0
		return false
	}
	r.emptyStreak++
	return r.emptyStreak > limit
}

func (r *run) stop(reason domain.StopReason, exhausted bool) {
	r.res.StopReason = reason
	r.res.Exhausted = exhausted
}
