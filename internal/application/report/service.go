package report

// service.go — punto de entrada único para recolectar y reportar una cuenta.
//
// Flujo de Generate:
//  1. cache de resultados (solo reportes completos)
//  2. eventos: feed en vivo vía collector, o el archivo local con Offline
//  3. archivo: upsert de eventos + checkpoint del run
//  4. replay del ledger + agregación diaria sobre el mismo set de eventos
//  5. mark-to-market opcional de posiciones abiertas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/polypnl/internal/adapters/cache"
	"github.com/alejandrodnm/polypnl/internal/application/collector"
	"github.com/alejandrodnm/polypnl/internal/domain"
	"github.com/alejandrodnm/polypnl/internal/observability"
	"github.com/alejandrodnm/polypnl/internal/ports"
	"github.com/alejandrodnm/polypnl/internal/trace"
)

const (
	DefaultCacheTTL = 2 * time.Minute
	markFanOut      = 8
)

// ErrNoArchive se devuelve cuando se pide un reporte offline sin archivo configurado.
var ErrNoArchive = errors.New("offline report requires an activity archive")

// Collector es lo que el servicio necesita del collector.
type Collector interface {
	Collect(ctx context.Context, req domain.CollectRequest) (domain.CollectResult, error)
	CollectMany(ctx context.Context, reqs []domain.CollectRequest) []collector.AccountResult
}

// Request describe un reporte de una cuenta.
type Request struct {
	Account    string
	Range      domain.TimeRange
	Filter     string
	Mode       domain.PaginationMode
	PageSize   int
	MaxEvents  int
	TradesOnly bool // el ledger solo ve eventos TRADE
	Mark       bool // marcar posiciones abiertas con el último precio del CLOB
	Offline    bool // usar el archivo local, sin red
	Refresh    bool // ignorar el cache
}

// CollectRequest describe un run de recolección que solo archiva.
type CollectRequest struct {
	Account   string
	Range     domain.TimeRange
	Filter    string
	Mode      domain.PaginationMode
	PageSize  int
	MaxEvents int
	Resume    bool // continuar desde el último checkpoint de (cuenta, modo)
}

// AccountReport es el resultado de una cuenta dentro de GenerateMany.
type AccountReport struct {
	Account string
	Report  domain.Report
	Err     error
}

// Service orquesta collector, archivo, cache y precios. Todo excepto el
// collector es opcional (nil).
type Service struct {
	collector Collector
	archive   ports.ActivityArchive
	cache     ports.ResultCache
	prices    ports.PriceSource
	metrics   *observability.Metrics
	ttl       time.Duration
	now       func() time.Time
}

// Deps agrupa las dependencias del servicio.
type Deps struct {
	Collector Collector
	Archive   ports.ActivityArchive
	Cache     ports.ResultCache
	Prices    ports.PriceSource
	Metrics   *observability.Metrics
	CacheTTL  time.Duration
}

// NewService crea el servicio.
func NewService(d Deps) *Service {
	ttl := d.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		collector: d.Collector,
		archive:   d.Archive,
		cache:     d.Cache,
		prices:    d.Prices,
		metrics:   d.Metrics,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Generate builds the report of one account.
//
// A fatal collection error still returns the report of what was collected
// (Exhausted=false) together with the error, so callers can show partial figures.
func (s *Service) Generate(ctx context.Context, req Request) (domain.Report, error) {
	ctx, span := trace.StartSpan(ctx, "report.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("account", req.Account),
		attribute.Bool("offline", req.Offline),
	)

	key := s.cacheKey(req)
	if r, ok := s.lookup(ctx, key, req.Refresh); ok {
		s.metrics.RecordReport(r.Source)
		return r, nil
	}

	var r domain.Report
	var err error
	if req.Offline {
		r, err = s.fromArchive(ctx, req)
		if err != nil {
			return domain.Report{}, err
		}
	} else {
		res, cerr := s.collector.Collect(ctx, s.collectRequest(req))
		r = s.fromResult(ctx, req, res)
		err = cerr
	}

	if req.Mark {
		s.mark(ctx, &r)
	}
	s.metrics.RecordReport(r.Source)

	if err != nil {
		return r, fmt.Errorf("report.Generate: %s: %w", req.Account, err)
	}
	s.store(ctx, key, r)
	return r, nil
}

// GenerateMany genera los reportes de varias cuentas. La recolección corre en
// paralelo (collector.CollectMany); el resultado conserva el orden de reqs.
func (s *Service) GenerateMany(ctx context.Context, reqs []Request) []AccountReport {
	out := make([]AccountReport, len(reqs))

	// cache y offline se resuelven sin red
	var pending []int
	for i, req := range reqs {
		out[i].Account = req.Account
		if req.Offline {
			out[i].Report, out[i].Err = s.Generate(ctx, req)
			continue
		}
		if r, ok := s.lookup(ctx, s.cacheKey(req), req.Refresh); ok {
			s.metrics.RecordReport(r.Source)
			out[i].Report = r
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out
	}

	creqs := make([]domain.CollectRequest, len(pending))
	for j, i := range pending {
		creqs[j] = s.collectRequest(reqs[i])
	}
	results := s.collector.CollectMany(ctx, creqs)

	for j, i := range pending {
		req := reqs[i]
		r := s.fromResult(ctx, req, results[j].Result)
		if req.Mark {
			s.mark(ctx, &r)
		}
		s.metrics.RecordReport(r.Source)
		out[i].Report = r
		if err := results[j].Err; err != nil {
			out[i].Err = fmt.Errorf("report.GenerateMany: %s: %w", req.Account, err)
			continue
		}
		s.store(ctx, s.cacheKey(req), r)
	}
	return out
}

// Collect recolecta y archiva sin construir el reporte. Con Resume continúa
// desde el último checkpoint guardado para (cuenta, modo).
func (s *Service) Collect(ctx context.Context, req CollectRequest) (domain.CollectResult, error) {
	creq := domain.CollectRequest{
		Account:          req.Account,
		Range:            req.Range,
		InstrumentFilter: req.Filter,
		PageSize:         req.PageSize,
		Mode:             req.Mode,
		MaxEvents:        req.MaxEvents,
	}
	if req.Resume && s.archive != nil {
		cp, ok, err := s.archive.LoadCheckpoint(ctx, req.Account, modeOrDefault(req.Mode))
		if err != nil {
			return domain.CollectResult{}, fmt.Errorf("report.Collect: %w", err)
		}
		switch {
		case !ok:
			slog.Info("no checkpoint found, starting from the top", "account", req.Account)
		case cp.Exhausted:
			slog.Info("last run reached the end of the feed, collecting again from the top",
				"account", req.Account, "run_id", cp.RunID)
		default:
			b := cp.Boundary
			creq.Resume = &b
			slog.Info("resuming collection", "account", req.Account, "run_id", cp.RunID,
				"offset", b.Offset, "cursor", b.EndTs)
		}
	}

	res, err := s.collector.Collect(ctx, creq)
	s.persist(ctx, res)
	if err != nil {
		return res, fmt.Errorf("report.Collect: %w", err)
	}
	return res, nil
}

func (s *Service) collectRequest(req Request) domain.CollectRequest {
	return domain.CollectRequest{
		Account:          req.Account,
		Range:            req.Range,
		InstrumentFilter: req.Filter,
		PageSize:         req.PageSize,
		Mode:             req.Mode,
		MaxEvents:        req.MaxEvents,
	}
}

// fromResult archiva el run y construye el reporte sobre sus eventos.
func (s *Service) fromResult(ctx context.Context, req Request, res domain.CollectResult) domain.Report {
	s.persist(ctx, res)

	r := domain.BuildReport(req.Account, res.Events, req.TradesOnly)
	r.Range = req.Range
	r.GeneratedAt = s.now().UTC()
	r.Source = "live"
	r.Exhausted = res.Exhausted
	r.StopReason = res.StopReason
	r.Boundary = res.Boundary
	if res.Warning != nil {
		r.Warning = res.Warning.Error()
	}
	return r
}

// fromArchive construye el reporte con los eventos archivados del rango.
func (s *Service) fromArchive(ctx context.Context, req Request) (domain.Report, error) {
	if s.archive == nil {
		return domain.Report{}, fmt.Errorf("report.Generate: %w", ErrNoArchive)
	}
	stored, err := s.archive.LoadEvents(ctx, req.Account, req.Range)
	if err != nil {
		return domain.Report{}, fmt.Errorf("report.Generate: load archive: %w", err)
	}

	filter := domain.CollectRequest{InstrumentFilter: req.Filter}
	events := make([]domain.TradeEvent, 0, len(stored))
	for _, e := range stored {
		if filter.MatchesInstrument(e) {
			events = append(events, e)
		}
	}

	r := domain.BuildReport(req.Account, events, req.TradesOnly)
	r.Range = req.Range
	r.GeneratedAt = s.now().UTC()
	r.Source = "archive"

	// la completitud del archivo la dice el último checkpoint
	cp, ok, err := s.archive.LoadCheckpoint(ctx, req.Account, modeOrDefault(req.Mode))
	if err != nil {
		return domain.Report{}, fmt.Errorf("report.Generate: load checkpoint: %w", err)
	}
	if ok {
		r.Exhausted = cp.Exhausted
		r.StopReason = cp.StopReason
		r.Boundary = cp.Boundary
	}
	return r, nil
}

// persist guarda eventos y checkpoint. Un fallo de escritura no invalida el reporte.
func (s *Service) persist(ctx context.Context, res domain.CollectResult) {
	if s.archive == nil || res.Account == "" {
		return
	}
	n, err := s.archive.SaveEvents(ctx, res.Account, res.Events)
	if err != nil {
		slog.Warn("archive events failed", "account", res.Account, "err", err)
		return
	}
	s.metrics.RecordArchived(n)
	if err := s.archive.SaveCheckpoint(ctx, res); err != nil {
		slog.Warn("save checkpoint failed", "account", res.Account, "err", err)
	}
	slog.Debug("activity archived", "account", res.Account, "new", n, "total", len(res.Events))
}

// mark pide el último precio de cada posición abierta con asset conocido y
// recalcula unrealized/total. Sin precio se conserva el último precio observado.
func (s *Service) mark(ctx context.Context, r *domain.Report) {
	if s.prices == nil {
		return
	}

	var tokens []string
	for _, p := range r.Ledger.Summary {
		if p.Status != domain.PositionOpen {
			continue
		}
		if token, ok := p.Instrument.Asset(); ok {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return
	}

	var mu sync.Mutex
	marks := make(map[string]float64, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(markFanOut)
	for _, token := range tokens {
		g.Go(func() error {
			price, ok, err := s.prices.LastTradedPrice(gctx, token)
			if err != nil {
				slog.Warn("mark price unavailable", "token", token, "err", err)
				return nil
			}
			if ok {
				mu.Lock()
				marks[token] = price
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if len(marks) == 0 {
		return
	}
	r.Ledger.Summary = domain.MarkToMarket(r.Ledger.Summary, func(k domain.InstrumentKey) (float64, bool) {
		token, ok := k.Asset()
		if !ok {
			return 0, false
		}
		p, ok := marks[token]
		return p, ok
	})
	r.Marked = true
}

func (s *Service) cacheKey(req Request) string {
	return cache.Key(cache.KeyParts{
		Account:    req.Account,
		Range:      req.Range,
		Filter:     req.Filter,
		Mode:       modeOrDefault(req.Mode),
		MaxEvents:  req.MaxEvents,
		TradesOnly: req.TradesOnly,
		Marked:     req.Mark,
		Offline:    req.Offline,
	})
}

// lookup devuelve el reporte cacheado si existe. Un error de cache cuenta como miss.
func (s *Service) lookup(ctx context.Context, key string, refresh bool) (domain.Report, bool) {
	if s.cache == nil || refresh {
		return domain.Report{}, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.metrics.RecordCacheLookup("error")
		slog.Warn("cache lookup failed", "key", key, "err", err)
		return domain.Report{}, false
	}
	if !ok {
		s.metrics.RecordCacheLookup("miss")
		return domain.Report{}, false
	}

	var r domain.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		s.metrics.RecordCacheLookup("error")
		slog.Warn("cached report is corrupt, dropping it", "key", key, "err", err)
		s.cache.Delete(ctx, key)
		return domain.Report{}, false
	}
	s.metrics.RecordCacheLookup("hit")
	r.Source = "cache"
	return r, true
}

// store cachea solo reportes completos: un resultado truncado nunca se sirve desde cache.
func (s *Service) store(ctx context.Context, key string, r domain.Report) {
	if s.cache == nil || !r.Exhausted {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		slog.Warn("encode report for cache failed", "err", err)
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		slog.Warn("cache store failed", "key", key, "err", err)
	}
}

func modeOrDefault(m domain.PaginationMode) domain.PaginationMode {
	if m == "" {
		return domain.ModeOffset
	}
	return m
}
