package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/andrewdyar/switchyard-sub001/internal/catalog"
	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
	"github.com/andrewdyar/switchyard-sub001/internal/normalize"
	"github.com/andrewdyar/switchyard-sub001/internal/observability"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/httpx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/retailers"
)

var errUnitDeadline = errors.New("unit deadline exceeded")

type Normalizer interface {
	Normalize(retailer, locationID string, raw []byte, fallbackPath []string) (*types.CanonicalProduct, error)
	Include(p *types.CanonicalProduct, strict bool) bool
}

type Writer interface {
	Write(ctx context.Context, p *types.CanonicalProduct) (catalog.Result, error)
}

// SessionRefresher forces a new retailer session after a bot block.
type SessionRefresher interface {
	RefreshSession(ctx context.Context, retailer string)
}

// MappingSweeper deactivates mappings a complete crawl did not see.
type MappingSweeper interface {
	DeactivateUnseen(dbc dbctx.Context, retailer, locationID string, before time.Time) (int64, error)
}

type Config struct {
	// MaxRetailers bounds retailers crawled at once; 0 means all of them.
	MaxRetailers int
	// UnitTimeout is the soft deadline per unit, checked between pages.
	UnitTimeout time.Duration
	BotRetryMax int
	BotCooldown time.Duration
	// Strict drops records outside the grocery taxonomy.
	Strict bool
	// Categories restricts the run to matching category ids or names.
	Categories []string
	// DeactivateUnseen marks mappings inactive when a full location crawl
	// finishes cleanly without seeing them.
	DeactivateUnseen bool
	DryRun           bool
}

func ConfigFromEnv() Config {
	return Config{
		MaxRetailers:     envutil.Int("INGEST_MAX_RETAILERS", 0),
		UnitTimeout:      envutil.Duration("INGEST_UNIT_TIMEOUT", 10*time.Minute),
		BotRetryMax:      envutil.Int("INGEST_BOT_RETRY_MAX", 3),
		BotCooldown:      envutil.Duration("INGEST_BOT_COOLDOWN", 2*time.Minute),
		Strict:           envutil.Bool("INGEST_STRICT_GROCERY", false),
		Categories:       envutil.List("INGEST_CATEGORIES"),
		DeactivateUnseen: envutil.Bool("INGEST_DEACTIVATE_UNSEEN", false),
		DryRun:           envutil.Bool("INGEST_DRY_RUN", false),
	}
}

// Coordinator drives every (retailer, location, category) unit through
// fetch, normalize and write. Run may be called once per Coordinator.
type Coordinator struct {
	adapters  []retailers.Adapter
	norm      Normalizer
	writer    Writer
	refresher SessionRefresher
	sweeper   MappingSweeper
	metrics   *observability.Metrics
	cfg       Config
	log       *logger.Logger
	tracer    trace.Tracer
	now       func() time.Time
	sleep     httpx.SleepFunc

	stats     *Stats
	exhausted atomic.Bool
	mu        sync.Mutex
	units     []*Unit
}

type Option func(*Coordinator)

func WithRefresher(r SessionRefresher) Option     { return func(c *Coordinator) { c.refresher = r } }
func WithSweeper(s MappingSweeper) Option         { return func(c *Coordinator) { c.sweeper = s } }
func WithMetrics(m *observability.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }
func WithClock(now func() time.Time) Option       { return func(c *Coordinator) { c.now = now } }
func WithSleep(sleep httpx.SleepFunc) Option      { return func(c *Coordinator) { c.sleep = sleep } }

func NewCoordinator(adapters []retailers.Adapter, norm Normalizer, writer Writer, cfg Config, baseLog *logger.Logger, opts ...Option) *Coordinator {
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = 10 * time.Minute
	}
	if cfg.BotRetryMax < 0 {
		cfg.BotRetryMax = 0
	}
	if cfg.BotCooldown < 0 {
		cfg.BotCooldown = 0
	}
	c := &Coordinator{
		adapters: adapters,
		norm:     norm,
		writer:   writer,
		cfg:      cfg,
		log:      baseLog.With("component", "RunCoordinator"),
		tracer:   otel.Tracer("ingest/coordinator"),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    httpx.Sleep,
		stats:    NewStats(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats exposes the live counters of the current run.
func (c *Coordinator) Stats() *Stats { return c.stats }

// Run crawls every adapter and returns the summary. Per-record and per-page
// failures are absorbed into the counters; the returned error is non-nil only
// when ctx was cancelled.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	started := c.now()
	groups, order := c.groupByRetailer()
	c.log.Info("run starting", "retailers", order, "adapters", len(c.adapters), "dry_run", c.cfg.DryRun)

	limit := c.cfg.MaxRetailers
	if limit <= 0 || limit > len(order) {
		limit = len(order)
	}
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, name := range order {
		adapters := groups[name]
		c.stats.For(name)
		g.Go(func() error {
			for _, a := range adapters {
				c.runLocation(ctx, a, started)
			}
			return nil
		})
	}
	_ = g.Wait()

	sum := &Summary{
		StartedAt:  started,
		FinishedAt: c.now(),
		DryRun:     c.cfg.DryRun,
		Cancelled:  ctx.Err() != nil,
		Exhausted:  c.exhausted.Load(),
		Retailers:  c.stats.Snapshot(),
		Totals:     c.stats.Totals(),
		Units:      c.reports(),
	}
	c.log.Info("run finished",
		"duration", sum.FinishedAt.Sub(sum.StartedAt).String(),
		"records_seen", sum.Totals.RecordsSeen,
		"products_created", sum.Totals.ProductsCreated,
		"products_updated", sum.Totals.ProductsUpdated,
		"mappings_created", sum.Totals.MappingsCreated,
		"prices_inserted", sum.Totals.PricesInserted,
		"errors", sum.Totals.Errors,
		"bot_blocks", sum.Totals.BotBlocks,
		"cancelled", sum.Cancelled,
	)
	if sum.Cancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

func (c *Coordinator) groupByRetailer() (map[string][]retailers.Adapter, []string) {
	groups := map[string][]retailers.Adapter{}
	var order []string
	for _, a := range c.adapters {
		if _, ok := groups[a.Retailer()]; !ok {
			order = append(order, a.Retailer())
		}
		groups[a.Retailer()] = append(groups[a.Retailer()], a)
	}
	return groups, order
}

func (c *Coordinator) runLocation(ctx context.Context, a retailers.Adapter, runStart time.Time) {
	log := c.log.With("retailer", a.Retailer(), "location", a.LocationID())
	counters := c.stats.For(a.Retailer())
	if ctx.Err() != nil {
		return
	}

	cats, err := a.Categories(ctx)
	if err != nil {
		counters.Errors.Add(1)
		log.Error("category listing failed", "error", err)
		return
	}
	cats = c.selectCategories(cats)
	if len(cats) == 0 {
		log.Warn("no categories selected")
		return
	}

	units := make([]*Unit, 0, len(cats))
	for _, cat := range cats {
		units = append(units, NewUnit(a.Retailer(), a.LocationID(), cat))
	}
	c.mu.Lock()
	c.units = append(c.units, units...)
	c.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(max(1, a.Workers()))
	for _, u := range units {
		if ctx.Err() != nil {
			u.fail(ctx.Err())
			counters.UnitsFailed.Add(1)
			continue
		}
		g.Go(func() error {
			c.runUnit(ctx, a, u)
			return nil
		})
	}
	_ = g.Wait()

	clean := ctx.Err() == nil
	for _, u := range units {
		clean = clean && u.State == StateDone
	}
	if clean && c.cfg.DeactivateUnseen && !c.cfg.DryRun && len(c.cfg.Categories) == 0 && c.sweeper != nil {
		n, err := c.sweeper.DeactivateUnseen(dbctx.Context{Ctx: ctx}, a.Retailer(), a.LocationID(), runStart)
		if err != nil {
			counters.Errors.Add(1)
			log.Error("deactivate unseen mappings failed", "error", err)
			return
		}
		log.Info("deactivated unseen mappings", "count", n)
	}
}

func (c *Coordinator) selectCategories(cats []retailers.Category) []retailers.Category {
	if len(c.cfg.Categories) == 0 {
		return cats
	}
	var out []retailers.Category
	for _, cat := range cats {
		for _, want := range c.cfg.Categories {
			if strings.EqualFold(want, cat.ID) || strings.EqualFold(want, cat.Name) || strings.EqualFold(want, cat.Label()) {
				out = append(out, cat)
				break
			}
		}
	}
	return out
}

// runUnit walks the unit's pages in order. Cancellation is honoured between
// pages; the page in flight completes under its own context.
func (c *Coordinator) runUnit(ctx context.Context, a retailers.Adapter, u *Unit) {
	counters := c.stats.For(u.Retailer)
	log := c.log.With("retailer", u.Retailer, "location", u.Location, "category", u.Category.Key())
	ctx, span := c.tracer.Start(ctx, "ingest.unit", trace.WithAttributes(
		attribute.String("retailer", u.Retailer),
		attribute.String("location", u.Location),
		attribute.String("category", u.Category.Key()),
	))
	defer span.End()

	u.Started = c.now()
	deadline := u.Started.Add(c.cfg.UnitTimeout)
	c.metrics.UnitStarted(u.Retailer)
	defer func() {
		u.Finished = c.now()
		c.metrics.UnitFinished(u.Retailer, string(u.State), u.Finished.Sub(u.Started))
		if u.State == StateDone {
			counters.UnitsDone.Add(1)
			log.Info("unit done", "pages", u.Pages, "records", u.Records, "bot_retries", u.BotRetries)
			return
		}
		counters.UnitsFailed.Add(1)
		span.RecordError(u.Err)
		span.SetStatus(codes.Error, fmt.Sprint(u.Err))
		log.Warn("unit failed", "pages", u.Pages, "records", u.Records, "bot_retries", u.BotRetries, "error", u.Err)
	}()

	for {
		if err := ctx.Err(); err != nil {
			u.fail(err)
			return
		}
		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			u.fail(errUnitDeadline)
			return
		}
		if err := u.Transition(StateFetching); err != nil {
			u.fail(err)
			return
		}

		pageCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remaining)
		page, err := a.Products(pageCtx, u.Category, u.Page)
		if err != nil {
			cancel()
			if fetch.IsBotBlocked(err) {
				if c.botBlocked(ctx, u, err, log) {
					continue
				}
				return
			}
			counters.Errors.Add(1)
			if errors.Is(err, fetch.ErrTransient) {
				c.exhausted.Store(true)
			}
			u.fail(fmt.Errorf("page %d: %w", u.Page, err))
			return
		}
		u.Pages++
		if len(page.Records) == 0 {
			cancel()
			_ = u.Transition(StateDone)
			return
		}

		_ = u.Transition(StateNormalizing)
		products := c.normalizePage(u, page.Records, log)

		_ = u.Transition(StateWriting)
		for _, p := range products {
			c.write(pageCtx, u.Retailer, p, log)
		}
		cancel()

		if !page.HasNext {
			_ = u.Transition(StateDone)
			return
		}
		u.Page++
	}
}

// botBlocked records the block and, while retries remain, cools down,
// refreshes the session and returns the unit to pending at the same page.
func (c *Coordinator) botBlocked(ctx context.Context, u *Unit, err error, log *logger.Logger) bool {
	counters := c.stats.For(u.Retailer)
	counters.BotBlocks.Add(1)
	c.metrics.IncBotBlock(u.Retailer)
	_ = u.Transition(StateBotBlocked)

	if u.BotRetries >= c.cfg.BotRetryMax {
		c.exhausted.Store(true)
		u.fail(fmt.Errorf("bot block retries exhausted after %d: %w", u.BotRetries, err))
		return false
	}
	u.BotRetries++
	log.Warn("bot blocked; cooling down", "page", u.Page, "retry", u.BotRetries, "cooldown", c.cfg.BotCooldown.String(), "error", err)
	if serr := c.sleep(ctx, c.cfg.BotCooldown); serr != nil {
		u.fail(serr)
		return false
	}
	if c.refresher != nil {
		c.refresher.RefreshSession(ctx, u.Retailer)
	}
	_ = u.Transition(StatePending)
	return true
}

func (c *Coordinator) normalizePage(u *Unit, records []json.RawMessage, log *logger.Logger) []*types.CanonicalProduct {
	counters := c.stats.For(u.Retailer)
	out := make([]*types.CanonicalProduct, 0, len(records))
	for _, raw := range records {
		u.Records++
		counters.RecordsSeen.Add(1)
		p, err := c.norm.Normalize(u.Retailer, u.Location, raw, u.Category.Path)
		if err != nil {
			if errors.Is(err, normalize.ErrSchemaViolation) {
				counters.Skipped.Add(1)
				c.metrics.ObserveRecord(u.Retailer, "skipped")
				log.Debug("record skipped", "error", err)
				continue
			}
			counters.Errors.Add(1)
			c.metrics.ObserveRecord(u.Retailer, "failed")
			log.Warn("normalize failed", "error", err)
			continue
		}
		if !c.norm.Include(p, c.cfg.Strict) {
			counters.Skipped.Add(1)
			c.metrics.ObserveRecord(u.Retailer, "skipped")
			continue
		}
		out = append(out, p)
	}
	return out
}

func (c *Coordinator) write(ctx context.Context, retailer string, p *types.CanonicalProduct, log *logger.Logger) {
	counters := c.stats.For(retailer)
	res, err := c.writer.Write(ctx, p)
	if err != nil {
		if errors.Is(err, catalog.ErrInvalidRecord) {
			counters.Skipped.Add(1)
			c.metrics.ObserveRecord(retailer, "skipped")
			return
		}
		counters.Errors.Add(1)
		c.metrics.ObserveRecord(retailer, "failed")
		log.Warn("write failed", "external_id", p.ExternalID, "error", err)
		return
	}

	counters.Written.Add(1)
	result := "unchanged"
	switch {
	case res.Conflict:
		counters.Conflicts.Add(1)
		result = "conflict"
	case res.ProductCreated:
		result = "created"
	case res.ProductUpdated:
		result = "updated"
	}
	if res.ProductCreated {
		counters.ProductsCreated.Add(1)
	} else if res.ProductUpdated {
		counters.ProductsUpdated.Add(1)
	}
	if res.MappingCreated {
		counters.MappingsCreated.Add(1)
	}
	if res.PriceInserted {
		counters.PricesInserted.Add(1)
	}
	if res.PriceClosed {
		counters.PricesClosed.Add(1)
	}
	if res.NeedsReview {
		counters.NeedsReview.Add(1)
	}
	c.metrics.ObserveRecord(retailer, result)
	c.metrics.ObservePrice(retailer, res.PriceInserted, res.PriceClosed)
}

func (c *Coordinator) reports() []UnitReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UnitReport, 0, len(c.units))
	for _, u := range c.units {
		out = append(out, u.Report())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Retailer != out[j].Retailer {
			return out[i].Retailer < out[j].Retailer
		}
		return out[i].Location < out[j].Location
	})
	return out
}

func sortedRetailers(m map[string]Snapshot) []string {
	out := make([]string, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
