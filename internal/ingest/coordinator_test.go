package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andrewdyar/switchyard-sub001/internal/catalog"
	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
	"github.com/andrewdyar/switchyard-sub001/internal/normalize"
	"github.com/andrewdyar/switchyard-sub001/internal/observability"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/dbctx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/proxy"
	"github.com/andrewdyar/switchyard-sub001/internal/retailers"
)

type fakeAdapter struct {
	retailer string
	location string
	workers  int
	cats     []retailers.Category
	catErr   error
	products func(ctx context.Context, cat retailers.Category, page int) (retailers.Page, error)

	mu       sync.Mutex
	calls    []string
	inflight int
	peak     int
}

func (f *fakeAdapter) Retailer() string   { return f.retailer }
func (f *fakeAdapter) LocationID() string { return f.location }
func (f *fakeAdapter) Workers() int       { return f.workers }

func (f *fakeAdapter) Categories(context.Context) ([]retailers.Category, error) {
	return f.cats, f.catErr
}

func (f *fakeAdapter) Products(ctx context.Context, cat retailers.Category, page int) (retailers.Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%d", cat.Key(), page))
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()
	return f.products(ctx, cat, page)
}

type fakeWriter struct {
	mu  sync.Mutex
	got []*types.CanonicalProduct
	fn  func(ctx context.Context, p *types.CanonicalProduct) (catalog.Result, error)
}

func (w *fakeWriter) Write(ctx context.Context, p *types.CanonicalProduct) (catalog.Result, error) {
	w.mu.Lock()
	w.got = append(w.got, p)
	w.mu.Unlock()
	if w.fn != nil {
		return w.fn(ctx, p)
	}
	return catalog.Result{ProductCreated: true, MappingCreated: true, PriceInserted: true}, nil
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.got)
}

type fakeSweeper struct {
	calls []string
}

func (s *fakeSweeper) DeactivateUnseen(_ dbctx.Context, retailer, location string, before time.Time) (int64, error) {
	s.calls = append(s.calls, retailer+"@"+location+"<"+before.Format(time.RFC3339))
	return 1, nil
}

type refreshFunc func(ctx context.Context, retailer string)

func (f refreshFunc) RefreshSession(ctx context.Context, retailer string) { f(ctx, retailer) }

type recordSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func records(ids ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			out = append(out, json.RawMessage(`{"id":"broken"}`))
			continue
		}
		out = append(out, json.RawMessage(fmt.Sprintf(`{"id":%q,"name":"item %s"}`, id, id)))
	}
	return out
}

func testNormalizer(t *testing.T, names ...string) *normalize.Normalizer {
	t.Helper()
	ex := map[string]normalize.Extractor{}
	for _, n := range names {
		ex[n] = normalize.Extractor{ExternalID: normalize.Path{"id"}, Name: normalize.Path{"name"}}
	}
	n, err := normalize.New(nil, ex)
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}
	return n
}

func cats(ids ...string) []retailers.Category {
	out := make([]retailers.Category, 0, len(ids))
	for _, id := range ids {
		out = append(out, retailers.Category{ID: id, Name: "Cat " + id, Path: []string{"Beverages", "Soda"}})
	}
	return out
}

const scenarioDefinitions = `
retailers:
  market:
    family: json
    base_url: http://market.test
    endpoint: /api/products
    page_size: 2
    max_pages: 1
    json:
      query: {category: $category_id, page: $page}
    items_path: items
    extract: {external_id: id, name: name}
    categories:
      - {id: "soda", path: [Beverages, Soda]}
`

// A 412 carrying a bot marker on the first call, 200 afterwards: the proxy
// takes one failure, the unit returns to pending and the retry writes.
func TestRunRecoversFromBotBlock(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusPreconditionFailed)
			_, _ = io.WriteString(w, `<html><div id="px-captcha"></div></html>`)
			return
		}
		if r.URL.Host != "market.test" || r.URL.Query().Get("category") != "soda" {
			t.Errorf("unexpected request: %s", r.URL.String())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"items":[{"id":"1","name":"Cola 12oz"},{"id":"2","name":"Root Beer"}]}`)
	}))
	defer srv.Close()

	px, err := proxy.Parse(srv.URL)
	if err != nil {
		t.Fatalf("proxy.Parse: %v", err)
	}
	pool := proxy.NewPool(logger.Nop(), []*proxy.Proxy{px}, proxy.Config{MaxFailures: 3})
	metrics := observability.New()
	client := fetch.NewClient(logger.Nop(), nil, pool, fetch.Config{Timeout: 2 * time.Second},
		fetch.WithSleep(func(context.Context, time.Duration) error { return nil }),
		fetch.WithRecorder(metrics))

	defs, err := retailers.Parse([]byte(scenarioDefinitions))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	adapter, err := retailers.New(defs["market"], "", client, logger.Nop())
	if err != nil {
		t.Fatalf("retailers.New: %v", err)
	}
	norm, err := normalize.New(nil, retailers.Extractors(defs))
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}

	failuresAtRefresh := -1
	refresher := refreshFunc(func(_ context.Context, retailer string) {
		if retailer != "market" {
			t.Errorf("refresh retailer: got=%s", retailer)
		}
		failuresAtRefresh = pool.Snapshot()[0].Failures
	})
	w := &fakeWriter{}
	rs := &recordSleep{}
	c := NewCoordinator([]retailers.Adapter{adapter}, norm, w, Config{BotRetryMax: 3, BotCooldown: 2 * time.Minute}, logger.Nop(),
		WithRefresher(refresher), WithSleep(rs.sleep), WithMetrics(metrics))

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if failuresAtRefresh != 1 {
		t.Fatalf("proxy failures after block: want=1 got=%d", failuresAtRefresh)
	}
	if len(rs.waits) != 1 || rs.waits[0] != 2*time.Minute {
		t.Fatalf("cooldown: got=%v", rs.waits)
	}
	if len(sum.Units) != 1 || sum.Units[0].State != StateDone || sum.Units[0].BotRetries != 1 {
		t.Fatalf("unit: got=%+v", sum.Units)
	}
	st := sum.Retailers["market"]
	if st.BotBlocks != 1 || st.RecordsSeen != 2 || st.Written != 2 || st.ProductsCreated != 2 {
		t.Fatalf("stats: got=%+v", st)
	}
	if w.count() != 2 || w.got[0].Retailer != "market" || w.got[0].Leaf() != "Soda" {
		t.Fatalf("written: got=%d", w.count())
	}
	if sum.ExitCode() != ExitOK {
		t.Fatalf("exit code: want=0 got=%d", sum.ExitCode())
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("requests: want=2 got=%d", hits)
	}
}

func TestRunPaginatesInOrderAndCounts(t *testing.T) {
	a := &fakeAdapter{retailer: "heb", workers: 1, cats: cats("a", "b")}
	a.products = func(_ context.Context, cat retailers.Category, page int) (retailers.Page, error) {
		switch {
		case cat.ID == "a" && page == 1:
			return retailers.Page{Number: 1, Records: records("1", "2"), HasNext: true}, nil
		case cat.ID == "a" && page == 2:
			return retailers.Page{Number: 2, Records: records("3", ""), HasNext: true}, nil
		case cat.ID == "b":
			return retailers.Page{Number: 1, Records: records("4")}, nil
		}
		return retailers.Page{Number: page}, nil
	}
	w := &fakeWriter{}
	c := NewCoordinator([]retailers.Adapter{a}, testNormalizer(t, "heb"), w, Config{}, logger.Nop())

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"a:1", "a:2", "a:3", "b:1"}
	if fmt.Sprint(a.calls) != fmt.Sprint(want) {
		t.Fatalf("calls: want=%v got=%v", want, a.calls)
	}
	st := sum.Retailers["heb"]
	if st.RecordsSeen != 5 || st.Skipped != 1 || st.Written != 4 || st.ProductsCreated != 4 || st.PricesInserted != 4 || st.UnitsDone != 2 {
		t.Fatalf("stats: got=%+v", st)
	}
	if sum.Units[0].Pages != 3 || sum.Units[0].Records != 4 {
		t.Fatalf("unit a: got=%+v", sum.Units[0])
	}
	if sum.ExitCode() != ExitOK {
		t.Fatalf("exit code: want=0 got=%d", sum.ExitCode())
	}
}

func TestRunBotBlockRetriesExhausted(t *testing.T) {
	a := &fakeAdapter{retailer: "walmart", workers: 1, cats: cats("a")}
	a.products = func(context.Context, retailers.Category, int) (retailers.Page, error) {
		return retailers.Page{}, &fetch.BotBlockedError{Retailer: "walmart", Status: 412, Reason: "px-captcha"}
	}
	var refreshes int
	rs := &recordSleep{}
	c := NewCoordinator([]retailers.Adapter{a}, testNormalizer(t, "walmart"), &fakeWriter{}, Config{BotRetryMax: 2, BotCooldown: time.Second}, logger.Nop(),
		WithRefresher(refreshFunc(func(context.Context, string) { refreshes++ })), WithSleep(rs.sleep))

	sum, _ := c.Run(context.Background())
	st := sum.Retailers["walmart"]
	if st.BotBlocks != 3 || st.UnitsFailed != 1 {
		t.Fatalf("stats: got=%+v", st)
	}
	if refreshes != 2 || len(rs.waits) != 2 {
		t.Fatalf("retries: refreshes=%d sleeps=%d", refreshes, len(rs.waits))
	}
	if fmt.Sprint(a.calls) != "[a:1 a:1 a:1]" {
		t.Fatalf("bot block must not advance pagination: calls=%v", a.calls)
	}
	u := sum.Units[0]
	if u.State != StateFailed || u.BotRetries != 2 || u.Error == "" {
		t.Fatalf("unit: got=%+v", u)
	}
	if !sum.Exhausted || sum.ExitCode() != ExitExhausted {
		t.Fatalf("exit: exhausted=%v code=%d", sum.Exhausted, sum.ExitCode())
	}
}

func TestRunPageFailureFailsOnlyItsUnit(t *testing.T) {
	a := &fakeAdapter{retailer: "heb", workers: 2, cats: cats("a", "b")}
	a.products = func(_ context.Context, cat retailers.Category, _ int) (retailers.Page, error) {
		if cat.ID == "a" {
			return retailers.Page{}, &fetch.TransientError{Retailer: "heb", Attempts: 4, Status: 503}
		}
		return retailers.Page{Records: records("1")}, nil
	}
	c := NewCoordinator([]retailers.Adapter{a}, testNormalizer(t, "heb"), &fakeWriter{}, Config{}, logger.Nop())

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := sum.Retailers["heb"]
	if st.Errors != 1 || st.UnitsFailed != 1 || st.UnitsDone != 1 || st.Written != 1 {
		t.Fatalf("stats: got=%+v", st)
	}
	if sum.ExitCode() != ExitExhausted {
		t.Fatalf("exhausted retries: want exit 2 got=%d", sum.ExitCode())
	}
}

func TestRunWriteErrorsAreAbsorbed(t *testing.T) {
	a := &fakeAdapter{retailer: "heb", workers: 1, cats: cats("a")}
	a.products = func(context.Context, retailers.Category, int) (retailers.Page, error) {
		return retailers.Page{Records: records("1", "2", "3")}, nil
	}
	w := &fakeWriter{fn: func(_ context.Context, p *types.CanonicalProduct) (catalog.Result, error) {
		switch p.ExternalID {
		case "1":
			return catalog.Result{}, errors.New("connection reset")
		case "2":
			return catalog.Result{Conflict: true, PriceInserted: true}, nil
		}
		return catalog.Result{ProductUpdated: true, NeedsReview: true}, nil
	}}
	c := NewCoordinator([]retailers.Adapter{a}, testNormalizer(t, "heb"), w, Config{}, logger.Nop())

	sum, _ := c.Run(context.Background())
	st := sum.Retailers["heb"]
	if st.Errors != 1 || st.Written != 2 || st.Conflicts != 1 || st.ProductsUpdated != 1 || st.NeedsReview != 1 || st.UnitsDone != 1 {
		t.Fatalf("stats: got=%+v", st)
	}
}

func TestRunCancellationFinishesInFlightPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := &fakeAdapter{retailer: "heb", workers: 1, cats: cats("a")}
	a.products = func(_ context.Context, _ retailers.Category, page int) (retailers.Page, error) {
		cancel()
		return retailers.Page{Number: page, Records: records("1", "2"), HasNext: true}, nil
	}
	w := &fakeWriter{fn: func(ctx context.Context, _ *types.CanonicalProduct) (catalog.Result, error) {
		if ctx.Err() != nil {
			return catalog.Result{}, ctx.Err()
		}
		return catalog.Result{ProductCreated: true}, nil
	}}
	c := NewCoordinator([]retailers.Adapter{a}, testNormalizer(t, "heb"), w, Config{}, logger.Nop())

	sum, err := c.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run: want context.Canceled got=%v", err)
	}
	if fmt.Sprint(a.calls) != "[a:1]" {
		t.Fatalf("calls after cancel: got=%v", a.calls)
	}
	if st := sum.Retailers["heb"]; st.Written != 2 || st.Errors != 0 {
		t.Fatalf("in-flight page must complete: got=%+v", st)
	}
	if sum.Units[0].State != StateFailed || !sum.Cancelled || sum.ExitCode() != ExitCancelled {
		t.Fatalf("cancelled run: unit=%+v code=%d", sum.Units[0], sum.ExitCode())
	}
}

func TestRunUnitSoftDeadline(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	a := &fakeAdapter{retailer: "heb", workers: 1, cats: cats("a")}
	a.products = func(_ context.Context, _ retailers.Category, page int) (retailers.Page, error) {
		mu.Lock()
		now = now.Add(11 * time.Minute)
		mu.Unlock()
		return retailers.Page{Number: page, Records: records("1"), HasNext: true}, nil
	}
	c := NewCoordinator([]retailers.Adapter{a}, testNormalizer(t, "heb"), &fakeWriter{}, Config{UnitTimeout: 10 * time.Minute}, logger.Nop(), WithClock(clock))

	sum, _ := c.Run(context.Background())
	u := sum.Units[0]
	if u.State != StateFailed || u.Error != errUnitDeadline.Error() || u.Pages != 1 {
		t.Fatalf("unit: got=%+v", u)
	}
	if st := sum.Retailers["heb"]; st.Written != 1 {
		t.Fatalf("records before the deadline are kept: got=%+v", st)
	}
}

func TestRunRespectsWorkerLimit(t *testing.T) {
	a := &fakeAdapter{retailer: "costco", location: "115", workers: 2, cats: cats("a", "b", "c", "d", "e")}
	a.products = func(context.Context, retailers.Category, int) (retailers.Page, error) {
		time.Sleep(5 * time.Millisecond)
		return retailers.Page{Records: records("1")}, nil
	}
	b := &fakeAdapter{retailer: "heb", workers: 1, cats: cats("x")}
	b.products = a.products
	c := NewCoordinator([]retailers.Adapter{a, b}, testNormalizer(t, "costco", "heb"), &fakeWriter{}, Config{MaxRetailers: 2}, logger.Nop())

	sum, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.peak > 2 {
		t.Fatalf("concurrent fetches: want<=2 got=%d", a.peak)
	}
	if len(sum.Units) != 6 || sum.Totals.UnitsDone != 6 {
		t.Fatalf("units: got=%d done=%d", len(sum.Units), sum.Totals.UnitsDone)
	}
}

func TestRunSubsetAndDeactivation(t *testing.T) {
	newAdapter := func() *fakeAdapter {
		a := &fakeAdapter{retailer: "costco", location: "115", workers: 1, cats: cats("a", "b")}
		a.products = func(context.Context, retailers.Category, int) (retailers.Page, error) {
			return retailers.Page{Records: records("1")}, nil
		}
		return a
	}
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return start }

	full := newAdapter()
	sw := &fakeSweeper{}
	c := NewCoordinator([]retailers.Adapter{full}, testNormalizer(t, "costco"), &fakeWriter{}, Config{DeactivateUnseen: true}, logger.Nop(),
		WithSweeper(sw), WithClock(clock))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sw.calls) != 1 || sw.calls[0] != "costco@115<2026-03-01T08:00:00Z" {
		t.Fatalf("sweep: got=%v", sw.calls)
	}

	subset := newAdapter()
	sw = &fakeSweeper{}
	c = NewCoordinator([]retailers.Adapter{subset}, testNormalizer(t, "costco"), &fakeWriter{}, Config{DeactivateUnseen: true, Categories: []string{"cat B"}}, logger.Nop(),
		WithSweeper(sw))
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fmt.Sprint(subset.calls) != "[b:1]" {
		t.Fatalf("subset calls: got=%v", subset.calls)
	}
	if len(sw.calls) != 0 {
		t.Fatalf("subset run must not sweep: got=%v", sw.calls)
	}

	sw = &fakeSweeper{}
	c = NewCoordinator([]retailers.Adapter{newAdapter()}, testNormalizer(t, "costco"), &fakeWriter{}, Config{DeactivateUnseen: true, DryRun: true}, logger.Nop(),
		WithSweeper(sw))
	_, _ = c.Run(context.Background())
	if len(sw.calls) != 0 {
		t.Fatalf("dry run must not sweep: got=%v", sw.calls)
	}
}

func TestRunStrictFilterAndZeroWrites(t *testing.T) {
	a := &fakeAdapter{retailer: "heb", workers: 1, cats: []retailers.Category{{ID: "misc"}}}
	a.products = func(context.Context, retailers.Category, int) (retailers.Page, error) {
		return retailers.Page{Records: records("1", "2")}, nil
	}
	broken := &fakeAdapter{retailer: "walmart", workers: 1, catErr: errors.New("menu unavailable")}
	w := &fakeWriter{}
	c := NewCoordinator([]retailers.Adapter{a, broken}, testNormalizer(t, "heb", "walmart"), w, Config{Strict: true}, logger.Nop())

	sum, _ := c.Run(context.Background())
	if st := sum.Retailers["heb"]; st.RecordsSeen != 2 || st.Skipped != 2 || st.Written != 0 {
		t.Fatalf("heb: got=%+v", st)
	}
	if st := sum.Retailers["walmart"]; st.Errors != 1 {
		t.Fatalf("walmart: got=%+v", st)
	}
	if w.count() != 0 {
		t.Fatalf("writer calls: want=0 got=%d", w.count())
	}
	if sum.ExitCode() != ExitExhausted {
		t.Fatalf("zero writes: want exit 2 got=%d", sum.ExitCode())
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("INGEST_BOT_COOLDOWN", "30s")
	t.Setenv("INGEST_CATEGORIES", "soda, chips")
	t.Setenv("INGEST_DRY_RUN", "true")
	cfg := ConfigFromEnv()
	if cfg.BotCooldown != 30*time.Second || cfg.UnitTimeout != 10*time.Minute || cfg.BotRetryMax != 3 {
		t.Fatalf("durations: got=%+v", cfg)
	}
	if len(cfg.Categories) != 2 || !cfg.DryRun {
		t.Fatalf("flags: got=%+v", cfg)
	}
}
