package retailers

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/andrewdyar/switchyard-sub001/internal/fetch"
	"github.com/andrewdyar/switchyard-sub001/internal/pkg/httpx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

// Page is one fetched listing page. Records are retailer-native JSON
// documents; Total is -1 when the retailer does not report one.
type Page struct {
	Number  int
	Records []json.RawMessage
	HasNext bool
	Total   int
}

// Adapter crawls one (retailer, location).
type Adapter interface {
	Retailer() string
	LocationID() string
	Workers() int
	Categories(ctx context.Context) ([]Category, error)
	// Products fetches page (1-based) of cat. A bot block is returned as an
	// error matching fetch.ErrBotBlocked; pagination must not advance.
	Products(ctx context.Context, cat Category, page int) (Page, error)
}

// Fetcher is the slice of the HTTP client adapters use.
type Fetcher interface {
	Do(ctx context.Context, req fetch.Request, opts fetch.Options) (*fetch.Response, error)
	GraphQL(ctx context.Context, req fetch.GraphQLRequest, opts fetch.Options) (*fetch.GraphQLResponse, error)
}

// pacer spaces page fetches: the limiter enforces the base delay across all
// workers of an adapter, then each fetch adds a uniform jitter.
type pacer struct {
	limiter *rate.Limiter
	jitter  time.Duration
	sleep   httpx.SleepFunc
}

func newPacer(base, jitter time.Duration, sleep httpx.SleepFunc) *pacer {
	lim := rate.NewLimiter(rate.Inf, 1)
	if base > 0 {
		lim = rate.NewLimiter(rate.Every(base), 1)
	}
	if sleep == nil {
		sleep = httpx.Sleep
	}
	return &pacer{limiter: lim, jitter: jitter, sleep: sleep}
}

func (p *pacer) wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if p.jitter > 0 {
		return p.sleep(ctx, httpx.Jitter(0, p.jitter))
	}
	return nil
}

// base holds what both families share.
type base struct {
	def      *Definition
	location string
	client   Fetcher
	pace     *pacer
	log      *logger.Logger
}

func newBase(def *Definition, location string, client Fetcher, log *logger.Logger, sleep httpx.SleepFunc) base {
	return base{
		def:      def,
		location: location,
		client:   client,
		pace:     newPacer(def.RateLimit(), def.RateJitter(), sleep),
		log:      log.With("retailer", def.Name, "location", location),
	}
}

func (b *base) Retailer() string   { return b.def.Name }
func (b *base) LocationID() string { return b.location }
func (b *base) Workers() int       { return b.def.Workers }

func (b *base) Categories(context.Context) ([]Category, error) {
	out := make([]Category, len(b.def.Categories))
	copy(out, b.def.Categories)
	return out, nil
}

func (b *base) options(cat Category, expectJSON bool) fetch.Options {
	return fetch.Options{Retailer: b.def.Name, Category: cat.Key(), ExpectJSON: expectJSON}
}

// vars returns the placeholder values for one page request.
func (b *base) vars(cat Category, page int) map[string]any {
	return map[string]any{
		"$category_id": cat.ID,
		"$query":       cat.Query,
		"$page":        page,
		"$page0":       page - 1,
		"$size":        b.def.PageSize,
		"$offset":      (page - 1) * b.def.PageSize,
		"$location":    b.location,
	}
}

// page builds a Page from a JSON document using the definition's paths.
func (b *base) page(doc []byte, number int, maxPagePath string) Page {
	items := gjson.GetBytes(doc, b.def.ItemsPath)
	p := Page{Number: number, Total: -1}
	for _, it := range items.Array() {
		p.Records = append(p.Records, json.RawMessage(it.Raw))
	}
	if b.def.TotalPath != "" {
		if t := gjson.GetBytes(doc, b.def.TotalPath); t.Exists() {
			p.Total = int(t.Int())
		}
	}
	p.HasNext = len(p.Records) > 0 && number < b.def.MaxPages
	if p.HasNext && p.Total >= 0 && number*b.def.PageSize >= p.Total {
		p.HasNext = false
	}
	if p.HasNext && maxPagePath != "" {
		if mp := gjson.GetBytes(doc, maxPagePath); mp.Exists() && int(mp.Int()) <= number {
			p.HasNext = false
		}
	}
	return p
}

// substitute replaces placeholders in v. A string that is exactly a
// placeholder takes the value's type; embedded placeholders are formatted.
func substitute(v any, vars map[string]any) any {
	switch t := v.(type) {
	case string:
		if val, ok := vars[t]; ok {
			return val
		}
		if !strings.Contains(t, "$") {
			return t
		}
		return placeholderReplacer(vars).Replace(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = substitute(val, vars)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = substitute(val, vars)
		}
		return s
	default:
		return v
	}
}

// placeholderReplacer tries longer keys first so "$page0" is never read as
// "$page" followed by a literal 0.
func placeholderReplacer(vars map[string]any) *strings.Replacer {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, fmt.Sprint(vars[k]))
	}
	return strings.NewReplacer(pairs...)
}

func queryValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}
