package retailers

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andrewdyar/switchyard-sub001/internal/normalize"
	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
)

//go:embed retailers.yaml
var defaultDefinitions []byte

type Family string

const (
	FamilyHydration Family = "hydration"
	FamilyGraphQL   Family = "graphql"
	FamilyJSON      Family = "json"
)

// Category is one crawlable retailer category.
type Category struct {
	ID    string   `yaml:"id"`
	Name  string   `yaml:"name"`
	Path  []string `yaml:"path"`
	Query string   `yaml:"query"`
}

// Key identifies the category in logs, stats and sticky proxy selection.
func (c Category) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}

func (c Category) Label() string {
	if c.Name != "" {
		return c.Name
	}
	if len(c.Path) > 0 {
		return c.Path[len(c.Path)-1]
	}
	return c.ID
}

type GraphQLSpec struct {
	Operation       string         `yaml:"operation"`
	OperationHeader string         `yaml:"operation_header"`
	PersistedHash   string         `yaml:"persisted_query_hash"`
	Query           string         `yaml:"query"`
	Variables       map[string]any `yaml:"variables"`
}

type HydrationSpec struct {
	ScriptID    string            `yaml:"script_id"`
	Query       map[string]string `yaml:"query"`
	MaxPagePath string            `yaml:"max_page_path"`
}

type JSONSpec struct {
	Query map[string]string `yaml:"query"`
	Body  map[string]any    `yaml:"body"`
}

// Definition is everything needed to crawl one retailer. Retailer specifics
// are values here, not code.
type Definition struct {
	Name            string            `yaml:"-"`
	Family          Family            `yaml:"family"`
	BaseURL         string            `yaml:"base_url"`
	Endpoint        string            `yaml:"endpoint"`
	Method          string            `yaml:"method"`
	RefreshPath     string            `yaml:"refresh_path"`
	RefreshInterval time.Duration     `yaml:"refresh_interval"`
	Locations       []string          `yaml:"locations"`
	Workers         int               `yaml:"workers"`
	PageSize        int               `yaml:"page_size"`
	MaxPages        int               `yaml:"max_pages"`
	RateLimitMS     int               `yaml:"rate_limit_ms"`
	RateJitterMS    int               `yaml:"rate_jitter_ms"`
	Headers         map[string]string `yaml:"headers"`
	Cookies         string            `yaml:"-"`

	GraphQL   *GraphQLSpec   `yaml:"graphql"`
	Hydration *HydrationSpec `yaml:"hydration"`
	JSON      *JSONSpec      `yaml:"json"`

	ItemsPath string              `yaml:"items_path"`
	TotalPath string              `yaml:"total_path"`
	Extract   normalize.Extractor `yaml:"extract"`

	Categories []Category `yaml:"categories"`
}

func (d *Definition) EndpointURL() string {
	return strings.TrimRight(d.BaseURL, "/") + "/" + strings.TrimLeft(d.Endpoint, "/")
}

func (d *Definition) RefreshURL() string {
	if d.RefreshPath == "" {
		return ""
	}
	return strings.TrimRight(d.BaseURL, "/") + "/" + strings.TrimLeft(d.RefreshPath, "/")
}

func (d *Definition) RateLimit() time.Duration {
	return time.Duration(d.RateLimitMS) * time.Millisecond
}

func (d *Definition) RateJitter() time.Duration {
	return time.Duration(d.RateJitterMS) * time.Millisecond
}

type file struct {
	Retailers map[string]*Definition `yaml:"retailers"`
}

// Load reads definitions from path, or the embedded defaults when path is
// empty, then applies environment overrides and validates.
func Load(path string) (map[string]*Definition, error) {
	raw := defaultDefinitions
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, apperr.Config("RETAILERS_CONFIG", err)
		}
		raw = b
	}
	defs, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		applyEnv(d)
		if err := d.Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func Parse(raw []byte) (map[string]*Definition, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, apperr.Config("retailers", err)
	}
	if len(f.Retailers) == 0 {
		return nil, apperr.Configf("retailers", "no retailers defined")
	}
	out := make(map[string]*Definition, len(f.Retailers))
	for name, d := range f.Retailers {
		if d == nil {
			return nil, apperr.Configf("retailers", "%s: empty definition", name)
		}
		d.Name = strings.ToLower(strings.TrimSpace(name))
		d.defaults()
		out[d.Name] = d
	}
	return out, nil
}

func (d *Definition) defaults() {
	if d.Workers <= 0 {
		d.Workers = 1
	}
	if d.PageSize <= 0 {
		d.PageSize = 40
	}
	if d.MaxPages <= 0 {
		d.MaxPages = 25
	}
	d.Method = strings.ToUpper(strings.TrimSpace(d.Method))
	if d.Method == "" {
		d.Method = "GET"
		if d.Family == FamilyGraphQL {
			d.Method = "POST"
		}
	}
	if len(d.Locations) == 0 {
		d.Locations = []string{""}
	}
	if d.Hydration != nil && d.Hydration.ScriptID == "" {
		d.Hydration.ScriptID = "__NEXT_DATA__"
	}
}

func applyEnv(d *Definition) {
	d.BaseURL = envutil.String(envutil.Key(d.Name, "BASE_URL"), d.BaseURL)
	if locs := envutil.List(envutil.Key(d.Name, "LOCATION_ID")); len(locs) > 0 {
		d.Locations = locs
	}
	d.RateLimitMS = envutil.Int(envutil.Key(d.Name, "RATE_LIMIT_MS"), d.RateLimitMS)
	d.RateJitterMS = envutil.Int(envutil.Key(d.Name, "RATE_JITTER_MS"), d.RateJitterMS)
	d.Workers = envutil.Int(envutil.Key(d.Name, "WORKERS"), d.Workers)
	d.MaxPages = envutil.Int(envutil.Key(d.Name, "MAX_PAGES"), d.MaxPages)
	d.RefreshInterval = envutil.Duration(envutil.Key(d.Name, "REFRESH_INTERVAL"), d.RefreshInterval)
	d.Cookies = envutil.String(envutil.Key(d.Name, "COOKIES"), d.Cookies)
	if d.GraphQL != nil {
		d.GraphQL.PersistedHash = envutil.String(envutil.Key(d.Name, "PERSISTED_QUERY_HASH"), d.GraphQL.PersistedHash)
	}
}

// Validate reports the first problem as a configuration error.
func (d *Definition) Validate() error {
	field := d.Name
	u, err := url.Parse(d.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperr.Configf(envutil.Key(field, "BASE_URL"), "invalid base url %q", d.BaseURL)
	}
	if d.ItemsPath == "" {
		return apperr.Configf(field, "items_path required")
	}
	if err := d.Extract.Validate(); err != nil {
		return apperr.Config(field, err)
	}
	if d.Workers <= 0 || d.PageSize <= 0 || d.MaxPages <= 0 {
		return apperr.Configf(field, "workers, page_size and max_pages must be positive")
	}
	switch d.Family {
	case FamilyGraphQL:
		if d.GraphQL == nil || d.GraphQL.Operation == "" {
			return apperr.Configf(field, "graphql.operation required")
		}
		if d.GraphQL.PersistedHash == "" && d.GraphQL.Query == "" {
			return apperr.Configf(envutil.Key(field, "PERSISTED_QUERY_HASH"), "persisted query hash or query text required")
		}
	case FamilyHydration:
		if d.Hydration == nil {
			return apperr.Configf(field, "hydration block required")
		}
	case FamilyJSON:
		if d.JSON == nil {
			d.JSON = &JSONSpec{}
		}
	default:
		return apperr.Configf(field, "unknown family %q", d.Family)
	}
	if len(d.Categories) == 0 {
		return apperr.Configf(field, "no categories configured")
	}
	for i, c := range d.Categories {
		if c.ID == "" && c.Query == "" {
			return apperr.Configf(field, "category %d needs id or query", i)
		}
	}
	return nil
}

// Extractors collects the normalizer configuration of every definition.
func Extractors(defs map[string]*Definition) map[string]normalize.Extractor {
	out := make(map[string]normalize.Extractor, len(defs))
	for name, d := range defs {
		out[name] = d.Extract
	}
	return out
}

// Names returns definition names in stable order.
func Names(defs map[string]*Definition) []string {
	out := make([]string, 0, len(defs))
	for n := range defs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (d *Definition) String() string {
	return fmt.Sprintf("%s(%s, %d locations, %d categories)", d.Name, d.Family, len(d.Locations), len(d.Categories))
}
