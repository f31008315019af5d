package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	types "github.com/andrewdyar/switchyard-sub001/internal/domain"
	"github.com/andrewdyar/switchyard-sub001/internal/ingest"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/proxy"
)

// isolateEnv clears the settings New reads so a developer's shell cannot
// leak into the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"REDIS_ADDR", "SESSION_FILE", "PROXY_LIST", "PROXY_FILE", "PROXY_STRATEGY",
		"INGEST_RETAILERS", "INGEST_CATEGORIES", "INGEST_DRY_RUN", "INGEST_STABILIZE_IMAGES",
		"INGEST_MAX_RETAILERS", "INGEST_DEACTIVATE_UNSEEN", "INGEST_STRICT_GROCERY",
		"TAXONOMY_CONFIG", "STATUS_ADDR", "HTTP_TIMEOUT", "OTEL_ENABLED", "DATABASE_URL", "POSTGRES_HOST",
		"MARKET_BASE_URL", "MARKET_LOCATION_ID", "MARKET_COOKIES",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("INGEST_RETAILERS", "heb, costco")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Retailers) != 2 || cfg.Retailers[1] != "costco" {
		t.Fatalf("Retailers: got=%v", cfg.Retailers)
	}
	if cfg.Proxy.Strategy != proxy.RoundRobin {
		t.Fatalf("Proxy.Strategy: want=%q got=%q", proxy.RoundRobin, cfg.Proxy.Strategy)
	}
	if cfg.HTTPTimeout != 20*time.Second {
		t.Fatalf("HTTPTimeout: want=20s got=%v", cfg.HTTPTimeout)
	}
	if cfg.Ingest.BotRetryMax != 3 {
		t.Fatalf("Ingest.BotRetryMax: want=3 got=%d", cfg.Ingest.BotRetryMax)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	cases := []struct {
		name, key, val, field string
	}{
		{"proxy strategy", "PROXY_STRATEGY", "lottery", "PROXY_STRATEGY"},
		{"http timeout", "HTTP_TIMEOUT", "-5s", "HTTP_TIMEOUT"},
		{"max retailers", "INGEST_MAX_RETAILERS", "-1", "INGEST_MAX_RETAILERS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			isolateEnv(t)
			t.Setenv(tc.key, tc.val)
			_, err := LoadConfig()
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("errors.Is(ErrConfig): want=true got=%v", err)
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Field != tc.field {
				t.Fatalf("field: want=%q got=%v", tc.field, err)
			}
		})
	}
}

const marketDefinitions = `
retailers:
  market:
    family: json
    base_url: %BASE%
    endpoint: /api/products
    page_size: 2
    max_pages: 3
    json:
      query: {category: $category_id, page: $page}
    items_path: items
    extract:
      external_id: id
      name: name
      list_price: price
    categories:
      - {id: "soda", path: [Beverages, Soda]}
`

func writeDefinitions(t *testing.T, baseURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "retailers.yaml")
	raw := strings.ReplaceAll(marketDefinitions, "%BASE%", baseURL)
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write definitions: %v", err)
	}
	return path
}

func TestNewAndRunWritesCatalog(t *testing.T) {
	isolateEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/api/products" {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		switch r.URL.Query().Get("page") {
		case "1":
			_, _ = io.WriteString(w, `{"items":[{"id":"1","name":"Cola 12oz","price":"3.49"},{"id":"2","name":"Root Beer","price":"2.99"}]}`)
		default:
			_, _ = io.WriteString(w, `{"items":[]}`)
		}
	}))
	defer srv.Close()

	t.Setenv("RETAILERS_CONFIG", writeDefinitions(t, srv.URL))
	t.Setenv("CATALOG_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "catalog.db"))

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	a, err := New(context.Background(), logger.Nop(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	sum, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if code := sum.ExitCode(); code != ingest.ExitOK {
		t.Fatalf("ExitCode: want=%d got=%d (summary=%+v)", ingest.ExitOK, code, sum.Totals)
	}
	if sum.Totals.Written != 2 || sum.Totals.ProductsCreated != 2 {
		t.Fatalf("totals: want written=2 created=2 got=%+v", sum.Totals)
	}

	var n int64
	if err := a.Store.DB().Model(&types.Product{}).Count(&n).Error; err != nil {
		t.Fatalf("count products: %v", err)
	}
	if n != 2 {
		t.Fatalf("products: want=2 got=%d", n)
	}

	rec := httptest.NewRecorder()
	a.Status.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?retailer=market", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/stats: want=200 got=%d body=%s", rec.Code, rec.Body.String())
	}
	var body struct {
		Retailers map[string]ingest.Snapshot `json:"retailers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode /stats: %v", err)
	}
	if body.Retailers["market"].Written != 2 {
		t.Fatalf("/stats written: want=2 got=%+v", body.Retailers)
	}
}

func TestNewUnknownRetailerIsConfigError(t *testing.T) {
	isolateEnv(t)
	t.Setenv("RETAILERS_CONFIG", writeDefinitions(t, "http://market.test"))
	t.Setenv("CATALOG_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "catalog.db"))
	t.Setenv("INGEST_RETAILERS", "nowhere")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	_, err = New(context.Background(), logger.Nop(), cfg)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("errors.Is(ErrConfig): want=true got=%v", err)
	}
}
