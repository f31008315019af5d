package cookies

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
	"github.com/andrewdyar/switchyard-sub001/internal/session"
)

const DefaultRefreshInterval = 20 * time.Minute

// Retailer is the cookie-relevant configuration of one retailer.
type Retailer struct {
	Name string
	// RefreshURL is fetched to rotate session tokens. Empty disables refresh.
	RefreshURL      string
	RefreshInterval time.Duration
	// Seed is a raw Cookie header used when nothing is stored yet.
	Seed      string
	UserAgent string
}

// Manager hands out per-retailer cookie jars and keeps them fresh. Refreshes
// go through its own HTTP client, never through the fetch client.
type Manager struct {
	log   *logger.Logger
	store session.Store
	http  *http.Client
	now   func() time.Time

	mu        sync.Mutex
	retailers map[string]Retailer
	jars      map[string]*session.Jar
	locks     map[string]*sync.Mutex
}

type Option func(*Manager)

func WithHTTPClient(c *http.Client) Option  { return func(m *Manager) { m.http = c } }
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(log *logger.Logger, store session.Store, retailers []Retailer, opts ...Option) *Manager {
	if store == nil {
		store = session.NewMemory()
	}
	m := &Manager{
		log:       log.With("component", "CookieManager"),
		store:     store,
		http:      &http.Client{Timeout: 15 * time.Second},
		now:       time.Now,
		retailers: map[string]Retailer{},
		jars:      map[string]*session.Jar{},
		locks:     map[string]*sync.Mutex{},
	}
	for _, r := range retailers {
		if r.RefreshInterval <= 0 {
			r.RefreshInterval = DefaultRefreshInterval
		}
		m.retailers[r.Name] = r
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func storeKey(retailer string) string { return "cookies:" + retailer }

// retailerLock serializes loads and refreshes for one retailer.
func (m *Manager) retailerLock(retailer string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[retailer]
	if !ok {
		l = &sync.Mutex{}
		m.locks[retailer] = l
	}
	return l
}

// Jar returns a copy of the current cookies for retailer. It refreshes first
// when force is set or the jar is older than the retailer's refresh interval.
// Refresh failures keep the existing jar.
func (m *Manager) Jar(ctx context.Context, retailer string, force bool) (map[string]string, error) {
	l := m.retailerLock(retailer)
	l.Lock()
	defer l.Unlock()

	jar, err := m.loadLocked(ctx, retailer)
	if err != nil {
		return nil, err
	}
	cfg := m.retailers[retailer]
	stale := m.now().Sub(jar.RefreshedAt()) > cfg.RefreshInterval
	if force || stale {
		// Another worker or a browser may already have re-solved the
		// session; only hit the refresh URL when the store has nothing newer.
		if !m.reloadLocked(ctx, retailer, jar) && cfg.RefreshURL != "" {
			m.refreshLocked(ctx, retailer, cfg, jar)
		}
	}
	return copyCookies(jar.Cookies), nil
}

// Update merges a raw "a=1; b=2" cookie header into the jar and persists it.
func (m *Manager) Update(ctx context.Context, retailer, raw string) error {
	parsed := ParseHeader(raw)
	if len(parsed) == 0 {
		return nil
	}
	l := m.retailerLock(retailer)
	l.Lock()
	defer l.Unlock()

	jar, err := m.loadLocked(ctx, retailer)
	if err != nil {
		return err
	}
	for k, v := range parsed {
		jar.Cookies[k] = v
	}
	m.persistLocked(ctx, retailer, jar)
	return nil
}

// Merge applies Set-Cookie values from a retailer response to the jar
// without touching last_refresh.
func (m *Manager) Merge(ctx context.Context, retailer string, set []*http.Cookie) {
	if len(set) == 0 {
		return
	}
	l := m.retailerLock(retailer)
	l.Lock()
	defer l.Unlock()

	jar, err := m.loadLocked(ctx, retailer)
	if err != nil {
		m.log.Warn("cookie merge skipped", "retailer", retailer, "error", err)
		return
	}
	if applySetCookies(jar.Cookies, set) {
		m.persistLocked(ctx, retailer, jar)
	}
}

func (m *Manager) loadLocked(ctx context.Context, retailer string) (*session.Jar, error) {
	m.mu.Lock()
	jar, ok := m.jars[retailer]
	m.mu.Unlock()
	if ok {
		return jar, nil
	}

	stored, err := session.LoadJar(ctx, m.store, storeKey(retailer))
	if err != nil {
		m.log.Warn("session read failed; starting from seed", "retailer", retailer, "error", err)
	}
	jar = stored
	if jar == nil {
		jar = &session.Jar{Cookies: map[string]string{}}
		if seed := m.retailers[retailer].Seed; seed != "" {
			jar.Cookies = ParseHeader(seed)
			jar.LastRefresh = m.now().Unix()
		}
	}
	m.mu.Lock()
	m.jars[retailer] = jar
	m.mu.Unlock()
	return jar, nil
}

// reloadLocked adopts the stored jar when it differs from the one in memory.
func (m *Manager) reloadLocked(ctx context.Context, retailer string, jar *session.Jar) bool {
	stored, err := session.LoadJar(ctx, m.store, storeKey(retailer))
	if err != nil {
		m.log.Warn("session reload failed; keeping jar", "retailer", retailer, "error", err)
		return false
	}
	if stored == nil || (stored.LastRefresh <= jar.LastRefresh && maps.Equal(stored.Cookies, jar.Cookies)) {
		return false
	}
	jar.Cookies = stored.Cookies
	jar.LastRefresh = stored.LastRefresh
	m.log.Info("adopted stored session", "retailer", retailer, "count", len(jar.Cookies))
	return true
}

func (m *Manager) refreshLocked(ctx context.Context, retailer string, cfg Retailer, jar *session.Jar) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.RefreshURL, nil)
	if err != nil {
		m.log.Warn("cookie refresh request invalid", "retailer", retailer, "error", err)
		return
	}
	if h := Header(jar.Cookies); h != "" {
		req.Header.Set("Cookie", h)
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := m.http.Do(req)
	if err != nil {
		m.log.Warn("cookie refresh failed; keeping jar", "retailer", retailer, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		m.log.Warn("cookie refresh rejected; keeping jar", "retailer", retailer, "status", resp.StatusCode)
		return
	}
	applySetCookies(jar.Cookies, resp.Cookies())
	jar.LastRefresh = m.now().Unix()
	m.persistLocked(ctx, retailer, jar)
	m.log.Debug("cookies refreshed", "retailer", retailer, "count", len(jar.Cookies))
}

func (m *Manager) persistLocked(ctx context.Context, retailer string, jar *session.Jar) {
	if err := session.SaveJar(ctx, m.store, storeKey(retailer), jar); err != nil {
		m.log.Warn("session write failed; keeping jar in memory", "retailer", retailer, "error", err)
	}
}

// ParseHeader splits "a=1; b=2" into a map. Malformed pairs are dropped.
func ParseHeader(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		out[name] = strings.TrimSpace(value)
	}
	return out
}

// Header renders cookies as a Cookie header value in stable order.
func Header(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(cookies))
	for k := range cookies {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, k := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", k, cookies[k]))
	}
	return strings.Join(parts, "; ")
}

func applySetCookies(dst map[string]string, set []*http.Cookie) bool {
	changed := false
	for _, c := range set {
		if c == nil || c.Name == "" {
			continue
		}
		if c.MaxAge < 0 {
			if _, ok := dst[c.Name]; ok {
				delete(dst, c.Name)
				changed = true
			}
			continue
		}
		if dst[c.Name] != c.Value {
			dst[c.Name] = c.Value
			changed = true
		}
	}
	return changed
}

func copyCookies(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
