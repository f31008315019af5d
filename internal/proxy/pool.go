package proxy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/andrewdyar/switchyard-sub001/internal/pkg/httpx"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/envutil"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Random     Strategy = "random"
	Sticky     Strategy = "sticky"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", RoundRobin:
		return RoundRobin, nil
	case Random:
		return Random, nil
	case Sticky, "per_category", "category":
		return Sticky, nil
	default:
		return "", fmt.Errorf("unknown proxy strategy %q", s)
	}
}

type Config struct {
	Strategy    Strategy
	MaxFailures int
	Cooldown    time.Duration
}

func ConfigFromEnv() (Config, error) {
	st, err := ParseStrategy(envutil.String("PROXY_STRATEGY", ""))
	if err != nil {
		return Config{}, err
	}
	return Config{
		Strategy:    st,
		MaxFailures: envutil.Int("PROXY_MAX_FAILURES", 3),
		Cooldown:    envutil.Duration("PROXY_COOLDOWN", 60*time.Second),
	}, nil
}

type entry struct {
	proxy     *Proxy
	successes int
	failures  int
	lastUsed  time.Time
}

// Stats is a point-in-time view of one proxy.
type Stats struct {
	Proxy     string    `json:"proxy"`
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	LastUsed  time.Time `json:"last_used"`
	Available bool      `json:"available"`
}

// Pool serves proxies by strategy and tracks their health. All methods are
// safe for concurrent use.
type Pool struct {
	log *logger.Logger
	cfg Config

	now   func() time.Time
	sleep httpx.SleepFunc
	rnd   *rand.Rand

	mu           sync.Mutex
	entries      []*entry
	byProxy      map[*Proxy]*entry
	sticky       map[string]*entry
	coolingUntil time.Time
}

type Option func(*Pool)

func WithClock(now func() time.Time) Option  { return func(p *Pool) { p.now = now } }
func WithSleep(sleep httpx.SleepFunc) Option { return func(p *Pool) { p.sleep = sleep } }
func WithRand(r *rand.Rand) Option           { return func(p *Pool) { p.rnd = r } }

func NewPool(log *logger.Logger, proxies []*Proxy, cfg Config, opts ...Option) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	if cfg.Strategy == "" {
		cfg.Strategy = RoundRobin
	}
	p := &Pool{
		log:     log.With("component", "ProxyPool"),
		cfg:     cfg,
		now:     time.Now,
		sleep:   httpx.Sleep,
		rnd:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
		byProxy: map[*Proxy]*entry{},
		sticky:  map[string]*entry{},
	}
	for _, px := range proxies {
		if px == nil {
			continue
		}
		e := &entry{proxy: px}
		p.entries = append(p.entries, e)
		p.byProxy[px] = e
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Next returns the proxy to use for a request in category. It returns nil
// when no proxies are configured. When every proxy is evicted it waits out
// the cooldown, then forgives one failure per proxy and tries again.
func (p *Pool) Next(ctx context.Context, category string) (*Proxy, error) {
	if p == nil || len(p.entries) == 0 {
		return nil, nil
	}
	for {
		p.mu.Lock()
		if e := p.pickLocked(category); e != nil {
			e.lastUsed = p.now()
			p.mu.Unlock()
			return e.proxy, nil
		}
		if p.coolingUntil.IsZero() {
			p.coolingUntil = p.now().Add(p.cfg.Cooldown)
			p.log.Warn("all proxies evicted; cooling down", "cooldown", p.cfg.Cooldown.String(), "proxies", len(p.entries))
		}
		wait := p.coolingUntil.Sub(p.now())
		p.mu.Unlock()

		if wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		p.mu.Lock()
		if !p.coolingUntil.IsZero() && !p.now().Before(p.coolingUntil) {
			for _, e := range p.entries {
				if e.failures > 0 {
					e.failures--
				}
			}
			p.coolingUntil = time.Time{}
		}
		p.mu.Unlock()
	}
}

func (p *Pool) MarkSuccess(px *Proxy) {
	if p == nil || px == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byProxy[px]
	if !ok {
		return
	}
	e.successes++
	if e.failures > 0 {
		e.failures--
	}
}

func (p *Pool) MarkFailure(px *Proxy) {
	if p == nil || px == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.byProxy[px]
	if !ok {
		return
	}
	e.failures++
	if e.failures == p.cfg.MaxFailures {
		p.log.Warn("proxy evicted", "proxy", px.String(), "failures", e.failures)
	}
}

func (p *Pool) Snapshot() []Stats {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, Stats{
			Proxy:     e.proxy.String(),
			Successes: e.successes,
			Failures:  e.failures,
			LastUsed:  e.lastUsed,
			Available: p.availableLocked(e),
		})
	}
	return out
}

func (p *Pool) availableLocked(e *entry) bool {
	return e.failures < p.cfg.MaxFailures
}

func (p *Pool) pickLocked(category string) *entry {
	avail := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		if p.availableLocked(e) {
			avail = append(avail, e)
		}
	}
	if len(avail) == 0 {
		return nil
	}
	switch p.cfg.Strategy {
	case Random:
		return avail[p.rnd.IntN(len(avail))]
	case Sticky:
		if category == "" {
			return avail[p.rnd.IntN(len(avail))]
		}
		if e, ok := p.sticky[category]; ok && p.availableLocked(e) {
			return e
		}
		e := avail[p.rnd.IntN(len(avail))]
		p.sticky[category] = e
		return e
	default:
		best := avail[0]
		for _, e := range avail[1:] {
			if e.lastUsed.Before(best.lastUsed) ||
				(e.lastUsed.Equal(best.lastUsed) && e.failures < best.failures) {
				best = e
			}
		}
		return best
	}
}
