package proxy

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperr "github.com/andrewdyar/switchyard-sub001/internal/pkg/errors"
	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type fakeClock struct {
	t     time.Time
	slept []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	c.t = c.t.Add(d)
	return nil
}

func mustProxies(t *testing.T, raws ...string) []*Proxy {
	t.Helper()
	out := make([]*Proxy, 0, len(raws))
	for _, r := range raws {
		p, err := Parse(r)
		if err != nil {
			t.Fatalf("Parse(%q): %v", r, err)
		}
		out = append(out, p)
	}
	return out
}

func newTestPool(t *testing.T, cfg Config, proxies []*Proxy) (*Pool, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	p := NewPool(logger.Nop(), proxies, cfg,
		WithClock(clk.now), WithSleep(clk.sleep), WithRand(rand.New(rand.NewPCG(1, 2))))
	return p, clk
}

func TestParseFormats(t *testing.T) {
	p, err := Parse("10.0.0.1:8080:user:p@ss")
	if err != nil {
		t.Fatalf("provider format: %v", err)
	}
	if p.Host != "10.0.0.1" || p.Port != 8080 || p.Username != "user" || p.Password != "p@ss" || p.Scheme != "http" {
		t.Fatalf("provider format: got=%+v", p)
	}
	if p.String() != "http://10.0.0.1:8080" {
		t.Fatalf("String hides credentials: got=%q", p.String())
	}
	if p.URL().User.Username() != "user" {
		t.Fatalf("URL keeps credentials: got=%v", p.URL())
	}
	if _, err := Parse("ftp://host:21"); err == nil {
		t.Fatalf("ftp: want error")
	}
	if _, err := Parse("http://host"); err == nil {
		t.Fatalf("missing port: want error")
	}
}

func TestLoadListThenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(path, []byte("# pool\n10.0.0.3:3128\n\nsocks5://u:p@10.0.0.4:1080\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load([]string{"http://10.0.0.1:8080", "10.0.0.2:8080"}, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 4 || got[0].Host != "10.0.0.1" || got[3].Scheme != "socks5" {
		t.Fatalf("Load order: got=%v", got)
	}
	if err := os.WriteFile(path, []byte("nonsense\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(nil, path); !errors.Is(err, apperr.ErrConfig) {
		t.Fatalf("bad line: want config error got=%v", err)
	}
}

func TestNextWithoutProxies(t *testing.T) {
	p, _ := newTestPool(t, Config{}, nil)
	got, err := p.Next(context.Background(), "")
	if err != nil || got != nil {
		t.Fatalf("empty pool: want nil got=%v err=%v", got, err)
	}
	var nilPool *Pool
	if got, _ := nilPool.Next(context.Background(), ""); got != nil {
		t.Fatalf("nil pool: want nil")
	}
}

func TestRoundRobinPrefersOldestThenFewestFailures(t *testing.T) {
	ps := mustProxies(t, "10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1")
	p, clk := newTestPool(t, Config{Strategy: RoundRobin, MaxFailures: 3}, ps)
	ctx := context.Background()

	var seen []string
	for i := 0; i < 4; i++ {
		got, err := p.Next(ctx, "")
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		seen = append(seen, got.Host)
		clk.t = clk.t.Add(time.Second)
	}
	want := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.1"}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("rotation: want=%v got=%v", want, seen)
		}
	}

	// Fresh pool: all unused, so failures break the tie.
	p, _ = newTestPool(t, Config{Strategy: RoundRobin, MaxFailures: 3}, ps)
	p.MarkFailure(ps[0])
	p.MarkFailure(ps[1])
	got, _ := p.Next(ctx, "")
	if got != ps[2] {
		t.Fatalf("tie-break: want=%v got=%v", ps[2], got)
	}
}

func TestEvictionAndSuccessLeak(t *testing.T) {
	ps := mustProxies(t, "10.0.0.1:1", "10.0.0.2:1")
	p, _ := newTestPool(t, Config{MaxFailures: 2}, ps)
	ctx := context.Background()

	p.MarkFailure(ps[0])
	p.MarkFailure(ps[0])
	for i := 0; i < 3; i++ {
		got, _ := p.Next(ctx, "")
		if got != ps[1] {
			t.Fatalf("evicted proxy served: got=%v", got)
		}
	}
	p.MarkSuccess(ps[0])
	snap := p.Snapshot()
	if snap[0].Failures != 1 || snap[0].Successes != 1 || !snap[0].Available {
		t.Fatalf("success leak: got=%+v", snap[0])
	}
	p.MarkSuccess(ps[1])
	if snap := p.Snapshot(); snap[1].Failures != 0 {
		t.Fatalf("failure floor: got=%d", snap[1].Failures)
	}
}

func TestCooldownWhenAllEvicted(t *testing.T) {
	ps := mustProxies(t, "10.0.0.1:1", "10.0.0.2:1")
	p, clk := newTestPool(t, Config{MaxFailures: 1, Cooldown: time.Minute}, ps)
	p.MarkFailure(ps[0])
	p.MarkFailure(ps[1])
	p.MarkFailure(ps[1])

	got, err := p.Next(context.Background(), "")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if len(clk.slept) != 1 || clk.slept[0] != time.Minute {
		t.Fatalf("cooldown sleep: got=%v", clk.slept)
	}
	if got != ps[0] {
		t.Fatalf("after cooldown: want=%v got=%v", ps[0], got)
	}
	snap := p.Snapshot()
	if snap[0].Failures != 0 || snap[1].Failures != 1 {
		t.Fatalf("decrement: got=%+v", snap)
	}
}

func TestCooldownHonoursCancellation(t *testing.T) {
	ps := mustProxies(t, "10.0.0.1:1")
	p := NewPool(logger.Nop(), ps, Config{MaxFailures: 1, Cooldown: time.Hour})
	p.MarkFailure(ps[0])
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Next(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: want context.Canceled got=%v", err)
	}
}

func TestStickyPerCategory(t *testing.T) {
	ps := mustProxies(t, "10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1")
	p, _ := newTestPool(t, Config{Strategy: Sticky, MaxFailures: 1}, ps)
	ctx := context.Background()

	first, _ := p.Next(ctx, "beverages")
	for i := 0; i < 5; i++ {
		got, _ := p.Next(ctx, "beverages")
		if got != first {
			t.Fatalf("sticky: want=%v got=%v", first, got)
		}
	}
	p.MarkFailure(first)
	moved, _ := p.Next(ctx, "beverages")
	if moved == first || moved == nil {
		t.Fatalf("evicted sticky proxy: got=%v", moved)
	}
	again, _ := p.Next(ctx, "beverages")
	if again != moved {
		t.Fatalf("re-stick: want=%v got=%v", moved, again)
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != RoundRobin {
		t.Fatalf("default: got=%v err=%v", s, err)
	}
	if _, err := ParseStrategy("weighted"); err == nil {
		t.Fatalf("unknown: want error")
	}
}
