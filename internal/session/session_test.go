package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (failingStore) Set(context.Context, string, []byte) error   { return errors.New("down") }

func TestFileStoreRoundTripAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")

	s := NewFileStore(path)
	if got, err := s.Get(ctx, "heb"); err != nil || got != nil {
		t.Fatalf("miss: want nil got=%s err=%v", got, err)
	}
	jar := &Jar{Cookies: map[string]string{"sst": "abc"}, LastRefresh: 1700000000}
	if err := SaveJar(ctx, s, "heb", jar); err != nil {
		t.Fatalf("SaveJar: %v", err)
	}

	reopened := NewFileStore(path)
	got, err := LoadJar(ctx, reopened, "heb")
	if err != nil || got == nil {
		t.Fatalf("LoadJar: err=%v jar=%v", err, got)
	}
	if got.Cookies["sst"] != "abc" || got.LastRefresh != 1700000000 {
		t.Fatalf("jar: got=%+v", got)
	}
	if err := s.Set(ctx, "bad", []byte("{")); err == nil {
		t.Fatalf("invalid JSON: want error")
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Get(context.Background(), "heb"); err == nil {
		t.Fatalf("corrupt file: want error")
	}
}

func TestTieredStoreRemoteIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	remote, local := NewMemory(), NewMemory()
	_ = remote.Set(ctx, "heb", []byte(`{"cookies":{"a":"remote"},"last_refresh":2}`))
	_ = local.Set(ctx, "heb", []byte(`{"cookies":{"a":"local"},"last_refresh":1}`))

	s := NewTieredStore(logger.Nop(), remote, local)
	jar, err := LoadJar(ctx, s, "heb")
	if err != nil || jar.Cookies["a"] != "remote" {
		t.Fatalf("remote wins: err=%v jar=%+v", err, jar)
	}
	hint, _ := LoadJar(ctx, local, "heb")
	if hint.Cookies["a"] != "remote" {
		t.Fatalf("local hint refreshed: got=%+v", hint)
	}
}

func TestTieredStoreFallsBackAndSwallowsWriteErrors(t *testing.T) {
	ctx := context.Background()
	local := NewMemory()
	_ = local.Set(ctx, "walmart", []byte(`{"cookies":{"b":"1"},"last_refresh":1}`))

	s := NewTieredStore(logger.Nop(), failingStore{}, local)
	jar, err := LoadJar(ctx, s, "walmart")
	if err != nil || jar == nil || jar.Cookies["b"] != "1" {
		t.Fatalf("fallback: err=%v jar=%+v", err, jar)
	}

	s = NewTieredStore(logger.Nop(), failingStore{}, failingStore{})
	if err := s.Set(ctx, "costco", []byte(`{"cookies":{},"last_refresh":3}`)); err != nil {
		t.Fatalf("Set: write failure must not surface, got=%v", err)
	}
	jar, err = LoadJar(ctx, s, "costco")
	if err != nil || jar == nil || jar.LastRefresh != 3 {
		t.Fatalf("in-memory copy: err=%v jar=%+v", err, jar)
	}
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	s, err := NewRedisStore(logger.Nop(), RedisConfig{Addr: addr, Prefix: "test:" + t.Name() + ":"})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if got, err := s.Get(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("miss: got=%s err=%v", got, err)
	}
	if err := s.Set(ctx, "heb", []byte(`{"cookies":{},"last_refresh":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, err := s.Get(ctx, "heb"); err != nil || string(got) != `{"cookies":{},"last_refresh":1}` {
		t.Fatalf("Get: got=%s err=%v", got, err)
	}
}

func TestTieredStoreHealthyRemoteMissIgnoresLocal(t *testing.T) {
	ctx := context.Background()
	remote, local := NewMemory(), NewMemory()
	_ = local.Set(ctx, "heb", []byte(`{"cookies":{"a":"stale"},"last_refresh":1}`))

	s := NewTieredStore(logger.Nop(), remote, local)
	if got, err := s.Get(ctx, "heb"); err != nil || got != nil {
		t.Fatalf("healthy miss: want nil got=%s err=%v", got, err)
	}
}

func TestTieredStoreSeesWritesFromOtherProcesses(t *testing.T) {
	ctx := context.Background()
	remote := NewMemory()
	a := NewTieredStore(logger.Nop(), remote, nil)
	b := NewTieredStore(logger.Nop(), remote, nil)

	if err := a.Set(ctx, "walmart", []byte(`{"cookies":{"px":"old"},"last_refresh":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if jar, _ := LoadJar(ctx, a, "walmart"); jar == nil || jar.Cookies["px"] != "old" {
		t.Fatalf("own write: got=%+v", jar)
	}
	if err := b.Set(ctx, "walmart", []byte(`{"cookies":{"px":"solved"},"last_refresh":2}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	jar, err := LoadJar(ctx, a, "walmart")
	if err != nil || jar == nil || jar.Cookies["px"] != "solved" {
		t.Fatalf("other writer: want px=solved err=%v jar=%+v", err, jar)
	}
}
