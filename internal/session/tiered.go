package session

import (
	"context"
	"sync"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

// TieredStore reads the durable tier on every Get: the remote store when set,
// the local hint store otherwise. The local hint and the in-process copy
// serve reads only while the durable tier is failing. Either tier may be nil.
type TieredStore struct {
	log    *logger.Logger
	remote Store
	local  Store

	mu    sync.RWMutex
	cache map[string][]byte
}

func NewTieredStore(log *logger.Logger, remote, local Store) *TieredStore {
	return &TieredStore{
		log:    log.With("service", "SessionStore"),
		remote: remote,
		local:  local,
		cache:  map[string][]byte{},
	}
}

func (s *TieredStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.remote != nil {
		blob, err := s.remote.Get(ctx, key)
		if err == nil {
			s.remember(key, blob)
			if blob != nil && s.local != nil {
				if err := s.local.Set(ctx, key, blob); err != nil {
					s.log.Warn("local session hint write failed", "key", key, "error", err)
				}
			}
			return blob, nil
		}
		s.log.Warn("remote session read failed; using local copy", "key", key, "error", err)
		if v, ok := s.cached(key); ok {
			return v, nil
		}
		return s.readLocal(ctx, key), nil
	}

	if s.local != nil {
		blob, err := s.local.Get(ctx, key)
		if err == nil {
			s.remember(key, blob)
			return blob, nil
		}
		s.log.Warn("local session read failed", "key", key, "error", err)
	}
	v, _ := s.cached(key)
	return v, nil
}

func (s *TieredStore) readLocal(ctx context.Context, key string) []byte {
	if s.local == nil {
		return nil
	}
	blob, err := s.local.Get(ctx, key)
	if err != nil {
		s.log.Warn("local session read failed", "key", key, "error", err)
		return nil
	}
	return blob
}

// Set updates the cache and writes both tiers. Tier failures are logged;
// the value stays usable in memory.
func (s *TieredStore) Set(ctx context.Context, key string, blob []byte) error {
	s.remember(key, blob)
	if s.remote != nil {
		if err := s.remote.Set(ctx, key, blob); err != nil {
			s.log.Warn("remote session write failed", "key", key, "error", err)
		}
	}
	if s.local != nil {
		if err := s.local.Set(ctx, key, blob); err != nil {
			s.log.Warn("local session write failed", "key", key, "error", err)
		}
	}
	return nil
}

// remember records the last value seen for key; nil forgets it.
func (s *TieredStore) remember(key string, blob []byte) {
	s.mu.Lock()
	if blob == nil {
		delete(s.cache, key)
	} else {
		s.cache[key] = append([]byte(nil), blob...)
	}
	s.mu.Unlock()
}

func (s *TieredStore) cached(key string) ([]byte, bool) {
	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Open builds the configured store: Redis when cfg.Addr is set, a file hint
// when filePath is set, both behind a TieredStore. With neither it is
// memory-only. The returned close func is never nil.
func Open(log *logger.Logger, cfg RedisConfig, filePath string) (*TieredStore, func() error, error) {
	var (
		remote Store
		local  Store
		closer = func() error { return nil }
	)
	if cfg.Addr != "" {
		rs, err := NewRedisStore(log, cfg)
		if err != nil {
			return nil, closer, err
		}
		remote = rs
		closer = rs.Close
	}
	if filePath != "" {
		local = NewFileStore(filePath)
	}
	return NewTieredStore(log, remote, local), closer, nil
}
