package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Store is an opaque key/value for per-retailer session blobs. Get returns
// nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, blob []byte) error
}

// Jar is the stored blob for one retailer.
type Jar struct {
	Cookies     map[string]string `json:"cookies"`
	LastRefresh int64             `json:"last_refresh"`
}

func (j *Jar) RefreshedAt() time.Time {
	if j == nil || j.LastRefresh <= 0 {
		return time.Time{}
	}
	return time.Unix(j.LastRefresh, 0).UTC()
}

// LoadJar reads and decodes the jar at key; nil when absent.
func LoadJar(ctx context.Context, s Store, key string) (*Jar, error) {
	raw, err := s.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, err
	}
	var j Jar
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	if j.Cookies == nil {
		j.Cookies = map[string]string{}
	}
	return &j, nil
}

func SaveJar(ctx context.Context, s Store, key string, j *Jar) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, raw)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory { return &Memory{data: map[string][]byte{}} }

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Set(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), blob...)
	m.mu.Unlock()
	return nil
}
