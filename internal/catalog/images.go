package catalog

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/andrewdyar/switchyard-sub001/internal/platform/logger"
)

const maxImageBytes = 10 << 20

// ImageStore is the object store used to rehost retailer images.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// imageStabilizer copies retailer images into the object store and remembers
// the stable URL per source URL for the life of the process.
type imageStabilizer struct {
	store ImageStore
	http  *http.Client
	log   *logger.Logger

	mu   sync.Mutex
	seen map[string]string
}

func newImageStabilizer(store ImageStore, client *http.Client, log *logger.Logger) *imageStabilizer {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &imageStabilizer{store: store, http: client, log: log, seen: map[string]string{}}
}

// Stabilize returns the stable URL for src, or src itself when the copy
// fails.
func (s *imageStabilizer) Stabilize(ctx context.Context, retailer, src string) string {
	if s == nil || s.store == nil || src == "" {
		return src
	}
	s.mu.Lock()
	if u, ok := s.seen[src]; ok {
		s.mu.Unlock()
		return u
	}
	s.mu.Unlock()

	stable, err := s.copy(ctx, retailer, src)
	if err != nil {
		s.log.Warn("image stabilization failed; keeping retailer url", "retailer", retailer, "image_url", src, "error", err)
		return src
	}
	s.mu.Lock()
	s.seen[src] = stable
	s.mu.Unlock()
	return stable
}

func (s *imageStabilizer) copy(ctx context.Context, retailer, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 || len(data) > maxImageBytes {
		return "", fmt.Errorf("image size %d out of range", len(data))
	}
	ct := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		ct = mt
	}
	if !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return "", fmt.Errorf("not an image: %s", ct)
	}
	return s.store.Put(ctx, imageKey(retailer, src, ct), data, ct)
}

// imageKey is stable per (retailer, source URL).
func imageKey(retailer, src, contentType string) string {
	sum := sha1.Sum([]byte(src))
	ext := ""
	if u, err := url.Parse(src); err == nil {
		ext = strings.ToLower(path.Ext(u.Path))
	}
	if ext == "" || len(ext) > 5 {
		if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return retailer + "/" + hex.EncodeToString(sum[:])[:20] + ext
}
