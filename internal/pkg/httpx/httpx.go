package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// IsServerError reports 5xx codes; these are retried on a fresh proxy.
func IsServerError(code int) bool {
	return code >= 500 && code <= 599
}

// IsRetryableHTTPStatus reports statuses worth another attempt. 429 is
// handled as a bot block by the caller; every other 4xx, 408 included, is
// permanent.
func IsRetryableHTTPStatus(code int) bool {
	return IsServerError(code)
}

// IsRetryableError reports network and timeout failures. Cancellation of the
// caller's context is not retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "connection refused")
}

func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

// Jitter returns base plus a uniform draw from [0, variance).
func Jitter(base, variance time.Duration) time.Duration {
	if base < 0 {
		base = 0
	}
	if variance <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(variance)))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SleepFunc is the injectable form of Sleep.
type SleepFunc func(ctx context.Context, d time.Duration) error
