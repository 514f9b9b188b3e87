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

// StatusError is implemented by errors that carry an HTTP response status.
type StatusError interface {
	HTTPStatusCode() int
}

// Retryable reports whether err is worth another attempt: timeouts, 408,
// 429 and 5xx. Caller cancellation never is.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var se StatusError
	if errors.As(err, &se) {
		code := se.HTTPStatusCode()
		return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
	}
	return false
}

// Backoff doubles Base per attempt up to Max and spreads each delay by
// +/-Jitter. A Retry-After header on the failed response replaces the
// computed delay but is still capped by Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64

	rnd func() float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: 0.2}
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int, resp *http.Response) time.Duration {
	d := b.Base
	for i := 0; i < attempt && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if ra, ok := retryAfter(resp, time.Now()); ok {
		d = ra
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return b.jitter(d)
}

// Wait sleeps for Delay(attempt, resp) or until ctx is done.
func (b Backoff) Wait(ctx context.Context, attempt int, resp *http.Response) error {
	return Sleep(ctx, b.Delay(attempt, resp))
}

func (b Backoff) jitter(d time.Duration) time.Duration {
	if d <= 0 || b.Jitter <= 0 {
		return d
	}
	rnd := b.rnd
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := float64(d) * b.Jitter
	return time.Duration(float64(d) - spread + rnd()*2*spread)
}

// retryAfter accepts both the delta-seconds and HTTP-date forms.
func retryAfter(resp *http.Response, now time.Time) (time.Duration, bool) {
	if resp == nil {
		return 0, false
	}
	ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if ra == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(ra); err == nil && at.After(now) {
		return at.Sub(now), true
	}
	return 0, false
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
