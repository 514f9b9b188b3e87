package httpx

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(statusErr(503)))
	assert.True(t, Retryable(statusErr(429)))
	assert.False(t, Retryable(statusErr(400)))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.False(t, Retryable(nil))
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 10 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0, nil))
	assert.Equal(t, 4*time.Second, b.Delay(2, nil))
	assert.Equal(t, 10*time.Second, b.Delay(8, nil))

	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", "3")
	assert.Equal(t, 3*time.Second, b.Delay(0, resp))
	resp.Header.Set("Retry-After", "30")
	assert.Equal(t, 10*time.Second, b.Delay(0, resp))
}

func TestRetryAfterHTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	resp := &http.Response{Header: http.Header{}}
	resp.Header.Set("Retry-After", now.Add(7*time.Second).Format(http.TimeFormat))
	d, ok := retryAfter(resp, now)
	assert.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	resp.Header.Set("Retry-After", "soon")
	_, ok = retryAfter(resp, now)
	assert.False(t, ok)
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: time.Second, Jitter: 0.2}
	for i := 0; i < 50; i++ {
		d := b.Delay(0, nil)
		assert.GreaterOrEqual(t, d, 800*time.Millisecond)
		assert.LessOrEqual(t, d, 1200*time.Millisecond)
	}
	b.rnd = func() float64 { return 1 }
	assert.Equal(t, 1200*time.Millisecond, b.Delay(0, nil))
}

func TestSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, DefaultBackoff().Wait(ctx, 0, nil), context.Canceled)
}
