package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// RequestTransport is the venue-agnostic REST carrier: base URL, retry,
// and per-category rate limiting, with venues supplying only the path,
// headers, and body for each call.
type RequestTransport interface {
	Get(ctx context.Context, category string, path string, query map[string]string, headers map[string]string, result any) error
	Post(ctx context.Context, category string, path string, headers map[string]string, body, result any) error
	Delete(ctx context.Context, category string, path string, headers map[string]string, body, result any) error
}

// RestyTransport implements RequestTransport on top of resty, with
// continuous-refill token-bucket rate limiting per category (order,
// cancel, book, ...), matching the reference implementation's
// TokenBucket behavior.
type RestyTransport struct {
	http *resty.Client

	mu       sync.Mutex
	limiters map[string]*TokenBucket
}

// NewRestyTransport constructs a RestyTransport against baseURL, retrying
// up to 3 times on 5xx responses or transport errors.
func NewRestyTransport(baseURL string, timeout time.Duration) *RestyTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &RestyTransport{http: client, limiters: make(map[string]*TokenBucket)}
}

// SetRateLimit configures capacity/refill-rate for category, e.g.
// t.SetRateLimit("order", 350, 50).
func (t *RestyTransport) SetRateLimit(category string, capacity, ratePerSecond float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiters[category] = NewTokenBucket(capacity, ratePerSecond)
}

func (t *RestyTransport) wait(ctx context.Context, category string) error {
	t.mu.Lock()
	bucket := t.limiters[category]
	t.mu.Unlock()
	if bucket == nil {
		return nil
	}
	return bucket.Wait(ctx)
}

// Get implements RequestTransport.
func (t *RestyTransport) Get(ctx context.Context, category, path string, query, headers map[string]string, result any) error {
	if err := t.wait(ctx, category); err != nil {
		return err
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeaders(headers).
		SetResult(result).
		Get(path)
	return checkResp(resp, err, "get", path)
}

// Post implements RequestTransport.
func (t *RestyTransport) Post(ctx context.Context, category, path string, headers map[string]string, body, result any) error {
	if err := t.wait(ctx, category); err != nil {
		return err
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(result).
		Post(path)
	return checkResp(resp, err, "post", path)
}

// Delete implements RequestTransport.
func (t *RestyTransport) Delete(ctx context.Context, category, path string, headers map[string]string, body, result any) error {
	if err := t.wait(ctx, category); err != nil {
		return err
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(result).
		Delete(path)
	return checkResp(resp, err, "delete", path)
}

func checkResp(resp *resty.Response, err error, verb, path string) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s %s: status %d: %s", verb, path, resp.StatusCode(), resp.String())
	}
	return nil
}

// TokenBucket is a continuous-refill token-bucket rate limiter: callers
// block in Wait until a token is available or ctx is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a rate limiter with the given burst capacity and
// per-second refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: ratePerSecond, lastTime: time.Now()}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
