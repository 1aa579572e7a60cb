// Package httpx holds the outbound HTTP plumbing shared by the Fieldwire
// client and the Teams deliverer.
package httpx

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	logx "fieldbridge/pkg/logx"
)

// RetryPolicy mirrors a classic "total retries + backoff factor" policy.
//
// Max is the number of retries after the first attempt; 0 disables retrying.
// Defaults for the remaining fields (when zero):
//   - Backoff: 1s factor, delays 1s, 2s, 4s, ...
//   - MaxRetryAfter: 30s
//   - Statuses: 429, 500, 502, 503, 504
type RetryPolicy struct {
	Max           int
	Backoff       time.Duration
	MaxDelay      time.Duration
	MaxRetryAfter time.Duration
	Statuses      []int
}

// DefaultRetryStatuses are the transient statuses worth another attempt.
var DefaultRetryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Max < 0 {
		p.Max = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Minute
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = 30 * time.Second
	}
	if len(p.Statuses) == 0 {
		p.Statuses = DefaultRetryStatuses
	}
	return p
}

func (p RetryPolicy) retryable(code int) bool {
	for _, s := range p.Statuses {
		if s == code {
			return true
		}
	}
	return false
}

// Delay returns the backoff before retry number n (1-based): Backoff * 2^(n-1).
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.withDefaults()
	d := p.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// RetryTransport retries transport errors and retryable statuses.
// Request bodies are replayed through Request.GetBody, so only requests
// built by http.NewRequest from in-memory readers are retried with a body.
type RetryTransport struct {
	Base   http.RoundTripper
	Policy RetryPolicy
	Log    logx.Logger

	// AttemptTimeout bounds each attempt (not the whole retry sequence).
	// Zero means no per-attempt bound.
	AttemptTimeout time.Duration

	// Sleep is swappable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewClient returns an http.Client with a per-request timeout that retries
// according to p.
func NewClient(timeout time.Duration, p RetryPolicy, log logx.Logger) *http.Client {
	rt := NewRetryTransport(nil, p, log)
	rt.AttemptTimeout = timeout
	return &http.Client{Transport: rt}
}

func NewRetryTransport(base http.RoundTripper, p RetryPolicy, log logx.Logger) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &RetryTransport{Base: base, Policy: p.withDefaults(), Log: log, Sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	p := t.Policy.withDefaults()
	sleep := t.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	ctx := req.Context()

	for retry := 0; ; retry++ {
		r := req
		if retry > 0 {
			r = req.Clone(ctx)
			if req.Body != nil && req.Body != http.NoBody {
				if req.GetBody == nil {
					return nil, errNoReplay
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, err
				}
				r.Body = body
			}
		}

		resp, err := t.attempt(r)
		canRetry := retry < p.Max && ctx.Err() == nil
		if err != nil {
			if !canRetry {
				return nil, err
			}
			delay := p.Delay(retry + 1)
			t.Log.Warn("request failed; retrying",
				logx.String("method", req.Method), logx.String("host", req.URL.Host),
				logx.Int("retry", retry+1), logx.Duration("backoff", delay), logx.Err(err))
			if serr := sleep(ctx, delay); serr != nil {
				return nil, err
			}
			continue
		}
		if !canRetry || !p.retryable(resp.StatusCode) {
			return resp, nil
		}

		delay := p.Delay(retry + 1)
		if ra, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			delay = min(ra, p.MaxRetryAfter)
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()

		t.Log.Warn("transient status; retrying",
			logx.String("method", req.Method), logx.String("host", req.URL.Host),
			logx.Int("status", resp.StatusCode), logx.Int("retry", retry+1), logx.Duration("backoff", delay))
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (t *RetryTransport) attempt(r *http.Request) (*http.Response, error) {
	if t.AttemptTimeout <= 0 {
		return t.Base.RoundTrip(r)
	}
	ctx, cancel := context.WithTimeout(r.Context(), t.AttemptTimeout)
	resp, err := t.Base.RoundTrip(r.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelBody releases the attempt context once the caller is done with the body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// retryAfter parses a Retry-After header in seconds or HTTP-date form.
func retryAfter(h string, now time.Time) (time.Duration, bool) {
	if h == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(h); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
