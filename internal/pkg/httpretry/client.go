// Package httpretry retries transient failures of outbound HTTP calls with
// jittered exponential backoff. The ad network client sends every mutation
// through it.
package httpretry

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ignite/spend-optimizer/internal/pkg/logger"
)

// AttemptHeader carries the 1-based attempt number on every request so the
// remote side can tell a retry from a new mutation.
const AttemptHeader = "X-Attempt"

// ErrBodyNotReplayable means a retry was needed but the request body could
// not be rewound.
var ErrBodyNotReplayable = errors.New("httpretry: request body cannot be replayed")

// HTTPDoer executes a request. *http.Client and *RetryClient implement it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries 429/5xx responses and transport errors.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	base       time.Duration
	ceiling    time.Duration
	floor      time.Duration
	log        *logger.Logger
}

// Option customizes a RetryClient.
type Option func(*RetryClient)

// WithBackoff overrides the base and maximum backoff delays.
func WithBackoff(base, ceiling time.Duration) Option {
	return func(rc *RetryClient) {
		rc.base = base
		rc.ceiling = ceiling
		if base < rc.floor {
			rc.floor = base
		}
	}
}

// NewRetryClient wraps client, or a 30s http.Client when nil. maxRetries
// counts attempts after the first and defaults to 3.
func NewRetryClient(client HTTPDoer, maxRetries int, opts ...Option) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rc := &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		base:       time.Second,
		ceiling:    30 * time.Second,
		floor:      100 * time.Millisecond,
		log:        logger.Component("httpretry"),
	}
	for _, o := range opts {
		o(rc)
	}
	return rc
}

// Do sends req, retrying while the failure is transient. The last response
// is returned as-is once retries run out so the caller can read the status
// and body. Cancelling the request context stops the loop immediately.
func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var lastErr error
	var wait time.Duration

	for attempt := 1; attempt <= rc.maxRetries+1; attempt++ {
		if attempt > 1 {
			if err := rewind(req); err != nil {
				return nil, err
			}
			rc.log.Warn("retrying request", "attempt", attempt, "method", req.Method,
				"host", req.URL.Host, "path", req.URL.Path, "wait", wait, "last_error", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, firstErr(lastErr, ctx.Err())
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, firstErr(lastErr, err)
		}

		req.Header.Set(AttemptHeader, strconv.Itoa(attempt))
		resp, err := rc.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			wait = rc.backoff(attempt)
			continue
		}
		if !IsRetryableStatus(resp.StatusCode) || attempt == rc.maxRetries+1 {
			return resp, nil
		}

		wait = rc.backoff(attempt)
		if ra, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			wait = min(ra, rc.ceiling)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// backoff is full jitter over base*2^(attempt-1), capped at the ceiling and
// never below the floor.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	d := rc.base << (attempt - 1)
	if d <= 0 || d > rc.ceiling {
		d = rc.ceiling
	}
	j := time.Duration(rand.Int63n(int64(d) + 1))
	return max(j, rc.floor)
}

func rewind(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	if req.GetBody == nil {
		return ErrBodyNotReplayable
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("httpretry: rewind body: %w", err)
	}
	req.Body = body
	return nil
}

// retryAfter parses the delay-seconds form of Retry-After.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// IsRetryableStatus reports whether a status is worth another attempt.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
