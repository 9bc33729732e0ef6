package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/domain"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// retryBaseDelay scales the attempt² backoff. Tests shrink it.
var retryBaseDelay = time.Second

// statusError is a 429 or 5xx reply from a completion endpoint.
type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, strings.TrimSpace(e.body))
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// doWithRetry sends the request built by buildReq, retrying network errors,
// 429 and 5xx replies. A Retry-After header replaces the computed backoff.
// When retries run out, or the ctx deadline falls before the next attempt
// could start, the last failure is returned as a completion error naming
// the provider.
func doWithRetry(ctx context.Context, client *http.Client, provider string, buildReq func() (*http.Request, error), logger *slog.Logger) (*http.Response, error) {
	logger = logger.With("provider", provider)

	for attempt := 1; ; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		var lastErr error
		var wait time.Duration
		resp, err := client.Do(req)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
		case retryableStatus(resp.StatusCode):
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			se := &statusError{
				status:     resp.StatusCode,
				body:       string(body),
				retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			}
			lastErr, wait = se, se.retryAfter
		default:
			return resp, nil
		}

		if attempt > maxRetries {
			return nil, exhausted(provider, attempt, lastErr)
		}
		if wait <= 0 {
			wait = backoff(attempt)
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			logger.Warn("completion deadline too close to retry", "attempt", attempt, "wait", wait, "err", lastErr)
			return nil, exhausted(provider, attempt, lastErr)
		}

		logger.Warn("completion request failed, retrying", "attempt", attempt, "wait", wait, "err", lastErr)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func exhausted(provider string, attempts int, err error) error {
	return domain.NewError(domain.KindCompletion, fmt.Sprintf("%s: gave up after %d attempts", provider, attempts), err)
}

// backoff grows as attempt² times the base delay plus up to 50% jitter.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt*attempt) * retryBaseDelay
	return base + time.Duration(rand.Int63n(int64(base/2+1)))
}

// parseRetryAfter reads delta-seconds or an HTTP date. Missing or invalid
// values give zero; long waits are capped at maxRetryAfter.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = t.Sub(now)
	}
	if d < 0 {
		return 0
	}
	return min(d, maxRetryAfter)
}
