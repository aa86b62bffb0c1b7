package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy says which upstream responses earn a single retry. Xtream
// panels rate-limit catalog pulls with 429 + Retry-After, and portals throw
// transient 5xx during their own provider reloads; one bounded retry absorbs
// both without hammering the host.
type RetryPolicy struct {
	Retry429   bool
	Max429Wait time.Duration // cap on honoring Retry-After
	Retry5xx   bool
	Backoff5xx time.Duration
}

// DefaultRetryPolicy retries 429 (Retry-After capped at 60s) and 5xx (1s).
var DefaultRetryPolicy = RetryPolicy{
	Retry429:   true,
	Max429Wait: 60 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 1 * time.Second,
}

// DoWithRetry issues req and retries it exactly once when the policy allows
// it for the response code. Other 4xx pass through untouched. The caller
// owns resp.Body when err is nil.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	wait, retriable := retryDelay(resp, policy)
	if !retriable {
		return resp, nil
	}
	drain(resp)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}
	second, err := retryRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	return client.Do(second)
}

func retryDelay(resp *http.Response, policy RetryPolicy) (time.Duration, bool) {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests && policy.Retry429:
		return parseRetryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait), true
	case resp.StatusCode >= 500 && policy.Retry5xx:
		return policy.Backoff5xx, true
	}
	return 0, false
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// retryRequest rebuilds the request for the second attempt. Any request body
// was consumed by the first attempt; catalog and portal calls carry their
// parameters in the URL, so dropping it is safe.
func retryRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		out.Header[k] = v
	}
	return out, nil
}

// parseRetryAfter reads a Retry-After value, either delta-seconds or an
// HTTP-date, capped at maxWait. Unparseable values wait one second.
func parseRetryAfter(s string, maxWait time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		return min(time.Duration(sec)*time.Second, maxWait)
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		if until := time.Until(t); until > 0 {
			return min(until, maxWait)
		}
		return 0
	}
	return 1 * time.Second
}
