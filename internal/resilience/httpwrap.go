package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient wraps an http.Client with retry, timeout and circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	// MaxRetryAfter caps how long a Retry-After header may delay the next attempt.
	MaxRetryAfter time.Duration
	Target        string
	Logger        *zerolog.Logger
	Fallback      func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes the request applying retry semantics. The request body is
// buffered so every attempt sends the same payload. Transport errors, 429 and
// 5xx responses are retried; once attempts are exhausted the last response is
// returned to the caller unchanged so it can surface the downstream error body.
// When the breaker is open ErrOpenCircuit is returned unless a fallback is
// configured. Without a Breaker every attempt is admitted.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	originalBody, err := ensureReplayableBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !breaker.Allow(ctx) {
			lastErr = ErrOpenCircuit
			break
		}
		attemptReq := cloneRequestWithContext(ctx, req, originalBody)
		resp, err := cl.doOnce(attemptReq)
		if err == nil && !retryableStatus(resp.StatusCode) {
			breaker.Report(ctx, resp.StatusCode < http.StatusInternalServerError)
			return resp, nil
		}
		breaker.Report(ctx, false)
		if attempt == maxAttempts {
			if err == nil {
				return resp, nil
			}
			lastErr = err
			break
		}

		sleepFor := Backoff(baseBackoff, attempt, cl.Jitter)
		if err == nil {
			lastErr = errors.New(resp.Status)
			if wait, ok := cl.retryAfter(resp); ok {
				sleepFor = wait
			}
			drain(resp)
		} else {
			lastErr = err
		}
		cl.logRetry(ctx, req, attempt, sleepFor, lastErr)
		if RetriesTotal != nil {
			RetriesTotal.WithLabelValues(cl.targetLabel()).Inc()
		}

		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

func (cl HTTPClient) doOnce(req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) retryAfter(resp *http.Response) (time.Duration, bool) {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	wait := time.Duration(secs) * time.Second
	limit := cl.MaxRetryAfter
	if limit <= 0 {
		limit = 5 * time.Second
	}
	if wait > limit {
		wait = limit
	}
	return wait, true
}

func (cl HTTPClient) logRetry(ctx context.Context, req *http.Request, attempt int, wait time.Duration, cause error) {
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled && cl.Logger != nil {
		logger = cl.Logger
	}
	logger.Warn().
		Str("target", cl.targetLabel()).
		Str("method", req.Method).
		Int("attempt", attempt).
		Dur("backoff", wait).
		Err(cause).
		Msg("http_retry")
}

func (cl HTTPClient) targetLabel() string {
	if t := strings.TrimSpace(cl.Target); t != "" {
		return t
	}
	return "default"
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func ensureReplayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	var (
		data []byte
		err  error
	)
	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, gerr
		}
		data, err = io.ReadAll(body)
		_ = body.Close()
	} else {
		data, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}

func cloneRequestWithContext(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
