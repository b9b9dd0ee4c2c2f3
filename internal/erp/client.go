package erp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/storefront-gateway/internal/obs"
	"github.com/noah-isme/storefront-gateway/internal/resilience"
)

const maxResponseBytes = 4 << 20

// Options configures a Client.
type Options struct {
	BaseURL     string
	SuiteQLURL  string
	Signer      Signer
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Breaker     *resilience.Breaker
	Transport   http.RoundTripper
	Logger      zerolog.Logger
}

// Client talks to the NetSuite REST and SuiteQL endpoints. Every attempt is
// signed afresh so retries never reuse an OAuth nonce.
type Client struct {
	baseURL    string
	suiteQLURL string
	http       resilience.HTTPClient
	breaker    *resilience.Breaker
	logger     zerolog.Logger
	requests   metric.Int64Counter
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("erp: base url is required")
	}
	suiteQL := strings.TrimSpace(opts.SuiteQLURL)
	if suiteQL == "" {
		suiteQL = base + "/query/v1/suiteql"
	}
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	breaker := opts.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(10, 0.5, 30*time.Second)
	}
	breaker.WithTarget("erp").WithLogger(opts.Logger)

	logger := opts.Logger.With().Str("component", "erp").Logger()
	requests, err := otel.Meter("storefront/erp").Int64Counter("erp.requests",
		metric.WithDescription("ERP requests by operation and result"))
	if err != nil {
		logger.Warn().Err(err).Msg("create erp request counter")
	}

	return &Client{
		baseURL:    base,
		suiteQLURL: suiteQL,
		breaker:    breaker,
		logger:     logger,
		requests:   requests,
		http: resilience.HTTPClient{
			Client: &http.Client{
				Transport: signingTransport{signer: opts.Signer, next: otelhttp.NewTransport(transport)},
			},
			Breaker:     breaker,
			BaseBackoff: opts.BaseBackoff,
			MaxAttempts: opts.MaxAttempts,
			Jitter:      opts.Jitter,
			Timeout:     opts.Timeout,
			Target:      "erp",
			Logger:      &logger,
		},
	}, nil
}

// Ready reports whether the ERP dependency is currently accepting calls.
func (c *Client) Ready(context.Context) error {
	return c.breaker.Err()
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body any, header http.Header) ([]byte, error) {
	start := time.Now()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("erp: %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("erp: %s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.observe(ctx, op, "transport_error", start)
		c.log(ctx).Warn().Err(err).Str("op", op).Msg("erp_request_failed")
		return nil, fmt.Errorf("erp: %s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.observe(ctx, op, "transport_error", start)
		return nil, fmt.Errorf("erp: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result := "client_error"
		if resp.StatusCode >= http.StatusInternalServerError {
			result = "server_error"
		}
		c.observe(ctx, op, result, start)
		c.log(ctx).Warn().Str("op", op).Int("status", resp.StatusCode).Msg("erp_request_rejected")
		return nil, &Error{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	c.observe(ctx, op, "ok", start)
	c.log(ctx).Debug().Str("op", op).Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("erp_request")
	return data, nil
}

func (c *Client) observe(ctx context.Context, op, result string, start time.Time) {
	obs.ObserveERP(op, result, time.Since(start))
	if c.requests != nil {
		c.requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("result", result),
		))
	}
}

func (c *Client) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &c.logger
}

type signingTransport struct {
	signer Signer
	next   http.RoundTripper
}

func (t signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	signed := req.Clone(req.Context())
	if err := t.signer.Sign(signed); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(signed)
}
