package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultUpstreamTimeout = 30 * time.Second
	defaultUpstreamRetries = 3
	defaultUpstreamDelay   = 2 * time.Second
)

// ErrUpstreamRateLimited is returned when the public faucet answers 429.
// Rate limits are never retried; the caller surfaces them to the client.
var ErrUpstreamRateLimited = errors.New("upstream faucet rate limited")

// digestPaths lists the response fields that may carry the transfer
// digest, in priority order. The public faucet has changed its response
// shape across releases; the first non-empty match wins.
var digestPaths = []string{
	"digest",
	"task.digest",
	"transaction_digest",
	"transferredGasObjects.0.transferTxDigest",
	"task",
}

// Upstream posts token requests to the public faucet. It is the dispatch
// path used when no signing key is configured or the operator has
// switched the faucet mode to sdk.
type Upstream struct {
	url     string
	client  *http.Client
	logger  *slog.Logger
	retries int
	delay   time.Duration
}

// UpstreamOption configures an Upstream.
type UpstreamOption func(*Upstream)

// WithRetryDelay overrides the base backoff delay between attempts.
func WithRetryDelay(d time.Duration) UpstreamOption {
	return func(u *Upstream) { u.delay = d }
}

// WithUpstreamClient swaps the HTTP client.
func WithUpstreamClient(c *http.Client) UpstreamOption {
	return func(u *Upstream) { u.client = c }
}

// UpstreamURL returns the public faucet endpoint for a network.
func UpstreamURL(network string) string {
	return fmt.Sprintf("https://faucet.%s.sui.io/gas", network)
}

// NewUpstream returns a client for the given faucet endpoint.
func NewUpstream(endpoint string, logger *slog.Logger, opts ...UpstreamOption) *Upstream {
	u := &Upstream{
		url:     endpoint,
		client:  &http.Client{Timeout: defaultUpstreamTimeout},
		logger:  logger,
		retries: defaultUpstreamRetries,
		delay:   defaultUpstreamDelay,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// RequestTokens asks the upstream faucet to fund recipient and returns
// the transfer digest. Network failures and 5xx responses are retried
// with exponential backoff; rate limits and client errors are not.
func (u *Upstream) RequestTokens(ctx context.Context, recipient string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"FixedAmountRequest": map[string]string{"recipient": recipient},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal faucet request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		digest, err := u.post(ctx, payload)
		if err == nil {
			return digest, nil
		}
		if !isTransient(err) || attempt >= u.retries {
			return "", err
		}

		delay := u.delay << uint(attempt)
		u.logger.Warn("upstream_retry",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (u *Upstream) post(ctx context.Context, payload []byte) (string, error) {
	ctx, span := otel.Tracer("faucet.chain").Start(ctx, "upstream.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", u.url)),
	)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, "POST", u.url, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create request failed")
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := u.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read response failed")
		return "", fmt.Errorf("failed to read upstream response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		span.SetStatus(codes.Error, "rate limited")
		return "", ErrUpstreamRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		se.ParseRetryAfter(resp.Header.Get("Retry-After"))
		span.RecordError(se)
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		return "", se
	}

	digest := extractDigest(body)
	if digest == "" {
		span.SetStatus(codes.Error, "no digest in response")
		return "", fmt.Errorf("upstream response carried no digest")
	}
	span.SetStatus(codes.Ok, "")
	return digest, nil
}

// extractDigest walks digestPaths and returns the first non-empty string
// value found in the response body.
func extractDigest(body []byte) string {
	for _, path := range digestPaths {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// isTransient reports whether err is worth retrying: transport failures
// and 5xx responses. Rate limits and 4xx responses are permanent.
func isTransient(err error) bool {
	if errors.Is(err, ErrUpstreamRateLimited) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= http.StatusInternalServerError
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
