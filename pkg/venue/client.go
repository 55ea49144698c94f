// Package venue is the signed HTTP client for a trading venue.
//
// Every request carries a freshly computed signature over
// timestamp + method + canonicalPath (query string excluded), a key
// identifier and a nonce. Timestamps are taken at call time, not at signal
// generation time: venues only accept signatures inside a short window and
// a queued request signed early would expire.
package venue

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/phenomenon0/edgetrader/pkg/logging"
	"github.com/phenomenon0/edgetrader/pkg/retry"
	"github.com/phenomenon0/edgetrader/pkg/trader/metrics"
	"github.com/phenomenon0/edgetrader/pkg/trader/tradeerr"
	"github.com/phenomenon0/edgetrader/pkg/venue/signer"
)

// TimestampUnit is the venue's expected timestamp granularity. Venues of
// this class use both; confirm per venue, never assume.
type TimestampUnit string

const (
	Milliseconds TimestampUnit = "ms"
	Seconds      TimestampUnit = "s"
)

// Config configures a venue client.
type Config struct {
	Name          string        `yaml:"name"`
	BaseURL       string        `yaml:"base_url"`
	HeaderPrefix  string        `yaml:"header_prefix"` // e.g. "TRADE" -> TRADE-ACCESS-KEY
	TimestampUnit TimestampUnit `yaml:"timestamp_unit"`
	IncludeNonce  bool          `yaml:"include_nonce"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSec    float64       `yaml:"rate_per_sec"`
	Burst         int           `yaml:"burst"`
	Retry         retry.Policy  `yaml:"-"`
}

// DefaultConfig returns a config with conservative defaults.
func DefaultConfig(name, baseURL string) Config {
	return Config{
		Name:          name,
		BaseURL:       baseURL,
		HeaderPrefix:  "TRADE",
		TimestampUnit: Milliseconds,
		IncludeNonce:  true,
		Timeout:       15 * time.Second,
		RatePerSec:    5,
		Burst:         10,
		Retry:         retry.DefaultPolicy(),
	}
}

// RequestError is a venue-side rejection: the call completed but the venue
// said no. The body is kept verbatim for the execution error surface.
type RequestError struct {
	Venue  string
	Method string
	Path   string
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("venue %s rejected %s %s: status %d: %s",
		e.Venue, e.Method, e.Path, e.Status, e.Body)
}

// Client issues signed requests against one venue.
type Client struct {
	cfg     Config
	signer  signer.Signer
	http    *resty.Client
	limiter *rate.Limiter
}

// New creates a signed client for the venue.
func New(cfg Config, s signer.Signer) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HeaderPrefix == "" {
		cfg.HeaderPrefix = "TRADE"
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	limit := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	// Retries are handled by our own policy so each attempt gets a fresh
	// timestamp and nonce; resty's built-in retry would resend stale ones.
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "edgetrader/1.0")

	return &Client{
		cfg:     cfg,
		signer:  s,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// timestamp renders wall-clock now in the venue's unit.
func (c *Client) timestamp(now time.Time) string {
	if c.cfg.TimestampUnit == Seconds {
		return strconv.FormatInt(now.Unix(), 10)
	}
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// authHeaders computes the per-request authentication headers. A new
// signature and nonce are produced for every call; nothing is cached.
func (c *Client) authHeaders(method, path string) (map[string]string, error) {
	ts := c.timestamp(time.Now())
	sig, err := c.signer.Sign(signer.CanonicalMessage(ts, method, path))
	if err != nil {
		// Signing failure means bad key material. Fatal, not retryable.
		return nil, tradeerr.Wrap(tradeerr.KindAuthenticationFailure,
			"request signing failed; check private key material", err)
	}

	p := c.cfg.HeaderPrefix
	headers := map[string]string{
		p + "-ACCESS-KEY":       c.signer.KeyID(),
		p + "-ACCESS-SIGNATURE": sig,
		p + "-ACCESS-TIMESTAMP": ts,
	}
	if c.cfg.IncludeNonce {
		headers[p+"-ACCESS-NONCE"] = uuid.NewString()
	}
	return headers, nil
}

// Do issues a signed request. The path may include query parameters via
// query; they are sent on the wire but excluded from the signed string.
// 401/403 surface immediately as authentication failures, 5xx and
// transport errors are retried with capped exponential backoff, and any
// other non-2xx returns a RequestError with the body verbatim.
func (c *Client) Do(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	return c.cfg.Retry.Do(ctx, func(attempt int) error {
		if attempt > 0 {
			logging.Debugf("[venue:%s] retrying %s %s (attempt %d)", c.cfg.Name, method, path, attempt+1)
		}
		return c.doOnce(ctx, method, path, query, body, out)
	}, tradeerr.Retryable)
}

func (c *Client) observe(outcome string) {
	metrics.VenueRequests.WithLabelValues(c.cfg.Name, outcome).Inc()
}

func (c *Client) doOnce(ctx context.Context, method, path string, query map[string]string, body, out any) error {
	headers, err := c.authHeaders(method, path)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetHeaders(headers)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json")
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			// Caller deadline or cancellation: propagate as-is so the
			// executor can audit it as cancelled, not as an error.
			c.observe("cancelled")
			return ctx.Err()
		}
		c.observe("network_error")
		return tradeerr.Wrap(tradeerr.KindNetworkFailure,
			fmt.Sprintf("%s %s %s failed", c.cfg.Name, method, path),
			errors.WithStack(err))
	}

	status := resp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		c.observe("ok")
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		// Retrying with a stale timestamp cannot succeed; surface now.
		c.observe("auth_failure")
		return &tradeerr.Error{
			Kind:   tradeerr.KindAuthenticationFailure,
			Reason: "venue rejected request authentication",
			Venue:  c.cfg.Name,
			Path:   path,
			Status: status,
			Err:    &RequestError{Venue: c.cfg.Name, Method: method, Path: path, Status: status, Body: string(resp.Body())},
		}
	case status >= 500 || status == http.StatusTooManyRequests:
		c.observe("unavailable")
		return &tradeerr.Error{
			Kind:   tradeerr.KindNetworkFailure,
			Reason: "venue unavailable",
			Venue:  c.cfg.Name,
			Path:   path,
			Status: status,
			Err:    &RequestError{Venue: c.cfg.Name, Method: method, Path: path, Status: status, Body: string(resp.Body())},
		}
	default:
		c.observe("rejected")
		return &RequestError{Venue: c.cfg.Name, Method: method, Path: path, Status: status, Body: string(resp.Body())}
	}
}
