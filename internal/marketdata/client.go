// Package marketdata fetches market summaries from the external market-data
// API and extracts scalar metric values from them.
package marketdata

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
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dwsmith1983/metricwatch/internal/mwerr"
	"github.com/dwsmith1983/metricwatch/pkg/types"
)

// DefaultEnvelope is the top-level key wrapping the summary payload.
const DefaultEnvelope = "result"

// maxBodyBytes caps how much of a summary response is read.
const maxBodyBytes = 1 << 20

// Summary is a decoded market summary payload.
type Summary map[string]interface{}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration // per request; defaults to types.DefaultMarketDataTimeout
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Envelope is the key holding the payload; "-" disables unwrapping.
	Envelope string
	// BreakerFailures is the consecutive failure count that opens the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
}

// Client calls GET {baseURL}/markets/{market}/{pair}/summary.
type Client struct {
	baseURL  string
	timeout  time.Duration
	envelope string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = types.DefaultMarketDataTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Envelope {
	case "":
		opts.Envelope = DefaultEnvelope
	case "-":
		opts.Envelope = ""
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		timeout:  opts.Timeout,
		envelope: opts.Envelope,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
	failures := opts.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "marketdata",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A payload we cannot parse means the API answered; only transport
		// failures count toward tripping.
		IsSuccessful: func(err error) bool {
			return err == nil || mwerr.KindOf(err) == mwerr.KindSchemaMismatch
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("marketdata: breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// FromConfig creates a Client from project config.
func FromConfig(cfg types.MarketDataConfig, logger *slog.Logger) *Client {
	return New(Options{BaseURL: cfg.BaseURL, Timeout: cfg.FetchTimeout(), Logger: logger})
}

// SummaryURL returns the summary endpoint for (market, pair) with escaped segments.
func (c *Client) SummaryURL(market, pair string) string {
	return fmt.Sprintf("%s/markets/%s/%s/summary", c.baseURL, url.PathEscape(market), url.PathEscape(pair))
}

// Summary fetches and decodes one market summary.
func (c *Client) Summary(ctx context.Context, market, pair string) (Summary, error) {
	v, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, market, pair)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, mwerr.Wrap(mwerr.KindFetchFailed, err, "summary %s/%s", market, pair)
		}
		return nil, err
	}
	return v.(Summary), nil
}

func (c *Client) fetch(ctx context.Context, market, pair string) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.SummaryURL(market, pair), nil)
	if err != nil {
		return nil, mwerr.Wrap(mwerr.KindFetchFailed, err, "creating summary request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, mwerr.Wrap(mwerr.KindTimeout, ctx.Err(), "summary %s/%s after %s", market, pair, c.timeout)
		}
		return nil, mwerr.Wrap(mwerr.KindFetchFailed, err, "summary %s/%s", market, pair)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, mwerr.Wrap(mwerr.KindTimeout, ctx.Err(), "reading summary %s/%s", market, pair)
		}
		return nil, mwerr.Wrap(mwerr.KindFetchFailed, err, "reading summary %s/%s", market, pair)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, mwerr.New(mwerr.KindFetchFailed, "summary %s/%s: status %d: %s",
			market, pair, resp.StatusCode, truncate(string(body), 200))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, mwerr.Wrap(mwerr.KindSchemaMismatch, err, "decoding summary %s/%s", market, pair)
	}
	if c.envelope == "" {
		return Summary(doc), nil
	}
	inner, ok := doc[c.envelope].(map[string]interface{})
	if !ok {
		return nil, mwerr.New(mwerr.KindSchemaMismatch, "summary %s/%s: missing %q object", market, pair, c.envelope)
	}
	return Summary(inner), nil
}

// Extract walks path through s and returns the numeric leaf.
func Extract(s Summary, path []string) (float64, error) {
	if len(path) == 0 || len(path) > types.MaxAccessPathDepth {
		return 0, mwerr.New(mwerr.KindSchemaMismatch, "access path must have 1 to %d keys, got %d", types.MaxAccessPathDepth, len(path))
	}
	var cur interface{} = map[string]interface{}(s)
	for i, key := range path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return 0, mwerr.New(mwerr.KindSchemaMismatch, "access path %s: %q is not an object", strings.Join(path, "."), strings.Join(path[:i], "."))
		}
		cur, ok = obj[key]
		if !ok {
			return 0, mwerr.New(mwerr.KindSchemaMismatch, "access path %s: missing key %q", strings.Join(path, "."), key)
		}
	}
	switch v := cur.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, mwerr.Wrap(mwerr.KindSchemaMismatch, err, "access path %s", strings.Join(path, "."))
		}
		return f, nil
	case float64:
		return v, nil
	default:
		return 0, mwerr.New(mwerr.KindSchemaMismatch, "access path %s: leaf is %T, not a number", strings.Join(path, "."), cur)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
