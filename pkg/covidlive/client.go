// Package covidlive provides a client for covidlive.com.au, which
// publishes per-LGA daily case tables for Victoria.
package covidlive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/melbdata/enrich-cli/internal/resilience"
)

// Record is one observation from the daily cases table: the cumulative
// case count on a date.
type Record struct {
	Date       time.Time
	Cumulative int
}

// Client defines the covidlive operations.
type Client interface {
	// FetchLGA fetches the daily case history for a local government area,
	// oldest record first.
	FetchLGA(ctx context.Context, lga string) ([]Record, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a covidlive client with a 2 req/s rate limit and three
// attempts per fetch.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://covidlive.com.au",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 1),
		retry: resilience.RetryConfig{
			MaxAttempts: 3,
			OnRetry:     resilience.RetryLogger("covidlive", "fetch_lga"),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) FetchLGA(ctx context.Context, lga string) ([]Record, error) {
	if strings.TrimSpace(lga) == "" {
		return nil, eris.New("covidlive: empty lga name")
	}
	reqURL := fmt.Sprintf("%s/vic/%s", c.baseURL, Slug(lga))

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		if waitErr := c.limiter.Wait(ctx); waitErr != nil {
			return nil, eris.Wrap(waitErr, "covidlive: rate limit wait")
		}

		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if reqErr != nil {
			return nil, eris.Wrap(reqErr, "covidlive: create request")
		}
		req.Header.Set("Accept", "text/html")

		resp, doErr := c.http.Do(req)
		if doErr != nil {
			return nil, eris.Wrap(doErr, "covidlive: request")
		}
		defer resp.Body.Close()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, eris.Wrap(readErr, "covidlive: read body")
		}

		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(
				eris.Errorf("covidlive: status %d", resp.StatusCode), resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, eris.Errorf("covidlive: status %d for %s", resp.StatusCode, reqURL)
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}

	records, err := parseDailyCases(string(body))
	if err != nil {
		return nil, eris.Wrapf(err, "covidlive: %s", lga)
	}
	return records, nil
}

// Slug converts an LGA name to the site's URL form: lowercase with spaces
// as dashes ("Greater Dandenong" becomes "greater-dandenong").
func Slug(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, "-")
}
