package trados

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"trados-tasks-go/internal/auth"
	"trados-tasks-go/internal/metrics"
	"trados-tasks-go/internal/worker"
)

const (
	DefaultBaseURL       = "https://api.{region}.cloud.trados.com/public-api/v1"
	DefaultGlobalBaseURL = "https://api.cloud.trados.com/public-api/v1"
	DefaultPortalURL     = "https://{region}.cloud.trados.com/lc/t/{tenant}/dashboard"

	tenantHeader    = "X-LC-Tenant"
	maxResponseSize = 10 << 20
	maxPages        = 1000
)

// Config controls request pacing, paging and retries.
type Config struct {
	// BaseURL may contain {region}.
	BaseURL           string
	GlobalBaseURL     string
	PageSize          int
	Timeout           time.Duration
	MaxRetries        int
	RetryPause        time.Duration
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		GlobalBaseURL:     DefaultGlobalBaseURL,
		PageSize:          100,
		Timeout:           60 * time.Second,
		MaxRetries:        2,
		RetryPause:        time.Second,
		RequestsPerSecond: 5,
		Burst:             5,
	}
}

// RegionURL substitutes region into a URL template.
func RegionURL(template, region string) string {
	return strings.ReplaceAll(template, "{region}", region)
}

// PortalURL returns the web dashboard address for a tenant.
func PortalURL(template, region, tenantID string) string {
	if template == "" {
		return ""
	}
	return strings.ReplaceAll(RegionURL(template, region), "{tenant}", url.PathEscape(tenantID))
}

// Client talks to the public API of one region. It is safe for concurrent
// use; every tenant in the region shares its rate limiter.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	pool       *worker.WorkerPool
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewClient creates a new Client for region. Word count lookups run on
// pool when it is non-nil, sequentially otherwise.
func NewClient(cfg Config, region string, pool *worker.WorkerPool, clock clockwork.Clock, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.GlobalBaseURL == "" {
		cfg.GlobalBaseURL = def.GlobalBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(RegionURL(cfg.BaseURL, region), "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		pool:       pool,
		clock:      clock,
		logger:     logger.With("component", "trados", "region", region),
	}
}

// request describes one GET against the API.
type request struct {
	base     string
	path     string
	query    url.Values
	tenantID string
	endpoint string
}

// get performs an idempotent GET, retrying server errors a bounded number
// of times, and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, token auth.AccessToken, r request, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.getOnce(ctx, token, r, out)
		if err == nil {
			return nil
		}
		ae, ok := AsAPIError(err)
		if !ok || !ae.Retryable() || attempt >= c.cfg.MaxRetries {
			return err
		}

		pause := c.cfg.RetryPause * time.Duration(attempt+1)
		c.logger.Debug("retrying api request",
			"endpoint", r.endpoint, "attempt", attempt+1, "pause", pause, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(pause):
		}
	}
}

func (c *Client) getOnce(ctx context.Context, token auth.AccessToken, r request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	u := r.base + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.tenantID != "" {
		req.Header.Set(tenantHeader, r.tenantID)
	}
	token.OAuth2().SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.fail(&APIError{Kind: KindServerError, Endpoint: r.endpoint, Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.fail(&APIError{Kind: KindServerError, StatusCode: resp.StatusCode, Endpoint: r.endpoint, Err: err})
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(body, out); err != nil {
			return c.fail(&APIError{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Endpoint: r.endpoint, Err: err})
		}
		metrics.APIRequests.WithLabelValues(r.endpoint, "ok").Inc()
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return c.fail(&APIError{Kind: KindUnauthorized, StatusCode: resp.StatusCode, Endpoint: r.endpoint, Err: serverMessage(body)})
	case resp.StatusCode == http.StatusTooManyRequests:
		return c.fail(&APIError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now()),
			Endpoint:   r.endpoint,
		})
	case resp.StatusCode >= 500:
		return c.fail(&APIError{Kind: KindServerError, StatusCode: resp.StatusCode, Endpoint: r.endpoint, Err: serverMessage(body)})
	default:
		return c.fail(&APIError{Kind: KindMalformedResponse, StatusCode: resp.StatusCode, Endpoint: r.endpoint, Err: serverMessage(body)})
	}
}

func (c *Client) fail(err *APIError) error {
	metrics.APIRequests.WithLabelValues(err.Endpoint, err.Kind.String()).Inc()
	return err
}

// serverMessage pulls the human readable part of an error body, if any.
func serverMessage(body []byte) error {
	if !gjson.ValidBytes(body) {
		return nil
	}
	for _, path := range []string{"message", "error_description", "error.message", "errorCode"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return errors.New(v.String())
		}
	}
	return nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

type page[T any] struct {
	Items     []T `json:"items"`
	ItemCount int `json:"itemCount"`
}

// fetchPages follows top/skip paging until a short page or itemCount is
// reached.
func fetchPages[T any](ctx context.Context, c *Client, token auth.AccessToken, r request) ([]T, error) {
	var all []T
	top := c.cfg.PageSize
	for skip, n := 0, 0; ; skip, n = skip+top, n+1 {
		if n >= maxPages {
			return nil, &APIError{Kind: KindMalformedResponse, Endpoint: r.endpoint,
				Err: fmt.Errorf("more than %d pages", maxPages)}
		}

		q := url.Values{}
		for k, v := range r.query {
			q[k] = v
		}
		q.Set("top", strconv.Itoa(top))
		q.Set("skip", strconv.Itoa(skip))
		paged := r
		paged.query = q

		var p page[T]
		if err := c.get(ctx, token, paged, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Items...)

		if len(p.Items) < top || (p.ItemCount > 0 && len(all) >= p.ItemCount) {
			return all, nil
		}
	}
}
