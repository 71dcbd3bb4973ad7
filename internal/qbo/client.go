package qbo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/config"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/metrics"
	"github.com/sbienstock98/BBS-QBO-Pipeline/internal/token"
)

const (
	backoffBase = 500 * time.Millisecond
	backoffMax  = 30 * time.Second
)

// Client issues authenticated requests against the QBO REST API for one
// tenant. All requests for the tenant share one token bucket sized to the
// provider's requests-per-minute ceiling; callers block when the bucket is
// empty. Rate-limit and transient failures are retried with capped
// exponential backoff; an authentication failure triggers exactly one token
// refresh before escalating.
type Client struct {
	cfg      config.QBOConfig
	tokens   *token.Manager
	clientID string
	limiter  *rate.Limiter
	http     *http.Client
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// NewClient creates a Client for one tenant.
func NewClient(cfg config.QBOConfig, tokens *token.Manager, clientID string, log zerolog.Logger) *Client {
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 500
	}
	return &Client{
		cfg:      cfg,
		tokens:   tokens,
		clientID: clientID,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), 1),
		http: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log.With().Str("client_id", clientID).Logger(),
	}
}

// WithMetrics attaches request and retry counters to the client.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// ClientID returns the tenant this client is bound to.
func (c *Client) ClientID() string { return c.clientID }

// PageSize returns the configured MAXRESULTS page size.
func (c *Client) PageSize() int { return c.cfg.PageSize }

// request performs one logical API call with rate limiting, retries, and the
// single-refresh auth policy, returning the response body.
func (c *Client) request(ctx context.Context, method, path string, params url.Values, body []byte, contentType string) ([]byte, error) {
	var (
		refreshed bool
		lastErr   error
	)

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		access, realm, err := c.tokens.Access(ctx, c.clientID)
		if err != nil {
			return nil, &AuthError{ClientID: c.clientID, Err: err}
		}

		// A literal "{realm}" in the path is filled with the tenant's realm
		// ID, e.g. /companyinfo/{realm}.
		reqURL := fmt.Sprintf("%s/%s/company/%s%s", c.cfg.BaseURL, c.cfg.APIVersion, realm, strings.ReplaceAll(path, "{realm}", realm))
		q := url.Values{}
		for k, vs := range params {
			q[k] = vs
		}
		q.Set("minorversion", strconv.Itoa(c.cfg.MinorVersion))
		reqURL += "?" + q.Encode()

		req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+access)
		req.Header.Set("Accept", "application/json")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.countRequest("error")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt >= c.cfg.MaxRetries {
				return nil, &TransientError{ClientID: c.clientID, Attempts: attempt + 1, Err: lastErr}
			}
			c.countRetry("transport")
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}
			continue
		}
		c.countRequest(statusClass(resp.StatusCode))

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt >= c.cfg.MaxRetries {
				return nil, &TransientError{ClientID: c.clientID, Attempts: attempt + 1, Err: lastErr}
			}
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return respBody, nil

		case resp.StatusCode == http.StatusUnauthorized:
			if refreshed {
				return nil, &AuthError{ClientID: c.clientID, Err: fmt.Errorf("request unauthorized after token refresh")}
			}
			refreshed = true
			c.log.Info().Str("path", path).Msg("got 401, refreshing token and retrying once")
			if _, err := c.tokens.Refresh(ctx, c.clientID); err != nil {
				return nil, &AuthError{ClientID: c.clientID, Err: err}
			}
			// The auth retry is not counted against the backoff budget.
			c.countRetry("auth_refresh")
			attempt--

		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("%s %s: status 429", method, path)
			if attempt >= c.cfg.MaxRetries {
				return nil, &RateLimitError{ClientID: c.clientID, Attempts: attempt + 1, Err: lastErr}
			}
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			c.countRetry("rate_limit")
			c.log.Warn().Str("path", path).Dur("retry_after", retryAfter).Msg("rate limited by provider, backing off")
			if err := c.backoff(ctx, attempt, retryAfter); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
			if attempt >= c.cfg.MaxRetries {
				return nil, &TransientError{ClientID: c.clientID, Attempts: attempt + 1, Err: lastErr}
			}
			c.countRetry("server_error")
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, truncate(respBody, 200))
		}
	}
}

// backoff sleeps for an exponentially growing delay with jitter, or for
// retryAfter when the provider supplied one. Respects context cancellation.
func (c *Client) backoff(ctx context.Context, attempt int, retryAfter time.Duration) error {
	delay := retryAfter
	if delay <= 0 {
		delay = backoffBase << uint(attempt)
		if delay > backoffMax {
			delay = backoffMax
		}
		delay += time.Duration(rand.Int63n(int64(delay / 2)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// parseRetryAfter parses a Retry-After header as seconds or an HTTP date.
// Returns 0 when the header is absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) countRequest(status string) {
	if c.metrics != nil {
		c.metrics.APIRequestsTotal.WithLabelValues(c.clientID, status).Inc()
	}
}

func (c *Client) countRetry(cause string) {
	if c.metrics != nil {
		c.metrics.APIRetriesTotal.WithLabelValues(c.clientID, cause).Inc()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
