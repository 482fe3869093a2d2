// Package client provides the core Helix HTTP client with token handling,
// rate limiting, and retries.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/helix-client/pkg/auth"
	"github.com/Sternrassler/helix-client/pkg/credentials"
	"github.com/Sternrassler/helix-client/pkg/logging"
	"github.com/Sternrassler/helix-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"
)

// DefaultBaseURL is the root of the Helix API.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// Prometheus metrics for Helix client operations.
var (
	helixRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_requests_total",
		Help: "Total Helix requests by endpoint and status",
	}, []string{"endpoint", "status"})

	helixRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helix_request_duration_seconds",
		Help:    "Helix call duration in seconds by endpoint, including waits and retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	helixErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helix_errors_total",
		Help: "Total Helix errors by class",
	}, []string{"class"})
)

// Client is the main Helix client. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	auth        *auth.Authority
	rateLimiter *ratelimit.Tracker
	retry       RetryPolicy
	config      Config
	logger      zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header, sent with every request including token requests.
	UserAgent string

	// ClientID is the application's client ID, sent as the Client-ID header.
	ClientID string

	// Credentials is a client secret, a token, or both.
	Credentials credentials.Credentials

	// Endpoints (default: DefaultBaseURL and auth.DefaultTokenURL)
	BaseURL  string
	TokenURL string

	// Redis shares the rate limit cooldown with other clients. Optional.
	Redis *redis.Client

	// Client-side rate limiting, disabled when RequestsPerSecond is zero.
	RequestsPerSecond float64
	Burst             int

	// Retry of server and network failures. MaxRetries zero retries forever,
	// RetryBackoff zero retries immediately.
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration

	// Timeout of a single HTTP exchange.
	Timeout time.Duration

	// Transport used underneath the header-injecting transport
	// (default: http.DefaultTransport).
	Transport http.RoundTripper
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent, clientID string, creds credentials.Credentials) Config {
	return Config{
		UserAgent:       userAgent,
		ClientID:        clientID,
		Credentials:     creds,
		BaseURL:         DefaultBaseURL,
		TokenURL:        auth.DefaultTokenURL,
		MaxRetries:      0,
		RetryBackoff:    0,
		MaxRetryBackoff: 30 * time.Second,
		Timeout:         30 * time.Second,
	}
}

// New creates a new Helix client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, &ConfigError{Field: "user-agent", Message: "is required"}
	}
	if !httpguts.ValidHeaderFieldValue(cfg.UserAgent) {
		return nil, &ConfigError{Field: "user-agent", Message: "not a valid header value"}
	}

	if cfg.ClientID == "" {
		return nil, &ConfigError{Field: "client-id", Message: "is required"}
	}
	if !httpguts.ValidHeaderFieldValue(cfg.ClientID) {
		return nil, &ConfigError{Field: "client-id", Message: "not a valid header value"}
	}

	if err := credentials.Validate(cfg.Credentials); err != nil {
		return nil, &ConfigError{Field: "credentials", Message: err.Error()}
	}
	if tok, ok := cachedToken(cfg.Credentials); ok && !httpguts.ValidHeaderFieldValue("Bearer "+tok) {
		return nil, &ConfigError{Field: "credentials", Message: "token is not a valid header value"}
	}

	if cfg.MaxRetries < 0 {
		return nil, &ConfigError{Field: "max-retries", Message: fmt.Sprintf("must be >= 0 (got %d)", cfg.MaxRetries)}
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if err := checkEndpoint("base-url", cfg.BaseURL); err != nil {
		return nil, err
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = auth.DefaultTokenURL
	}
	if err := checkEndpoint("token-url", cfg.TokenURL); err != nil {
		return nil, err
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &headerTransport{
			base:      base,
			userAgent: cfg.UserAgent,
			clientID:  cfg.ClientID,
		},
	}

	trackerOpts := []ratelimit.Option{
		ratelimit.WithRequestRate(cfg.RequestsPerSecond, cfg.Burst),
	}
	if cfg.Redis != nil {
		trackerOpts = append(trackerOpts, ratelimit.WithRedis(cfg.Redis))
	}

	store := credentials.NewStore(cfg.Credentials)

	return &Client{
		httpClient:  httpClient,
		auth:        auth.NewAuthority(store, cfg.ClientID, cfg.TokenURL, httpClient, logging.NewLogger(logging.ComponentAuth)),
		rateLimiter: ratelimit.NewTracker(logging.NewLogger(logging.ComponentRateLimit), trackerOpts...),
		retry: RetryPolicy{
			MaxRetries:        cfg.MaxRetries,
			InitialBackoff:    cfg.RetryBackoff,
			MaxBackoff:        cfg.MaxRetryBackoff,
			BackoffMultiplier: 2.0,
		},
		config: cfg,
		logger: logging.NewLogger(logging.ComponentClient),
	}, nil
}

// checkEndpoint requires an absolute http or https URL with a host.
func checkEndpoint(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ConfigError{Field: field, Message: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: field, Message: fmt.Sprintf("scheme must be http or https (got %q)", raw)}
	}
	if u.Host == "" {
		return &ConfigError{Field: field, Message: fmt.Sprintf("host is required (got %q)", raw)}
	}
	return nil
}

func cachedToken(c credentials.Credentials) (string, bool) {
	switch c := c.(type) {
	case credentials.TokenOnly:
		return c.Token, true
	case credentials.SecretAndToken:
		return c.Token, true
	default:
		return "", false
	}
}

// BaseURL returns the configured API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// URL returns the absolute URL of a Helix path such as "/users".
func (c *Client) URL(path string) string {
	return c.config.BaseURL + path
}

// Token returns the cached bearer token, minting one first if none is
// cached yet.
func (c *Client) Token(ctx context.Context) (string, error) {
	return c.auth.Token(ctx, nil)
}

// RateLimit returns the last rate limit bucket state seen by this client.
func (c *Client) RateLimit() ratelimit.RateLimitState {
	return c.rateLimiter.State()
}

// SharedRateLimit returns the bucket state shared through Redis, which may
// have been reported to another client. Without Redis it equals RateLimit.
func (c *Client) SharedRateLimit(ctx context.Context) (*ratelimit.RateLimitState, error) {
	return c.rateLimiter.GetState(ctx)
}

// GetJSON performs a GET request to rawURL with query appended and decodes
// the JSON response into v.
//
// The request waits for any rate limit cooldown, reauthenticates once if
// the token is rejected, and retries server and network failures according
// to the retry policy. Client errors are returned as *APIError, undecodable
// bodies as *DecodeError.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, v any) error {
	reqURL, err := buildURL(rawURL, query)
	if err != nil {
		return err
	}
	endpoint := reqURL.Path

	logger, _ := logging.ForRequest(c.logger, endpoint)

	startTime := time.Now()
	defer func() {
		helixRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	token, err := c.auth.Token(ctx, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Could not obtain token")
		return err
	}

	var (
		reauthenticated bool
		retries         int
	)
	for {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		body, err := c.send(ctx, reqURL, token, endpoint, logger)
		if err == nil {
			return decodeBody(body, v)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		errClass := c.classifyError(err)
		helixErrorsTotal.WithLabelValues(string(errClass)).Inc()

		switch {
		case errClass == ErrorClassUnauthorized:
			if reauthenticated {
				logger.Error().Msg("Token rejected again after reauthentication")
				return err
			}
			reauthenticated = true
			logger.Info().Msg("Token rejected, reauthenticating")
			if token, err = c.auth.Token(ctx, err); err != nil {
				return err
			}

		case errClass == ErrorClassRateLimit:
			// the tracker has recorded the cooldown; the next Wait honours it
			logger.Warn().Msg("Rate limited, waiting for cooldown")

		case shouldRetry(errClass):
			retries++
			if c.retry.exhausted(retries) {
				helixRetryExhaustedTotal.WithLabelValues(string(errClass)).Inc()
				logger.Error().
					Err(err).
					Int("max_retries", c.retry.MaxRetries).
					Msg("Retry attempts exhausted")
				return fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, c.retry.MaxRetries, err)
			}

			backoff := c.retry.backoff(retries)
			helixRetriesTotal.WithLabelValues(string(errClass)).Inc()
			helixRetryBackoffSeconds.WithLabelValues(string(errClass)).Observe(backoff.Seconds())
			logger.Warn().
				Err(err).
				Str("error_class", string(errClass)).
				Int("attempt", retries).
				Dur("backoff", backoff).
				Msg("Retrying request")

			if err := sleepContext(ctx, backoff); err != nil {
				return err
			}

		default:
			logger.Warn().
				Err(err).
				Str("error_class", string(errClass)).
				Msg("Helix request error")
			return err
		}
	}
}

// send performs a single GET exchange and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, reqURL *url.URL, token, endpoint string, logger zerolog.Logger) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	logger.Debug().Msg("Executing Helix request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		helixRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	// every response carries the bucket state, throttled or not
	if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.StatusCode, resp.Header); err != nil {
		logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
	}
	helixRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Body:       string(body),
		}
	}
	return body, nil
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(err error) ErrorClass {
	class := ErrorClassNetwork
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		class = apiErr.Class
	}
	c.logger.Debug().Str("class", string(class)).Msg("Error classified")
	return class
}

func decodeBody(body []byte, v any) error {
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		helixErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &DecodeError{Body: string(body), Err: err}
	}
	return nil
}

// buildURL appends query to rawURL, keeping any query rawURL already has.
func buildURL(rawURL string, query url.Values) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Response is the data envelope wrapping most Helix responses.
type Response[T any] struct {
	Data T `json:"data"`
}

// Get performs a GET request and decodes the whole response body as T.
func Get[T any](ctx context.Context, c *Client, rawURL string, query url.Values) (T, error) {
	var v T
	err := c.GetJSON(ctx, rawURL, query, &v)
	return v, err
}

// GetData performs a GET request and returns the data field of the response.
func GetData[T any](ctx context.Context, c *Client, rawURL string, query url.Values) (T, error) {
	resp, err := Get[Response[T]](ctx, c, rawURL, query)
	return resp.Data, err
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// headerTransport adds the client identification headers to every request.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
	clientID  string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Client-ID", t.clientID)
	return t.base.RoundTrip(req)
}
