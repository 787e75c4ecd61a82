package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"circuitmap/internal/logging"
	"circuitmap/internal/ratelimit"
	"circuitmap/internal/services"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultGeometryTimeout = 90 * time.Second
	defaultMaxRetries      = 3
	defaultRetryDelay      = 5 * time.Second

	// CacheServer is reported as the server name for cache-served elements.
	CacheServer = "cache"
)

// Client executes Overpass queries against an ordered list of servers,
// failing over between them and backing off when they rate limit.
type Client struct {
	servers         []Server
	httpClient      *http.Client
	userAgent       string
	timeout         time.Duration
	geometryTimeout time.Duration
	maxRetries      int
	retryDelay      time.Duration
	throttle        *ratelimit.Throttle
	sleep           func(context.Context, time.Duration) error
	cache           *ElementCache
	logger          *slog.Logger

	mu      sync.Mutex
	current string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every query.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// WithTimeout sets the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithGeometryTimeout sets the timeout used for recursive-descent, batch tag,
// and geometry queries.
func WithGeometryTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.geometryTimeout = d
		}
	}
}

// WithRetries sets the number of full rounds over the server list and the
// base delay of the escalating backoff between rounds.
func WithRetries(rounds int, delay time.Duration) Option {
	return func(c *Client) {
		if rounds > 0 {
			c.maxRetries = rounds
		}
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// WithThrottle shares a rate limiter with the client.
func WithThrottle(t *ratelimit.Throttle) Option {
	return func(c *Client) {
		c.throttle = t
	}
}

// WithSleep overrides the backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithElementCache shares a geometry cache with the client.
func WithElementCache(cache *ElementCache) Option {
	return func(c *Client) {
		if cache != nil {
			c.cache = cache
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "overpass")
	}
}

// New creates an Overpass client.
func New(servers []Server, opts ...Option) (*Client, error) {
	list := make([]Server, 0, len(servers))
	for _, server := range servers {
		server.URL = strings.TrimSpace(server.URL)
		if server.URL == "" {
			continue
		}
		if strings.TrimSpace(server.Name) == "" {
			server.Name = server.URL
		}
		list = append(list, server)
	}
	if len(list) == 0 {
		return nil, errors.New("overpass: at least one server required")
	}
	client := &Client{
		servers:         list,
		httpClient:      &http.Client{},
		timeout:         defaultTimeout,
		geometryTimeout: defaultGeometryTimeout,
		maxRetries:      defaultMaxRetries,
		retryDelay:      defaultRetryDelay,
		sleep:           ratelimit.Sleep,
		cache:           NewElementCache(),
		logger:          logging.NewComponentLogger(nil, "overpass"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Servers returns a copy of the configured server list in failover order.
func (c *Client) Servers() []Server {
	return append([]Server(nil), c.servers...)
}

// CurrentServer reports the last server that answered successfully.
func (c *Client) CurrentServer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

type failureKind int

const (
	failureOther failureKind = iota
	failureRateLimited
	failureTimeout
)

type roundStats struct {
	rateLimited int
	timeouts    int
	other       int
}

func (r *roundStats) record(kind failureKind) {
	switch kind {
	case failureRateLimited:
		r.rateLimited++
	case failureTimeout:
		r.timeouts++
	default:
		r.other++
	}
}

func (r roundStats) marker() error {
	switch {
	case r.rateLimited > 0:
		return services.ErrRateLimited
	case r.timeouts > 0:
		return services.ErrBackendTimeout
	default:
		return services.ErrBackendError
	}
}

// Query runs an Overpass QL query with server failover. A zero timeout uses
// the client default. It returns the decoded response and the name of the
// server that answered.
//
// Each round walks the server list in order and returns on the first HTTP 200.
// A round without any HTTP 429 ends the query immediately, since timeouts or
// errors from every server mean the query is too heavy or the fleet is down.
// Rounds that saw rate limiting are retried after RetryDelay*(round+2).
func (c *Client) Query(ctx context.Context, query string, timeout time.Duration) (*Response, string, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, "", err
	}
	if timeout <= 0 {
		timeout = c.timeout
	}
	logger := logging.WithContext(ctx, c.logger)

	var (
		lastErr error
		stats   roundStats
	)
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Info("retrying overpass query",
				logging.Int("attempt", attempt+1),
				logging.Int("max_attempts", c.maxRetries))
		}
		stats = roundStats{}
		for idx, server := range c.servers {
			resp, kind, err := c.send(ctx, server, query, timeout)
			if err == nil {
				c.markServer(logger, server.Name)
				return resp, server.Name, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, "", ctxErr
			}
			lastErr = err
			stats.record(kind)
			logger.Debug("overpass server failed",
				logging.String("server", server.Name),
				logging.Int("server_index", idx+1),
				logging.Int("server_count", len(c.servers)),
				logging.Error(err))
		}

		if stats.rateLimited == 0 {
			logging.WarnWithContext(logger, "all overpass servers failed; skipping retry", "overpass_round_failed",
				logging.Int("timeouts", stats.timeouts),
				logging.Int("errors", stats.other),
				logging.String(logging.FieldErrorHint, "query may be too heavy or the servers are down; retry later"),
				logging.String(logging.FieldImpact, "lookup treated as not found"))
			return nil, "", c.failure(stats, attempt+1, lastErr)
		}

		if attempt < c.maxRetries-1 {
			wait := c.retryDelay * time.Duration(attempt+2)
			logger.Info("overpass servers rate limited; backing off",
				logging.Int("rate_limited", stats.rateLimited),
				logging.Duration("wait", wait))
			if err := c.sleep(ctx, wait); err != nil {
				return nil, "", err
			}
		}
	}

	logging.WarnWithContext(logger, "all overpass servers failed after retries", "overpass_retries_exhausted",
		logging.Int("attempts", c.maxRetries),
		logging.String(logging.FieldErrorHint, "servers are rate limiting; wait before running again"),
		logging.String(logging.FieldImpact, "lookup treated as not found"))
	return nil, "", c.failure(stats, c.maxRetries, lastErr)
}

func (c *Client) failure(stats roundStats, rounds int, lastErr error) error {
	cause := stats.marker()
	if lastErr != nil {
		cause = fmt.Errorf("%w (last error: %v)", cause, lastErr)
	}
	message := fmt.Sprintf("all %d servers failed after %d round(s): %d rate limited, %d timeouts, %d errors",
		len(c.servers), rounds, stats.rateLimited, stats.timeouts, stats.other)
	return services.Wrap(services.ErrBackendUnavailable, "overpass", "query", message, cause)
}

func (c *Client) markServer(logger *slog.Logger, name string) {
	c.mu.Lock()
	previous := c.current
	c.current = name
	c.mu.Unlock()
	switch {
	case previous == "":
		logger.Info("using overpass server", logging.String("server", name))
	case previous != name:
		logger.Info("overpass server switched",
			logging.String("from", previous),
			logging.String("to", name))
	}
}

func (c *Client) send(ctx context.Context, server Server, query string, timeout time.Duration) (*Response, failureKind, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	form := url.Values{}
	form.Set("data", query)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, server.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, failureOther, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		if isTimeout(err) {
			return nil, failureTimeout, fmt.Errorf("%s timed out after %v: %w", server.Name, timeout, err)
		}
		return nil, failureOther, fmt.Errorf("execute request to %s (latency=%v): %w", server.Name, latency, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, failureRateLimited, fmt.Errorf("%s rate limited (429, latency=%v)", server.Name, latency)
	case http.StatusGatewayTimeout:
		return nil, failureTimeout, fmt.Errorf("%s gateway timeout (504, latency=%v)", server.Name, latency)
	default:
		return nil, failureOther, fmt.Errorf("%s returned %d (latency=%v)", server.Name, resp.StatusCode, latency)
	}

	var payload Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if isTimeout(err) {
			return nil, failureTimeout, fmt.Errorf("%s timed out reading response: %w", server.Name, err)
		}
		return nil, failureOther, fmt.Errorf("decode response from %s: %w", server.Name, err)
	}
	return &payload, failureOther, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Ping sends a trivial query to one server without failover or throttling.
func (c *Client) Ping(ctx context.Context, server Server) (time.Duration, error) {
	start := time.Now()
	_, _, err := c.send(ctx, server, "[out:json][timeout:5];node(1);out ids;", c.timeout)
	return time.Since(start), err
}
