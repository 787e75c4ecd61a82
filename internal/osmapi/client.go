package osmapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"circuitmap/internal/logging"
)

const defaultBaseURL = "https://www.openstreetmap.org/api/0.6"

// Client checks element existence and versions against the OSM editing API.
type Client struct {
	baseURL    string
	userAgent  string
	failOpen   bool
	httpClient *http.Client
	logger     *slog.Logger
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

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// WithFailOpen controls what Exists reports when the API cannot be reached.
func WithFailOpen(failOpen bool) Option {
	return func(c *Client) {
		c.failOpen = failOpen
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.NewComponentLogger(logger, "osmapi")
	}
}

// New creates an OSM API client. An empty baseURL uses the public API.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &Client{
		baseURL:    baseURL,
		failOpen:   true,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(nil, "osmapi"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Exists reports whether the element is still present upstream. Any status
// other than 200 means absent. Transport failures return the fail-open
// setting, so a flaky network does not invalidate a good cached mapping.
func (c *Client) Exists(ctx context.Context, id int64, kind string) bool {
	req, err := c.newRequest(ctx, http.MethodHead, fmt.Sprintf("%s/%s/%d", c.baseURL, kind, id))
	if err != nil {
		return c.failOpen
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(logging.WithContext(ctx, c.logger), "existence check failed", "osm_verify_failed",
				logging.String("element", fmt.Sprintf("%s/%d", kind, id)),
				logging.Bool("assumed_exists", c.failOpen),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check network access to the OSM API"),
				logging.String(logging.FieldImpact, "cached mapping kept without verification"))
		}
		return c.failOpen
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Version returns the element's current version. The bool is false when the
// element is missing, the API is unreachable, or the payload is malformed.
func (c *Client) Version(ctx context.Context, id int64, kind string) (int, bool) {
	version, err := c.fetchVersion(ctx, id, kind)
	if err != nil {
		logging.WithContext(ctx, c.logger).Debug("version lookup failed",
			logging.String("element", fmt.Sprintf("%s/%d", kind, id)),
			logging.Error(err))
		return 0, false
	}
	return version, true
}

func (c *Client) fetchVersion(ctx context.Context, id int64, kind string) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%d.json", c.baseURL, kind, id))
	if err != nil {
		return 0, err
	}
	requestStart := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(requestStart)
	if err != nil {
		return 0, fmt.Errorf("execute request (latency=%v): %w", latency, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("osm api returned %d (latency=%v)", resp.StatusCode, latency)
	}

	var payload struct {
		Elements []struct {
			Version int `json:"version"`
		} `json:"elements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode osm response: %w", err)
	}
	if len(payload.Elements) == 0 || payload.Elements[0].Version <= 0 {
		return 0, errors.New("osm response has no version")
	}
	return payload.Elements[0].Version, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}
