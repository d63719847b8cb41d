// Package directory is the client for the remote user directory.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/hpungsan/shutter/internal/errors"
	"github.com/hpungsan/shutter/internal/logging"
)

// DefaultEndpoint is the public user search API.
const DefaultEndpoint = "https://dummyjson.com/users/search"

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 4 << 20

// UserSummary is one directory search hit. It is never persisted.
type UserSummary struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Username  string `json:"username"`
	Gender    string `json:"gender"`
	Image     string `json:"image"`
}

// DisplayName is "First Last", trimmed when either part is missing.
func (u UserSummary) DisplayName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Handle is "@username", or empty when there is no username.
func (u UserSummary) Handle() string {
	if u.Username == "" {
		return ""
	}
	return "@" + u.Username
}

type searchResponse struct {
	Users []UserSummary `json:"users"`
}

// Options configures a Client. Zero values pick defaults.
type Options struct {
	Endpoint string
	Timeout  time.Duration

	// RPS and Burst shape outgoing lookups. RPS <= 0 disables limiting.
	RPS   float64
	Burst int

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client issues directory lookups. Identical in-flight queries share one
// request.
type Client struct {
	endpoint *url.URL
	http     *http.Client
	limiter  *rate.Limiter
	group    singleflight.Group
	log      *zap.Logger
}

// New returns a client for opts.Endpoint (DefaultEndpoint when empty).
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.Endpoint)
	if raw == "" {
		raw = DefaultEndpoint
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("invalid search endpoint %q", raw))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}

	return &Client{
		endpoint: u,
		http:     httpClient,
		limiter:  limiter,
		log:      logging.OrNop(opts.Logger).Named("directory"),
	}, nil
}

// Endpoint returns the configured search URL.
func (c *Client) Endpoint() string {
	return c.endpoint.String()
}

// Search looks up users matching query. The query is sent as-is; callers
// normalize it first. Every failure is a NETWORK_FAILED error.
func (c *Client) Search(ctx context.Context, query string) ([]UserSummary, error) {
	ch := c.group.DoChan(query, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		return c.fetch(context.WithoutCancel(ctx), query)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		users := res.Val.([]UserSummary)
		if res.Shared {
			c.log.Debug("lookup shared with in-flight request", zap.String("query", query))
			return append([]UserSummary(nil), users...), nil
		}
		return users, nil
	case <-ctx.Done():
		return nil, errors.NewNetworkFailed(ctx.Err())
	}
}

func (c *Client) fetch(ctx context.Context, query string) ([]UserSummary, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.NewNetworkFailed(fmt.Errorf("rate limit: %w", err))
		}
	}

	u := *c.endpoint
	q := u.Query()
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.NewNetworkFailed(err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewNetworkFailed(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.NewNetworkFailed(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewNetworkFailed(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.NewNetworkFailed(fmt.Errorf("decode response: %w", err))
	}
	if out.Users == nil {
		out.Users = []UserSummary{}
	}

	c.log.Debug("lookup complete",
		zap.String("query", query),
		zap.Int("results", len(out.Users)),
		zap.Duration("took", time.Since(start)))
	return out.Users, nil
}
