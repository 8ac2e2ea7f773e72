package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512

	// maxPages guards against a provider that never stops returning cursors.
	maxPages = 1000
)

// Options configures the HTTP client.
type Options struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

type pagingInfo struct {
	TotalItemCount int    `json:"total_item_count"`
	PageItemLimit  int    `json:"page_item_limit"`
	Next           string `json:"next"`
}

type appsResponse struct {
	Data   []App      `json:"data"`
	Paging pagingInfo `json:"paging"`
}

type buildsResponse struct {
	Data   []Build    `json:"data"`
	Paging pagingInfo `json:"paging"`
}

// httpClient implements Client for the Bitrise v0.1 REST API.
type httpClient struct {
	log     logrus.FieldLogger
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// Ensure interface compliance.
var _ Client = (*httpClient)(nil)

// NewClient creates a provider client.
func NewClient(log logrus.FieldLogger, opts Options) (Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &httpClient{
		log:     log.WithField("component", "provider"),
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		http:    hc,
		limiter: limiter,
	}, nil
}

// ListApps fetches all apps, following pagination cursors.
func (c *httpClient) ListApps(ctx context.Context) ([]App, error) {
	var (
		apps []App
		next string
	)

	for page := 0; page < maxPages; page++ {
		query := url.Values{}
		if next != "" {
			query.Set("next", next)
		}

		var resp appsResponse
		if err := c.get(ctx, "/apps", query, &resp); err != nil {
			return nil, fmt.Errorf("listing apps: %w", err)
		}

		apps = append(apps, resp.Data...)

		if resp.Paging.Next == "" {
			c.log.WithField("apps", len(apps)).Debug("Fetched apps")

			return apps, nil
		}

		next = resp.Paging.Next
	}

	return nil, fmt.Errorf("listing apps: more than %d pages", maxPages)
}

// ListBuilds fetches the builds of one app inside the given window.
func (c *httpClient) ListBuilds(
	ctx context.Context, appSlug string, after, before int64,
) ([]Build, error) {
	if appSlug == "" {
		return nil, fmt.Errorf("app slug is required")
	}

	path := "/apps/" + url.PathEscape(appSlug) + "/builds"

	var (
		builds []Build
		next   string
	)

	for page := 0; page < maxPages; page++ {
		query := url.Values{
			"after":  {strconv.FormatInt(after, 10)},
			"before": {strconv.FormatInt(before, 10)},
		}
		if next != "" {
			query.Set("next", next)
		}

		var resp buildsResponse
		if err := c.get(ctx, path, query, &resp); err != nil {
			return nil, fmt.Errorf("listing builds of %s: %w", appSlug, err)
		}

		builds = append(builds, resp.Data...)

		if resp.Paging.Next == "" {
			c.log.WithFields(logrus.Fields{
				"app":    appSlug,
				"builds": len(builds),
			}).Debug("Fetched builds")

			return builds, nil
		}

		next = resp.Paging.Next
	}

	return nil, fmt.Errorf("listing builds of %s: more than %d pages", appSlug, maxPages)
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *httpClient) get(
	ctx context.Context, path string, query url.Values, out any,
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &StatusError{
			Method:     http.MethodGet,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}
