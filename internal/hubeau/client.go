// Package hubeau is a client for the Hub'Eau "écoulement" APIs: the paginated
// station referential plus the observation and campaign endpoints.
package hubeau

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultBaseURL is the production écoulement API root.
const DefaultBaseURL = "https://hubeau.eaufrance.fr/api/v1/ecoulement"

const (
	defaultTimeout   = 30 * time.Second
	defaultPageSize  = 500 // API maximum
	defaultPageDelay = 200 * time.Millisecond
)

// Client issues requests against the Hub'Eau écoulement API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
	logger     *slog.Logger
	pageSize   int
	pageDelay  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock replaces the clock used for inter-page pacing.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithPageSize sets the page size. Values outside 1..500 are clamped.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		if n > defaultPageSize {
			n = defaultPageSize
		}
		c.pageSize = n
	}
}

// WithPageDelay sets the pause between page fetches.
func WithPageDelay(d time.Duration) Option {
	return func(c *Client) { c.pageDelay = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. An empty baseURL selects the production API.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		pageSize:   defaultPageSize,
		pageDelay:  defaultPageDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int { return c.pageSize }

// FetchStationsPage fetches one page (1-based) of the station referential.
func (c *Client) FetchStationsPage(ctx context.Context, page int) ([]StationRecord, error) {
	params := url.Values{
		"size":   {strconv.Itoa(c.pageSize)},
		"page":   {strconv.Itoa(page)},
		"fields": {strings.Join(stationFields, ",")},
	}
	return get[StationRecord](ctx, c, "/stations", params)
}

// ForEachStationsPage fetches station pages sequentially starting at
// startPage, calling fn for each non-empty page. Iteration stops after an
// empty page or a page shorter than the page size; there is no reliance on a
// total-count header. Any fetch or fn error aborts the iteration. The client
// pauses between pages to respect the API's rate limits.
func (c *Client) ForEachStationsPage(ctx context.Context, startPage int, fn func(page int, recs []StationRecord) error) error {
	if startPage < 1 {
		startPage = 1
	}
	for page := startPage; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		recs, err := c.FetchStationsPage(ctx, page)
		if err != nil {
			return fmt.Errorf("fetching stations page %d: %w", page, err)
		}
		if len(recs) == 0 {
			c.logger.Info("empty page, pagination complete", "page", page)
			return nil
		}

		if err := fn(page, recs); err != nil {
			return err
		}

		if len(recs) < c.pageSize {
			c.logger.Info("short page, pagination complete", "page", page, "records", len(recs))
			return nil
		}

		c.clock.Sleep(c.pageDelay)
	}
}

// StationObservations returns the most recent flow observations for a
// station, newest first.
func (c *Client) StationObservations(ctx context.Context, stationCode string, size int) ([]Observation, error) {
	params := url.Values{
		"code_station": {stationCode},
		"size":         {strconv.Itoa(size)},
		"sort":         {"date_observation_desc"},
	}
	return get[Observation](ctx, c, "/observations", params)
}

// StationCampaigns returns the most recent observation campaigns covering a
// station, newest first.
func (c *Client) StationCampaigns(ctx context.Context, stationCode string, size int) ([]Campaign, error) {
	params := url.Values{
		"code_station": {stationCode},
		"size":         {strconv.Itoa(size)},
		"sort":         {"date_campagne_desc"},
	}
	return get[Campaign](ctx, c, "/campagnes", params)
}

// RecentObservations returns observations across all stations within the
// date range, newest first.
func (c *Client) RecentObservations(ctx context.Context, from, to time.Time, size int) ([]Observation, error) {
	params := url.Values{
		"date_observation_min": {from.Format(time.DateOnly)},
		"date_observation_max": {to.Format(time.DateOnly)},
		"size":                 {strconv.Itoa(size)},
		"sort":                 {"date_observation_desc"},
	}
	return get[Observation](ctx, c, "/observations", params)
}

func get[T any](ctx context.Context, c *Client, path string, params url.Values) ([]T, error) {
	u := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	// Hub'Eau answers 206 on non-final pages.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s returned %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	var env envelope[T]
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return env.Data, nil
}
