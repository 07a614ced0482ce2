// Package hydro provides a client for the Department of Water Resources
// (DWR) public water-resources API. The conversation core uses it to fetch
// recent reservoir data for a province before asking the assistant to
// summarize it.
package hydro

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ricemaid/ricemaid/internal/models"
)

// DefaultBaseURL is the DWR API host.
const DefaultBaseURL = "https://api.dwr.go.th"

// timeLayout is the datetime format the DWR API accepts.
const timeLayout = "2006-01-02T15:04:05"

// ResourceType selects a reservoir size class.
type ResourceType string

// Reservoir size classes.
const (
	ResourceSmall  ResourceType = "Small"
	ResourceMedium ResourceType = "Medium"
)

// path returns the API path for the resource type.
func (rt ResourceType) path() (string, error) {
	switch rt {
	case ResourceSmall:
		return "/twsapi/v1.0/SmallsizedWaterResources", nil
	case ResourceMedium:
		return "/twsapi/v1.0/MediumsizedWaterResources", nil
	default:
		return "", fmt.Errorf("invalid resource type %q: must be Small or Medium", string(rt))
	}
}

// FetchParams are the query parameters for one water-resources request.
type FetchParams struct {
	ResourceType ResourceType
	Interval     string
	Latest       bool
	Start        time.Time // required when Latest is false
	End          time.Time // required when Latest is false
	ProvinceCode string
	AmphoeCode   string
	TambonCode   string
}

// Opts holds configuration options for the hydrology client.
type Opts struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Now     func() time.Time
}

// Option configures the hydrology client.
type Option func(*Opts)

// WithAPIKey overrides the WSTD_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL overrides the API host, for tests.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// WithClock overrides the client's clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Client calls the DWR water-resources API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient initializes a hydrology client. The bearer token comes from
// options or the WSTD_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("WSTD_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("WSTD_API_KEY not set")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{apiKey: cfg.APIKey, baseURL: cfg.BaseURL, http: cfg.Client, now: cfg.Now}, nil
}

// Fetch retrieves water-resources data for the given parameters and returns
// the raw JSON payload.
func (c *Client) Fetch(ctx context.Context, p FetchParams) (json.RawMessage, error) {
	path, err := p.ResourceType.path()
	if err != nil {
		return nil, err
	}
	if !p.Latest && (p.Start.IsZero() || p.End.IsZero()) {
		return nil, fmt.Errorf("start and end datetimes are required when latest is false")
	}

	q := url.Values{}
	q.Set("interval", p.Interval)
	q.Set("latest", strconv.FormatBool(p.Latest))
	if !p.Start.IsZero() {
		q.Set("startDatetime", p.Start.Format(timeLayout))
	}
	if !p.End.IsZero() {
		q.Set("endDatetime", p.End.Format(timeLayout))
	}
	if p.ProvinceCode != "" {
		q.Set("provinceCode", p.ProvinceCode)
	}
	if p.AmphoeCode != "" {
		q.Set("amphoeCode", p.AmphoeCode)
	}
	if p.TambonCode != "" {
		q.Set("tambonCode", p.TambonCode)
	}

	reqURL := c.baseURL + path + "?" + q.Encode()
	slog.Debug("hydro.Client.Fetch: requesting", "resource_type", p.ResourceType, "province_code", p.ProvinceCode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build water-resources request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Error("hydro.Client.Fetch: request failed", "error", err, "resource_type", p.ResourceType)
		return nil, fmt.Errorf("fetch %s water-resources data: %w", p.ResourceType, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read water-resources response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("hydro.Client.Fetch: unexpected status", "status", resp.StatusCode, "resource_type", p.ResourceType)
		return nil, fmt.Errorf("fetch %s water-resources data: status %d: %s", p.ResourceType, resp.StatusCode, body)
	}
	return body, nil
}

// WeeklyByProvince fetches the past seven days of small and medium reservoir
// data for the province code.
func (c *Client) WeeklyByProvince(ctx context.Context, provinceCode int) (models.WaterSummary, error) {
	end := c.now()
	start := end.AddDate(0, 0, -7)
	code := strconv.Itoa(provinceCode)

	small, err := c.Fetch(ctx, FetchParams{
		ResourceType: ResourceSmall,
		Interval:     "P-Daily",
		Latest:       false,
		Start:        start,
		End:          end,
		ProvinceCode: code,
	})
	if err != nil {
		return models.WaterSummary{}, err
	}
	medium, err := c.Fetch(ctx, FetchParams{
		ResourceType: ResourceMedium,
		Interval:     "P-Daily",
		Latest:       false,
		Start:        start,
		End:          end,
		ProvinceCode: code,
	})
	if err != nil {
		return models.WaterSummary{}, err
	}
	return models.WaterSummary{Small: small, Medium: medium}, nil
}
