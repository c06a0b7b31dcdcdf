package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/minewatch/minewatch/internal/models"
)

const defaultTimeout = 60 * time.Second

// APIError is returned for non-2xx provider responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("imagery provider returned %d: %s", e.StatusCode, e.Body)
}

// Client is an HTTP Catalog. Every request waits on a shared rate limiter.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a client. ratePerSec <= 0 disables rate limiting.
func NewClient(baseURL, apiKey string, ratePerSec int) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    limiter,
	}
}

type assetList struct {
	Assets []Asset `json:"assets"`
}

// ListRecentAssets returns the assets captured within the window.
func (c *Client) ListRecentAssets(ctx context.Context, w Window) ([]Asset, error) {
	q := url.Values{}
	q.Set("region", w.RegionCode)
	q.Set("start", w.Start.UTC().Format("2006-01-02"))
	q.Set("end", w.End.UTC().Format("2006-01-02"))
	q.Set("max_cloud", strconv.FormatFloat(w.MaxCloudCoverage, 'f', -1, 64))
	if w.Collection != "" {
		q.Set("collection", w.Collection)
	}

	var out assetList
	if err := c.do(ctx, http.MethodGet, "/v1/assets?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

type indexStatsResponse struct {
	NDVI *models.IndexStats `json:"ndvi"`
	NDWI *models.IndexStats `json:"ndwi"`
	NDTI *models.IndexStats `json:"ndti"`
}

// IndexStatistics returns the regional mean and stddev of each index.
func (c *Client) IndexStatistics(ctx context.Context, assetID string) (models.SpectralIndices, error) {
	var out indexStatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/assets/"+url.PathEscape(assetID)+"/statistics", nil, &out); err != nil {
		return models.SpectralIndices{}, err
	}
	var s models.SpectralIndices
	if out.NDVI != nil {
		s.NDVI = *out.NDVI
	}
	if out.NDWI != nil {
		s.NDWI = *out.NDWI
	}
	if out.NDTI != nil {
		s.NDTI = *out.NDTI
	}
	return s, nil
}

// LocalPatch extracts a raster patch around a point.
func (c *Client) LocalPatch(ctx context.Context, req PatchRequest) (*Patch, error) {
	var out Patch
	if err := c.do(ctx, http.MethodPost, "/v1/patches", req, &out); err != nil {
		return nil, err
	}
	if out.Width <= 0 || out.Height <= 0 || len(out.Data) == 0 {
		return nil, fmt.Errorf("imagery provider returned an empty patch for %s", req.AssetID)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("imagery request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode imagery response: %w", err)
	}
	return nil
}
