package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const defaultGeoNamesBase = "http://api.geonames.org"

// GeoNamesClient talks to the GeoNames JSON API. Every request carries a
// bounded timeout so a slow provider cannot hang a scheduling pass.
type GeoNamesClient struct {
	client   *http.Client
	baseURL  string
	username string
	timeout  time.Duration
}

func NewGeoNamesClient(username string, timeout time.Duration) *GeoNamesClient {
	return &GeoNamesClient{
		client:   &http.Client{},
		baseURL:  defaultGeoNamesBase,
		username: username,
		timeout:  timeout,
	}
}

// WithBaseURL overrides the API endpoint, for tests.
func (g *GeoNamesClient) WithBaseURL(base string) *GeoNamesClient {
	g.baseURL = base
	return g
}

type geoNamesSearchResponse struct {
	GeoNames []struct {
		Lat string `json:"lat"`
		Lng string `json:"lng"`
	} `json:"geonames"`
}

func (g *GeoNamesClient) Geocode(ctx context.Context, query, country string) (Location, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("country", country)
	params.Set("maxRows", "1")
	params.Set("username", g.username)

	var resp geoNamesSearchResponse
	if err := g.get(ctx, "/searchJSON", params, &resp); err != nil {
		return Location{}, err
	}
	if len(resp.GeoNames) == 0 {
		return Location{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(resp.GeoNames[0].Lat, 64)
	if err != nil {
		return Location{}, fmt.Errorf("parse lat: %w", err)
	}
	lon, err := strconv.ParseFloat(resp.GeoNames[0].Lng, 64)
	if err != nil {
		return Location{}, fmt.Errorf("parse lng: %w", err)
	}
	return Location{Lat: lat, Lon: lon}, nil
}

type geoNamesTimezoneResponse struct {
	TimezoneID string `json:"timezoneId"`
}

func (g *GeoNamesClient) TimezoneFor(ctx context.Context, lat, lon float64) (string, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lng", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("username", g.username)

	var resp geoNamesTimezoneResponse
	if err := g.get(ctx, "/timezoneJSON", params, &resp); err != nil {
		return "", err
	}
	if resp.TimezoneID == "" {
		return "", ErrNotFound
	}
	return resp.TimezoneID, nil
}

func (g *GeoNamesClient) get(ctx context.Context, path string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("geonames: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("geonames: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("geonames: decode: %w", err)
	}
	return nil
}

var _ Provider = (*GeoNamesClient)(nil)
