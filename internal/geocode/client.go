package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when the geocoder has no result for the query.
var ErrNotFound = errors.New("geocode: not found")

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent = "GPS-Assistant/1.0"
)

// Result is the best match for a free-form place query.
type Result struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Display string  `json:"display"`
}

// Client queries a Nominatim-compatible search endpoint. The zero value is
// not usable; construct with New.
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

func New() *Client {
	return &Client{
		BaseURL:   DefaultBaseURL,
		UserAgent: DefaultUserAgent,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Search resolves a place name to coordinates. Only the first match is
// returned; no match yields ErrNotFound.
func (c *Client) Search(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, fmt.Errorf("geocode: empty query")
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("geocode: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}

	// Nominatim serializes coordinates as strings.
	var raw []struct {
		Lat         string `json:"lat"`
		Lon         string `json:"lon"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Result{}, fmt.Errorf("geocode: decode failed: %w", err)
	}
	if len(raw) == 0 {
		return Result{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(raw[0].Lat, 64)
	if err != nil {
		return Result{}, fmt.Errorf("geocode: bad latitude %q", raw[0].Lat)
	}
	lon, err := strconv.ParseFloat(raw[0].Lon, 64)
	if err != nil {
		return Result{}, fmt.Errorf("geocode: bad longitude %q", raw[0].Lon)
	}

	display := raw[0].DisplayName
	if display == "" {
		display = query
	}
	return Result{Lat: lat, Lon: lon, Display: display}, nil
}
