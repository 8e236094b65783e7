// Package geocode resolves practitioner addresses with the public address API.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
)

const (
	cacheSize       = 512
	tripAfterErrors = 5
)

var (
	ErrNoMatch     = errors.New("address not found")
	ErrUnavailable = errors.New("address api unavailable")
)

type Place struct {
	Label    string  `json:"label"`
	City     string  `json:"city"`
	Postcode string  `json:"postcode"`
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	cache      *lru.Cache[string, Place]
}

func NewClient(baseURL string) *Client {
	cache, _ := lru.New[string, Place](cacheSize)
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "geocode",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= tripAfterErrors
			},
		}),
		cache: cache,
	}
}

type searchResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Label    string `json:"label"`
			City     string `json:"city"`
			Postcode string `json:"postcode"`
		} `json:"properties"`
	} `json:"features"`
}

// Lookup returns the best match for query, optionally restricted to a postcode.
// Successful matches are cached; repeated upstream failures open a breaker and
// further calls fail fast with ErrUnavailable.
func (c *Client) Lookup(ctx context.Context, query, postcode string) (*Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoMatch
	}

	key := strings.ToLower(query) + "|" + postcode
	if p, ok := c.cache.Get(key); ok {
		return &p, nil
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.search(ctx, query, postcode)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}

	place, _ := res.(*Place)
	if place == nil {
		return nil, ErrNoMatch
	}
	c.cache.Add(key, *place)
	return place, nil
}

// search returns a nil place without error when nothing matched, so that
// unknown addresses do not count against the breaker.
func (c *Client) search(ctx context.Context, query, postcode string) (*Place, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", "1")
	if postcode != "" {
		params.Set("postcode", postcode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(body.Features) == 0 {
		return nil, nil
	}

	f := body.Features[0]
	if len(f.Geometry.Coordinates) < 2 {
		return nil, nil
	}

	// GeoJSON order is lon, lat
	return &Place{
		Label:    f.Properties.Label,
		City:     f.Properties.City,
		Postcode: f.Properties.Postcode,
		Lon:      f.Geometry.Coordinates[0],
		Lat:      f.Geometry.Coordinates[1],
	}, nil
}
