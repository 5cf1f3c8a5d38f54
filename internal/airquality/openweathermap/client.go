// Package openweathermap implements the geocoding and air pollution
// upstreams on top of the OpenWeatherMap APIs.
package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqirelay/internal/airquality"
	"github.com/breatheroute/aqirelay/internal/provider/resilience"
	"github.com/breatheroute/aqirelay/internal/telemetry"
)

const (
	// ProviderName identifies this provider in metrics and logs.
	ProviderName = "openweathermap"

	// DefaultGeoBaseURL is the OpenWeatherMap geocoding API base URL.
	DefaultGeoBaseURL = "https://api.openweathermap.org/geo/1.0"

	// DefaultAirPollutionURL is the OpenWeatherMap current air pollution endpoint.
	DefaultAirPollutionURL = "https://api.openweathermap.org/data/2.5/air_pollution"

	// geocodeLimit is the maximum number of matches requested per city.
	geocodeLimit = 1
)

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	// APIKey is the OpenWeatherMap API key. It is sent as-is; an empty key
	// is rejected upstream.
	APIKey string

	// GeoBaseURL is the geocoding API base URL (optional).
	GeoBaseURL string

	// AirPollutionURL is the air pollution endpoint (optional).
	AirPollutionURL string

	// GeoHTTPClient is used for geocoding calls (optional).
	// If nil, uses a resilient client with defaults.
	GeoHTTPClient *resilience.Client

	// AirHTTPClient is used for air pollution calls (optional).
	// If nil, uses a resilient client with defaults.
	AirHTTPClient *resilience.Client

	// Metrics records per-call duration and outcome (optional).
	Metrics *telemetry.UpstreamMetrics

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OpenWeatherMap API client. It implements both
// airquality.Geocoder and airquality.PollutionSource.
type Client struct {
	apiKey          string
	geoBaseURL      string
	airPollutionURL string
	geoHTTP         *resilience.Client
	airHTTP         *resilience.Client
	metrics         *telemetry.UpstreamMetrics
	logger          zerolog.Logger
}

var (
	_ airquality.Geocoder        = (*Client)(nil)
	_ airquality.PollutionSource = (*Client)(nil)
)

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	geoBaseURL := cfg.GeoBaseURL
	if geoBaseURL == "" {
		geoBaseURL = DefaultGeoBaseURL
	}

	airPollutionURL := cfg.AirPollutionURL
	if airPollutionURL == "" {
		airPollutionURL = DefaultAirPollutionURL
	}

	geoHTTP := cfg.GeoHTTPClient
	if geoHTTP == nil {
		geoHTTP = resilience.NewClient(resilience.DefaultClientConfig("openweathermap-geo"))
	}

	airHTTP := cfg.AirHTTPClient
	if airHTTP == nil {
		airHTTP = resilience.NewClient(resilience.DefaultClientConfig("openweathermap-air"))
	}

	return &Client{
		apiKey:          cfg.APIKey,
		geoBaseURL:      geoBaseURL,
		airPollutionURL: airPollutionURL,
		geoHTTP:         geoHTTP,
		airHTTP:         airHTTP,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Geocode resolves city to at most one match.
func (c *Client) Geocode(ctx context.Context, city string) (matches []airquality.GeoResult, err error) {
	start := time.Now()
	defer func() {
		c.metrics.Observe("geocode", len(matches), time.Since(start), err)
	}()

	query := url.Values{}
	query.Set("q", city)
	query.Set("limit", strconv.Itoa(geocodeLimit))
	query.Set("appid", c.apiKey)

	var resp []directGeocodingResult
	if err := c.getJSON(ctx, c.geoHTTP, c.geoBaseURL+"/direct?"+query.Encode(), &resp); err != nil {
		return nil, err
	}

	if len(resp) > geocodeLimit {
		resp = resp[:geocodeLimit]
	}

	matches = make([]airquality.GeoResult, 0, len(resp))
	for _, r := range resp {
		matches = append(matches, airquality.GeoResult{
			Lat:  r.Lat,
			Lon:  r.Lon,
			Name: r.Name,
		})
	}

	c.logger.Debug().
		Str("city", city).
		Int("matches", len(matches)).
		Msg("geocoded city")

	return matches, nil
}

// CurrentPollution fetches the current air pollution series for a coordinate.
func (c *Client) CurrentPollution(ctx context.Context, lat, lon float64) (samples []airquality.PollutionSample, err error) {
	start := time.Now()
	defer func() {
		c.metrics.Observe("air_pollution", len(samples), time.Since(start), err)
	}()

	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("appid", c.apiKey)

	var resp airPollutionResponse
	if err := c.getJSON(ctx, c.airHTTP, c.airPollutionURL+"?"+query.Encode(), &resp); err != nil {
		return nil, err
	}

	if resp.List == nil {
		return nil, errors.New("decoding response: missing list")
	}

	samples = make([]airquality.PollutionSample, 0, len(resp.List))
	for _, item := range resp.List {
		samples = append(samples, airquality.PollutionSample{
			AQI:        airquality.Index(item.Main.AQI),
			Components: item.Components,
		})
	}

	return samples, nil
}

// getJSON performs a GET and decodes a 200 response body into out.
func (c *Client) getJSON(ctx context.Context, httpClient *resilience.Client, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// OpenWeatherMap API response structures.

type directGeocodingResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state,omitempty"`
}

type airPollutionResponse struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components map[string]float64 `json:"components"`
	} `json:"list"`
}
