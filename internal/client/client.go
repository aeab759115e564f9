package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/kjstillabower/weather-widget/internal/circuitbreaker"
	"github.com/kjstillabower/weather-widget/internal/models"
	"github.com/kjstillabower/weather-widget/internal/observability"
)

// WeatherClient fetches current conditions for a city in a unit system.
type WeatherClient interface {
	FetchWeather(ctx context.Context, city string, units models.Units) (models.WeatherRecord, error)
	Ping(ctx context.Context) error
}

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrInvalidCity   = errors.New("invalid city")
	ErrNetwork       = errors.New("network failure")
)

const (
	DefaultGeocodeURL      = "https://api.openweathermap.org/geo/1.0/direct"
	DefaultWeatherURL      = "https://api.openweathermap.org/data/2.5/weather"
	DefaultIconURLTemplate = "https://openweathermap.org/img/wn/%s@2x.png"

	endpointGeocode = "geocode"
	endpointWeather = "weather"
)

// Options configures an OpenWeatherClient. Empty URLs use the public OpenWeatherMap endpoints.
type Options struct {
	APIKey          string
	GeocodeURL      string
	WeatherURL      string
	IconURLTemplate string
	Timeout         time.Duration
}

// OpenWeatherClient resolves a city through the geocoding API and then reads
// current conditions by coordinates. It never retries.
type OpenWeatherClient struct {
	apiKey          string
	geocodeURL      string
	weatherURL      string
	iconURLTemplate string
	client          *http.Client
	breaker         *circuitbreaker.CircuitBreaker
}

func NewOpenWeatherClient(opts Options) (*OpenWeatherClient, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(opts.APIKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if opts.GeocodeURL == "" {
		opts.GeocodeURL = DefaultGeocodeURL
	}
	if opts.WeatherURL == "" {
		opts.WeatherURL = DefaultWeatherURL
	}
	if opts.IconURLTemplate == "" {
		opts.IconURLTemplate = DefaultIconURLTemplate
	}

	return &OpenWeatherClient{
		apiKey:          opts.APIKey,
		geocodeURL:      opts.GeocodeURL,
		weatherURL:      opts.WeatherURL,
		iconURLTemplate: opts.IconURLTemplate,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

// SetCircuitBreaker routes provider calls through cb. Only transport failures trip it.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

type geocodeResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

type currentWeatherResponse struct {
	Name     string `json:"name"`
	Timezone int    `json:"timezone"`
	Main     struct {
		Temp      *float64 `json:"temp"`
		FeelsLike float64  `json:"feels_like"`
		TempMin   float64  `json:"temp_min"`
		TempMax   float64  `json:"temp_max"`
		Humidity  int      `json:"humidity"`
	} `json:"main"`
	Visibility int `json:"visibility"`
	Weather    []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Sys struct {
		Country string `json:"country"`
		Sunrise int64  `json:"sunrise"`
		Sunset  int64  `json:"sunset"`
	} `json:"sys"`
}

// FetchWeather returns current conditions for city. Errors wrap ErrInvalidCity
// when the provider has no match or answers with a non-success status, and
// ErrNetwork when the request could not complete.
func (c *OpenWeatherClient) FetchWeather(ctx context.Context, city string, units models.Units) (models.WeatherRecord, error) {
	if c.breaker == nil {
		return c.fetch(ctx, city, units)
	}

	var rec models.WeatherRecord
	var fetchErr error
	err := c.breaker.Call(ctx, func() error {
		rec, fetchErr = c.fetch(ctx, city, units)
		if errors.Is(fetchErr, ErrNetwork) {
			return fetchErr
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.WeatherRecord{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if err != nil && fetchErr == nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	if fetchErr != nil {
		return models.WeatherRecord{}, fetchErr
	}
	return rec, nil
}

func (c *OpenWeatherClient) fetch(ctx context.Context, city string, units models.Units) (models.WeatherRecord, error) {
	loc, err := c.geocode(ctx, city)
	if err != nil {
		return models.WeatherRecord{}, err
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(loc.Lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(loc.Lon, 'f', -1, 64))
	params.Set("units", string(units))

	var resp currentWeatherResponse
	if err := c.getJSON(ctx, endpointWeather, c.weatherURL, params, &resp); err != nil {
		return models.WeatherRecord{}, err
	}
	if resp.Main.Temp == nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: weather response has no temperature", ErrInvalidCity)
	}
	return c.mapResponse(resp, loc, units), nil
}

func (c *OpenWeatherClient) geocode(ctx context.Context, city string) (geocodeResult, error) {
	params := url.Values{}
	params.Set("q", city)
	params.Set("limit", "1")

	var results []geocodeResult
	if err := c.getJSON(ctx, endpointGeocode, c.geocodeURL, params, &results); err != nil {
		return geocodeResult{}, err
	}
	if len(results) == 0 {
		return geocodeResult{}, fmt.Errorf("%w: no match for %q", ErrInvalidCity, city)
	}
	return results[0], nil
}

// getJSON issues a GET against rawURL with params plus the API key and decodes the body into out.
func (c *OpenWeatherClient) getJSON(ctx context.Context, endpoint, rawURL string, params url.Values, out interface{}) error {
	start := time.Now()

	req, err := c.buildRequest(ctx, rawURL, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%w: build %s request: %w", ErrNetwork, endpoint, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("%w: %s request: %w", ErrNetwork, endpoint, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned HTTP %d", ErrInvalidCity, endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", ErrNetwork, endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: parse %s response: %w", ErrInvalidCity, endpoint, err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, rawURL string, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func (c *OpenWeatherClient) mapResponse(resp currentWeatherResponse, loc geocodeResult, units models.Units) models.WeatherRecord {
	var description, icon string
	if len(resp.Weather) > 0 {
		description = resp.Weather[0].Description
		if description == "" {
			description = resp.Weather[0].Main
		}
		icon = resp.Weather[0].Icon
	}

	name := resp.Name
	if name == "" {
		name = loc.Name
	}
	country := resp.Sys.Country
	if country == "" {
		country = loc.Country
	}

	zone := time.FixedZone("", resp.Timezone)
	rec := models.WeatherRecord{
		Name:        name,
		Country:     country,
		Temp:        *resp.Main.Temp,
		FeelsLike:   resp.Main.FeelsLike,
		TempMin:     resp.Main.TempMin,
		TempMax:     resp.Main.TempMax,
		Humidity:    resp.Main.Humidity,
		Visibility:  resp.Visibility,
		WindSpeed:   resp.Wind.Speed,
		Description: description,
		Units:       units,
	}
	if resp.Sys.Sunrise > 0 {
		rec.Sunrise = time.Unix(resp.Sys.Sunrise, 0).In(zone)
	}
	if resp.Sys.Sunset > 0 {
		rec.Sunset = time.Unix(resp.Sys.Sunset, 0).In(zone)
	}
	if icon != "" {
		rec.IconURL = c.iconURL(icon)
	}
	return rec
}

func (c *OpenWeatherClient) iconURL(code string) string {
	if strings.Contains(c.iconURLTemplate, "%s") {
		return fmt.Sprintf(c.iconURLTemplate, url.PathEscape(code))
	}
	return strings.TrimRight(c.iconURLTemplate, "/") + "/" + url.PathEscape(code) + "@2x.png"
}

// Ping geocodes a well-known city to confirm the key is accepted and the provider reachable.
func (c *OpenWeatherClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := c.geocode(ctx, "London"); err != nil {
		return fmt.Errorf("provider ping: %w", err)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
