//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/weather-widget/internal/client"
	"github.com/kjstillabower/weather-widget/internal/service"
	"github.com/kjstillabower/weather-widget/internal/session"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey         string
	GeocodeURL     string
	WeatherURL     string
	SessionBackend string // "in_memory" or "memcached"
	MemcachedAddr  string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}

	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}

	return IntegrationTestConfig{
		APIKey:         apiKey,
		GeocodeURL:     os.Getenv("WEATHER_GEOCODE_URL"),
		WeatherURL:     os.Getenv("WEATHER_API_URL"),
		SessionBackend: os.Getenv("INTEGRATION_SESSION_BACKEND"),
		MemcachedAddr:  memcachedAddr,
	}
}

// SetupIntegrationClient creates a live OpenWeather client. Empty URLs use the public endpoints.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(client.Options{
		APIKey:     cfg.APIKey,
		GeocodeURL: cfg.GeocodeURL,
		WeatherURL: cfg.WeatherURL,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

// SetupIntegrationWidget creates a widget service over a live client and the
// configured session backend, falling back to in-memory when memcached is unreachable.
// Returns the service, the client and a cleanup function.
func SetupIntegrationWidget(t *testing.T, cfg IntegrationTestConfig) (*service.WidgetService, *client.OpenWeatherClient, func()) {
	t.Helper()
	c := SetupIntegrationClient(t, cfg)

	var store session.Store
	cleanup := func() {}
	if cfg.SessionBackend == "memcached" {
		mc, err := session.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil && mc.Ping() == nil {
			store = mc
			cleanup = func() { _ = mc.Close() }
			t.Logf("Using memcached session store at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("memcached not available, using in-memory session store")
		}
	}
	if store == nil {
		store = session.NewInMemoryStore(time.Minute)
	}

	return service.NewWidgetService(c, store, service.Options{SessionTTL: 5 * time.Minute}), c, cleanup
}
