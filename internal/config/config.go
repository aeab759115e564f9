package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-widget/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	GeocodeURL        string
	WeatherAPIURL     string
	IconURLTemplate   string
	WeatherAPITimeout time.Duration

	RequestTimeout time.Duration

	DefaultCity   string
	DefaultUnits  models.Units
	CityMaxLength int

	SessionBackend      string // "in_memory" or "memcached"
	SessionTTL          time.Duration
	SessionCookieName   string
	SessionCookieSecure bool

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	HotBackgroundURL  string
	ColdBackgroundURL string

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	HealthCheckProvider  bool
	HealthWindow         time.Duration
	DegradedErrorPct     int
	OverloadThresholdPct int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		GeocodeURL      string `yaml:"geocode_url"`
		URL             string `yaml:"url"`
		IconURLTemplate string `yaml:"icon_url_template"`
		Timeout         string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Widget struct {
		DefaultCity       string `yaml:"default_city"`
		DefaultUnits      string `yaml:"default_units"`
		CityMaxLength     int    `yaml:"city_max_length"`
		HotBackgroundURL  string `yaml:"hot_background_url"`
		ColdBackgroundURL string `yaml:"cold_background_url"`
	} `yaml:"widget"`

	Session struct {
		Backend      string `yaml:"backend"`
		TTL          string `yaml:"ttl"`
		CookieName   string `yaml:"cookie_name"`
		CookieSecure *bool  `yaml:"cookie_secure"`
		Memcached    struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"session"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Health struct {
		CheckProvider        bool   `yaml:"check_provider"`
		Window               string `yaml:"window"`
		DegradedErrorPct     *int   `yaml:"degraded_error_pct"`
		OverloadThresholdPct *int   `yaml:"overload_threshold_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = envOr("PORT", fc.Server.Port)
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.WeatherAPIKey = sec.WeatherAPIKey
		}
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.GeocodeURL = strings.TrimSpace(fc.WeatherAPI.GeocodeURL)
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = "https://api.openweathermap.org/geo/1.0/direct"
	}
	cfg.WeatherAPIURL = strings.TrimSpace(fc.WeatherAPI.URL)
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.IconURLTemplate = strings.TrimSpace(fc.WeatherAPI.IconURLTemplate)
	if cfg.IconURLTemplate == "" {
		cfg.IconURLTemplate = "https://openweathermap.org/img/wn/%s@2x.png"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.DefaultCity = strings.TrimSpace(fc.Widget.DefaultCity)
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = "shimla"
	}
	cfg.DefaultUnits = models.UnitsMetric
	if fc.Widget.DefaultUnits != "" {
		units, err := models.ParseUnits(fc.Widget.DefaultUnits)
		if err != nil {
			return nil, fmt.Errorf("widget.default_units: %w", err)
		}
		cfg.DefaultUnits = units
	}
	cfg.CityMaxLength = fc.Widget.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}
	cfg.HotBackgroundURL = fc.Widget.HotBackgroundURL
	if cfg.HotBackgroundURL == "" {
		cfg.HotBackgroundURL = "/static/hot.svg"
	}
	cfg.ColdBackgroundURL = fc.Widget.ColdBackgroundURL
	if cfg.ColdBackgroundURL == "" {
		cfg.ColdBackgroundURL = "/static/cold.svg"
	}

	cfg.SessionBackend = strings.TrimSpace(strings.ToLower(os.Getenv("SESSION_BACKEND")))
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = strings.TrimSpace(strings.ToLower(fc.Session.Backend))
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "in_memory"
	}
	cfg.SessionTTL = parseDuration(fc.Session.TTL, 30*time.Minute)
	cfg.SessionCookieName = strings.TrimSpace(fc.Session.CookieName)
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "weather_widget_session"
	}
	cfg.SessionCookieSecure = fc.Session.CookieSecure != nil && *fc.Session.CookieSecure

	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", strings.TrimSpace(fc.Session.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Session.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Session.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.HealthCheckProvider = fc.Health.CheckProvider
	cfg.HealthWindow = parseDuration(fc.Health.Window, time.Minute)
	cfg.DegradedErrorPct = 50
	if fc.Health.DegradedErrorPct != nil {
		cfg.DegradedErrorPct = *fc.Health.DegradedErrorPct
	}
	cfg.OverloadThresholdPct = 80
	if fc.Health.OverloadThresholdPct != nil {
		cfg.OverloadThresholdPct = *fc.Health.OverloadThresholdPct
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envOr returns the trimmed value of the environment variable key, or fallback when unset.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is so validate can reject them.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above the
// provider timeout, since one widget action may make two provider calls.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= 2*cfg.WeatherAPITimeout {
		cfg.RequestTimeout = 2*cfg.WeatherAPITimeout + time.Second
	}
	switch cfg.SessionBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("session.backend must be in_memory or memcached, got %q", cfg.SessionBackend)
	}
	if cfg.DegradedErrorPct < 0 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("health.degraded_error_pct must be between 0 and 100, got %d", cfg.DegradedErrorPct)
	}
	if cfg.OverloadThresholdPct < 0 {
		return fmt.Errorf("health.overload_threshold_pct must not be negative, got %d", cfg.OverloadThresholdPct)
	}
	if !strings.Contains(cfg.IconURLTemplate, "%s") {
		return fmt.Errorf("weather_api.icon_url_template must contain %%s, got %q", cfg.IconURLTemplate)
	}
	return nil
}
