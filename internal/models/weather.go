package models

import (
	"fmt"
	"strings"
	"time"
)

// Units is the measurement convention requested from the provider.
type Units string

const (
	UnitsMetric   Units = "metric"
	UnitsImperial Units = "imperial"
)

// ParseUnits accepts "metric" or "imperial" (case-insensitive).
func ParseUnits(s string) (Units, error) {
	switch Units(strings.ToLower(strings.TrimSpace(s))) {
	case UnitsMetric:
		return UnitsMetric, nil
	case UnitsImperial:
		return UnitsImperial, nil
	}
	return "", fmt.Errorf("unknown units %q", s)
}

// Other returns the opposite unit system.
func (u Units) Other() Units {
	if u == UnitsImperial {
		return UnitsMetric
	}
	return UnitsImperial
}

// Symbol is the temperature suffix shown next to readings.
func (u Units) Symbol() string {
	if u == UnitsImperial {
		return "°F"
	}
	return "°C"
}

// WindUnit is the unit the provider reports wind speed in.
func (u Units) WindUnit() string {
	if u == UnitsImperial {
		return "mph"
	}
	return "m/s"
}

// ColdThreshold is the temperature at or below which conditions count as cold.
func (u Units) ColdThreshold() float64 {
	if u == UnitsImperial {
		return 60
	}
	return 20
}

// WeatherRecord is a flattened snapshot of current conditions for one city.
type WeatherRecord struct {
	Name        string    `json:"name"`
	Country     string    `json:"country"`
	Temp        float64   `json:"temp"`
	FeelsLike   float64   `json:"feelsLike"`
	TempMin     float64   `json:"tempMin"`
	TempMax     float64   `json:"tempMax"`
	Humidity    int       `json:"humidity"`
	Visibility  int       `json:"visibility"` // meters
	WindSpeed   float64   `json:"windSpeed"`
	Sunrise     time.Time `json:"sunrise"`
	Sunset      time.Time `json:"sunset"`
	Description string    `json:"description"`
	IconURL     string    `json:"iconUrl"`
	Units       Units     `json:"units"`
}
