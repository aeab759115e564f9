package view

import (
	"fmt"
	"math"
)

// Display is the presentation model rendered by the HTML page and returned by the JSON API.
type Display struct {
	City        string      `json:"city"`
	Units       string      `json:"units"`
	Phase       Phase       `json:"phase"`
	ToggleLabel string      `json:"toggleLabel"`
	Background  Background  `json:"background"`
	Error       string      `json:"error,omitempty"`
	History     []string    `json:"history"`
	Weather     *Conditions `json:"weather,omitempty"`
}

// Conditions is a WeatherRecord formatted for display.
type Conditions struct {
	Location    string `json:"location"`
	Temperature string `json:"temperature"`
	Description string `json:"description"`
	IconURL     string `json:"iconUrl"`
	FeelsLike   string `json:"feelsLike"`
	TempMin     string `json:"tempMin"`
	TempMax     string `json:"tempMax"`
	Humidity    string `json:"humidity"`
	Visibility  string `json:"visibility"`
	Wind        string `json:"wind"`
	Sunrise     string `json:"sunrise,omitempty"`
	Sunset      string `json:"sunset,omitempty"`
}

// Render builds the presentation model for s. Weather is only present in the loaded phase.
func Render(s State) Display {
	d := Display{
		City:        s.City,
		Units:       string(s.Units),
		Phase:       s.Phase,
		ToggleLabel: s.ToggleLabel(),
		Background:  s.Background,
		Error:       s.Error,
		History:     append([]string{}, s.History...),
	}
	if s.Phase != PhaseLoaded || s.Weather == nil {
		return d
	}

	w := s.Weather
	sym := s.Units.Symbol()
	location := w.Name
	if w.Country != "" {
		location = fmt.Sprintf("%s, %s", w.Name, w.Country)
	}
	c := &Conditions{
		Location:    location,
		Temperature: formatTemp(w.Temp, sym),
		Description: w.Description,
		IconURL:     w.IconURL,
		FeelsLike:   formatTemp(w.FeelsLike, sym),
		TempMin:     formatTemp(w.TempMin, sym),
		TempMax:     formatTemp(w.TempMax, sym),
		Humidity:    fmt.Sprintf("%d%%", w.Humidity),
		Visibility:  fmt.Sprintf("%.1f km", float64(w.Visibility)/1000),
		Wind:        fmt.Sprintf("%.1f %s", w.WindSpeed, s.Units.WindUnit()),
	}
	if !w.Sunrise.IsZero() {
		c.Sunrise = w.Sunrise.Format("15:04")
	}
	if !w.Sunset.IsZero() {
		c.Sunset = w.Sunset.Format("15:04")
	}
	d.Weather = c
	return d
}

// formatTemp rounds to a whole degree.
func formatTemp(v float64, symbol string) string {
	r := math.Round(v)
	if r == 0 {
		r = 0 // avoid "-0"
	}
	return fmt.Sprintf("%.0f %s", r, symbol)
}
