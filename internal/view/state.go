// Package view holds the widget's UI state and the reducer that moves it
// between idle, loaded and errored in response to typed messages. Nothing in
// this package performs I/O: fetches are requested by returning a FetchCmd.
package view

import (
	"github.com/oklog/ulid/v2"

	"github.com/kjstillabower/weather-widget/internal/models"
)

// InvalidCityMessage is shown for every fetch failure.
const InvalidCityMessage = "Invalid City"

// Phase is the coarse view state.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoaded  Phase = "loaded"
	PhaseErrored Phase = "errored"
)

// Background selects the page backdrop.
type Background string

const (
	BackgroundHot  Background = "hot"
	BackgroundCold Background = "cold"
)

// BackgroundFor returns cold when temp is at or below the threshold for units.
func BackgroundFor(temp float64, units models.Units) Background {
	if temp <= units.ColdThreshold() {
		return BackgroundCold
	}
	return BackgroundHot
}

// State is everything one widget session shows. Values are replaced, never mutated in place.
type State struct {
	City       string                `json:"city"`
	Units      models.Units          `json:"units"`
	Phase      Phase                 `json:"phase"`
	Weather    *models.WeatherRecord `json:"weather,omitempty"`
	Error      string                `json:"error,omitempty"`
	Background Background            `json:"background"`
	History    History               `json:"history"`
	// Pending is the token of the fetch whose result the view is waiting for.
	Pending string `json:"pending,omitempty"`
}

// Initial returns the state a new session starts in.
func Initial(city string, units models.Units) State {
	if units == "" {
		units = models.UnitsMetric
	}
	return State{
		City:       city,
		Units:      units,
		Phase:      PhaseIdle,
		Background: BackgroundHot,
		History:    History{},
	}
}

// ToggleLabel is the unit-toggle button text: the symbol of the unit a click switches to.
func (s State) ToggleLabel() string {
	return s.Units.Other().Symbol()
}

// Awaiting reports whether a result carrying token would still be applied.
func (s State) Awaiting(token string) bool {
	return token != "" && token == s.Pending
}

// FetchCmd asks the runtime to fetch weather and report back with FetchSucceeded or FetchFailed.
type FetchCmd struct {
	Token string
	City  string
	Units models.Units
}

// TokenSource issues fetch tokens. Tokens must be unique per process.
type TokenSource func() string

// ULIDTokens issues monotonic ULIDs.
func ULIDTokens() string {
	return ulid.Make().String()
}
