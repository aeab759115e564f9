package view

import (
	"strings"

	"github.com/kjstillabower/weather-widget/internal/models"
)

// Msg is a typed UI event or fetch result.
type Msg interface {
	// Event is the stable metric label for the message type.
	Event() string
}

type (
	// Mount is sent once when a session is created.
	Mount struct{}

	// SubmitCity is a typed city confirmed in the input field.
	SubmitCity struct{ City string }

	// SelectHistoryEntry is a click on a recent search.
	SelectHistoryEntry struct{ City string }

	// ToggleUnits flips between metric and imperial.
	ToggleUnits struct{}

	// ClearHistory empties the recent-search list.
	ClearHistory struct{}

	// Refresh re-fetches the current city in the current units.
	Refresh struct{}

	// FetchSucceeded carries a fetched record for the fetch identified by Token.
	FetchSucceeded struct {
		Token  string
		Record models.WeatherRecord
	}

	// FetchFailed reports that the fetch identified by Token failed.
	FetchFailed struct {
		Token string
		Err   error
	}
)

func (Mount) Event() string              { return "mount" }
func (SubmitCity) Event() string         { return "submit_city" }
func (SelectHistoryEntry) Event() string { return "select_history" }
func (ToggleUnits) Event() string        { return "toggle_units" }
func (ClearHistory) Event() string       { return "clear_history" }
func (Refresh) Event() string            { return "refresh" }
func (FetchSucceeded) Event() string     { return "fetch_succeeded" }
func (FetchFailed) Event() string        { return "fetch_failed" }

// Reducer applies messages to State. The zero value is not usable; use NewReducer.
type Reducer struct {
	tokens TokenSource
}

// NewReducer returns a Reducer drawing fetch tokens from tokens (ULIDTokens when nil).
func NewReducer(tokens TokenSource) *Reducer {
	if tokens == nil {
		tokens = ULIDTokens
	}
	return &Reducer{tokens: tokens}
}

// Reduce returns the next state and, when the transition needs fresh weather,
// the fetch to run. Results whose token is no longer pending are ignored, so
// the most recently issued fetch always wins.
func (r *Reducer) Reduce(s State, msg Msg) (State, *FetchCmd) {
	switch m := msg.(type) {
	case Mount, Refresh:
		return r.fetch(s)

	case SubmitCity:
		city := strings.TrimSpace(m.City)
		if city == "" {
			return s, nil
		}
		s.History = s.History.Remember(city)
		return r.setCity(s, city)

	case SelectHistoryEntry:
		city := strings.TrimSpace(m.City)
		if !s.History.Contains(city) {
			return s, nil
		}
		return r.setCity(s, city)

	case ToggleUnits:
		s.Units = s.Units.Other()
		return r.fetch(s)

	case ClearHistory:
		s.History = History{}
		return s, nil

	case FetchSucceeded:
		if !s.Awaiting(m.Token) {
			return s, nil
		}
		rec := m.Record
		s.Phase = PhaseLoaded
		s.Weather = &rec
		s.Error = ""
		s.Background = BackgroundFor(rec.Temp, s.Units)
		s.History = s.History.Remember(s.City)
		s.Pending = ""
		return s, nil

	case FetchFailed:
		if !s.Awaiting(m.Token) {
			return s, nil
		}
		s.Phase = PhaseErrored
		s.Weather = nil
		s.Error = InvalidCityMessage
		s.Pending = ""
		return s, nil
	}
	return s, nil
}

// setCity refetches when the city changed or the current view is not showing weather.
func (r *Reducer) setCity(s State, city string) (State, *FetchCmd) {
	if city == s.City && s.Phase == PhaseLoaded {
		return s, nil
	}
	s.City = city
	return r.fetch(s)
}

func (r *Reducer) fetch(s State) (State, *FetchCmd) {
	s.Pending = r.tokens()
	return s, &FetchCmd{Token: s.Pending, City: s.City, Units: s.Units}
}
