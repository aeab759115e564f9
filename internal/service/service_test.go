package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-widget/internal/client"
	"github.com/kjstillabower/weather-widget/internal/models"
	"github.com/kjstillabower/weather-widget/internal/observability"
	"github.com/kjstillabower/weather-widget/internal/session"
	"github.com/kjstillabower/weather-widget/internal/view"
)

// mockWeatherClient answers from temps; cities missing from temps are invalid.
// A fetch for a city with a gate blocks until the gate is closed.
type mockWeatherClient struct {
	mu    sync.Mutex
	temps map[string]float64
	gates map[string]chan struct{}
	err   error
	calls []string
}

func (m *mockWeatherClient) FetchWeather(ctx context.Context, city string, units models.Units) (models.WeatherRecord, error) {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf("%s/%s", city, units))
	gate := m.gates[city]
	temp, ok := m.temps[city]
	err := m.err
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return models.WeatherRecord{}, err
	}
	if !ok {
		return models.WeatherRecord{}, fmt.Errorf("%w: no match for %q", client.ErrInvalidCity, city)
	}
	return models.WeatherRecord{Name: city, Temp: temp, Units: units}, nil
}

func (m *mockWeatherClient) Ping(ctx context.Context) error { return nil }

func (m *mockWeatherClient) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type failingStore struct {
	getErr error
	setErr error
}

func (f *failingStore) Get(ctx context.Context, id string) (view.State, bool, error) {
	return view.State{}, false, f.getErr
}

func (f *failingStore) Set(ctx context.Context, id string, state view.State, ttl time.Duration) error {
	return f.setErr
}

func newTestService(c client.WeatherClient) (*WidgetService, *session.InMemoryStore) {
	store := session.NewInMemoryStore(time.Minute)
	return NewWidgetService(c, store, Options{DefaultCity: "shimla", SessionTTL: time.Minute}), store
}

// TestWidgetService_Start verifies a new session fetches the default city and lands loaded.
func TestWidgetService_Start(t *testing.T) {
	mc := &mockWeatherClient{temps: map[string]float64{"shimla": 12}}
	svc, store := newTestService(mc)
	ctx := context.Background()

	state, err := svc.Start(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state.Phase != view.PhaseLoaded || state.Weather == nil || state.Weather.Temp != 12 {
		t.Fatalf("state = %+v, want loaded with temp 12", state)
	}
	if state.Background != view.BackgroundCold {
		t.Errorf("Background = %q, want cold", state.Background)
	}
	if len(state.History) != 1 || state.History[0] != "shimla" {
		t.Errorf("History = %v, want [shimla]", state.History)
	}

	stored, ok, err := store.Get(ctx, "sess-1")
	if err != nil || !ok {
		t.Fatalf("store.Get() = ok %v err %v", ok, err)
	}
	if stored.Pending != "" || stored.Phase != view.PhaseLoaded {
		t.Errorf("stored state = %+v, want settled", stored)
	}
}

func TestWidgetService_State_Unknown(t *testing.T) {
	svc, _ := newTestService(&mockWeatherClient{})
	_, ok, err := svc.State(context.Background(), "missing")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if ok {
		t.Error("State() ok = true for unknown session")
	}
}

func TestWidgetService_Dispatch_InvalidCity(t *testing.T) {
	mc := &mockWeatherClient{temps: map[string]float64{"shimla": 25}}
	svc, _ := newTestService(mc)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	state, err := svc.Dispatch(ctx, "s", view.SubmitCity{City: "zzzzz123"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if state.Phase != view.PhaseErrored || state.Error != view.InvalidCityMessage || state.Weather != nil {
		t.Errorf("state = %+v, want errored with Invalid City", state)
	}
	if state.History[0] != "zzzzz123" {
		t.Errorf("History = %v, want submitted city recorded first", state.History)
	}
}

func TestWidgetService_Dispatch_NetworkFailure(t *testing.T) {
	mc := &mockWeatherClient{err: fmt.Errorf("%w: dial tcp: connection refused", client.ErrNetwork)}
	svc, _ := newTestService(mc)

	state, err := svc.Start(context.Background(), "s")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if state.Phase != view.PhaseErrored || state.Error != view.InvalidCityMessage {
		t.Errorf("state = %+v, want errored", state)
	}
}

// TestWidgetService_ToggleUnits verifies the toggle refetches the same city in the other units.
func TestWidgetService_ToggleUnits(t *testing.T) {
	mc := &mockWeatherClient{temps: map[string]float64{"shimla": 59}}
	svc, _ := newTestService(mc)
	ctx := context.Background()
	_, _ = svc.Start(ctx, "s")

	state, err := svc.Dispatch(ctx, "s", view.ToggleUnits{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	calls := mc.callLog()
	if len(calls) != 2 || calls[1] != "shimla/imperial" {
		t.Errorf("calls = %v, want second fetch shimla/imperial", calls)
	}
	if state.ToggleLabel() != "°C" || state.Background != view.BackgroundCold {
		t.Errorf("label = %q background = %q, want °C cold (59 <= 60)", state.ToggleLabel(), state.Background)
	}
}

func TestWidgetService_ClearHistory_NoFetch(t *testing.T) {
	mc := &mockWeatherClient{temps: map[string]float64{"shimla": 25}}
	svc, _ := newTestService(mc)
	ctx := context.Background()
	_, _ = svc.Start(ctx, "s")

	state, err := svc.Dispatch(ctx, "s", view.ClearHistory{})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(state.History) != 0 {
		t.Errorf("History = %v, want empty", state.History)
	}
	if state.Weather == nil || state.Phase != view.PhaseLoaded {
		t.Error("ClearHistory must keep the weather display")
	}
	if n := len(mc.callLog()); n != 1 {
		t.Errorf("fetch calls = %d, want 1 (mount only)", n)
	}
}

// TestWidgetService_OverlappingFetches_LastIssuedWins holds the first fetch open,
// completes a second one, then releases the first and checks it is discarded.
func TestWidgetService_OverlappingFetches_LastIssuedWins(t *testing.T) {
	gate := make(chan struct{})
	mc := &mockWeatherClient{
		temps: map[string]float64{"shimla": 25, "london": 5, "paris": 30},
		gates: map[string]chan struct{}{"london": gate},
	}
	svc, _ := newTestService(mc)
	ctx := context.Background()
	if _, err := svc.Start(ctx, "s"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	done := make(chan view.State)
	go func() {
		st, err := svc.Dispatch(ctx, "s", view.SubmitCity{City: "london"})
		if err != nil {
			t.Errorf("Dispatch(london) error = %v", err)
		}
		done <- st
	}()

	waitFor(t, func() bool { return len(mc.callLog()) == 2 })

	state, err := svc.Dispatch(ctx, "s", view.SubmitCity{City: "paris"})
	if err != nil {
		t.Fatalf("Dispatch(paris) error = %v", err)
	}
	if state.Weather == nil || state.Weather.Name != "paris" {
		t.Fatalf("state = %+v, want paris loaded", state)
	}

	close(gate)
	late := <-done
	if late.Weather == nil || late.Weather.Name != "paris" || late.City != "paris" {
		t.Errorf("superseded london result applied: %+v", late)
	}

	final, _, _ := svc.State(ctx, "s")
	if final.City != "paris" || final.Weather.Name != "paris" || final.Background != view.BackgroundHot {
		t.Errorf("final state = %+v, want paris", final)
	}
}

func TestWidgetService_StoreErrors(t *testing.T) {
	boom := errors.New("memcached get: connection refused")
	tests := []struct {
		name  string
		store *failingStore
	}{
		{"get fails", &failingStore{getErr: boom}},
		{"set fails", &failingStore{setErr: boom}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := &mockWeatherClient{temps: map[string]float64{"shimla": 25}}
			svc := NewWidgetService(mc, tt.store, Options{})
			_, err := svc.Start(context.Background(), "s")
			if !errors.Is(err, boom) {
				t.Errorf("Start() error = %v, want wrapped store error", err)
			}
			if n := len(mc.callLog()); n != 0 {
				t.Errorf("fetch calls = %d, want 0 when state cannot be persisted", n)
			}
		})
	}
}

// TestWidgetService_LogsFetchFailure verifies failures are logged with their category.
func TestWidgetService_LogsFetchFailure(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := observability.WithLogger(context.Background(), zap.New(core))
	svc, _ := newTestService(&mockWeatherClient{})

	if _, err := svc.Start(ctx, "session-abcdef-123"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	entries := logs.FilterMessage("weather fetch failed").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["category"]; got != "invalid_city" {
		t.Errorf("category = %v, want invalid_city", got)
	}
}

func TestWidgetService_Defaults(t *testing.T) {
	svc := NewWidgetService(&mockWeatherClient{}, session.NewInMemoryStore(time.Minute), Options{})
	if svc.defaultCity != "shimla" || svc.defaultUnits != models.UnitsMetric || svc.ttl != 30*time.Minute {
		t.Errorf("defaults = %q %q %v", svc.defaultCity, svc.defaultUnits, svc.ttl)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("shortID() = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID() = %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
