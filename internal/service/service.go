package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-widget/internal/client"
	"github.com/kjstillabower/weather-widget/internal/models"
	"github.com/kjstillabower/weather-widget/internal/observability"
	"github.com/kjstillabower/weather-widget/internal/session"
	"github.com/kjstillabower/weather-widget/internal/traffic"
	"github.com/kjstillabower/weather-widget/internal/view"
)

// Options configures a WidgetService. Zero values fall back to shimla, metric, 30m.
type Options struct {
	DefaultCity  string
	DefaultUnits models.Units
	SessionTTL   time.Duration
	// Tokens issues fetch tokens; ULIDs when nil.
	Tokens view.TokenSource
}

// WidgetService runs the view reducer for each session: it loads state,
// applies a message, saves the result, and executes any fetch the reducer
// asks for outside the session lock.
type WidgetService struct {
	client       client.WeatherClient
	store        session.Store
	reducer      *view.Reducer
	ttl          time.Duration
	defaultCity  string
	defaultUnits models.Units
	locks        *sessionLocks
}

// NewWidgetService creates a WidgetService backed by the given weather client and session store.
func NewWidgetService(c client.WeatherClient, store session.Store, opts Options) *WidgetService {
	if opts.DefaultCity == "" {
		opts.DefaultCity = "shimla"
	}
	if opts.DefaultUnits == "" {
		opts.DefaultUnits = models.UnitsMetric
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &WidgetService{
		client:       c,
		store:        store,
		reducer:      view.NewReducer(opts.Tokens),
		ttl:          opts.SessionTTL,
		defaultCity:  opts.DefaultCity,
		defaultUnits: opts.DefaultUnits,
		locks:        newSessionLocks(),
	}
}

// Start mounts a new session and returns its state after the initial fetch.
func (s *WidgetService) Start(ctx context.Context, id string) (view.State, error) {
	observability.SessionsStartedTotal.Inc()
	observability.LoggerFromContext(ctx).Debug("session started", zap.String("session", shortID(id)))
	return s.Dispatch(ctx, id, view.Mount{})
}

// State returns the stored state for id; ok is false for unknown or expired sessions.
func (s *WidgetService) State(ctx context.Context, id string) (view.State, bool, error) {
	return s.load(ctx, id)
}

// Dispatch applies msg to the session and, when the transition requests
// weather, fetches it and applies the outcome before returning.
func (s *WidgetService) Dispatch(ctx context.Context, id string, msg view.Msg) (view.State, error) {
	observability.ViewEventsTotal.WithLabelValues(msg.Event()).Inc()

	state, cmd, err := s.apply(ctx, id, msg)
	if err != nil || cmd == nil {
		return state, err
	}

	var result view.Msg
	rec, fetchErr := s.fetch(ctx, cmd)
	if fetchErr != nil {
		result = view.FetchFailed{Token: cmd.Token, Err: fetchErr}
	} else {
		result = view.FetchSucceeded{Token: cmd.Token, Record: rec}
	}

	// The result is recorded even if the caller went away so the session does not stay pending.
	state, _, err = s.apply(context.WithoutCancel(ctx), id, result)
	return state, err
}

func (s *WidgetService) apply(ctx context.Context, id string, msg view.Msg) (view.State, *view.FetchCmd, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	state, ok, err := s.load(ctx, id)
	if err != nil {
		return view.State{}, nil, err
	}
	if !ok {
		state = view.Initial(s.defaultCity, s.defaultUnits)
	}

	if token, isResult := resultToken(msg); isResult && !state.Awaiting(token) {
		observability.StaleFetchResultsTotal.Inc()
		observability.LoggerFromContext(ctx).Debug("discarding superseded fetch result",
			zap.String("session", shortID(id)), zap.String("token", token), zap.String("pending", state.Pending))
		return state, nil, nil
	}

	next, cmd := s.reducer.Reduce(state, msg)
	if err := s.save(ctx, id, next); err != nil {
		return view.State{}, nil, err
	}
	return next, cmd, nil
}

func (s *WidgetService) fetch(ctx context.Context, cmd *view.FetchCmd) (models.WeatherRecord, error) {
	logger := observability.LoggerFromContext(ctx)
	start := time.Now()
	observability.RecordWeatherQuery(cmd.City)

	rec, err := s.client.FetchWeather(ctx, cmd.City, cmd.Units)
	if err != nil {
		category := client.CategorizeError(err)
		observability.WeatherFetchesTotal.WithLabelValues(string(category)).Inc()
		if category == client.ErrorCategoryInvalidCity {
			traffic.RecordSuccess()
		} else {
			traffic.RecordError()
		}
		logger.Info("weather fetch failed",
			zap.String("city", cmd.City),
			zap.String("units", string(cmd.Units)),
			zap.String("category", string(category)),
			zap.Error(err))
		return models.WeatherRecord{}, fmt.Errorf("fetch weather for %s: %w", cmd.City, err)
	}

	observability.WeatherFetchesTotal.WithLabelValues("success").Inc()
	traffic.RecordSuccess()
	logger.Debug("weather fetched",
		zap.String("city", cmd.City),
		zap.String("units", string(cmd.Units)),
		zap.Float64("temp", rec.Temp),
		zap.Duration("duration", time.Since(start)))
	return rec, nil
}

func (s *WidgetService) load(ctx context.Context, id string) (view.State, bool, error) {
	start := time.Now()
	state, ok, err := s.store.Get(ctx, id)
	if err != nil {
		observability.SessionStoreErrorsTotal.WithLabelValues("get").Inc()
		observability.SessionStoreDurationSeconds.WithLabelValues("get", "error").Observe(time.Since(start).Seconds())
		observability.LoggerFromContext(ctx).Warn("session load failed", zap.String("session", shortID(id)), zap.Error(err))
		return view.State{}, false, fmt.Errorf("load session: %w", err)
	}
	observability.SessionStoreDurationSeconds.WithLabelValues("get", "success").Observe(time.Since(start).Seconds())
	return state, ok, nil
}

func (s *WidgetService) save(ctx context.Context, id string, state view.State) error {
	start := time.Now()
	if err := s.store.Set(ctx, id, state, s.ttl); err != nil {
		observability.SessionStoreErrorsTotal.WithLabelValues("set").Inc()
		observability.SessionStoreDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(start).Seconds())
		observability.LoggerFromContext(ctx).Warn("session save failed", zap.String("session", shortID(id)), zap.Error(err))
		return fmt.Errorf("save session: %w", err)
	}
	observability.SessionStoreDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(start).Seconds())
	return nil
}

// resultToken returns the token carried by a fetch result message.
func resultToken(msg view.Msg) (string, bool) {
	switch m := msg.(type) {
	case view.FetchSucceeded:
		return m.Token, true
	case view.FetchFailed:
		return m.Token, true
	}
	return "", false
}

// shortID keeps session identifiers out of logs in full.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
