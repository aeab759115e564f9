package http

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-widget/internal/client"
	"github.com/kjstillabower/weather-widget/internal/observability"
	"github.com/kjstillabower/weather-widget/internal/service"
	"github.com/kjstillabower/weather-widget/internal/traffic"
	"github.com/kjstillabower/weather-widget/internal/validation"
	"github.com/kjstillabower/weather-widget/internal/view"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html.tmpl"))

// maxEventBody caps POST /api/events payloads.
const maxEventBody = 4 << 10

// Options configures the widget handler.
type Options struct {
	CookieName    string
	CookieSecure  bool
	SessionTTL    time.Duration
	CityMaxLength int

	HotBackgroundURL  string
	ColdBackgroundURL string

	// StorePing, when set, is called to check session store reachability. Used when backend is memcached.
	StorePing func() error
	// CheckProvider makes /health geocode a fixed city through the weather client.
	CheckProvider bool

	// HealthWindow is the sliding window for the error-rate and overload checks.
	HealthWindow time.Duration
	// DegradedErrorPct reports degraded when provider failures reach this share of calls. 0 disables.
	DegradedErrorPct int
	// OverloadThresholdPct reports overloaded when denials exceed this share of
	// RateLimitRPS * HealthWindow. 0 or RateLimitRPS 0 disables.
	OverloadThresholdPct int
	RateLimitRPS         int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	widget           *service.WidgetService
	client           client.WeatherClient
	opts             Options
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(widget *service.WidgetService, c client.WeatherClient, logger *zap.Logger, opts Options) *Handler {
	if opts.CookieName == "" {
		opts.CookieName = "weather_widget_session"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	if opts.CityMaxLength <= 0 {
		opts.CityMaxLength = 100
	}
	if opts.HotBackgroundURL == "" {
		opts.HotBackgroundURL = "/static/hot.svg"
	}
	if opts.ColdBackgroundURL == "" {
		opts.ColdBackgroundURL = "/static/cold.svg"
	}
	if opts.HealthWindow <= 0 {
		opts.HealthWindow = time.Minute
	}
	return &Handler{
		widget: widget,
		client: c,
		opts:   opts,
		logger: logger,
	}
}

// stateResponse is the JSON body of the API endpoints.
type stateResponse struct {
	view.Display
	BackgroundURL string `json:"backgroundUrl"`
}

// pageData is the template context for the widget page.
type pageData struct {
	View          view.Display
	BackgroundURL string
	Notice        string
	CityMaxLength int
}

// GetPage handles GET /. Visitors without a live session get one, mounted on the default city.
func (h *Handler) GetPage(w http.ResponseWriter, r *http.Request) {
	state, err := h.currentState(w, r)
	if err != nil {
		h.writePageError(w, r, err)
		return
	}
	h.renderPage(w, r, http.StatusOK, state, "")
}

// PostCity handles POST /city with form field city.
func (h *Handler) PostCity(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.PostFormValue("city"), h.opts.CityMaxLength)
	if err != nil {
		h.rejectForm(w, r, err)
		return
	}
	h.dispatchForm(w, r, view.SubmitCity{City: city})
}

// PostUnits handles POST /units.
func (h *Handler) PostUnits(w http.ResponseWriter, r *http.Request) {
	h.dispatchForm(w, r, view.ToggleUnits{})
}

// PostHistorySelect handles POST /history/select with form field city.
func (h *Handler) PostHistorySelect(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.PostFormValue("city"), h.opts.CityMaxLength)
	if err != nil {
		h.rejectForm(w, r, err)
		return
	}
	h.dispatchForm(w, r, view.SelectHistoryEntry{City: city})
}

// PostHistoryClear handles POST /history/clear.
func (h *Handler) PostHistoryClear(w http.ResponseWriter, r *http.Request) {
	h.dispatchForm(w, r, view.ClearHistory{})
}

// PostRefresh handles POST /refresh.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	h.dispatchForm(w, r, view.Refresh{})
}

// dispatchForm applies msg to the caller's session and redirects back to the page.
func (h *Handler) dispatchForm(w http.ResponseWriter, r *http.Request, msg view.Msg) {
	id := h.sessionID(w, r)
	if _, err := h.widget.Dispatch(r.Context(), id, msg); err != nil {
		h.writePageError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// rejectForm re-renders the page with a 400 and the validation message. State is unchanged.
func (h *Handler) rejectForm(w http.ResponseWriter, r *http.Request, cause error) {
	state, err := h.currentState(w, r)
	if err != nil {
		h.writePageError(w, r, err)
		return
	}
	h.renderPage(w, r, http.StatusBadRequest, state, cause.Error())
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.currentState(w, r)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.stateResponse(state))
}

// eventRequest is the body of POST /api/events.
type eventRequest struct {
	Type string `json:"type"`
	City string `json:"city"`
}

// PostEvent handles POST /api/events.
func (h *Handler) PostEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON event")
		return
	}

	var msg view.Msg
	switch req.Type {
	case "submit_city", "select_history":
		city, err := validation.ValidateCity(req.City, h.opts.CityMaxLength)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
			return
		}
		if req.Type == "submit_city" {
			msg = view.SubmitCity{City: city}
		} else {
			msg = view.SelectHistoryEntry{City: city}
		}
	case "toggle_units":
		msg = view.ToggleUnits{}
	case "clear_history":
		msg = view.ClearHistory{}
	case "refresh":
		msg = view.Refresh{}
	default:
		writeError(w, r, http.StatusBadRequest, "UNKNOWN_EVENT", "unknown event type: "+req.Type)
		return
	}

	id := h.sessionID(w, r)
	state, err := h.widget.Dispatch(r.Context(), id, msg)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.stateResponse(state))
}

// currentState returns the caller's session state, starting a session when
// there is no cookie or the stored state has expired.
func (h *Handler) currentState(w http.ResponseWriter, r *http.Request) (view.State, error) {
	ctx := r.Context()
	if id, ok := h.cookieSession(r); ok {
		state, found, err := h.widget.State(ctx, id)
		if err != nil {
			return view.State{}, err
		}
		if found {
			return state, nil
		}
		return h.widget.Start(ctx, id)
	}
	id := h.newSession(w)
	return h.widget.Start(ctx, id)
}

// sessionID returns the caller's session id, issuing a new cookie when absent.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := h.cookieSession(r); ok {
		return id
	}
	return h.newSession(w)
}

func (h *Handler) cookieSession(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.opts.CookieName)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func (h *Handler) newSession(w http.ResponseWriter) string {
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.opts.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (h *Handler) backgroundURL(bg view.Background) string {
	if bg == view.BackgroundCold {
		return h.opts.ColdBackgroundURL
	}
	return h.opts.HotBackgroundURL
}

func (h *Handler) stateResponse(state view.State) stateResponse {
	return stateResponse{
		Display:       view.Render(state),
		BackgroundURL: h.backgroundURL(state.Background),
	}
}

func (h *Handler) renderPage(w http.ResponseWriter, r *http.Request, status int, state view.State, notice string) {
	data := pageData{
		View:          view.Render(state),
		BackgroundURL: h.backgroundURL(state.Background),
		Notice:        notice,
		CityMaxLength: h.opts.CityMaxLength,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		observability.LoggerFromContext(r.Context()).Error("render page", zap.Error(err))
	}
}

// writePageError reports a session store failure to a browser.
func (h *Handler) writePageError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context()).Error("session unavailable", zap.Error(err))
	http.Error(w, "Session storage is unavailable. Please try again shortly.", http.StatusServiceUnavailable)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > session store unreachable > provider unreachable > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := make(map[string]string)
	if IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}

	reason := ""
	if h.opts.StorePing != nil {
		if err := h.opts.StorePing(); err != nil {
			checks["sessionStore"] = "unhealthy"
			reason = "session_store_unreachable"
		} else {
			checks["sessionStore"] = "healthy"
		}
	}
	if h.opts.CheckProvider && h.client != nil {
		if err := h.client.Ping(ctx); err != nil {
			checks["weatherApi"] = "unhealthy"
			if reason == "" {
				reason = "provider_unreachable"
			}
		} else {
			checks["weatherApi"] = "healthy"
		}
	}
	if reason != "" {
		return healthResult{"degraded", http.StatusServiceUnavailable, reason, checks}
	}

	window := h.opts.HealthWindow
	if h.opts.OverloadThresholdPct > 0 && h.opts.RateLimitRPS > 0 {
		threshold := float64(h.opts.RateLimitRPS) * window.Seconds() * float64(h.opts.OverloadThresholdPct) / 100
		if float64(traffic.DenialCount(window)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold", checks}
		}
	}
	if h.opts.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(window)
		if total > 0 && float64(errs)*100/float64(total) >= float64(h.opts.DegradedErrorPct) {
			checks["weatherApi"] = "unhealthy"
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
		}
	}
	return healthResult{"healthy", http.StatusOK, "", checks}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeSessionError writes a 503 for session store failures; cancelled requests get 504.
func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context()).Error("session unavailable", zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "Request timed out")
		return
	}
	writeError(w, r, http.StatusServiceUnavailable, "SESSION_UNAVAILABLE", "Session storage is unavailable")
}
