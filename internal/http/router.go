package http

import (
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-widget/internal/observability"
)

// NewRouter wires the widget routes. Page, form and API routes share the rate
// limiter and request timeout; health, metrics and static assets do not.
func NewRouter(h *Handler, logger *zap.Logger, limiter *rate.Limiter, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.PathPrefix("/static/").Handler(StaticHandler()).Methods("GET", "HEAD")

	widget := router.NewRoute().Subrouter()
	widget.Use(RateLimitMiddleware(limiter))
	widget.Use(TimeoutMiddleware(requestTimeout))
	widget.HandleFunc("/", h.GetPage).Methods("GET")
	widget.HandleFunc("/city", h.PostCity).Methods("POST")
	widget.HandleFunc("/units", h.PostUnits).Methods("POST")
	widget.HandleFunc("/history/select", h.PostHistorySelect).Methods("POST")
	widget.HandleFunc("/history/clear", h.PostHistoryClear).Methods("POST")
	widget.HandleFunc("/refresh", h.PostRefresh).Methods("POST")
	widget.HandleFunc("/api/state", h.GetState).Methods("GET")
	widget.HandleFunc("/api/events", h.PostEvent).Methods("POST")

	return router
}
