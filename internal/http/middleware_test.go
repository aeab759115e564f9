package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-widget/internal/observability"
	"github.com/kjstillabower/weather-widget/internal/session"
	"github.com/kjstillabower/weather-widget/internal/service"
)

func TestCorrelationIDMiddleware_Generates(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	header := w.Header().Get("X-Correlation-ID")
	if header == "" {
		t.Fatal("X-Correlation-ID header missing")
	}
	if seen != header {
		t.Errorf("context correlation id = %q, want header value %q", seen, header)
	}
}

func TestCorrelationIDMiddleware_PropagatesClientID(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationIDFromContext(r.Context())
	})

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("X-Correlation-ID", "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Correlation-ID"); got != "client-provided-id" {
		t.Errorf("X-Correlation-ID = %q, want client-provided-id", got)
	}
	if seen != "client-provided-id" {
		t.Errorf("context correlation id = %q", seen)
	}
}

func TestMetricsMiddleware_CountsByRouteAndStatus(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues("POST", "/api/events", "4xx")
	before := testutil.ToFloat64(counter)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/api/events", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests_total delta = %v, want 1", got)
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	var during int64
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		during = InFlightCount()
	})

	before := InFlightCount()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

	if during != before+1 {
		t.Errorf("in-flight during request = %d, want %d", during, before+1)
	}
	if after := InFlightCount(); after != before {
		t.Errorf("in-flight after request = %d, want %d", after, before)
	}
}

func TestGetRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/city", "/city"},
		{"/history/select", "/history/select"},
		{"/api/events", "/api/events"},
		{"/static/app.css", "/static"},
		{"/static/hot.svg", "/static"},
		{"/wp-admin", "other"},
	}
	for _, tt := range tests {
		if got := getRoute(httptest.NewRequest("GET", tt.path, nil)); got != tt.want {
			t.Errorf("getRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var remaining time.Duration
	var hasDeadline bool
	h := TimeoutMiddleware(50 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var deadline time.Time
		deadline, hasDeadline = r.Context().Deadline()
		remaining = time.Until(deadline)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if !hasDeadline {
		t.Fatal("request context has no deadline")
	}
	if remaining <= 0 || remaining > 50*time.Millisecond {
		t.Errorf("remaining = %v, want within (0, 50ms]", remaining)
	}
}

// TestRateLimitMiddleware_Returns429WhenExceeded drives the full router: widget
// routes share the bucket while health stays reachable.
func TestRateLimitMiddleware_Returns429WhenExceeded(t *testing.T) {
	mc := defaultClient()
	widget := service.NewWidgetService(mc, session.NewInMemoryStore(time.Minute), service.Options{})
	h := NewHandler(widget, mc, zap.NewNop(), Options{})
	router := NewRouter(h, zap.NewNop(), rate.NewLimiter(1, 2), 5*time.Second)

	denied := observability.RateLimitDeniedTotal
	before := testutil.ToFloat64(denied)

	for i := 0; i < 3; i++ {
		w := serve(router, "GET", "/api/state", nil, nil)
		if i < 2 {
			if w.Code != http.StatusOK {
				t.Errorf("request %d: status = %d, want 200", i, w.Code)
			}
			continue
		}
		if w.Code != http.StatusTooManyRequests {
			t.Fatalf("request %d: status = %d, want 429", i, w.Code)
		}
		if w.Header().Get("Retry-After") == "" {
			t.Error("Retry-After header missing")
		}
		var errResp struct {
			Error struct {
				Code      string `json:"code"`
				RequestID string `json:"requestId"`
			} `json:"error"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
			t.Fatalf("decode 429 response: %v", err)
		}
		if errResp.Error.Code != "RATE_LIMITED" {
			t.Errorf("error.code = %q, want RATE_LIMITED", errResp.Error.Code)
		}
		if errResp.Error.RequestID == "" {
			t.Error("error.requestId empty, want correlation id")
		}
	}

	if got := testutil.ToFloat64(denied) - before; got != 1 {
		t.Errorf("rate limit denials = %v, want 1", got)
	}
	if w := serve(router, "GET", "/health", nil, nil); w.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200 while widget routes are limited", w.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	called := false
	h := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if !called || w.Code != http.StatusOK {
		t.Errorf("called = %v status = %d, want pass-through", called, w.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	_, router := newTestRouter(t, defaultClient(), nil, Options{})
	w := serve(router, "GET", "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
