package gatewayhttp

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// dashboardEnvVar, when set to a base URL, turns on GET /dashboard as a
// thin reverse proxy to an external stats component. The dashboard
// itself is out of scope; this is only the passthrough.
const dashboardEnvVar = "BLOCKRUN_DASHBOARD_ADDR"

// NewRouter builds the full chi router: RealIP/Recoverer ambient
// middleware plus request-ID tagging, then the routes. Unlike
// cmd/gateway/main.go's authenticated route group, every route here is
// open — the proxy binds to 127.0.0.1 and authorization lives in the
// payment signature the dispatcher attaches upstream, not in an
// inbound API key.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)

	r.Get("/health", h.Health)
	r.Post("/v1/chat/completions", h.ChatCompletions)
	r.Get("/models", h.ListModels)

	if proxy := newDashboardProxy(os.Getenv(dashboardEnvVar)); proxy != nil {
		r.Handle("/dashboard", proxy)
		r.Handle("/dashboard/*", proxy)
	}

	return r
}

// newDashboardProxy returns nil when addr is empty, leaving /dashboard
// unregistered rather than serving a broken route.
func newDashboardProxy(addr string) http.Handler {
	if addr == "" {
		return nil
	}
	target, err := url.Parse(addr)
	if err != nil {
		return nil
	}
	return httputil.NewSingleHostReverseProxy(target)
}
