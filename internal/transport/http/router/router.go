package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/baechuer/affiliate-tracker/internal/config"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
	"github.com/baechuer/affiliate-tracker/internal/transport/http/handlers"
	mw "github.com/baechuer/affiliate-tracker/internal/transport/http/middleware"
)

func New(
	rh *handlers.RedirectHandler,
	wh *handlers.WebhookHandler,
	z *handlers.HealthHandler,
	m *metrics.Metrics,
	cfg *config.Config,
) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(mw.AccessLog)
	r.Use(mw.Metrics(m))

	r.Get("/healthz", z.Healthz)
	r.Get("/readyz", z.Readyz)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	// Redirects stay unthrottled: a shared NAT must not lose clicks.
	r.Get("/"+cfg.RedirectPrefix+"/{slug}", rh.Redirect)

	r.Route("/webhooks", func(r chi.Router) {
		if cfg.RLEnabled {
			r.Use(httprate.LimitByIP(cfg.RLLimit, cfg.RLWindow))
		}
		r.Post("/{source}", wh.Receive)
		r.Get("/{source}/signature-info", wh.SignatureInfo)
	})

	return r
}
