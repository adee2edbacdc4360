/*
server.go - HTTP router and middleware configuration

PURPOSE:

	Configures the HTTP router (chi), middleware stack, and route definitions.
	This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
 1. RequestID:      Unique ID per request, echoed in logs
 2. RealIP:         Client address from X-Forwarded-For / X-Real-IP
 3. RequestLogger:  zap request log + request-scoped logger in context
 4. Recoverer:      Panic recovery (500 instead of crash), logged with zap
 5. CORS:           Cross-origin requests, origins from configuration

ROUTE GROUPS:

	/api/parties/*     Parties, their invoices and vouchers
	/api/invoices      Record invoices
	/api/vouchers      Record vouchers
	/api/selections/*  Selection aggregates and voucher drafts
	/api/reconcile     Stateless reconciliation
	/api/scenarios/*   Demo scenarios
	/api/audit/*       Background audit
	/                  Index page listing the endpoints

SECURITY NOTE:

	No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty means localhost development origins.
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.Log))
	r.Use(Recoverer(h.Log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !wildcard(origins),
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/healthz", h.Health)

		r.Route("/parties", func(r chi.Router) {
			r.Get("/", h.ListParties)
			r.Post("/", h.CreateParty)
			r.Get("/{id}", h.GetParty)
			r.Get("/{id}/invoices", h.ListPartyInvoices)
			r.Get("/{id}/invoices/{invoiceID}", h.GetPartyInvoice)
			r.Get("/{id}/vouchers", h.ListPartyVouchers)
		})

		r.Post("/invoices", h.CreateInvoice)
		r.Post("/vouchers", h.CreateVoucher)

		r.Route("/selections", func(r chi.Router) {
			r.Post("/", h.Select)
			r.Post("/voucher", h.DraftVoucher)
		})

		r.Post("/reconcile", h.Reconcile)

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.GetAudit)
			r.Post("/run", h.RunAudit)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(indexPage))
	})

	return r
}

func wildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Reconciliation Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Reconciliation Engine API</h1>
<p>Load a demo with <code>POST /api/scenarios/load {"scenario_id": "partial-payment"}</code>.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/parties">/api/parties</a> - List parties</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List scenarios</li>
<li><a href="/api/audit">/api/audit</a> - Last background audit</li>
<li><a href="/api/healthz">/api/healthz</a> - Health check</li>
</ul>
</body>
</html>`
