// Package httptransport is the thin HTTP layer over the registry, consent,
// and chain services. Handlers decode, delegate, and translate; no business
// logic lives here.
package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vface/internal/platform/middleware"
	"vface/internal/transport/http/shared"
)

// RouterConfig carries everything the router needs.
type RouterConfig struct {
	Registry RegistryService
	Consent  ConsentService
	Chain    ChainService
	Logger   *slog.Logger
	// InternalSecret gates identity, consent, and admin routes when set.
	InternalSecret string
	// MetricsHandler overrides the default promhttp handler in tests.
	MetricsHandler http.Handler
}

// NewRouter wires all endpoints. The chain read side, health, and metrics are
// public; everything that touches identities or mints tokens sits behind the
// optional internal-secret gate.
func NewRouter(cfg RouterConfig) http.Handler {
	registryHandler := NewRegistryHandler(cfg.Registry, cfg.Logger)
	consentHandler := NewConsentHandler(cfg.Consent, cfg.Logger)
	chainHandler := NewChainHandler(cfg.Chain, cfg.Logger)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(chainHandler))
	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)

		r.Route("/chain", func(r chi.Router) {
			r.Get("/root", chainHandler.handleRoot)
			r.Get("/entries/{index}", chainHandler.handleEntry)
			r.Get("/verify", chainHandler.handleVerify)
			r.Get("/snapshot", chainHandler.handleSnapshot)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.InternalSecret(cfg.InternalSecret))

			r.Route("/identity", func(r chi.Router) {
				r.Post("/register", registryHandler.handleRegister)
				r.Get("/{fingerprint}", registryHandler.handleCheck)
				r.Post("/revoke", registryHandler.handleRevoke)
				r.Post("/search", registryHandler.handleSearch)
				r.Get("/owner/{ownerKey}", registryHandler.handleListByOwner)
			})

			r.Route("/consent", func(r chi.Router) {
				r.Post("/request", consentHandler.handleRequest)
				r.Post("/approve", consentHandler.handleApprove)
				r.Post("/verify", consentHandler.handleVerify)
			})

			r.Post("/admin/rotate-keys", registryHandler.handleRotateKeys)
		})
	})

	return r
}

type healthResponse struct {
	Status string     `json:"status"`
	Chain  *chainInfo `json:"chain,omitempty"`
}

type chainInfo struct {
	Root         string `json:"root"`
	TotalEntries int64  `json:"totalEntries"`
}

func healthHandler(h *ChainHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		root, err := h.chain.RootInfo(r.Context())
		if err != nil {
			shared.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded"})
			return
		}
		shared.WriteJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Chain:  &chainInfo{Root: root.Root, TotalEntries: root.TotalEntries},
		})
	}
}
