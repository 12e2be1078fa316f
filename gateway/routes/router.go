package routes

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"optionchain/gateway/middleware"
)

// Rate-limit bucket keys understood by the router. Operators configure the
// per-bucket rates; unknown keys pass through unlimited.
const (
	RateKeyRead  = "options-read"
	RateKeyTrade = "options-trade"
	RateKeyAdmin = "options-admin"
)

type Config struct {
	Client        *NodeClient
	CompatHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Idempotency   *middleware.Idempotency
	CORS          middleware.CORSConfig
}

// New assembles the gateway router: the REST trade surface under
// /v1/options, oracle lookups under /v1/oracle, the JSON-RPC compatibility
// endpoint at /rpc and the operational endpoints.
func New(cfg Config) (http.Handler, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("nil node client")
	}
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.CompatHandler != nil {
		compat := cfg.CompatHandler
		if cfg.Authenticator != nil {
			compat = cfg.Authenticator.Middleware()(compat)
		}
		r.Handle("/rpc", compat)
	}

	options := newOptionsRoutes(cfg.Client)
	oracle := newOracleRoutes(cfg.Client)

	r.Route("/v1/options", func(sr chi.Router) {
		sr.Group(func(gr chi.Router) {
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware(RateKeyRead))
			}
			if obs != nil {
				gr.Use(obs.Middleware("options-read"))
			}
			options.mountReads(gr)
		})
		sr.Group(func(gr chi.Router) {
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware(RateKeyTrade))
			}
			if cfg.Authenticator != nil {
				gr.Use(cfg.Authenticator.Middleware(middleware.ScopeTrade))
			}
			if obs != nil {
				gr.Use(obs.Middleware("options-trade"))
			}
			if cfg.Idempotency != nil {
				gr.Use(cfg.Idempotency.Middleware())
			}
			options.mountTrading(gr)
		})
		sr.Route("/admin", func(gr chi.Router) {
			if cfg.RateLimiter != nil {
				gr.Use(cfg.RateLimiter.Middleware(RateKeyAdmin))
			}
			if cfg.Authenticator != nil {
				gr.Use(cfg.Authenticator.Middleware(middleware.ScopeAdmin))
			}
			if obs != nil {
				gr.Use(obs.Middleware("options-admin"))
			}
			if cfg.Idempotency != nil {
				gr.Use(cfg.Idempotency.Middleware())
			}
			options.mountAdmin(gr)
		})
	})

	r.Route("/v1/oracle", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateKeyRead))
		}
		if obs != nil {
			sr.Use(obs.Middleware("oracle"))
		}
		oracle.mount(sr)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
