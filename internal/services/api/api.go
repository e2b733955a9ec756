// Package api provides the HTTP API for the application
package api

import (
	"compress/flate"
	"net/http"
	"time"

	"ollamaproxy/internal/platform/config"
	"ollamaproxy/internal/platform/logger"
	phttp "ollamaproxy/internal/platform/net/http"
	pmw "ollamaproxy/internal/platform/net/middleware"
	"ollamaproxy/internal/platform/store"

	"ollamaproxy/internal/modkit"
	"ollamaproxy/internal/modkit/httpkit"
	"ollamaproxy/internal/modkit/module"
	"ollamaproxy/internal/modkit/swaggerkit"

	metamod "ollamaproxy/internal/services/api/meta/module"
	operatormod "ollamaproxy/internal/services/api/operator/module"
	proxymod "ollamaproxy/internal/services/api/proxy/module"
	proxyhealthmod "ollamaproxy/internal/services/api/proxyhealth/module"
	queriesmod "ollamaproxy/internal/services/api/queries/module"
	statsmod "ollamaproxy/internal/services/api/stats/module"

	"ollamaproxy/internal/services/proxy/dispatch"
	"ollamaproxy/internal/services/proxy/health"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/requestlog"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	EnableSwagger  bool
	EnableProfiler bool

	// Upstream is the upstream API base URL, used by the meta liveness probe
	Upstream string

	// Dispatcher serves the catch-all proxy route
	Dispatcher *dispatch.Dispatcher
	// Health is the HealthWorker backing /health/keys
	Health *health.Worker
	// Ledger backs the read-only /stats surface
	Ledger *ledger.Ledger
	// RequestLog backs the /queries archive inspection surface
	RequestLog *requestlog.Log

	// AuthPort validates the inbound bearer token; nil when unauthenticated
	// access is allowed
	AuthPort pmw.AuthPort
	// RequireAuth is false when ALLOW_UNAUTHENTICATED_ACCESS=true
	RequireAuth bool
}

// Mount mounts the API service onto the given router
func Mount(r phttp.Router, opt Options) {
	deps := modkit.Deps{
		Cfg: opt.Config,
		PG:  opt.Store.PG,
		CH:  opt.Store.CH,
	}

	// baseStack applies to every route on the shared router, including the
	// catch-all proxy: none of these touch the response body or the
	// request's cancellation deadline, so they're safe to share with a
	// long-lived stream
	r.Use(baseStack()...)

	// bufferedStack (response compression, a bounded request timeout) is
	// only safe for the non-streaming admin/meta surface. chi's Group
	// branches the middleware chain: anything Use'd inside only applies to
	// routes registered inside fn, leaving the parent router - and the
	// catch-all proxy route mounted on it below - untouched
	r.Group(func(rr phttp.Router) {
		rr.Use(bufferedStack()...)

		swaggerkit.Mount(rr, opt.EnableSwagger)
		phttp.MountProfiler(rr, "/debug", opt.EnableProfiler)

		// meta is always mounted unauthenticated: liveness probes must not
		// require a token
		metamod.New(deps, opt.Upstream, &http.Client{}).MountRoutes(rr)

		admin := []module.Module{
			proxyhealthmod.New(opt.Health),
			statsmod.New(opt.Ledger),
			queriesmod.New(opt.RequestLog),
			operatormod.New(opt.Dispatcher.RateLimits()),
		}

		mountAdmin := func(rrr phttp.Router) {
			for _, m := range admin {
				module.Register(m.Name(), m.Ports())
				m.MountRoutes(rrr)
			}
		}
		if opt.RequireAuth {
			httpkit.Protected(rr, opt.AuthPort, mountAdmin)
		} else {
			mountAdmin(rr)
		}
	})

	// the catch-all proxy route is mounted last, directly on the root
	// router, so chi's literal-route precedence resolves /health, /stats,
	// /queries, etc. before it, and so it never picks up the buffered
	// group's Compress/Timeout middleware above: upstream streams must be
	// forwarded verbatim and are allowed to run longer than 30s
	proxymod.New(opt.Dispatcher, opt.AuthPort, opt.RequireAuth).MountRoutes(r)
}

// baseStack mirrors httpkit.CommonStack but relocates its hardcoded
// heartbeat path: this service's own /health route returns a JSON liveness
// payload, so chi's plain-text heartbeat responder must sit on a path
// nothing else claims, instead of shadowing it. It omits Compress and
// Timeout, which aren't safe to share with the streaming proxy route; those
// live in bufferedStack instead
func baseStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		pmw.RequestID(),
		pmw.RealIP(),
		pmw.RecoverJSON,
		pmw.NoCache(),
		pmw.Logger(),
		pmw.CORS(pmw.CORSOptions{}),
		pmw.Heartbeat("/_heartbeat"),
		pmw.RedirectSlashes(),
		pmw.StripSlashes(),
	}
}

// bufferedStack holds the middleware that buffers or bounds a response: safe
// for the admin/meta JSON surface, but never for the catch-all proxy route,
// which must forward upstream bytes untouched and may run past 30s on long
// streams
func bufferedStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		pmw.Compress(flate.BestSpeed),
		pmw.Timeout(30 * time.Second),
	}
}
