// Package module wires liveness/readiness endpoints into the API using a tiny module
package module

import (
	"net/http"
	"time"

	modkit "ollamaproxy/internal/modkit"
	"ollamaproxy/internal/modkit/httpkit"
	str "ollamaproxy/internal/platform/strings"

	metahttp "ollamaproxy/internal/services/api/meta/http"
)

// Module implements the modkit.Module interface
type Module struct {
	deps      modkit.Deps
	name      string
	mws       []func(http.Handler) http.Handler
	swaggerOn bool

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)

	startedAt time.Time
}

// New constructs the meta module. It mounts directly on the root router
// (no prefix) so /health and /ready resolve exactly as spec.md §6 names them
func New(deps modkit.Deps, upstream string, client *http.Client, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("meta"),
	}, opts...)...)

	m := &Module{
		deps:      deps,
		name:      b.Name,
		mws:       b.Mw,
		swaggerOn: b.SwaggerOn,
		subrouter: b.Subrouter,
		startedAt: time.Now(),
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		metahttp.Register(r, metahttp.Deps{
			ServiceName: "ollama-cloud-proxy",
			StartedAt:   m.startedAt,
			Upstream:    upstream,
			Client:      client,
			PG:          deps.PG,
			CH:          deps.CH,
		})
		if external != nil {
			external(r)
		}
	}

	return m
}

// MountRoutes implements the modkit.Module interface. Unlike most modules,
// meta mounts directly on the given router rather than under r.Route(prefix)
// since /health and /ready are root-level paths, not a nested resource
func (m *Module) MountRoutes(r httpkit.Router) {
	for _, mw := range m.mws {
		r.Use(mw)
	}
	rr := r
	if m.subrouter != nil {
		rr = m.subrouter(rr)
	}
	if m.register != nil {
		m.register(rr)
	}
}

// Name implements the modkit.Module interface
func (m *Module) Name() string { return str.MustString(m.name, "meta") }

// Prefix implements the modkit.Module interface; meta has no path prefix
func (m *Module) Prefix() string { return "/" }

// Middlewares implements the modkit.Module interface
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return nil }
