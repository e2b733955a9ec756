// Package module wires the minimal operator surfaces into the API
package module

import (
	"net/http"

	modkit "ollamaproxy/internal/modkit"
	"ollamaproxy/internal/modkit/httpkit"
	str "ollamaproxy/internal/platform/strings"
	operatorhttp "ollamaproxy/internal/services/api/operator/http"
	"ollamaproxy/internal/services/proxy/dispatch"
)

// Module implements the modkit.Module interface
type Module struct {
	name string
	mws  []func(http.Handler) http.Handler

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)
}

// New constructs the operator module, mounted at the root prefix so /logs,
// /ratelimits, /dashboard and / resolve exactly as spec.md §6 names them
func New(rl *dispatch.RateLimitSnapshot, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("operator"),
	}, opts...)...)

	m := &Module{
		name:      b.Name,
		mws:       b.Mw,
		subrouter: b.Subrouter,
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		operatorhttp.Register(r, operatorhttp.Deps{RateLimits: rl})
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes implements the modkit.Module interface
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
func (m *Module) Name() string { return str.MustString(m.name, "operator") }

// Prefix implements the modkit.Module interface; operator has no path prefix
func (m *Module) Prefix() string { return "/" }

// Middlewares implements the modkit.Module interface
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return nil }
