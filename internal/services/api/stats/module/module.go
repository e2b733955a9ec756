// Package module wires stats into the API using modkit
package module

import (
	"net/http"

	modkit "ollamaproxy/internal/modkit"
	"ollamaproxy/internal/modkit/httpkit"
	str "ollamaproxy/internal/platform/strings"
	statshhtp "ollamaproxy/internal/services/api/stats/http"
	statssvc "ollamaproxy/internal/services/api/stats/service"
	"ollamaproxy/internal/services/proxy/ledger"
)

// Module implements the stats module
type Module struct {
	name   string
	prefix string

	mws       []func(http.Handler) http.Handler
	ports     any
	swaggerOn bool

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)

	svc statssvc.Service
}

// New constructs the stats module over the given UsageLedger
func New(l *ledger.Ledger, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{modkit.WithName("stats"), modkit.WithPrefix("/stats")}, opts...)...)

	svc := statssvc.New(l)

	m := &Module{
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		swaggerOn: b.SwaggerOn,
		subrouter: b.Subrouter,
		svc:       svc,
	}
	m.ports = adaptStatsPort{svc: svc}

	external := b.Register
	m.register = func(r httpkit.Router) {
		statshhtp.Register(r, m.svc)
		if external != nil {
			external(r)
		}
	}
	return m
}

// MountRoutes mounts the module routes on the given router
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Middlewares returns the module middlewares
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }
