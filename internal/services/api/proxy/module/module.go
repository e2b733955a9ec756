// Package module wires the catch-all Dispatcher into the API using modkit.
// Unlike the other API modules this one has no JSON envelope: the Dispatcher
// streams the upstream response back byte for byte
package module

import (
	"net/http"

	modkit "ollamaproxy/internal/modkit"
	"ollamaproxy/internal/modkit/httpkit"
	pmw "ollamaproxy/internal/platform/net/middleware"
	str "ollamaproxy/internal/platform/strings"
	"ollamaproxy/internal/services/proxy/dispatch"
)

// Module implements the modkit.Module interface
type Module struct {
	name string
	mws  []func(http.Handler) http.Handler

	authPort    pmw.AuthPort
	requireAuth bool
	dispatcher  *dispatch.Dispatcher
}

// New constructs the proxy module. When requireAuth is false the catch-all
// route skips bearer auth entirely, per ALLOW_UNAUTHENTICATED_ACCESS=true
func New(d *dispatch.Dispatcher, authPort pmw.AuthPort, requireAuth bool, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("proxy"),
	}, opts...)...)

	return &Module{
		name:        b.Name,
		mws:         b.Mw,
		authPort:    authPort,
		requireAuth: requireAuth,
		dispatcher:  d,
	}
}

// MountRoutes implements the modkit.Module interface. It registers the
// Dispatcher for every HTTP method at the root wildcard so any inbound
// path can be proxied upstream, per spec.md §4.5
func (m *Module) MountRoutes(r httpkit.Router) {
	for _, mw := range m.mws {
		r.Use(mw)
	}
	if m.requireAuth {
		httpkit.Protected(r, m.authPort, func(rr httpkit.Router) {
			rr.Handle("/*", m.dispatcher)
		})
		return
	}
	r.Handle("/*", m.dispatcher)
}

// Name implements the modkit.Module interface
func (m *Module) Name() string { return str.MustString(m.name, "proxy") }

// Prefix implements the modkit.Module interface; proxy has no path prefix
func (m *Module) Prefix() string { return "/" }

// Middlewares implements the modkit.Module interface
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return nil }
