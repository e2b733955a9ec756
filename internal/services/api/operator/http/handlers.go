// Package http provides the minimal operator surfaces: in-memory log tail,
// rate-limit header cache, and a static dashboard stub
package http

import (
	stdhttp "net/http"

	"ollamaproxy/internal/modkit/httpkit"
	"ollamaproxy/internal/platform/logger"
	"ollamaproxy/internal/services/proxy/dispatch"
)

// Deps are the handler dependencies
type Deps struct {
	RateLimits *dispatch.RateLimitSnapshot
}

type handlers struct{ deps Deps }

// Register mounts /logs, /ratelimits, /dashboard and / on the given router,
// per spec.md §6's "out of scope, interfaces specified" operator surfaces
func Register(r httpkit.Router, d Deps) {
	h := &handlers{deps: d}

	httpkit.Get(r, "/logs", h.logs)
	httpkit.Get(r, "/ratelimits", h.ratelimits)
	r.Get("/dashboard", h.dashboard)
	r.Get("/", h.dashboard)
}

// swagger:route GET /logs Operator logs
// @Summary Tail the in-memory ring buffer of recent log lines
// @Tags Operator
// @Produce json
// @Success 200 {array} string "ok"
// @Router /logs [get]
func (h *handlers) logs(_ *stdhttp.Request) (any, error) {
	return logger.Ring().Lines(), nil
}

// rateLimitDTO is one key's most recently observed rate-limit headers
type rateLimitDTO struct {
	KeyIndex  int    `json:"key_index" example:"0"`
	Limit     string `json:"limit,omitempty" example:"60"`
	Remaining string `json:"remaining,omitempty" example:"12"`
	Reset     string `json:"reset,omitempty" example:"30"`
}

// swagger:route GET /ratelimits Operator ratelimits
// @Summary Most recently observed x-ratelimit-* headers by key
// @Tags Operator
// @Produce json
// @Success 200 {array} rateLimitDTO "ok"
// @Router /ratelimits [get]
func (h *handlers) ratelimits(_ *stdhttp.Request) (any, error) {
	snap := h.deps.RateLimits.Snapshot()
	out := make([]rateLimitDTO, 0, len(snap))
	for i, hdr := range snap {
		out = append(out, rateLimitDTO{
			KeyIndex:  i,
			Limit:     hdr.Get("x-ratelimit-limit"),
			Remaining: hdr.Get("x-ratelimit-remaining"),
			Reset:     hdr.Get("x-ratelimit-reset"),
		})
	}
	return out, nil
}

const dashboardPage = `<!DOCTYPE html>
<html>
<head><title>ollama-cloud-proxy</title></head>
<body>
<h1>ollama-cloud-proxy</h1>
<p>Operator endpoints: <a href="/health">/health</a>, <a href="/health/keys">/health/keys</a>,
<a href="/stats">/stats</a>, <a href="/queries">/queries</a>, <a href="/logs">/logs</a>,
<a href="/ratelimits">/ratelimits</a>, <a href="/api/docs">/api/docs</a>.</p>
</body>
</html>
`

// dashboard serves a minimal static HTML stub; a richer client-rendered
// dashboard is out of scope for this surface
func (h *handlers) dashboard(w stdhttp.ResponseWriter, _ *stdhttp.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(stdhttp.StatusOK)
	_, _ = w.Write([]byte(dashboardPage))
}
