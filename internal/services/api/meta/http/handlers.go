// Package http provides the liveness and readiness endpoints for the proxy
package http

import (
	stdctx "context"
	"net/http"
	"time"

	"ollamaproxy/internal/core/version"
	"ollamaproxy/internal/modkit/httpkit"
)

const upstreamPingTimeout = 2 * time.Second

// Pinger is satisfied by adapters that expose Ping
type Pinger interface {
	Ping(stdctx.Context) error
}

// Deps are the handler dependencies
type Deps struct {
	ServiceName string
	StartedAt   time.Time
	Upstream    string
	Client      *http.Client
	PG          any
	CH          any
}

type handlers struct {
	deps Deps
}

// Register mounts the liveness/readiness routes on the given router,
// unauthenticated: liveness probes must never require a bearer token
func Register(r httpkit.Router, d Deps) {
	h := &handlers{deps: d}
	httpkit.Get(r, "/health", h.health)
	httpkit.Get(r, "/ready", h.ready)
}

//
// Swagger DTOs and route docs
//

// HealthResponse is the health payload
// swagger:model
type HealthResponse struct {
	OK       bool              `json:"ok"       example:"true"`
	Service  string            `json:"service"  example:"ollama-cloud-proxy"`
	Started  string            `json:"started"  example:"2026-07-29T13:00:00Z"`
	Now      string            `json:"now"      example:"2026-07-29T13:05:00Z"`
	Upstream string            `json:"upstream" example:"ok"` // ok, unreachable, unknown
	Build    version.BuildInfo `json:"build"`
}

// ReadyCheck describes a single dependency check
type ReadyCheck struct {
	Name   string `json:"name"   example:"pg"`
	Status string `json:"status" example:"ok"` // ok fail skipped unknown
	Error  string `json:"error,omitempty" example:"dial tcp 127.0.0.1:5432 connect: connection refused"`
}

// ReadyResponse summarizes readiness
type ReadyResponse struct {
	Status string       `json:"status" example:"ok"` // ok degraded fail
	Checks []ReadyCheck `json:"checks"`
	Now    string       `json:"now"    example:"2025-09-03T13:05:00Z"`
}

// swagger:route GET /health Meta health
// @Summary Liveness and upstream reachability check
// @Tags Meta
// @Produce json
// @Success 200 {object} HealthResponse "ok"
// @Router /health [get]
func (h *handlers) health(r *http.Request) (any, error) {
	return HealthResponse{
		OK:       true,
		Service:  h.deps.ServiceName,
		Started:  h.deps.StartedAt.UTC().Format(time.RFC3339),
		Now:      time.Now().UTC().Format(time.RFC3339),
		Upstream: h.probeUpstream(r.Context()),
		Build:    version.Info(),
	}, nil
}

// swagger:route GET /ready Meta ready
// @Summary Readiness probe with storage dependency checks
// @Tags Meta
// @Produce json
// @Success 200 {object} ReadyResponse "ok"
// @Router /ready [get]
func (h *handlers) ready(_ *http.Request) (any, error) {
	ctx, cancel := stdctx.WithTimeout(stdctx.Background(), 2*time.Second)
	defer cancel()

	check := func(name string, c any) ReadyCheck {
		if c == nil {
			return ReadyCheck{Name: name, Status: "skipped"}
		}
		if p, ok := c.(Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return ReadyCheck{Name: name, Status: "fail", Error: err.Error()}
			}
			return ReadyCheck{Name: name, Status: "ok"}
		}
		return ReadyCheck{Name: name, Status: "unknown"}
	}

	pg := check("pg", h.deps.PG)
	ch := check("ch", h.deps.CH)

	overall := "ok"
	if pg.Status != "ok" || ch.Status != "ok" {
		overall = "degraded"
		if pg.Status == "fail" || ch.Status == "fail" {
			overall = "fail"
		}
	}

	return ReadyResponse{
		Status: overall,
		Checks: []ReadyCheck{pg, ch},
		Now:    time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// probeUpstream makes a best-effort HEAD request against the configured
// upstream base URL; it never fails the liveness check itself, only
// annotates it, since proxy liveness and upstream reachability are distinct
func (h *handlers) probeUpstream(ctx stdctx.Context) string {
	if h.deps.Upstream == "" || h.deps.Client == nil {
		return "unknown"
	}
	ctx, cancel := stdctx.WithTimeout(ctx, upstreamPingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.deps.Upstream, nil)
	if err != nil {
		return "unknown"
	}
	resp, err := h.deps.Client.Do(req)
	if err != nil {
		return "unreachable"
	}
	defer resp.Body.Close()
	return "ok"
}
