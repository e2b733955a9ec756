// Package http provides http transport for stats
package http

import (
	stdhttp "net/http"
	"strconv"

	"ollamaproxy/internal/modkit/httpkit"
	"ollamaproxy/internal/services/api/stats/domain"
	svc "ollamaproxy/internal/services/api/stats/service"
)

// Register mounts the read-only stats endpoints on the given router, per
// spec.md §6: GET /stats, GET /stats/minute?window=N, GET /stats/24h
func Register(r httpkit.Router, s svc.Service) {
	h := &handlers{svc: s}

	httpkit.Get(r, "/", h.totals)
	httpkit.Get(r, "/minute", h.minute)
	httpkit.Get(r, "/24h", h.last24h)
}

type handlers struct{ svc svc.Service }

// swagger:route GET /stats Stats statsTotals
// @Summary All-time token totals by key and model
// @Tags Stats
// @Produce json
// @Success 200 {array} domain.TotalsRow "ok"
// @Router /stats [get]
func (h *handlers) totals(r *stdhttp.Request) (any, error) {
	return h.svc.Totals(r.Context())
}

// swagger:route GET /stats/minute Stats statsMinute
// @Summary Per-minute token buckets over a window
// @Tags Stats
// @Produce json
// @Param window query int false "window in minutes, default 60"
// @Success 200 {array} domain.MinuteRow "ok"
// @Router /stats/minute [get]
func (h *handlers) minute(r *stdhttp.Request) (any, error) {
	window := 0
	if v := r.URL.Query().Get("window"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			window = n
		}
	}
	return h.svc.Minute(r.Context(), domain.MinuteInput{Window: window})
}

// swagger:route GET /stats/24h Stats statsLast24h
// @Summary Token totals by key and model over the last 24 hours
// @Tags Stats
// @Produce json
// @Success 200 {array} domain.TotalsRow "ok"
// @Router /stats/24h [get]
func (h *handlers) last24h(r *stdhttp.Request) (any, error) {
	return h.svc.Last24h(r.Context())
}
