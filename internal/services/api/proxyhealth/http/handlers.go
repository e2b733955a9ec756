// Package http exposes the HealthWorker snapshot and manual key controls
package http

import (
	stdhttp "net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ollamaproxy/internal/modkit/httpkit"
	perr "ollamaproxy/internal/platform/errors"
	"ollamaproxy/internal/services/proxy/health"
)

// Register mounts the key-health endpoints on the given router, per
// spec.md §6: GET /health/keys?force=true, POST /health/keys/{i}/reset,
// POST /health/keys/{i}/penalize
func Register(r httpkit.Router, w *health.Worker) {
	h := &handlers{w: w}

	httpkit.Get(r, "/keys", h.snapshot)
	httpkit.Post(r, "/keys/{i}/reset", h.reset)
	httpkit.Post(r, "/keys/{i}/penalize", h.penalize)
}

type handlers struct{ w *health.Worker }

// entryDTO is the wire shape for one key's health row
type entryDTO struct {
	KeyIndex         int    `json:"key_index" example:"0"`
	Status           string `json:"status" example:"OK"`
	PenaltyActive    bool   `json:"penalty_active" example:"false"`
	ExpiresInSeconds int    `json:"expires_in_seconds" example:"0"`
	BackoffLevel     int    `json:"backoff_level" example:"0"`
	Usage2h          int64  `json:"usage_2h" example:"1024"`
}

func toDTO(i int, e health.Entry) entryDTO {
	return entryDTO{
		KeyIndex:         i,
		Status:           e.Status,
		PenaltyActive:    e.PenaltyActive,
		ExpiresInSeconds: e.ExpiresInSeconds,
		BackoffLevel:     e.BackoffLevel,
		Usage2h:          e.Usage2h,
	}
}

// swagger:route GET /health/keys Health healthKeys
// @Summary Per-key health snapshot
// @Tags Health
// @Produce json
// @Param force query bool false "force an immediate re-probe of every key"
// @Success 200 {array} entryDTO "ok"
// @Router /health/keys [get]
func (h *handlers) snapshot(r *stdhttp.Request) (any, error) {
	force := r.URL.Query().Get("force") == "true"
	snap := h.w.Snapshot(r.Context(), force)

	out := make([]entryDTO, 0, len(snap))
	for i, e := range snap {
		out = append(out, toDTO(i, e))
	}
	return out, nil
}

// swagger:route POST /health/keys/{i}/reset Health healthKeysReset
// @Summary Clear a key's penalty and re-probe it immediately
// @Tags Health
// @Produce json
// @Param i path int true "key index"
// @Success 200 {object} entryDTO "ok"
// @Router /health/keys/{i}/reset [post]
func (h *handlers) reset(r *stdhttp.Request) (any, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "i"))
	if err != nil {
		return nil, perr.InvalidArgf("invalid key index %q", chi.URLParam(r, "i"))
	}
	e, err := h.w.Reset(r.Context(), i)
	if err != nil {
		return nil, err
	}
	return toDTO(i, e), nil
}

// swagger:route POST /health/keys/{i}/penalize Health healthKeysPenalize
// @Summary Force a key into the penalty box
// @Tags Health
// @Produce json
// @Param i path int true "key index"
// @Success 200 {object} entryDTO "ok"
// @Router /health/keys/{i}/penalize [post]
func (h *handlers) penalize(r *stdhttp.Request) (any, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "i"))
	if err != nil {
		return nil, perr.InvalidArgf("invalid key index %q", chi.URLParam(r, "i"))
	}
	e, err := h.w.Penalize(i)
	if err != nil {
		return nil, err
	}
	return toDTO(i, e), nil
}
