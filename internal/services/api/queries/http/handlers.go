// Package http exposes the request archive for operator inspection
package http

import (
	stdhttp "net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ollamaproxy/internal/modkit/httpkit"
	perr "ollamaproxy/internal/platform/errors"
	"ollamaproxy/internal/services/proxy/requestlog"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Register mounts the request archive endpoints on the given router, per
// spec.md §6: GET /queries, GET /queries/{id}/body
func Register(r httpkit.Router, l *requestlog.Log) {
	h := &handlers{log: l}

	httpkit.Get(r, "/", h.list)
	httpkit.Get(r, "/{id}/body", h.body)
}

type handlers struct{ log *requestlog.Log }

// entryDTO is the wire shape for one archived request
type entryDTO struct {
	ID              string `json:"id" example:"8f14e45f-ceea-4c1f-8f8e-0000000000aa"`
	ClientAddr      string `json:"client_addr" example:"203.0.113.4"`
	Method          string `json:"method" example:"POST"`
	Path            string `json:"path" example:"/api/generate"`
	KeyIndex        *int   `json:"key_index,omitempty" example:"0"`
	Status          *int   `json:"status,omitempty" example:"200"`
	Model           string `json:"model,omitempty" example:"gpt-oss:20b"`
	PromptEvalCount int64  `json:"prompt_eval_count" example:"128"`
	EvalCount       int64  `json:"eval_count" example:"256"`
	CreatedAt       string `json:"created_at" example:"2026-07-29T13:00:00Z"`
	UpdatedAt       string `json:"updated_at" example:"2026-07-29T13:00:02Z"`
}

func toDTO(e requestlog.Entry) entryDTO {
	return entryDTO{
		ID:              e.ID.String(),
		ClientAddr:      e.ClientAddr,
		Method:          e.Method,
		Path:            e.Path,
		KeyIndex:        e.KeyIndex,
		Status:          e.Status,
		Model:           e.Model,
		PromptEvalCount: e.PromptEvalCount,
		EvalCount:       e.EvalCount,
		CreatedAt:       e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:       e.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// swagger:route GET /queries Queries queriesList
// @Summary List archived requests, newest first
// @Tags Queries
// @Produce json
// @Param limit query int false "page size, default 50, max 500"
// @Param offset query int false "page offset"
// @Success 200 {array} entryDTO "ok"
// @Router /queries [get]
func (h *handlers) list(r *stdhttp.Request) (any, error) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := h.log.List(r.Context(), limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]entryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, toDTO(e))
	}
	return out, nil
}

// swagger:route GET /queries/{id}/body Queries queriesBody
// @Summary Fetch the archived raw request body for one query
// @Tags Queries
// @Produce json
// @Param id path string true "request id"
// @Success 200 {object} map[string]any "raw decoded body"
// @Router /queries/{id}/body [get]
func (h *handlers) body(r *stdhttp.Request) (any, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, perr.InvalidArgf("invalid query id %q", chi.URLParam(r, "id"))
	}
	raw, err := h.log.Body(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return rawBody{Raw: string(raw)}, nil
}

type rawBody struct {
	Raw string `json:"raw"`
}
