package module

import (
	"context"

	"ollamaproxy/internal/services/api/stats/domain"
	statssvc "ollamaproxy/internal/services/api/stats/service"
)

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

type adaptStatsPort struct{ svc statssvc.Service }

// Totals returns all-time accounting totals grouped by key and model
func (a adaptStatsPort) Totals(ctx context.Context) ([]domain.TotalsRow, error) {
	return a.svc.Totals(ctx)
}

// Minute returns per-minute token buckets over the requested window
func (a adaptStatsPort) Minute(ctx context.Context, in domain.MinuteInput) ([]domain.MinuteRow, error) {
	return a.svc.Minute(ctx, in)
}

// Last24h returns accounting totals restricted to the last 24 hours
func (a adaptStatsPort) Last24h(ctx context.Context) ([]domain.TotalsRow, error) {
	return a.svc.Last24h(ctx)
}
