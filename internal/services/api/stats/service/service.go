// Package service contains stats workflows over the UsageLedger
package service

import (
	"context"
	"time"

	"ollamaproxy/internal/services/api/stats/domain"
	"ollamaproxy/internal/services/api/stats/repo"
	"ollamaproxy/internal/services/proxy/ledger"
)

// defaultWindowMinutes is used when GET /stats/minute omits ?window=
const defaultWindowMinutes = 60

// Service defines the stats service contract
type Service interface {
	domain.ServicePort
}

// Svc implements the stats service directly against the UsageLedger
type Svc struct {
	repo repo.Repo
}

// New constructs a stats service over the given ledger-backed repo
func New(r repo.Repo) *Svc {
	if r == nil {
		panic("stats.Service requires a non nil Repo")
	}
	return &Svc{repo: r}
}

// Totals returns all-time accounting totals grouped by key and model
func (s *Svc) Totals(ctx context.Context) ([]domain.TotalsRow, error) {
	return convertTotals(s.repo.Totals(ctx)), nil
}

// Last24h returns accounting totals restricted to the last 24 hours
func (s *Svc) Last24h(ctx context.Context) ([]domain.TotalsRow, error) {
	return convertTotals(s.repo.Last24h(ctx)), nil
}

// Minute returns per-minute token buckets over the requested window,
// defaulting to the last 60 minutes
func (s *Svc) Minute(ctx context.Context, in domain.MinuteInput) ([]domain.MinuteRow, error) {
	window := in.Window
	if window <= 0 {
		window = defaultWindowMinutes
	}
	rows := s.repo.WindowMinutes(ctx, window)
	out := make([]domain.MinuteRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.MinuteRow{
			MinuteUTC:   r.MinuteUTC.UTC().Format(time.RFC3339),
			KeyIndex:    r.KeyIndex,
			TotalTokens: r.TotalTokens,
		})
	}
	return out, nil
}

func convertTotals(rows []ledger.TotalsRow) []domain.TotalsRow {
	out := make([]domain.TotalsRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TotalsRow{
			KeyIndex:         r.KeyIndex,
			Model:            r.Model,
			PromptTokens:     r.PromptTokens,
			CompletionTokens: r.CompletionTokens,
		})
	}
	return out
}
