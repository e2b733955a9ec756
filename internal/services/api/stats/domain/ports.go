package domain

import "context"

// ServicePort is consumed by handlers and other modules
type ServicePort interface {
	Totals(ctx context.Context) ([]TotalsRow, error)
	Minute(ctx context.Context, in MinuteInput) ([]MinuteRow, error)
	Last24h(ctx context.Context) ([]TotalsRow, error)
}
