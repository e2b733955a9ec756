// Package repo is the persistence seam for stats: the UsageLedger itself,
// since usage accounting already lives in ClickHouse behind the ledger
package repo

import (
	"context"

	"ollamaproxy/internal/services/proxy/ledger"
)

// Repo is the minimal aggregation surface stats needs from the UsageLedger.
// *ledger.Ledger satisfies this directly, no adapter required.
type Repo interface {
	Totals(ctx context.Context) []ledger.TotalsRow
	Last24h(ctx context.Context) []ledger.TotalsRow
	WindowMinutes(ctx context.Context, windowMinutes int) []ledger.MinuteRow
}
