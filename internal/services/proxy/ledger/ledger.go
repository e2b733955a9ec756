// Package ledger is the append-only UsageLedger, backed by ClickHouse
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ollamaproxy/internal/platform/logger"
	"ollamaproxy/internal/platform/store"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Table is the ClickHouse table usage rows are appended to
const Table = "usage"

// usageRow implements ch.Inserter so Ledger.Record can append via a native batch
type usageRow struct {
	Timestamp       time.Time
	ClientAddr      string
	KeyIndex        int32
	Model           string
	PromptEvalCount int64
	EvalCount       int64
}

// Schema is the DDL expected to already exist (or be applied by an operator
// migration step) before the ledger is used
const Schema = `
create table if not exists ` + Table + ` (
	ts DateTime64(3),
	client_addr String,
	key_index Int32,
	model String,
	prompt_eval_count Int64,
	eval_count Int64
) engine = MergeTree
order by (ts, key_index)
`

// AppendTo matches ch.Inserter; kept here (not in the ch package) since it
// is specific to the usage table's column order
func (r usageRow) AppendTo(batch clickhouse.Batch) error {
	return batch.Append(r.Timestamp, r.ClientAddr, r.KeyIndex, r.Model, r.PromptEvalCount, r.EvalCount)
}

// Ledger is the UsageLedger: append-only accounting rows plus a 2h window query
type Ledger struct {
	ch  store.Clickhouse
	log *logger.Logger
}

// New builds a Ledger. ch may be nil (backend disabled at boot); all
// operations then become silent no-ops (Usage2h returns zeros), never
// returned as errors to callers on the proxy hot path
func New(ch store.Clickhouse) *Ledger {
	return &Ledger{ch: ch, log: logger.Named("ledger")}
}

// Record appends one usage row, timestamped now (UTC). Persistence failures
// are logged and swallowed: the proxy path must never fail because
// accounting failed.
func (l *Ledger) Record(ctx context.Context, clientAddr string, keyIndex int, model string, promptEvalCount, evalCount int) {
	if l == nil || l.ch == nil {
		return
	}
	row := usageRow{
		Timestamp:       time.Now().UTC(),
		ClientAddr:      clientAddr,
		KeyIndex:        int32(keyIndex),
		Model:           model,
		PromptEvalCount: int64(promptEvalCount),
		EvalCount:       int64(evalCount),
	}
	if err := l.ch.Insert(ctx, Table, row); err != nil {
		l.log.Warn().Err(err).Int("key_index", keyIndex).Msg("usage ledger insert failed")
	}
}

// Usage2h returns, for each of keyIndices, the sum of prompt_eval_count +
// eval_count over rows timestamped within the last 2 hours. Keys with no
// rows in the window are present with value 0. Missing/disabled backend
// returns all zeros.
func (l *Ledger) Usage2h(ctx context.Context, keyIndices []int) map[int]int64 {
	out := make(map[int]int64, len(keyIndices))
	for _, i := range keyIndices {
		out[i] = 0
	}
	if l == nil || l.ch == nil || len(keyIndices) == 0 {
		return out
	}

	placeholders := make([]string, len(keyIndices))
	args := make([]any, len(keyIndices))
	for idx, k := range keyIndices {
		placeholders[idx] = "?"
		args[idx] = int32(k)
	}

	sql := fmt.Sprintf(`
select key_index, sum(prompt_eval_count + eval_count) as total
from %s
where ts >= now() - interval 2 hour and key_index in (%s)
group by key_index
`, Table, strings.Join(placeholders, ","))

	rows, err := l.ch.Query(ctx, sql, args...)
	if err != nil {
		l.log.Warn().Err(err).Msg("usage_2h query failed")
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var keyIndex int32
		var total int64
		if err := rows.Scan(&keyIndex, &total); err != nil {
			l.log.Warn().Err(err).Msg("usage_2h scan failed")
			return out
		}
		out[int(keyIndex)] = total
	}
	if err := rows.Err(); err != nil {
		l.log.Warn().Err(err).Msg("usage_2h rows error")
	}
	return out
}

// TotalsRow is one aggregated (key_index, model) accounting bucket
type TotalsRow struct {
	KeyIndex         int
	Model            string
	PromptTokens     int64
	CompletionTokens int64
}

// Totals sums prompt/completion tokens grouped by key and model over all
// recorded history, for the GET /stats operator surface
func (l *Ledger) Totals(ctx context.Context) []TotalsRow {
	return l.totalsSince(ctx, "")
}

// Last24h is Totals restricted to rows timestamped within the last 24 hours,
// for the GET /stats/24h operator surface
func (l *Ledger) Last24h(ctx context.Context) []TotalsRow {
	return l.totalsSince(ctx, "where ts >= now() - interval 24 hour")
}

func (l *Ledger) totalsSince(ctx context.Context, where string) []TotalsRow {
	if l == nil || l.ch == nil {
		return nil
	}
	sql := fmt.Sprintf(`
select key_index, model, sum(prompt_eval_count) as prompt_tokens, sum(eval_count) as completion_tokens
from %s
%s
group by key_index, model
order by key_index, model
`, Table, where)

	rows, err := l.ch.Query(ctx, sql)
	if err != nil {
		l.log.Warn().Err(err).Msg("totals query failed")
		return nil
	}
	defer rows.Close()

	var out []TotalsRow
	for rows.Next() {
		var keyIndex int32
		var model string
		var prompt, completion int64
		if err := rows.Scan(&keyIndex, &model, &prompt, &completion); err != nil {
			l.log.Warn().Err(err).Msg("totals scan failed")
			return out
		}
		out = append(out, TotalsRow{KeyIndex: int(keyIndex), Model: model, PromptTokens: prompt, CompletionTokens: completion})
	}
	if err := rows.Err(); err != nil {
		l.log.Warn().Err(err).Msg("totals rows error")
	}
	return out
}

// MinuteRow is one per-minute, per-key token bucket
type MinuteRow struct {
	MinuteUTC   time.Time
	KeyIndex    int
	TotalTokens int64
}

// WindowMinutes buckets token usage into one-minute intervals over the last
// windowMinutes minutes, for GET /stats/minute?window=N
func (l *Ledger) WindowMinutes(ctx context.Context, windowMinutes int) []MinuteRow {
	if l == nil || l.ch == nil || windowMinutes <= 0 {
		return nil
	}
	sql := fmt.Sprintf(`
select toStartOfMinute(ts) as minute, key_index, sum(prompt_eval_count + eval_count) as total
from %s
where ts >= now() - interval ? minute
group by minute, key_index
order by minute, key_index
`, Table)

	rows, err := l.ch.Query(ctx, sql, windowMinutes)
	if err != nil {
		l.log.Warn().Err(err).Msg("window_minutes query failed")
		return nil
	}
	defer rows.Close()

	var out []MinuteRow
	for rows.Next() {
		var minute time.Time
		var keyIndex int32
		var total int64
		if err := rows.Scan(&minute, &keyIndex, &total); err != nil {
			l.log.Warn().Err(err).Msg("window_minutes scan failed")
			return out
		}
		out = append(out, MinuteRow{MinuteUTC: minute, KeyIndex: int(keyIndex), TotalTokens: total})
	}
	if err := rows.Err(); err != nil {
		l.log.Warn().Err(err).Msg("window_minutes rows error")
	}
	return out
}
