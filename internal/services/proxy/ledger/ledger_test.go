package ledger

import (
	"context"
	"errors"
	"testing"

	"ollamaproxy/internal/platform/store"
)

type fakeRows struct {
	rows [][2]int64 // key_index, total
	pos  int
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}
func (f *fakeRows) Scan(dest ...any) error {
	r := f.rows[f.pos-1]
	*(dest[0].(*int32)) = int32(r[0])
	*(dest[1].(*int64)) = r[1]
	return nil
}
func (f *fakeRows) Err() error        { return nil }
func (f *fakeRows) Close()            {}
func (f *fakeRows) Columns() []string { return []string{"key_index", "total"} }

type fakeCH struct {
	insertErr  error
	inserted   []any
	queryRows  *fakeRows
	queryErr   error
	lastQuery  string
	lastArgs   []any
}

func (f *fakeCH) Insert(_ context.Context, _ string, data any) error {
	f.inserted = append(f.inserted, data)
	return f.insertErr
}
func (f *fakeCH) Query(_ context.Context, sql string, args ...any) (store.Rows, error) {
	f.lastQuery = sql
	f.lastArgs = args
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.queryRows, nil
}
func (f *fakeCH) Close() error { return nil }

func TestRecord_NilBackend_NoPanic(t *testing.T) {
	t.Parallel()
	l := New(nil)
	l.Record(context.Background(), "1.2.3.4", 0, "m", 1, 2)
}

func TestRecord_InsertsOneRow(t *testing.T) {
	t.Parallel()
	f := &fakeCH{}
	l := New(f)
	l.Record(context.Background(), "1.2.3.4", 2, "m", 7, 11)

	if len(f.inserted) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(f.inserted))
	}
	row, ok := f.inserted[0].(usageRow)
	if !ok {
		t.Fatalf("expected usageRow, got %T", f.inserted[0])
	}
	if row.KeyIndex != 2 || row.PromptEvalCount != 7 || row.EvalCount != 11 {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestRecord_SwallowsInsertError(t *testing.T) {
	t.Parallel()
	f := &fakeCH{insertErr: errors.New("boom")}
	l := New(f)
	l.Record(context.Background(), "addr", 0, "m", 1, 1) // must not panic
}

func TestUsage2h_NilBackend_ReturnsZeros(t *testing.T) {
	t.Parallel()
	l := New(nil)
	got := l.Usage2h(context.Background(), []int{0, 1})
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("expected zeros, got %v", got)
	}
}

func TestUsage2h_MissingKeysDefaultToZero(t *testing.T) {
	t.Parallel()
	f := &fakeCH{queryRows: &fakeRows{rows: [][2]int64{{1, 1000}}}}
	l := New(f)

	got := l.Usage2h(context.Background(), []int{0, 1})
	if got[1] != 1000 {
		t.Fatalf("expected key 1 = 1000, got %d", got[1])
	}
	if got[0] != 0 {
		t.Fatalf("expected key 0 (absent from result set) = 0, got %d", got[0])
	}
}

func TestUsage2h_QueryError_ReturnsZeros(t *testing.T) {
	t.Parallel()
	f := &fakeCH{queryErr: errors.New("boom")}
	l := New(f)

	got := l.Usage2h(context.Background(), []int{0})
	if got[0] != 0 {
		t.Fatalf("expected 0 on query error, got %d", got[0])
	}
}

type fakeTotalsRows struct {
	rows [][4]any // key_index, model, prompt, completion
	pos  int
}

func (f *fakeTotalsRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}
func (f *fakeTotalsRows) Scan(dest ...any) error {
	r := f.rows[f.pos-1]
	*(dest[0].(*int32)) = r[0].(int32)
	*(dest[1].(*string)) = r[1].(string)
	*(dest[2].(*int64)) = r[2].(int64)
	*(dest[3].(*int64)) = r[3].(int64)
	return nil
}
func (f *fakeTotalsRows) Err() error        { return nil }
func (f *fakeTotalsRows) Close()            {}
func (f *fakeTotalsRows) Columns() []string { return []string{"key_index", "model", "prompt_tokens", "completion_tokens"} }

type fakeTotalsCH struct {
	rows *fakeTotalsRows
	err  error
}

func (f *fakeTotalsCH) Insert(context.Context, string, any) error { return nil }
func (f *fakeTotalsCH) Query(context.Context, string, ...any) (store.Rows, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}
func (f *fakeTotalsCH) Close() error { return nil }

func TestTotals_NilBackend_ReturnsNil(t *testing.T) {
	t.Parallel()
	l := New(nil)
	if got := l.Totals(context.Background()); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestTotals_AggregatesByKeyAndModel(t *testing.T) {
	t.Parallel()
	f := &fakeTotalsCH{rows: &fakeTotalsRows{rows: [][4]any{
		{int32(0), "m1", int64(10), int64(20)},
	}}}
	l := New(f)
	got := l.Totals(context.Background())
	if len(got) != 1 || got[0].PromptTokens != 10 || got[0].CompletionTokens != 20 {
		t.Fatalf("unexpected totals: %+v", got)
	}
}

func TestLast24h_QueryError_ReturnsNil(t *testing.T) {
	t.Parallel()
	f := &fakeTotalsCH{err: errors.New("boom")}
	l := New(f)
	if got := l.Last24h(context.Background()); got != nil {
		t.Fatalf("expected nil on error, got %v", got)
	}
}

func TestWindowMinutes_NilBackendOrNonPositiveWindow_ReturnsNil(t *testing.T) {
	t.Parallel()
	l := New(nil)
	if got := l.WindowMinutes(context.Background(), 10); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	l2 := New(&fakeTotalsCH{})
	if got := l2.WindowMinutes(context.Background(), 0); got != nil {
		t.Fatalf("expected nil for non-positive window, got %v", got)
	}
}
