package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"

	"ollamaproxy/internal/platform/store"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/requestlog"
)

// completeRecorder is a requestlog.Repo that remembers the last Complete call
type completeRecorder struct {
	calls    int
	keyIndex int
	model    string
	prompt   int64
	eval     int64
}

func (c *completeRecorder) Create(context.Context, requestlog.Entry) error { return nil }
func (c *completeRecorder) Complete(_ context.Context, _ uuid.UUID, keyIndex, _ int, model string, promptEvalCount, evalCount int64) error {
	c.calls++
	c.keyIndex, c.model, c.prompt, c.eval = keyIndex, model, promptEvalCount, evalCount
	return nil
}
func (c *completeRecorder) Get(context.Context, uuid.UUID) (requestlog.Entry, error) {
	return requestlog.Entry{}, nil
}
func (c *completeRecorder) List(context.Context, int, int) ([]requestlog.Entry, error) {
	return nil, nil
}

// countingCH is a store.Clickhouse that counts inserts
type countingCH struct{ inserts int }

func (c *countingCH) Insert(context.Context, string, any) error { c.inserts++; return nil }
func (c *countingCH) Query(context.Context, string, ...any) (store.Rows, error) {
	return nil, errors.New("not used")
}
func (c *countingCH) Close() error { return nil }

func drain(t *testing.T, r io.ReadCloser) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		t.Fatalf("drain: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return b
}

func TestTailParser_ForwardsBytesVerbatim(t *testing.T) {
	t.Parallel()
	body := []byte("line one\nline two\n{\"done\":true,\"eval_count\":5}\n")
	upstream := io.NopCloser(bytes.NewReader(body))
	tp := newTailParsingReader(context.Background(), upstream, nil, requestlog.New(nil, t.TempDir()), uuid.New(), "1.2.3.4", 0)

	got := drain(t, tp)
	if !bytes.Equal(got, body) {
		t.Fatalf("expected verbatim forwarding, got %q", got)
	}
}

func TestTailParser_ExtractsTerminalUsageObject(t *testing.T) {
	t.Parallel()
	body := []byte(`not json
{"response":"partial"}
{"done":true,"model":"m","prompt_eval_count":7,"eval_count":11}
`)
	upstream := io.NopCloser(bytes.NewReader(body))
	repo := &completeRecorder{}
	rl := requestlog.New(repo, t.TempDir())
	id, _ := rl.Create(context.Background(), "1.2.3.4", "POST", "api/generate", nil)

	tp := newTailParsingReader(context.Background(), upstream, nil, rl, id, "1.2.3.4", 2)
	drain(t, tp)

	if !tp.done {
		t.Fatalf("expected tail parser to mark done after EOF")
	}
	if repo.calls != 1 || repo.keyIndex != 2 || repo.model != "m" || repo.prompt != 7 || repo.eval != 11 {
		t.Fatalf("expected one completion with key 2, model m, 7/11 tokens, got %+v", repo)
	}
}

func TestTailParser_NoQualifyingObject_NoPanic(t *testing.T) {
	t.Parallel()
	body := []byte("just some plain streamed text with no braces at all")
	upstream := io.NopCloser(bytes.NewReader(body))
	tp := newTailParsingReader(context.Background(), upstream, nil, requestlog.New(nil, t.TempDir()), uuid.New(), "addr", 0)
	drain(t, tp)
}

func TestTailParser_BoundsTailBufferSize(t *testing.T) {
	t.Parallel()
	big := bytes.Repeat([]byte("x"), tailSize*3)
	upstream := io.NopCloser(bytes.NewReader(big))
	tp := newTailParsingReader(context.Background(), upstream, nil, requestlog.New(nil, t.TempDir()), uuid.New(), "addr", 0)
	drain(t, tp)
	if len(tp.tail) > tailSize {
		t.Fatalf("expected tail bounded to %d bytes, got %d", tailSize, len(tp.tail))
	}
}

func TestTailParser_RecordsToLedger(t *testing.T) {
	t.Parallel()
	body := []byte(`{"done":true,"model":"llama3","prompt_eval_count":3,"eval_count":4}`)
	upstream := io.NopCloser(bytes.NewReader(body))
	ch := &countingCH{}
	l := ledger.New(ch)
	tp := newTailParsingReader(context.Background(), upstream, l, requestlog.New(nil, t.TempDir()), uuid.New(), "addr", 1)
	drain(t, tp)
	if ch.inserts != 1 {
		t.Fatalf("expected exactly one ledger insert, got %d", ch.inserts)
	}
}

func TestTailParser_CloseBeforeEOF_StillExtracts(t *testing.T) {
	t.Parallel()
	body := []byte(`{"done":true,"eval_count":1}`)
	upstream := io.NopCloser(bytes.NewReader(body))
	tp := newTailParsingReader(context.Background(), upstream, nil, requestlog.New(nil, t.TempDir()), uuid.New(), "addr", 0)
	// close without reading to EOF first
	if err := tp.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !tp.done {
		t.Fatalf("expected Close to trigger extraction when Read never reached EOF")
	}
}
