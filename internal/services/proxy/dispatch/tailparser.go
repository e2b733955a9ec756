package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"ollamaproxy/internal/platform/logger"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/requestlog"

	"github.com/google/uuid"
)

// tailSize is the bounded trailing buffer the usage object is recovered from
const tailSize = 4096

var tailDecoder = encoding.ReplaceUnsupported(unicode.UTF8.NewDecoder())

// usageRecord is the terminal stats object a streamed response may end with
type usageRecord struct {
	Done            json.RawMessage `json:"done"`
	Model           string          `json:"model"`
	PromptEvalCount *int            `json:"prompt_eval_count"`
	EvalCount       *int            `json:"eval_count"`
}

// tailParsingReader wraps an upstream response body: bytes are forwarded to
// the client verbatim through Read, and the last tailSize bytes are retained
// so that, once the stream ends, the terminal usage object can be recovered
type tailParsingReader struct {
	ctx        context.Context
	upstream   io.ReadCloser
	tail       []byte
	ledger     *ledger.Ledger
	log        *requestlog.Log
	reqID      uuid.UUID
	clientAddr string
	keyIndex   int
	done       bool
	logger     *logger.Logger
}

// newTailParsingReader builds a TailParser around an upstream response body
func newTailParsingReader(ctx context.Context, upstream io.ReadCloser, l *ledger.Ledger, rl *requestlog.Log, reqID uuid.UUID, clientAddr string, keyIndex int) *tailParsingReader {
	return &tailParsingReader{
		ctx:        ctx,
		upstream:   upstream,
		ledger:     l,
		log:        rl,
		reqID:      reqID,
		clientAddr: clientAddr,
		keyIndex:   keyIndex,
		logger:     logger.Named("tailparser"),
	}
}

// Read implements io.Reader, forwarding upstream bytes verbatim while
// accumulating a bounded tail
func (t *tailParsingReader) Read(p []byte) (int, error) {
	n, err := t.upstream.Read(p)
	if n > 0 {
		t.appendTail(p[:n])
	}
	if err == io.EOF && !t.done {
		t.done = true
		t.extractUsage()
	}
	return n, err
}

// Close releases the upstream body, extracting usage first if Read never
// reached EOF (client disconnect mid-stream)
func (t *tailParsingReader) Close() error {
	if !t.done {
		t.done = true
		t.extractUsage()
	}
	return t.upstream.Close()
}

func (t *tailParsingReader) appendTail(b []byte) {
	t.tail = append(t.tail, b...)
	if len(t.tail) > tailSize {
		t.tail = t.tail[len(t.tail)-tailSize:]
	}
}

// extractUsage decodes the tail as lossy text, scans lines in reverse for the
// first qualifying JSON object, and records usage. Never propagates an error
// to the caller: parsing failures are logged and swallowed per spec.
func (t *tailParsingReader) extractUsage() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn().Interface("panic", r).Msg("tailparser recovered")
		}
	}()

	text, _, err := transform.String(tailDecoder, string(t.tail))
	if err != nil {
		t.logger.Debug().Err(err).Msg("tail decode was lossy")
	}

	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		var rec usageRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if !isDone(rec.Done) && rec.EvalCount == nil {
			continue
		}

		model := rec.Model
		if model == "" {
			model = "unknown"
		}
		promptEvalCount := 0
		if rec.PromptEvalCount != nil {
			promptEvalCount = *rec.PromptEvalCount
		}
		evalCount := 0
		if rec.EvalCount != nil {
			evalCount = *rec.EvalCount
		}

		if t.ledger != nil {
			t.ledger.Record(t.ctx, t.clientAddr, t.keyIndex, model, promptEvalCount, evalCount)
		}
		t.log.Complete(t.ctx, t.reqID, t.keyIndex, 200, model, int64(promptEvalCount), int64(evalCount))
		return
	}
}

// isDone reports whether a raw "done" field decodes as a truthy bool
func isDone(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}
