// Package dispatch is the per-request proxy loop: selects a key, forwards
// the inbound request upstream with streaming, classifies the response,
// updates the PenaltyRegistry, and retries or streams back to the client
package dispatch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ollamaproxy/internal/platform/logger"
	"ollamaproxy/internal/services/proxy/keystore"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/penalty"
	"ollamaproxy/internal/services/proxy/requestlog"
	"ollamaproxy/internal/services/proxy/selector"
)

// Dispatcher forwards inbound requests to the upstream service, retrying
// across the key pool under the PenaltyRegistry's backoff schedule
type Dispatcher struct {
	keys       *keystore.KeyStore
	penalties  *penalty.Registry
	ledger     *ledger.Ledger
	reqLog     *requestlog.Log
	rateLimits *RateLimitSnapshot
	client     *http.Client
	upstream   string
	log        *logger.Logger
}

// New builds a Dispatcher. upstreamBase is the upstream API root, e.g.
// "https://ollama.com/api"; trailing slashes are trimmed at call time.
func New(keys *keystore.KeyStore, penalties *penalty.Registry, l *ledger.Ledger, reqLog *requestlog.Log, upstreamBase string) *Dispatcher {
	return &Dispatcher{
		keys:       keys,
		penalties:  penalties,
		ledger:     l,
		reqLog:     reqLog,
		rateLimits: NewRateLimitSnapshot(),
		client:     &http.Client{Timeout: 0}, // streams may be long, per spec §5
		upstream:   strings.TrimRight(upstreamBase, "/"),
		log:        logger.Named("dispatch"),
	}
}

// RateLimits exposes the rate-limit header snapshot for the /ratelimits operator route
func (d *Dispatcher) RateLimits() *RateLimitSnapshot { return d.rateLimits }

// ServeHTTP implements the catch-all proxy route
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clientAddr := clientAddrOf(r)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	upstreamPath := rewritePath(strings.TrimPrefix(r.URL.Path, "/"))
	reqID, err := d.reqLog.Create(ctx, clientAddr, r.Method, upstreamPath, body)
	if err != nil {
		d.log.Warn().Err(err).Msg("requestlog create failed, continuing without archival")
	}

	attempted := make(map[int]bool, d.keys.Len())
	var lastTransportErr error
	exhausted := false

	for iter := 0; iter < d.keys.Len(); iter++ {
		i, ok := selector.Select(ctx, d.keys.Indices(), attempted, d.penalties, d.ledger, time.Now())
		if !ok {
			exhausted = true
			break
		}
		attempted[i] = true

		key, ok := d.keys.At(i)
		if !ok {
			continue
		}

		upstreamReq, err := d.buildUpstreamRequest(ctx, r, upstreamPath, body, key)
		if err != nil {
			lastTransportErr = err
			exhausted = false
			continue
		}

		resp, err := d.client.Do(upstreamReq)
		if err != nil {
			lastTransportErr = err
			exhausted = false
			d.penalties.PenalizeTransport(i, time.Now())
			d.log.Warn().Err(err).Int("key_index", i).Msg("upstream transport error")
			continue
		}

		switch classify(resp.StatusCode) {
		case outcomeOK:
			d.penalties.Clear(i)
			d.rateLimits.Capture(i, resp.Header)
			d.stream(ctx, w, resp, reqID, clientAddr, i)
			return
		case outcome429:
			hint := rateLimitResetHint(resp.Header)
			d.penalties.PenalizeTooManyRequests(i, time.Now(), hint)
			resp.Body.Close()
			exhausted = true
			continue
		case outcome5xx:
			d.penalties.PenalizeServerError(i, time.Now())
			resp.Body.Close()
			exhausted = true
			continue
		}
	}

	if exhausted {
		http.Error(w, "all upstream keys exhausted or penalized", http.StatusServiceUnavailable)
		return
	}
	detail := "upstream request failed"
	if lastTransportErr != nil {
		detail = lastTransportErr.Error()
	}
	http.Error(w, detail, http.StatusInternalServerError)
}

func (d *Dispatcher) buildUpstreamRequest(ctx context.Context, r *http.Request, path string, body []byte, key string) (*http.Request, error) {
	url := d.upstream + "/" + path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+key)
	return req, nil
}

// stream copies the chosen upstream response's status and headers verbatim,
// then forwards the body through the TailParser for usage extraction
func (d *Dispatcher) stream(ctx context.Context, w http.ResponseWriter, resp *http.Response, reqID uuid.UUID, clientAddr string, keyIndex int) {
	for k, v := range resp.Header {
		for _, vv := range v {
			w.Header().Add(k, vv)
		}
	}
	w.WriteHeader(resp.StatusCode)

	tp := newTailParsingReader(ctx, resp.Body, d.ledger, d.reqLog, reqID, clientAddr, keyIndex)
	defer tp.Close()

	if _, err := io.Copy(w, tp); err != nil {
		d.log.Debug().Err(err).Msg("client disconnected mid-stream")
	}
}

func clientAddrOf(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}

// rewritePath implements spec.md §4.5's upstream URL rewrite rule
func rewritePath(path string) string {
	switch {
	case strings.HasPrefix(path, "v1/"), strings.HasPrefix(path, "api/"):
		return path
	case path == "":
		return "api"
	default:
		return "api/" + path
	}
}

type outcome int

const (
	outcomeOK outcome = iota
	outcome429
	outcome5xx
)

func classify(status int) outcome {
	switch status {
	case http.StatusTooManyRequests:
		return outcome429
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return outcome5xx
	default:
		return outcomeOK
	}
}

// rateLimitResetHint parses x-ratelimit-reset as a nonnegative integer
// seconds hint; returns -1 if absent or unparseable
func rateLimitResetHint(h http.Header) int {
	v := h.Get("x-ratelimit-reset")
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
