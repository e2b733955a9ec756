package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ollamaproxy/internal/services/proxy/keystore"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/penalty"
)

func newTestWorker(t *testing.T, upstream *httptest.Server, keys ...string) *Worker {
	t.Helper()
	ks, err := keystore.New(keys)
	if err != nil {
		t.Fatalf("keystore.New: %v", err)
	}
	return New(ks, penalty.New(), ledger.New(nil), upstream.URL)
}

func TestWorker_ProbeOK_ClearsAndPublishesStatus(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	w := newTestWorker(t, upstream, "key-a")
	w.runRound(context.Background(), true)

	snap := w.Snapshot(context.Background(), false)
	e, ok := snap[0]
	if !ok {
		t.Fatalf("expected an entry for key 0")
	}
	if e.Status != "OK" || e.PenaltyActive {
		t.Fatalf("expected OK/not-penalized, got %+v", e)
	}
}

func TestWorker_Probe429_PenalizesAndReportsRateLimited(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-reset", "5000")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	w := newTestWorker(t, upstream, "key-a")
	w.runRound(context.Background(), true)

	snap := w.Snapshot(context.Background(), false)
	e := snap[0]
	if e.Status != "RATE LIMITED" || !e.PenaltyActive {
		t.Fatalf("expected rate-limited/penalized, got %+v", e)
	}
	if e.ExpiresInSeconds < 5000 {
		t.Fatalf("expected the upstream hint to win, got %+v", e)
	}
}

func TestWorker_PenalizedKey_SkipsProbeUnlessForced(t *testing.T) {
	t.Parallel()
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	w := newTestWorker(t, upstream, "key-a")
	w.penalties.PenalizeTooManyRequests(0, time.Now(), -1)

	w.runRound(context.Background(), false)
	if calls != 0 {
		t.Fatalf("expected no probe while penalized, got %d calls", calls)
	}

	w.runRound(context.Background(), true)
	if calls != 1 {
		t.Fatalf("expected forced round to probe, got %d calls", calls)
	}
}

func TestWorker_Reset_ReentersLevelZeroOn429(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	w := newTestWorker(t, upstream, "key-a")
	// drive key 0 to a higher 429 level first
	w.penalties.PenalizeTooManyRequests(0, time.Now(), -1)
	w.penalties.PenalizeTooManyRequests(0, time.Now(), -1)

	e, err := w.Reset(context.Background(), 0)
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if e.BackoffLevel != 0 {
		t.Fatalf("expected level 0 after reset+429 probe, got %d", e.BackoffLevel)
	}
}

func TestWorker_Penalize_OverwritesSnapshotEntry(t *testing.T) {
	t.Parallel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	w := newTestWorker(t, upstream, "key-a")
	e, err := w.Penalize(0)
	if err != nil {
		t.Fatalf("Penalize: %v", err)
	}
	if !e.PenaltyActive || e.Status != "PENALIZED" {
		t.Fatalf("expected penalized entry, got %+v", e)
	}
	if !w.penalties.IsPenalized(0, time.Now()) {
		t.Fatalf("expected registry to reflect the forced penalty")
	}
}
