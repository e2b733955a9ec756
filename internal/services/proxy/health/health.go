// Package health implements the HealthWorker: a periodic background probe of
// every configured key, publishing a cached HealthSnapshot for the operator
// surfaces and reacting to 429s exactly like the Dispatcher does
package health

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"ollamaproxy/internal/platform/logger"
	"ollamaproxy/internal/services/proxy/keystore"
	"ollamaproxy/internal/services/proxy/ledger"
	"ollamaproxy/internal/services/proxy/penalty"
)

// Interval is the cooperative sleep between probe rounds
const Interval = 60 * time.Second

// probeTimeout bounds a single key's health request
const probeTimeout = 10 * time.Second

// Entry is one key's row in the published HealthSnapshot
type Entry struct {
	Status           string
	PenaltyActive    bool
	ExpiresInSeconds int
	BackoffLevel     int
	Usage2h          int64
}

// Snapshot is the full keyed health table exposed on /health/keys
type Snapshot map[int]Entry

// Worker is the HealthWorker: probes keys whose penalty has expired on a
// fixed interval, publishing a snapshot consumed by operator routes
type Worker struct {
	keys       *keystore.KeyStore
	penalties  *penalty.Registry
	ledger     *ledger.Ledger
	client     *http.Client
	upstream   string
	probeModel string
	log        *logger.Logger

	mu   sync.Mutex
	snap Snapshot
}

// New builds a Worker. upstreamBase mirrors the Dispatcher's upstream root.
func New(keys *keystore.KeyStore, penalties *penalty.Registry, l *ledger.Ledger, upstreamBase string) *Worker {
	return &Worker{
		keys:       keys,
		penalties:  penalties,
		ledger:     l,
		client:     &http.Client{Timeout: probeTimeout},
		upstream:   strings.TrimRight(upstreamBase, "/"),
		probeModel: "gpt-oss:20b",
		log:        logger.Named("health"),
		snap:       make(Snapshot),
	}
}

// Run starts the cooperative probe loop, blocking until ctx is cancelled.
// An initial round runs immediately so /health/keys is populated at boot.
func (w *Worker) Run(ctx context.Context) {
	w.runRound(ctx, false)

	t := time.NewTicker(Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.runRound(ctx, false)
		}
	}
}

// Snapshot returns a defensive copy of the published HealthSnapshot.
// force triggers a synchronous full re-probe before returning, per the
// GET /health/keys?force=true contract.
func (w *Worker) Snapshot(ctx context.Context, force bool) Snapshot {
	if force {
		w.runRound(ctx, true)
	}
	return w.copySnapshot()
}

// Reset is the operator "reset" action: clear all penalty state for key i,
// then synchronously probe it and update the snapshot entry in place. If the
// probe itself returns 429, the key immediately re-enters 429 level 0.
func (w *Worker) Reset(ctx context.Context, i int) (Entry, error) {
	if _, ok := w.keys.At(i); !ok {
		return Entry{}, fmt.Errorf("health: unknown key index %d", i)
	}
	w.penalties.Reset(i)
	e := w.probeOne(ctx, i)
	w.putSnapshot(i, e)
	return e, nil
}

// Penalize is the operator "penalize" action: force the key's expiry out
// without incrementing its backoff level, overwriting the snapshot entry.
func (w *Worker) Penalize(i int) (Entry, error) {
	if _, ok := w.keys.At(i); !ok {
		return Entry{}, fmt.Errorf("health: unknown key index %d", i)
	}
	now := time.Now()
	d := w.penalties.ForcePenalize(i, now)
	entry, _ := w.penalties.Get(i)
	e := Entry{
		Status:           "PENALIZED",
		PenaltyActive:    true,
		ExpiresInSeconds: int(d.Seconds()),
		BackoffLevel:     entry.BackoffLevel429,
	}
	w.putSnapshot(i, e)
	return e, nil
}

// runRound probes every key whose penalty has expired (or all keys, when
// force is true), then republishes the snapshot annotated with usage_2h.
// Probes within one round run concurrently, per spec.md §4.7.
func (w *Worker) runRound(ctx context.Context, force bool) {
	indices := w.keys.Indices()
	now := time.Now()
	next := make(Snapshot, len(indices))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, i := range indices {
		if !force && w.penalties.IsPenalized(i, now) {
			// unexpired penalty: carry the existing state forward unchanged
			mu.Lock()
			next[i] = w.existingOrDefault(i)
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := w.probeOne(ctx, i)
			mu.Lock()
			next[i] = e
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	usage := w.ledger.Usage2h(ctx, indices)
	for i, e := range next {
		e.Usage2h = usage[i]
		next[i] = e
	}

	w.mu.Lock()
	w.snap = next
	w.mu.Unlock()
}

// existingOrDefault returns the previously published entry for i with its
// expiry refreshed, or a PENALIZED entry built from the registry if none has
// ever been recorded
func (w *Worker) existingOrDefault(i int) Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.snap[i]; ok {
		entry, _ := w.penalties.Get(i)
		e.ExpiresInSeconds = secondsUntil(entry.ExpiresAt)
		return e
	}
	entry, _ := w.penalties.Get(i)
	return Entry{
		Status:           "PENALIZED",
		PenaltyActive:    true,
		ExpiresInSeconds: secondsUntil(entry.ExpiresAt),
		BackoffLevel:     entry.BackoffLevel429,
	}
}

// probeOne issues the minimal generation request for key i and classifies
// the result per spec.md §4.7
func (w *Worker) probeOne(ctx context.Context, i int) Entry {
	key, ok := w.keys.At(i)
	if !ok {
		return Entry{Status: "ERROR unknown key"}
	}

	body := fmt.Sprintf(`{"model":%q,"prompt":"ok","stream":false}`, w.probeModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.upstream+"/generate", bytes.NewBufferString(body))
	if err != nil {
		w.log.Warn().Err(err).Int("key_index", i).Msg("health probe request build failed")
		return Entry{Status: "OFFLINE"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := w.client.Do(req)
	if err != nil {
		w.log.Debug().Err(err).Int("key_index", i).Msg("health probe transport error")
		return Entry{Status: "OFFLINE"}
	}
	defer resp.Body.Close()

	now := time.Now()
	switch resp.StatusCode {
	case http.StatusOK:
		w.penalties.Clear(i)
		return Entry{Status: "OK"}
	case http.StatusTooManyRequests:
		hint := -1
		if v := resp.Header.Get("x-ratelimit-reset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				hint = n
			}
		}
		d := w.penalties.PenalizeTooManyRequests(i, now, hint)
		entry, _ := w.penalties.Get(i)
		return Entry{
			Status:           "RATE LIMITED",
			PenaltyActive:    true,
			ExpiresInSeconds: int(d.Seconds()),
			BackoffLevel:     entry.BackoffLevel429,
		}
	default:
		return Entry{Status: fmt.Sprintf("ERROR %d", resp.StatusCode)}
	}
}

func (w *Worker) copySnapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(Snapshot, len(w.snap))
	for k, v := range w.snap {
		out[k] = v
	}
	return out
}

func (w *Worker) putSnapshot(i int, e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snap[i] = e
}

func secondsUntil(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	d := time.Until(t)
	if d < 0 {
		return 0
	}
	return int(d.Seconds())
}
