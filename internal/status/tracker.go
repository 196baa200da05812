package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/af-corp/ccproxy/internal/types"
)

const persistTimeout = 5 * time.Second

// Entry is the runtime status of one provider.
type Entry struct {
	Provider  string           `json:"provider"`
	Result    types.TestResult `json:"test_result"`
	Status    int              `json:"status,omitempty"`
	Error     string           `json:"error,omitempty"`
	Model     string           `json:"model,omitempty"`
	LatencyMs int64            `json:"latency_ms,omitempty"`
	RunID     uint64           `json:"run_id,omitempty"`
	UpdatedAt time.Time        `json:"updated_at,omitzero"`
}

// Outcome is what a finished test reports.
type Outcome struct {
	Result  types.TestResult
	Status  int
	Error   string
	Model   string
	Latency time.Duration
}

// providerStatus guards one provider's entry. claimed is the newest run that
// has started testing this provider; writes from older runs are stale.
type providerStatus struct {
	mu      sync.Mutex
	claimed uint64
	entry   Entry
}

// Tracker holds per-provider test status, joined to providers by name.
// Each entry has its own lock so concurrent tests never contend on a global
// lock; the map lock is held only to find or replace entries.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*providerStatus

	store  Store
	logger *slog.Logger
}

// NewTracker creates a tracker. store may be nil for in-memory only.
func NewTracker(store Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		entries: make(map[string]*providerStatus),
		store:   store,
		logger:  logger.With("component", "status"),
	}
}

// Sync aligns the tracked set with names: existing entries are kept, removed
// providers are dropped and new ones start as unknown.
func (t *Tracker) Sync(names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]*providerStatus, len(names))
	for _, name := range names {
		if ps, ok := t.entries[name]; ok {
			next[name] = ps
			continue
		}
		next[name] = &providerStatus{entry: Entry{Provider: name, Result: types.ResultUnknown}}
	}
	t.entries = next
}

// Seed restores persisted entries for providers that are currently tracked.
func (t *Tracker) Seed(records []Record) {
	for _, rec := range records {
		ps := t.get(rec.Provider)
		if ps == nil {
			continue
		}
		ps.mu.Lock()
		ps.entry = rec.Entry
		ps.entry.Provider = rec.Provider
		ps.entry.RunID = 0
		ps.mu.Unlock()
	}
}

// get returns the entry for provider, or nil if it is not tracked.
func (t *Tracker) get(provider string) *providerStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[provider]
}

// Claim marks provider as being tested by runID. It returns false if a newer
// run has already claimed it or the provider is not tracked.
func (t *Tracker) Claim(provider string, runID uint64) bool {
	ps := t.get(provider)
	if ps == nil {
		return false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if runID < ps.claimed {
		return false
	}
	ps.claimed = runID
	return true
}

// Record stores the outcome of runID's test of provider. The write is
// discarded, and false returned, when a newer run has claimed the provider.
func (t *Tracker) Record(ctx context.Context, provider string, runID uint64, o Outcome) bool {
	ps := t.get(provider)
	if ps == nil {
		return false
	}

	ps.mu.Lock()
	if runID < ps.claimed {
		ps.mu.Unlock()
		t.logger.Debug("discarding stale test result", "provider", provider, "run_id", runID, "current_run", ps.claimed)
		return false
	}
	ps.entry = Entry{
		Provider:  provider,
		Result:    o.Result,
		Status:    o.Status,
		Error:     o.Error,
		Model:     o.Model,
		LatencyMs: o.Latency.Milliseconds(),
		RunID:     runID,
		UpdatedAt: time.Now().UTC(),
	}
	entry := ps.entry
	ps.mu.Unlock()

	t.persist(ctx, func(ctx context.Context) error { return t.store.SaveResult(ctx, entry) })
	return true
}

// RecordModels persists a refreshed model list. The tracker itself does not
// hold model lists; the config store does.
func (t *Tracker) RecordModels(ctx context.Context, provider string, models []string) {
	t.persist(ctx, func(ctx context.Context) error { return t.store.SaveModels(ctx, provider, models) })
}

func (t *Tracker) persist(ctx context.Context, fn func(context.Context) error) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		t.logger.Warn("failed to persist provider status", "error", err)
	}
}

// Get returns a copy of provider's entry.
func (t *Tracker) Get(provider string) (Entry, bool) {
	ps := t.get(provider)
	if ps == nil {
		return Entry{}, false
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.entry, true
}

// Result returns provider's test result, unknown if untracked.
func (t *Tracker) Result(provider string) types.TestResult {
	e, ok := t.Get(provider)
	if !ok {
		return types.ResultUnknown
	}
	return e.Result
}

// List returns entries for names in order. Untracked names are skipped.
func (t *Tracker) List(names []string) []Entry {
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		if e, ok := t.Get(name); ok {
			out = append(out, e)
		}
	}
	return out
}
