package tester

import (
	"context"
	"sync"
	"time"

	"github.com/af-corp/ccproxy/internal/types"
)

// Run kinds.
const (
	KindAll    = "all"
	KindFailed = "failed"
	KindSingle = "single"
)

// Result is one provider's outcome within a run.
type Result struct {
	Provider  string           `json:"provider"`
	Model     string           `json:"model,omitempty"`
	Result    types.TestResult `json:"test_result"`
	Status    int              `json:"status,omitempty"`
	Error     string           `json:"error,omitempty"`
	LatencyMs int64            `json:"latency_ms,omitempty"`
	// Stale is set when a newer run had already claimed the provider, so the
	// result was not recorded.
	Stale bool `json:"stale,omitempty"`
}

// Run is one test batch. Results are visible as each provider finishes.
type Run struct {
	ID        uint64
	Kind      string
	StartedAt time.Time

	providers []string
	done      chan struct{}

	mu         sync.Mutex
	results    map[string]Result
	finishedAt time.Time
}

func newRun(id uint64, kind string, providers []string) *Run {
	return &Run{
		ID:        id,
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		providers: providers,
		done:      make(chan struct{}),
		results:   make(map[string]Result, len(providers)),
	}
}

// Providers lists the providers dispatched by this run, in config order.
func (r *Run) Providers() []string {
	return append([]string(nil), r.providers...)
}

func (r *Run) set(res Result) {
	r.mu.Lock()
	r.results[res.Provider] = res
	r.mu.Unlock()
}

func (r *Run) finish() {
	r.mu.Lock()
	r.finishedAt = time.Now().UTC()
	r.mu.Unlock()
	close(r.done)
}

// Results returns the completed results so far, in config order.
func (r *Run) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Result, 0, len(r.results))
	for _, name := range r.providers {
		if res, ok := r.results[name]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Done reports whether every task of the run has finished.
func (r *Run) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the run completes or ctx ends.
func (r *Run) Wait(ctx context.Context) ([]Result, error) {
	select {
	case <-r.done:
		return r.Results(), nil
	case <-ctx.Done():
		return r.Results(), ctx.Err()
	}
}

// Summary is the JSON view of a run.
type Summary struct {
	ID         uint64    `json:"run_id"`
	Kind       string    `json:"kind"`
	Done       bool      `json:"done"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Results    []Result  `json:"results"`
}

func (r *Run) Summary() Summary {
	done := r.Done()
	results := r.Results()
	r.mu.Lock()
	finished := r.finishedAt
	r.mu.Unlock()
	return Summary{
		ID:         r.ID,
		Kind:       r.Kind,
		Done:       done,
		Total:      len(r.providers),
		StartedAt:  r.StartedAt,
		FinishedAt: finished,
		Results:    results,
	}
}
