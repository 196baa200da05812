// Package tester sends a minimal completion request to providers and records
// whether each one answers.
package tester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/discovery"
	"github.com/af-corp/ccproxy/internal/override"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/af-corp/ccproxy/internal/telemetry"
	"github.com/af-corp/ccproxy/internal/types"
	"github.com/af-corp/ccproxy/internal/upstream"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultModel is used when neither the caller, the config nor the
	// provider names a model.
	DefaultModel = "claude-sonnet-4-5-20250929"

	maxResponseBytes = 1 << 20
	maxErrorLen      = 200
	maxKeptRuns      = 32
)

// Options parameterize a run.
type Options struct {
	Prompt string
	Model  string
	// Refresh runs model discovery before each provider's test. A failed
	// refresh fails the provider without testing it.
	Refresh bool
}

// Orchestrator fans tests out to providers, one goroutine per provider.
type Orchestrator struct {
	store     *config.Store
	tracker   *status.Tracker
	refresher *discovery.Refresher
	client    *http.Client
	metrics   *telemetry.Metrics
	logger    *slog.Logger

	seq    atomic.Uint64
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	runs map[uint64]*Run
}

// New creates an orchestrator. refresher may be nil when the refresh variant
// is never used; client defaults to one without an overall timeout since each
// test carries its own deadline.
func New(store *config.Store, tracker *status.Tracker, refresher *discovery.Refresher, client *http.Client, metrics *telemetry.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     store,
		tracker:   tracker,
		refresher: refresher,
		client:    client,
		metrics:   metrics,
		logger:    logger.With("component", "tester"),
		ctx:       ctx,
		cancel:    cancel,
		runs:      make(map[uint64]*Run),
	}
}

// Close cancels every in-flight run.
func (o *Orchestrator) Close() {
	o.cancel()
}

// RunAll tests every provider except annotation rows.
func (o *Orchestrator) RunAll(opts Options) *Run {
	return o.start(KindAll, o.selectProviders(func(string) bool { return true }), opts)
}

// RunFailedOnly tests providers whose last result is not success.
func (o *Orchestrator) RunFailedOnly(opts Options) *Run {
	return o.start(KindFailed, o.selectProviders(func(name string) bool {
		return o.tracker.Result(name) != types.ResultSuccess
	}), opts)
}

// RunOne tests a single provider.
func (o *Orchestrator) RunOne(name string, opts Options) (*Run, error) {
	p, ok := o.store.Snapshot().Config.Provider(name)
	if !ok || p.IsNote() {
		return nil, &config.NotFoundError{Kind: "provider", Name: name}
	}
	return o.start(KindSingle, []string{name}, opts), nil
}

// Run returns a recent run by id.
func (o *Orchestrator) Run(id uint64) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.runs[id]
	return r, ok
}

func (o *Orchestrator) selectProviders(keep func(name string) bool) []string {
	var names []string
	for _, p := range o.store.Snapshot().Config.Providers {
		if p.IsNote() || !keep(p.Name) {
			continue
		}
		names = append(names, p.Name)
	}
	return names
}

func (o *Orchestrator) start(kind string, providers []string, opts Options) *Run {
	run := newRun(o.seq.Add(1), kind, providers)
	o.remember(run)

	o.logger.Info("test run started", "run_id", run.ID, "kind", kind, "providers", len(providers), "refresh", opts.Refresh)

	var g errgroup.Group
	for _, name := range providers {
		g.Go(func() error {
			run.set(o.testOne(o.ctx, run.ID, name, opts))
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		run.finish()
		o.logger.Info("test run finished", "run_id", run.ID, "kind", kind, "duration_ms", time.Since(run.StartedAt).Milliseconds())
	}()
	return run
}

func (o *Orchestrator) remember(run *Run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[run.ID] = run
	if len(o.runs) <= maxKeptRuns {
		return
	}
	ids := make([]uint64, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids[:len(ids)-maxKeptRuns] {
		delete(o.runs, id)
	}
}

// testOne claims the provider for runID, optionally refreshes its models,
// tests it and records the outcome.
func (o *Orchestrator) testOne(ctx context.Context, runID uint64, name string, opts Options) Result {
	if !o.tracker.Claim(name, runID) {
		o.logger.Debug("provider claimed by newer run, skipping", "provider", name, "run_id", runID)
		return Result{Provider: name, Result: o.tracker.Result(name), Stale: true}
	}

	var outcome status.Outcome
	if opts.Refresh && o.refresher != nil {
		if res := o.refresher.Refresh(ctx, name); !res.Updated {
			outcome = status.Outcome{Result: types.ResultFailure, Error: "refresh models: " + res.Error}
			return o.record(ctx, runID, name, outcome)
		}
	}

	snap := o.store.Snapshot()
	p, ok := snap.Config.Provider(name)
	if !ok {
		outcome = status.Outcome{Result: types.ResultFailure, Error: "provider removed from config"}
		return o.record(ctx, runID, name, outcome)
	}
	outcome = o.Test(ctx, snap, p, o.pickModel(snap, p, opts.Model), opts.Prompt)
	return o.record(ctx, runID, name, outcome)
}

func (o *Orchestrator) record(ctx context.Context, runID uint64, name string, outcome status.Outcome) Result {
	accepted := o.tracker.Record(ctx, name, runID, outcome)
	o.metrics.RecordTestResult(name, string(outcome.Result))
	if outcome.Result.Passed() {
		o.logger.Info("provider test passed", "provider", name, "run_id", runID, "model", outcome.Model, "latency_ms", outcome.Latency.Milliseconds())
	} else {
		o.logger.Warn("provider test failed", "provider", name, "run_id", runID, "model", outcome.Model, "status", outcome.Status, "error", outcome.Error)
	}
	return Result{
		Provider:  name,
		Model:     outcome.Model,
		Result:    outcome.Result,
		Status:    outcome.Status,
		Error:     outcome.Error,
		LatencyMs: outcome.Latency.Milliseconds(),
		Stale:     !accepted,
	}
}

func (o *Orchestrator) pickModel(snap *config.Snapshot, p *config.Provider, requested string) string {
	switch {
	case requested != "":
		return requested
	case snap.Config.Tests.Model != "":
		return snap.Config.Tests.Model
	case len(p.Models) > 0:
		return p.Models[0]
	default:
		return DefaultModel
	}
}

// Test sends one minimal, non-streaming completion to p. It succeeds iff the
// upstream answers 2xx with non-empty generated content.
func (o *Orchestrator) Test(ctx context.Context, snap *config.Snapshot, p *config.Provider, model, prompt string) status.Outcome {
	tests := snap.Config.Tests
	if prompt == "" {
		prompt = tests.Prompt
	}
	maxTokens := tests.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 100
	}
	timeout := tests.Timeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	outcome := status.Outcome{Result: types.ResultFailure, Model: model}
	dialect := upstream.For(p)

	body, err := dialect.TestBody(model, prompt, maxTokens)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	out, err := override.Build(override.Draft{Method: http.MethodPost, Header: header, Body: body}, snap, p)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := out.NewRequest(ctx)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	dialect.Decorate(req.Header)

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		outcome.Latency = time.Since(start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome.Error = fmt.Sprintf("timeout after %s", timeout)
		} else {
			outcome.Error = truncate(err.Error())
		}
		return outcome
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	outcome.Latency = time.Since(start)
	outcome.Status = resp.StatusCode
	if err != nil {
		outcome.Error = truncate("read response: " + err.Error())
		return outcome
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome.Error = truncate(string(data))
		return outcome
	}
	if dialect.Content(data) == "" {
		outcome.Error = "empty response content"
		return outcome
	}
	outcome.Result = types.ResultSuccess
	return outcome
}

func truncate(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}
