package discovery

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/af-corp/ccproxy/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// RefreshResult reports one provider's model refresh.
type RefreshResult struct {
	Provider string `json:"provider"`
	Updated  bool   `json:"updated"`
	Count    int    `json:"count"`
	Error    string `json:"error,omitempty"`
}

// Refresher discovers models and, when the list is non-empty, stores it as
// the provider's runtime model list. Concurrent refreshes of one provider
// share a single upstream call.
type Refresher struct {
	store   *config.Store
	tracker *status.Tracker
	client  *http.Client
	metrics *telemetry.Metrics
	logger  *slog.Logger
	group   singleflight.Group
}

func NewRefresher(store *config.Store, tracker *status.Tracker, client *http.Client, metrics *telemetry.Metrics, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		store:   store,
		tracker: tracker,
		client:  client,
		metrics: metrics,
		logger:  logger.With("component", "discovery"),
	}
}

// Fetch runs discovery for one provider without storing anything.
func (r *Refresher) Fetch(ctx context.Context, name string) ([]string, error) {
	snap := r.store.Snapshot()
	p, ok := snap.Config.Provider(name)
	if !ok {
		return nil, &config.NotFoundError{Kind: "provider", Name: name}
	}
	models, err := FetchModels(ctx, snap, p, Options{
		Timeout: snap.Config.Discovery.Timeout(),
		Filter:  snap.Config.Discovery.Filter,
		Client:  r.client,
	})
	r.metrics.RecordDiscovery(name, Outcome(err))
	return models, err
}

// Refresh discovers and stores the model list of one provider. The shared
// call is detached from the caller's cancellation and bounded by the
// discovery timeout; a caller that gives up only stops waiting.
func (r *Refresher) Refresh(ctx context.Context, name string) RefreshResult {
	ch := r.group.DoChan(name, func() (interface{}, error) {
		return r.refresh(context.WithoutCancel(ctx), name), nil
	})
	select {
	case res := <-ch:
		return res.Val.(RefreshResult)
	case <-ctx.Done():
		return RefreshResult{Provider: name, Error: ctx.Err().Error()}
	}
}

func (r *Refresher) refresh(ctx context.Context, name string) RefreshResult {
	res := RefreshResult{Provider: name}

	models, err := r.Fetch(ctx, name)
	if err != nil {
		res.Error = err.Error()
		r.logger.Info("model refresh failed", "provider", name, "error", err)
		return res
	}
	res.Count = len(models)
	if len(models) == 0 {
		res.Error = "no models matched filter"
		return res
	}
	if err := r.store.UpdateModels(name, models); err != nil {
		res.Error = err.Error()
		return res
	}
	if r.tracker != nil {
		r.tracker.RecordModels(ctx, name, models)
	}
	res.Updated = true
	r.logger.Info("models refreshed", "provider", name, "count", len(models))
	return res
}

// RefreshAll refreshes every provider except annotation rows, concurrently.
// Results follow config order.
func (r *Refresher) RefreshAll(ctx context.Context) []RefreshResult {
	providers := r.store.Snapshot().Config.Providers
	results := make([]RefreshResult, len(providers))

	var g errgroup.Group
	for i := range providers {
		name := providers[i].Name
		if providers[i].IsNote() {
			results[i] = RefreshResult{Provider: name, Error: "skipped annotation row"}
			continue
		}
		g.Go(func() error {
			results[i] = r.Refresh(ctx, name)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
