package admin

import (
	"slices"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/redact"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/af-corp/ccproxy/internal/types"
	"github.com/af-corp/ccproxy/internal/upstream"
)

// ProviderView is one provider as the dashboard sees it: the durable
// definition with its key masked, joined by name to the runtime status.
type ProviderView struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind"`
	APIBaseURL string            `json:"api_base_url"`
	APIKey     string            `json:"api_key"`
	Models     []string          `json:"models"`
	Comment    string            `json:"comment,omitempty"`
	Checkin    string            `json:"checkin,omitempty"`
	EnvModels  map[string]string `json:"env-models,omitempty"`
	Note       bool              `json:"note,omitempty"`

	TestResult       types.TestResult `json:"test_result"`
	LastStatus       int              `json:"last_status,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
	LastModel        string           `json:"last_model,omitempty"`
	LatencyMs        int64            `json:"latency_ms,omitempty"`
	TestedAt         time.Time        `json:"tested_at,omitzero"`
	UpstreamFailures int              `json:"upstream_failures,omitempty"`
}

// State is the body of GET /api/state.
type State struct {
	SelectedProvider string              `json:"selected_provider"`
	Providers        []ProviderView      `json:"providers"`
	AuthOverride     config.AuthOverride `json:"auth_override"`
	HeaderOverrides  []string            `json:"header_overrides"`
	RequestOverrides []string            `json:"request_overrides"`
	GlobalEnvModels  map[string]string   `json:"global_env_models"`
	ErrorThreshold   int                 `json:"error_threshold"`
	Generation       uint64              `json:"generation"`
}

func buildState(snap *config.Snapshot, tracker *status.Tracker, streaks StreakCounter) State {
	cfg := snap.Config
	st := State{
		SelectedProvider: cfg.SelectedProvider,
		Providers:        make([]ProviderView, 0, len(cfg.Providers)),
		AuthOverride:     cfg.AuthOverride,
		HeaderOverrides:  sortedKeys(cfg.HeaderOverrides),
		RequestOverrides: sortedKeys(cfg.RequestOverrides),
		GlobalEnvModels:  cfg.EnvModels,
		ErrorThreshold:   cfg.ErrorThreshold,
		Generation:       snap.Generation,
	}
	if st.GlobalEnvModels == nil {
		st.GlobalEnvModels = map[string]string{}
	}

	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		v := ProviderView{
			Name:       p.Name,
			Kind:       string(upstream.KindOf(p)),
			APIBaseURL: p.APIBaseURL,
			APIKey:     redact.Key(p.Credential()),
			Models:     p.Models,
			Comment:    p.Comment,
			Checkin:    p.Checkin,
			EnvModels:  p.EnvModels,
			Note:       p.IsNote(),
			TestResult: types.ResultUnknown,
		}
		if v.Models == nil {
			v.Models = []string{}
		}
		if e, ok := tracker.Get(p.Name); ok {
			v.TestResult = e.Result
			v.LastStatus = e.Status
			v.LastError = e.Error
			v.LastModel = e.Model
			v.LatencyMs = e.LatencyMs
			v.TestedAt = e.UpdatedAt
		}
		if streaks != nil {
			v.UpstreamFailures = streaks.Count(p.Name)
		}
		st.Providers = append(st.Providers, v)
	}
	return st
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
