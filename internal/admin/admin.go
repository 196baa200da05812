// Package admin serves the control plane used by the dashboard: state,
// provider selection, auth override edits, model refresh and test runs.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/discovery"
	"github.com/af-corp/ccproxy/internal/httputil"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/af-corp/ccproxy/internal/tester"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// StreakCounter reports the current upstream failure streak of a provider.
type StreakCounter interface {
	Count(provider string) int
}

// Handler holds the control-plane dependencies.
type Handler struct {
	store     *config.Store
	tracker   *status.Tracker
	refresher *discovery.Refresher
	orch      *tester.Orchestrator
	streaks   StreakCounter
	logger    *slog.Logger
}

// New builds the control plane. streaks may be nil.
func New(store *config.Store, tracker *status.Tracker, refresher *discovery.Refresher, orch *tester.Orchestrator, streaks StreakCounter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     store,
		tracker:   tracker,
		refresher: refresher,
		orch:      orch,
		streaks:   streaks,
		logger:    logger.With("component", "admin"),
	}
}

// Mount registers the /api routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Post("/select", h.Select)
		r.Post("/refresh-models", h.RefreshModels)
		r.Post("/provider-auth", h.ProviderAuth)
		r.Post("/reset", h.Reset)
		r.Post("/refresh-and-test", h.RefreshAndTest)
		r.Post("/retest-failed", h.RetestFailed)
		r.Post("/test-provider", h.TestProvider)
		r.Post("/reload", h.Reload)
		r.Get("/runs/{id}", h.GetRun)
	})
}

// Health answers liveness probes.
func Health(version string, store *config.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{
			"status":            "healthy",
			"version":           version,
			"selected_provider": store.Snapshot().Config.SelectedProvider,
		})
	}
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, buildState(h.store.Snapshot(), h.tracker, h.streaks))
}

type selectRequest struct {
	Provider string `json:"provider"`
}

func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFromContext(r.Context())
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Provider == "" {
		httputil.WriteBadRequestError(w, reqID, "provider is required")
		return
	}
	if err := h.store.Select(req.Provider); err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"selected_provider": req.Provider})
}

type refreshRequest struct {
	Provider string `json:"provider"`
}

// RefreshModels refreshes one provider synchronously, or every provider when
// none is named.
func (h *Handler) RefreshModels(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFromContext(r.Context())
	var req refreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Provider == "" {
		results := h.refresher.RefreshAll(r.Context())
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}
	p, ok := h.store.Snapshot().Config.Provider(req.Provider)
	if !ok {
		writeStoreError(w, reqID, &config.NotFoundError{Kind: "provider", Name: req.Provider})
		return
	}
	if p.IsNote() {
		httputil.WriteJSON(w, http.StatusOK, discovery.RefreshResult{Provider: p.Name, Error: "skipped annotation row"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.refresher.Refresh(r.Context(), req.Provider))
}

// providerAuthRequest carries a partial auth override. The override is
// global; provider is accepted for dashboard compatibility and ignored.
type providerAuthRequest struct {
	Provider string                    `json:"provider"`
	Override *config.AuthOverridePatch `json:"override"`
}

func (h *Handler) ProviderAuth(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFromContext(r.Context())
	var req providerAuthRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Override == nil {
		httputil.WriteBadRequestError(w, reqID, "override is required")
		return
	}
	applied, err := h.store.ApplyAuthOverride(*req.Override)
	if err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "auth_override": applied})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	applied := h.store.Reset()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"ok": true, "auth_override": applied})
}

type runRequest struct {
	Provider string `json:"provider"`
	Prompt   string `json:"prompt"`
	Model    string `json:"model"`
	Refresh  bool   `json:"refresh"`
}

func (r runRequest) options() tester.Options {
	return tester.Options{Prompt: r.Prompt, Model: r.Model, Refresh: r.Refresh}
}

// RefreshAndTest refreshes models and tests every provider in the background.
func (h *Handler) RefreshAndTest(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	opts := req.options()
	opts.Refresh = true
	h.started(w, h.orch.RunAll(opts))
}

// RetestFailed tests, in the background, every provider whose last result is
// not success.
func (h *Handler) RetestFailed(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	h.started(w, h.orch.RunFailedOnly(req.options()))
}

func (h *Handler) TestProvider(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFromContext(r.Context())
	var req runRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Provider == "" {
		httputil.WriteBadRequestError(w, reqID, "provider is required")
		return
	}
	run, err := h.orch.RunOne(req.Provider, req.options())
	if err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	h.started(w, run)
}

func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFromContext(r.Context())
	if err := h.store.Reload(); err != nil {
		writeStoreError(w, reqID, err)
		return
	}
	snap := h.store.Snapshot()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"generation":        snap.Generation,
		"providers":         len(snap.Config.Providers),
		"selected_provider": snap.Config.SelectedProvider,
	})
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestIDFromContext(r.Context())
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "run id must be a positive integer")
		return
	}
	run, ok := h.orch.Run(id)
	if !ok {
		httputil.WriteNotFoundError(w, reqID, "run not found or expired")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, run.Summary())
}

func (h *Handler) started(w http.ResponseWriter, run *tester.Run) {
	h.logger.Info("test run accepted", "run_id", run.ID, "kind", run.Kind, "providers", len(run.Providers()))
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
		"status": "started",
		"run_id": run.ID,
		"total":  len(run.Providers()),
	})
}

// decode reads an optional JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	httputil.WriteBadRequestError(w, httputil.RequestIDFromContext(r.Context()), "Invalid JSON body: "+err.Error())
	return false
}

// writeStoreError maps config store errors onto the error envelope.
func writeStoreError(w http.ResponseWriter, reqID string, err error) {
	var nf *config.NotFoundError
	var ce *config.ConfigError
	switch {
	case errors.As(err, &ce):
		httputil.WriteConfigError(w, reqID, err.Error())
	case errors.As(err, &nf):
		httputil.WriteNotFoundError(w, reqID, err.Error())
	case errors.Is(err, config.ErrInvalidTokenIn):
		httputil.WriteBadRequestError(w, reqID, err.Error())
	default:
		httputil.WriteInternalError(w, reqID, err.Error())
	}
}
