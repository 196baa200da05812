package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/discovery"
	"github.com/af-corp/ccproxy/internal/httputil"
	"github.com/af-corp/ccproxy/internal/status"
	"github.com/af-corp/ccproxy/internal/tester"
	"github.com/af-corp/ccproxy/internal/types"
	"github.com/go-chi/chi/v5"
)

const alphaKey = "sk-ant-REDACTED"

type fixture struct {
	srv     *httptest.Server
	path    string
	store   *config.Store
	tracker *status.Tracker
}

// upstream serves /<provider>/v1/models and /<provider>/v1/messages. The
// provider named "down" fails every completion.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)[0]
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/v1/models"):
			fmt.Fprint(w, `{"data":[{"id":"claude-x"},{"id":"claude-y"}]}`)
		case provider == "down":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
		default:
			fmt.Fprint(w, `{"content":[{"type":"text","text":"hi"}]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func configJSON(upstreamURL string) string {
	return fmt.Sprintf(`{
  "tests": {"timeout_seconds": 5},
  "HeaderOverrides": {"cli": {"User-Agent": "claude-cli/2.0"}},
  "RequestOverrides": {"notools": {"tools": []}},
  "env-models": {"ANTHROPIC_MODEL": "claude-x"},
  "Providers": [
    {"name": "alpha", "api_base_url": "%[1]s/alpha/v1/messages", "api_key": %[2]q},
    {"name": "down", "api_base_url": "%[1]s/down/v1/messages", "api_key": "sk-down"},
    {"name": "Note", "api_base_url": "", "comment": "annotation"}
  ]
}`, upstreamURL, alphaKey)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	up := newUpstream(t)
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(configJSON(up.URL)), 0o600); err != nil {
		t.Fatal(err)
	}
	store, err := config.NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tracker := status.NewTracker(nil, nil)
	tracker.Sync([]string{"alpha", "down", "Note"})
	refresher := discovery.NewRefresher(store, tracker, nil, nil, nil)
	orch := tester.New(store, tracker, refresher, nil, nil, nil)
	t.Cleanup(orch.Close)

	r := chi.NewRouter()
	r.Use(httputil.RequestID)
	r.Get("/health", Health("test", store))
	New(store, tracker, refresher, orch, nil, nil).Mount(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, path: path, store: store, tracker: tracker}
}

func (f *fixture) post(t *testing.T, path, body string) (int, []byte) {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func (f *fixture) get(t *testing.T, path string, v any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (f *fixture) state(t *testing.T) State {
	t.Helper()
	var st State
	if code := f.get(t, "/api/state", &st); code != http.StatusOK {
		t.Fatalf("state: status %d", code)
	}
	return st
}

func errorType(t *testing.T, body []byte) string {
	t.Helper()
	var apiErr httputil.APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		t.Fatalf("not an error envelope: %s", body)
	}
	return apiErr.Error.Type
}

// waitRun polls /api/runs/{id} until the run is done.
func (f *fixture) waitRun(t *testing.T, body []byte) tester.Summary {
	t.Helper()
	var accepted struct {
		Status string `json:"status"`
		RunID  uint64 `json:"run_id"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil || accepted.Status != "started" {
		t.Fatalf("unexpected accept body %s", body)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		var sum tester.Summary
		if code := f.get(t, fmt.Sprintf("/api/runs/%d", accepted.RunID), &sum); code != http.StatusOK {
			t.Fatalf("run lookup: status %d", code)
		}
		if sum.Done {
			return sum
		}
		select {
		case <-ctx.Done():
			t.Fatalf("run %d did not finish", accepted.RunID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestGetState(t *testing.T) {
	f := newFixture(t)
	st := f.state(t)

	if st.SelectedProvider != "" {
		t.Errorf("selected_provider = %q", st.SelectedProvider)
	}
	if len(st.Providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(st.Providers))
	}
	alpha := st.Providers[0]
	if alpha.Name != "alpha" || alpha.TestResult != types.ResultUnknown {
		t.Errorf("alpha = %+v", alpha)
	}
	if alpha.APIKey == alphaKey || strings.Contains(alpha.APIKey, "0123456789") {
		t.Errorf("api key must be masked, got %q", alpha.APIKey)
	}
	if alpha.Kind != "anthropic" {
		t.Errorf("kind = %q", alpha.Kind)
	}
	if !st.Providers[2].Note {
		t.Error("Note row should be flagged")
	}
	if len(st.HeaderOverrides) != 1 || st.HeaderOverrides[0] != "cli" {
		t.Errorf("header_overrides = %v", st.HeaderOverrides)
	}
	if len(st.RequestOverrides) != 1 || st.RequestOverrides[0] != "notools" {
		t.Errorf("request_overrides = %v", st.RequestOverrides)
	}
	if st.GlobalEnvModels["ANTHROPIC_MODEL"] != "claude-x" {
		t.Errorf("global_env_models = %v", st.GlobalEnvModels)
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantSel  string
	}{
		{"known provider", `{"provider": "alpha"}`, http.StatusOK, "alpha"},
		{"unknown provider", `{"provider": "ghost"}`, http.StatusNotFound, ""},
		{"missing provider", `{}`, http.StatusBadRequest, ""},
		{"invalid json", `{"provider":`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, body := f.post(t, "/api/select", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, body %s", code, body)
			}
			if got := f.store.Snapshot().Config.SelectedProvider; got != tt.wantSel {
				t.Errorf("selected = %q, want %q", got, tt.wantSel)
			}
		})
	}
}

func TestRefreshModels_Single(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/api/refresh-models", `{"provider": "alpha"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %s", code, body)
	}
	var res discovery.RefreshResult
	json.Unmarshal(body, &res)
	if !res.Updated || res.Count != 2 {
		t.Errorf("result = %+v", res)
	}
	p, _ := f.store.Snapshot().Config.Provider("alpha")
	if len(p.Models) != 2 || p.Models[0] != "claude-x" {
		t.Errorf("models = %v", p.Models)
	}
}

func TestRefreshModels_All(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/api/refresh-models", ``)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var out struct {
		Results []discovery.RefreshResult `json:"results"`
	}
	json.Unmarshal(body, &out)
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %+v", out.Results)
	}
	if !out.Results[0].Updated || !out.Results[1].Updated {
		t.Errorf("alpha and down should refresh: %+v", out.Results)
	}
	if out.Results[2].Updated {
		t.Error("Note must be skipped")
	}
}

func TestRefreshModels_UnknownProvider(t *testing.T) {
	f := newFixture(t)
	code, body := f.post(t, "/api/refresh-models", `{"provider": "ghost"}`)
	if code != http.StatusNotFound || errorType(t, body) != "not_found_error" {
		t.Errorf("status = %d, body %s", code, body)
	}
}

func TestProviderAuth(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMode string
	}{
		{"header with preset", `{"provider": "alpha", "override": {"token_in": "header", "header_override": "cli"}}`, http.StatusOK, config.TokenInHeader},
		{"unknown preset", `{"provider": "alpha", "override": {"request_override": "ghost"}}`, http.StatusNotFound, config.TokenInNone},
		{"bad token_in", `{"override": {"token_in": "cookie"}}`, http.StatusBadRequest, config.TokenInNone},
		{"missing override", `{"provider": "alpha"}`, http.StatusBadRequest, config.TokenInNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			code, body := f.post(t, "/api/provider-auth", tt.body)
			if code != tt.wantCode {
				t.Fatalf("status = %d, body %s", code, body)
			}
			if got := f.store.Snapshot().Config.AuthOverride.Mode(); got != tt.wantMode {
				t.Errorf("mode = %q, want %q", got, tt.wantMode)
			}
		})
	}
}

func TestReset_RestoresFileOverride(t *testing.T) {
	f := newFixture(t)
	if code, body := f.post(t, "/api/provider-auth", `{"override": {"token_in": "query"}}`); code != http.StatusOK {
		t.Fatalf("apply: %d %s", code, body)
	}
	if code, _ := f.post(t, "/api/reset", `{}`); code != http.StatusOK {
		t.Fatalf("reset: %d", code)
	}
	if got := f.store.Snapshot().Config.AuthOverride; got != (config.AuthOverride{}) {
		t.Errorf("auth override after reset = %+v", got)
	}
}

func TestRefreshAndTest_ThenRetestFailed(t *testing.T) {
	f := newFixture(t)

	code, body := f.post(t, "/api/refresh-and-test", `{"prompt": "ping"}`)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", code, body)
	}
	sum := f.waitRun(t, body)
	if sum.Total != 2 {
		t.Errorf("Note must not be tested, total = %d", sum.Total)
	}

	st := f.state(t)
	if st.Providers[0].TestResult != types.ResultSuccess {
		t.Errorf("alpha = %+v", st.Providers[0])
	}
	if st.Providers[0].LastModel != "claude-x" {
		t.Errorf("refresh variant should test the first discovered model, got %q", st.Providers[0].LastModel)
	}
	if st.Providers[1].TestResult != types.ResultFailure || st.Providers[1].LastStatus != http.StatusInternalServerError {
		t.Errorf("down = %+v", st.Providers[1])
	}

	code, body = f.post(t, "/api/retest-failed", `{}`)
	if code != http.StatusAccepted {
		t.Fatalf("retest status = %d", code)
	}
	sum = f.waitRun(t, body)
	if sum.Total != 1 || len(sum.Results) != 1 || sum.Results[0].Provider != "down" {
		t.Errorf("retest should dispatch only the failed provider: %+v", sum)
	}
}

func TestTestProvider(t *testing.T) {
	f := newFixture(t)

	code, body := f.post(t, "/api/test-provider", `{"provider": "alpha", "model": "claude-z"}`)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", code, body)
	}
	sum := f.waitRun(t, body)
	if len(sum.Results) != 1 || sum.Results[0].Model != "claude-z" || sum.Results[0].Result != types.ResultSuccess {
		t.Errorf("summary = %+v", sum)
	}

	for _, name := range []string{"ghost", "Note"} {
		code, _ := f.post(t, "/api/test-provider", fmt.Sprintf(`{"provider": %q}`, name))
		if code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", name, code)
		}
	}
}

func TestReload(t *testing.T) {
	f := newFixture(t)
	before := f.store.Snapshot().Generation

	if err := os.WriteFile(f.path, []byte(`{"Providers": [`), 0o600); err != nil {
		t.Fatal(err)
	}
	code, body := f.post(t, "/api/reload", ``)
	if code != http.StatusUnprocessableEntity || errorType(t, body) != "config_error" {
		t.Fatalf("broken file: status = %d, body %s", code, body)
	}
	if f.store.Snapshot().Generation != before || len(f.store.Snapshot().Config.Providers) != 3 {
		t.Error("failed reload must keep the previous config")
	}

	if err := os.WriteFile(f.path, []byte(`{"Providers": [{"name": "solo", "api_base_url": "http://127.0.0.1:1/v1/messages"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	code, body = f.post(t, "/api/reload", ``)
	if code != http.StatusOK {
		t.Fatalf("valid file: status = %d, body %s", code, body)
	}
	if n := len(f.store.Snapshot().Config.Providers); n != 1 {
		t.Errorf("providers after reload = %d", n)
	}
}

func TestGetRun_Errors(t *testing.T) {
	f := newFixture(t)
	if code := f.get(t, "/api/runs/abc", nil); code != http.StatusBadRequest {
		t.Errorf("non-numeric id: %d", code)
	}
	if code := f.get(t, "/api/runs/999", nil); code != http.StatusNotFound {
		t.Errorf("unknown id: %d", code)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.store.Select("alpha")
	var body map[string]string
	if code := f.get(t, "/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "healthy" || body["selected_provider"] != "alpha" {
		t.Errorf("body = %v", body)
	}
}
