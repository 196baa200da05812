package override

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func testSnapshot(auth config.AuthOverride) *config.Snapshot {
	return &config.Snapshot{Config: &config.Config{
		TokenParam: "token",
		HeaderOverrides: map[string]map[string]string{
			"cli": {
				"User-Agent":    "claude-cli/2.0",
				"Authorization": "Bearer preset-leak",
				"x-api-key":     "preset-leak",
			},
		},
		RequestOverrides: map[string]json.RawMessage{
			"notools": json.RawMessage(`{"tools": [], "metadata": {"user_id": "u1"}}`),
			"dotted":  json.RawMessage(`{"a.b": 1}`),
		},
		AuthOverride: auth,
	}}
}

var anthropicProvider = &config.Provider{
	Name:       "relay",
	APIBaseURL: "https://relay.example/v1/messages",
	APIKey:     "sk-provider",
}

var openAIProvider = &config.Provider{
	Name:       "compat",
	APIBaseURL: "https://compat.example/v1/chat/completions?version=2",
	APIKey:     "sk-compat",
}

func clientDraft() Draft {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Host", "localhost:3456")
	h.Set("Content-Length", "42")
	h.Set("Accept-Encoding", "gzip, br")
	h.Set("Authorization", "Bearer client-key")
	h.Set("X-Api-Key", "client-key")
	h.Set("Anthropic-Version", "2023-06-01")
	h.Set("Referer", "https://dashboard.local")
	h.Set("Sec-Fetch-Mode", "cors")
	q := url.Values{}
	q.Set("token", "client-key")
	q.Set("beta", "true")
	return Draft{
		Method: http.MethodPost,
		Header: h,
		Query:  q,
		Body:   []byte(`{"model":"claude","messages":[{"role":"user","content":"hi"}],"tools":[{"name":"bash"}],"stream":true}`),
	}
}

func mustBuild(t *testing.T, d Draft, snap *config.Snapshot, p *config.Provider) *Outbound {
	t.Helper()
	out, err := Build(d, snap, p)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return out
}

func TestBuild_PassthroughNativeCredential(t *testing.T) {
	out := mustBuild(t, clientDraft(), testSnapshot(config.AuthOverride{}), anthropicProvider)

	if got := out.Header.Get("x-api-key"); got != "sk-provider" {
		t.Errorf("x-api-key = %q, want provider key", got)
	}
	if out.Header.Get("Authorization") != "" {
		t.Error("client Authorization header should be stripped")
	}
	for _, h := range []string{"Host", "Content-Length", "Accept-Encoding"} {
		if out.Header.Get(h) != "" {
			t.Errorf("hop header %s should be stripped", h)
		}
	}
	if out.Header.Get("Anthropic-Version") != "2023-06-01" {
		t.Error("ordinary client headers should pass through")
	}
	if out.Header.Get("Referer") == "" {
		t.Error("browser headers are only dropped when a header preset applies")
	}
	u, _ := url.Parse(out.URL)
	if u.Query().Get("token") != "" {
		t.Error("client token query param should be stripped")
	}
	if u.Query().Get("beta") != "true" {
		t.Error("other client query params should be forwarded")
	}
	if u.Path != "/v1/messages" || u.Host != "relay.example" {
		t.Errorf("unexpected upstream URL %s", out.URL)
	}
	if string(out.Body) != string(clientDraft().Body) {
		t.Error("body should be unchanged without a request preset")
	}
	if out.Carrier != "x-api-key" || out.Mode != config.TokenInNone {
		t.Errorf("carrier=%q mode=%q", out.Carrier, out.Mode)
	}
}

func TestBuild_PassthroughOpenAIDialect(t *testing.T) {
	out := mustBuild(t, clientDraft(), testSnapshot(config.AuthOverride{TokenIn: "none"}), openAIProvider)
	if got := out.Header.Get("Authorization"); got != "Bearer sk-compat" {
		t.Errorf("Authorization = %q", got)
	}
	if out.Header.Get("x-api-key") != "" {
		t.Error("client x-api-key should be stripped")
	}
	u, _ := url.Parse(out.URL)
	if u.Query().Get("version") != "2" {
		t.Error("query already on api_base_url should be preserved")
	}
}

func TestBuild_HeaderPlacement(t *testing.T) {
	tests := []struct {
		name       string
		auth       config.AuthOverride
		wantHeader string
		wantValue  string
	}{
		{"defaults", config.AuthOverride{TokenIn: "header"}, "Authorization", "Bearer sk-provider"},
		{"custom template", config.AuthOverride{TokenIn: "header", TokenHeader: "X-Relay-Token", TokenHeaderFormat: "Token {token}"}, "X-Relay-Token", "Token sk-provider"},
		{"raw token", config.AuthOverride{TokenIn: "header", TokenHeader: "x-api-key", TokenHeaderFormat: "{token}"}, "x-api-key", "sk-provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := mustBuild(t, clientDraft(), testSnapshot(tt.auth), anthropicProvider)
			if got := out.Header.Get(tt.wantHeader); got != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantHeader, got, tt.wantValue)
			}
			if !strings.EqualFold(out.Carrier, tt.wantHeader) {
				t.Errorf("carrier = %q", out.Carrier)
			}
			u, _ := url.Parse(out.URL)
			if u.Query().Get("token") != "" {
				t.Error("header placement must not add a query token")
			}
		})
	}
}

func TestBuild_QueryPlacement(t *testing.T) {
	snap := testSnapshot(config.AuthOverride{TokenIn: "query", QueryParams: "beta=true&client=cc"})
	snap.Config.TokenParam = "key"
	out := mustBuild(t, clientDraft(), snap, anthropicProvider)

	u, _ := url.Parse(out.URL)
	if got := u.Query().Get("key"); got != "sk-provider" {
		t.Errorf("key param = %q, want provider key (TOKEN_PARAM fallback)", got)
	}
	if u.Query().Get("client") != "cc" {
		t.Error("query_params should be appended")
	}
	if out.Header.Get("Authorization") != "" || out.Header.Get("x-api-key") != "" {
		t.Error("query placement must not set a credential header")
	}
	if out.Carrier != "" {
		t.Errorf("carrier = %q, want none", out.Carrier)
	}
}

func TestBuild_BothPlacement(t *testing.T) {
	out := mustBuild(t, clientDraft(), testSnapshot(config.AuthOverride{TokenIn: "both", TokenParam: "auth"}), anthropicProvider)
	u, _ := url.Parse(out.URL)
	if u.Query().Get("auth") != "sk-provider" {
		t.Error("expected token in query")
	}
	if out.Header.Get("Authorization") != "Bearer sk-provider" {
		t.Error("expected token in header")
	}
}

func TestBuild_RequestPreset(t *testing.T) {
	out := mustBuild(t, clientDraft(), testSnapshot(config.AuthOverride{RequestOverride: "notools"}), anthropicProvider)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(out.Body, &body); err != nil {
		t.Fatalf("outbound body is not JSON: %v", err)
	}
	if string(body["tools"]) != "[]" {
		t.Errorf("tools = %s, want []", body["tools"])
	}
	if !strings.Contains(string(body["metadata"]), `"u1"`) {
		t.Errorf("metadata = %s", body["metadata"])
	}
	if string(body["stream"]) != "true" {
		t.Error("keys absent from the preset must be kept")
	}
	if strings.Index(string(out.Body), `"model"`) != 1 {
		t.Errorf("existing key order should be preserved: %s", out.Body)
	}
}

func TestBuild_RequestPresetEscapesKeys(t *testing.T) {
	d := clientDraft()
	d.Body = []byte(`{"a":{"b":0}}`)
	out := mustBuild(t, d, testSnapshot(config.AuthOverride{RequestOverride: "dotted"}), anthropicProvider)
	if string(out.Body) != `{"a":{"b":0},"a.b":1}` {
		t.Errorf("body = %s", out.Body)
	}
}

func TestBuild_RequestPresetNonJSONBody(t *testing.T) {
	d := clientDraft()
	d.Body = []byte("not json")
	out := mustBuild(t, d, testSnapshot(config.AuthOverride{RequestOverride: "notools"}), anthropicProvider)
	if string(out.Body) != "not json" {
		t.Errorf("non-JSON body should pass through, got %q", out.Body)
	}
}

func TestBuild_HeaderPreset(t *testing.T) {
	out := mustBuild(t, clientDraft(), testSnapshot(config.AuthOverride{TokenIn: "header", HeaderOverride: "cli"}), anthropicProvider)

	if out.Header.Get("User-Agent") != "claude-cli/2.0" {
		t.Errorf("User-Agent = %q", out.Header.Get("User-Agent"))
	}
	if out.Header.Get("Authorization") != "Bearer sk-provider" {
		t.Errorf("preset must not overwrite the carrier, got %q", out.Header.Get("Authorization"))
	}
	if out.Header.Get("x-api-key") != "preset-leak" {
		t.Error("non-carrier preset headers are applied literally")
	}
	if out.Header.Get("Referer") != "" || out.Header.Get("Sec-Fetch-Mode") != "" {
		t.Error("browser headers should be dropped when a header preset applies")
	}
}

func TestBuild_PresetNotFound(t *testing.T) {
	tests := []config.AuthOverride{
		{HeaderOverride: "ghost"},
		{RequestOverride: "ghost"},
	}
	for _, auth := range tests {
		_, err := Build(clientDraft(), testSnapshot(auth), anthropicProvider)
		var pnf *PresetNotFoundError
		if !errors.As(err, &pnf) || pnf.Name != "ghost" {
			t.Errorf("auth %+v: expected PresetNotFoundError, got %v", auth, err)
		}
	}
}

func TestBuild_DoesNotMutateDraft(t *testing.T) {
	d := clientDraft()
	mustBuild(t, d, testSnapshot(config.AuthOverride{TokenIn: "header", HeaderOverride: "cli", RequestOverride: "notools"}), anthropicProvider)
	if d.Header.Get("Authorization") != "Bearer client-key" {
		t.Error("draft headers were mutated")
	}
	if d.Query.Get("token") != "client-key" {
		t.Error("draft query was mutated")
	}
}

func TestBuild_CarrierReserved(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	headerGen := gen.OneConstOf("Authorization", "authorization", "X-Relay-Token", "x-api-key", "X-API-KEY")
	modeGen := gen.OneConstOf("", "none", "header", "both")
	keyGen := gen.AlphaString().Map(func(s string) string { return "sk-" + s })

	properties.Property("header preset never wins on the carrier header", prop.ForAll(
		func(carrier, mode, key, presetValue string) bool {
			auth := config.AuthOverride{TokenIn: mode, HeaderOverride: "p"}
			if mode == "header" || mode == "both" {
				auth.TokenHeader = carrier
				auth.TokenHeaderFormat = "{token}"
			}
			snap := &config.Snapshot{Config: &config.Config{
				HeaderOverrides: map[string]map[string]string{"p": {carrier: presetValue}},
				AuthOverride:    auth,
			}}
			p := &config.Provider{Name: "x", APIBaseURL: "https://x.example/v1/messages", APIKey: key}

			out, err := Build(clientDraft(), snap, p)
			if err != nil {
				return false
			}
			return out.Header.Get(out.Carrier) == key
		},
		headerGen, modeGen, keyGen, gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestBuild_HeaderPresetCannotSetHopHeaders(t *testing.T) {
	snap := testSnapshot(config.AuthOverride{HeaderOverride: "fingerprint"})
	snap.Config.HeaderOverrides = map[string]map[string]string{
		"fingerprint": {
			"User-Agent":      "claude-cli/2.0",
			"Accept-Encoding": "gzip, deflate, br",
			"Connection":      "keep-alive",
			"Content-Length":  "1",
		},
	}
	out := mustBuild(t, clientDraft(), snap, anthropicProvider)

	if out.Header.Get("User-Agent") != "claude-cli/2.0" {
		t.Errorf("User-Agent = %q", out.Header.Get("User-Agent"))
	}
	for _, h := range []string{"Accept-Encoding", "Connection", "Content-Length"} {
		if v := out.Header.Get(h); v != "" {
			t.Errorf("%s = %q, want it left to the transport", h, v)
		}
	}
}
