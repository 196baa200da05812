package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/af-corp/ccproxy/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	want := map[string]bool{"serve": false, "models": false, "export": false, "migrate": false, "version": false}
	for _, c := range newRootCmd().Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "ccproxy "+version {
		t.Errorf("output = %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	off := false

	tests := []struct {
		name     string
		cfg      config.Config
		wantText bool
		wantOut  bool
	}{
		{"json default", config.Config{LogLevel: "info", LogFormat: "json"}, false, true},
		{"text format", config.Config{LogLevel: "info", LogFormat: "text"}, true, true},
		{"LOG false silences errors", config.Config{LogLevel: "debug", Log: &off}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			newLogger(&tt.cfg, &buf).Error("boom", "provider", "relay")
			if tt.wantOut != (buf.Len() > 0) {
				t.Fatalf("output = %q", buf.String())
			}
			if !tt.wantOut {
				return
			}
			isJSON := strings.HasPrefix(buf.String(), "{")
			if isJSON == tt.wantText {
				t.Errorf("unexpected format: %q", buf.String())
			}
		})
	}
}

func TestExportCmd(t *testing.T) {
	path := writeConfig(t, `{"Providers": [
  {"name": "Note", "comment": "x"},
  {"name": "relay", "api_base_url": "https://relay.example/v1/messages", "api_key": "${RELAY_KEY:sk-default}", "models": ["claude-sonnet-4-5"]}
]}`)

	out, err := run(t, "export", "--config", path, "--format", "cliproxy")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, "base-url: https://relay.example") || !strings.Contains(out, "api-key: sk-default") {
		t.Errorf("cliproxy output:\n%s", out)
	}
	if strings.Contains(out, "Note") {
		t.Error("Note rows must be skipped")
	}

	target := filepath.Join(t.TempDir(), "ccr.json")
	if _, err := run(t, "export", "--config", path, "--format", "ccr", "-o", target); err != nil {
		t.Fatalf("export ccr: %v", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"Anthropic"`) || !strings.Contains(string(data), `"Router"`) {
		t.Errorf("ccr output:\n%s", data)
	}

	if _, err := run(t, "export", "--config", path, "--format", "toml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestModelsCmd(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"claude-sonnet-4-5"},{"id":"gpt-4o"},{"id":"claude-opus-4"}]}`)
	}))
	defer up.Close()

	path := writeConfig(t, fmt.Sprintf(`{"Providers": [{"name": "relay", "api_base_url": %q, "api_key": "sk"}]}`, up.URL+"/v1/messages"))

	out, err := run(t, "models", "relay", "--config", path, "--filter", "claude")
	if err != nil {
		t.Fatalf("models: %v", err)
	}
	if got := strings.Fields(out); len(got) != 2 || got[0] != "claude-sonnet-4-5" || got[1] != "claude-opus-4" {
		t.Errorf("models output = %q", out)
	}

	if _, err := run(t, "models", "ghost", "--config", path); err == nil {
		t.Error("unknown provider should fail")
	}
}

func TestMigrateCmd_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "status.db")
	path := writeConfig(t, `{"Providers": []}`)

	out, err := run(t, "migrate", "--config", path, "--persist", "sqlite", "--dsn", dsn)
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "migration up complete") || !strings.Contains(out, "dirty: false") {
		t.Errorf("output = %q", out)
	}

	if _, err := run(t, "migrate", "--config", path, "--persist", "sqlite", "--dsn", dsn, "--direction", "sideways"); err == nil {
		t.Error("invalid direction should fail")
	}
	if _, err := run(t, "migrate", "--config", path, "--persist", "memory", "--dsn", "x"); err == nil {
		t.Error("memory backend has no schema")
	}
}
