// Package export converts the provider list into the config formats of other
// Claude Code routers.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/discovery"
	"github.com/af-corp/ccproxy/internal/upstream"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// Supported formats.
const (
	FormatCLIProxy = "cliproxy"
	FormatCCR      = "ccr"
)

var ErrUnknownFormat = errors.New("unknown export format")

// defaultRouter is added to a ccr export whose source has no Router block.
const defaultRouter = `{"default":"","background":"","think":"","longContext":"","longContextThreshold":60000,"webSearch":"","image":""}`

const anthropicTransformer = `{"use":["Anthropic"]}`

// CLIProxyProvider is one openai-compatibility entry.
type CLIProxyProvider struct {
	Name          string          `yaml:"name"`
	BaseURL       string          `yaml:"base-url"`
	APIKeyEntries []CLIProxyKey   `yaml:"api-key-entries"`
	Models        []CLIProxyModel `yaml:"models,omitempty"`
}

type CLIProxyKey struct {
	APIKey string `yaml:"api-key"`
}

type CLIProxyModel struct {
	Name  string `yaml:"name"`
	Alias string `yaml:"alias"`
}

type cliProxyDoc struct {
	OpenAICompatibility []CLIProxyProvider `yaml:"openai-compatibility"`
}

// Render dispatches to the named format. raw is the expanded config file,
// used by formats that preserve the source document.
func Render(format string, cfg *config.Config, raw []byte, filter string) ([]byte, error) {
	switch format {
	case FormatCLIProxy:
		return CLIProxy(cfg, filter)
	case FormatCCR:
		return CCR(raw, filter)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// CLIProxy renders the providers as a CLIProxyAPI openai-compatibility YAML
// document.
func CLIProxy(cfg *config.Config, filter string) ([]byte, error) {
	doc := cliProxyDoc{OpenAICompatibility: []CLIProxyProvider{}}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.IsNote() {
			continue
		}
		entry := CLIProxyProvider{
			Name:          p.Name,
			BaseURL:       cliProxyBaseURL(p.APIBaseURL),
			APIKeyEntries: []CLIProxyKey{{APIKey: p.Credential()}},
		}
		for _, m := range filterModels(p.Models, filter) {
			entry.Models = append(entry.Models, CLIProxyModel{Name: m})
		}
		doc.OpenAICompatibility = append(doc.OpenAICompatibility, entry)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode cliproxy yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode cliproxy yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// cliProxyBaseURL drops the endpoint path and a trailing /v1; CLIProxyAPI
// appends its own.
func cliProxyBaseURL(apiBaseURL string) string {
	return strings.TrimSuffix(upstream.BaseURL(apiBaseURL), "/v1")
}

// CCR rewrites the config document for claude-code-router: annotation rows
// are removed, every provider without a transformer gets the Anthropic one,
// and a Router block is added when absent. Other keys are kept as they are.
func CCR(raw []byte, filter string) ([]byte, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("config is not valid JSON")
	}

	var providers []string
	for _, p := range gjson.GetBytes(raw, "Providers").Array() {
		if p.Get("name").String() == config.NoteProvider {
			continue
		}
		entry := p.Raw
		var err error
		if models := p.Get("models").Array(); filter != "" && len(models) > 0 {
			names := make([]string, 0, len(models))
			for _, m := range models {
				names = append(names, m.String())
			}
			if entry, err = sjson.Set(entry, "models", filterModels(names, filter)); err != nil {
				return nil, fmt.Errorf("filter models of %s: %w", p.Get("name").String(), err)
			}
		}
		if !p.Get("transformer").Exists() {
			if entry, err = sjson.SetRaw(entry, "transformer", anthropicTransformer); err != nil {
				return nil, fmt.Errorf("add transformer to %s: %w", p.Get("name").String(), err)
			}
		}
		providers = append(providers, entry)
	}

	out, err := sjson.SetRawBytes(raw, "Providers", []byte("["+strings.Join(providers, ",")+"]"))
	if err != nil {
		return nil, fmt.Errorf("write providers: %w", err)
	}
	if !gjson.GetBytes(out, "Router").Exists() {
		if out, err = sjson.SetRawBytes(out, "Router", []byte(defaultRouter)); err != nil {
			return nil, fmt.Errorf("write router: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, out, "", "  "); err != nil {
		return nil, fmt.Errorf("indent ccr config: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// filterModels applies the model filter, keeping the original list when
// nothing would survive.
func filterModels(models []string, filter string) []string {
	if filter == "" {
		return models
	}
	if filtered := discovery.FilterModels(models, filter); len(filtered) > 0 {
		return filtered
	}
	return models
}
