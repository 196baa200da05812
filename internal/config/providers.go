package config

import "strings"

// NoteProvider is the name of an annotation row in the provider list. It is
// loaded and shown but never contacted.
const NoteProvider = "Note"

// Provider is one configured upstream endpoint.
type Provider struct {
	Name       string            `json:"name"`
	Kind       string            `json:"kind,omitempty"`
	APIBaseURL string            `json:"api_base_url"`
	APIKey     string            `json:"api_key,omitempty"`
	Token      string            `json:"token,omitempty"`
	Models     []string          `json:"models"`
	Comment    string            `json:"comment,omitempty"`
	Checkin    string            `json:"checkin,omitempty"`
	EnvModels  map[string]string `json:"env-models,omitempty"`
}

// Credential returns the key sent upstream. The legacy "token" field wins
// over api_key when both are set.
func (p *Provider) Credential() string {
	if p.Token != "" {
		return p.Token
	}
	return p.APIKey
}

// IsNote reports whether p is an annotation row.
func (p *Provider) IsNote() bool {
	return p.Name == NoteProvider
}

func (p Provider) clone() Provider {
	c := p
	c.Models = append([]string(nil), p.Models...)
	if p.EnvModels != nil {
		c.EnvModels = make(map[string]string, len(p.EnvModels))
		for k, v := range p.EnvModels {
			c.EnvModels[k] = v
		}
	}
	return c
}

// Token placement modes for AuthOverride.TokenIn.
const (
	TokenInNone   = "none"
	TokenInHeader = "header"
	TokenInQuery  = "query"
	TokenInBoth   = "both"
)

// Defaults applied when the corresponding AuthOverride field is empty.
const (
	DefaultTokenHeader       = "Authorization"
	DefaultTokenHeaderFormat = "Bearer {token}"
	DefaultTokenParam        = "token"
)

// AuthOverride is the single global rule set for token placement and preset
// selection. Empty fields mean "use the default".
type AuthOverride struct {
	TokenIn           string `json:"token_in"`
	HeaderOverride    string `json:"header_override"`
	RequestOverride   string `json:"request_override"`
	QueryParams       string `json:"query_params"`
	TokenParam        string `json:"token_param"`
	TokenHeader       string `json:"token_header"`
	TokenHeaderFormat string `json:"token_header_format"`
}

// Mode returns the normalized placement mode; empty means none.
func (a AuthOverride) Mode() string {
	if a.TokenIn == "" {
		return TokenInNone
	}
	return a.TokenIn
}

// Header returns the credential carrier header for header placement.
func (a AuthOverride) Header() string {
	if a.TokenHeader == "" {
		return DefaultTokenHeader
	}
	return a.TokenHeader
}

// HeaderFormat returns the template used for header placement.
func (a AuthOverride) HeaderFormat() string {
	if a.TokenHeaderFormat == "" {
		return DefaultTokenHeaderFormat
	}
	return a.TokenHeaderFormat
}

// Param returns the query parameter for query placement, falling back to
// the config-wide TOKEN_PARAM and then to "token".
func (a AuthOverride) Param(fallback string) string {
	if a.TokenParam != "" {
		return a.TokenParam
	}
	if fallback != "" {
		return fallback
	}
	return DefaultTokenParam
}

// AuthOverridePatch carries a partial update. A nil field is left untouched;
// a pointer to "" clears the field back to its default.
type AuthOverridePatch struct {
	TokenIn           *string `json:"token_in,omitempty"`
	HeaderOverride    *string `json:"header_override,omitempty"`
	RequestOverride   *string `json:"request_override,omitempty"`
	QueryParams       *string `json:"query_params,omitempty"`
	TokenParam        *string `json:"token_param,omitempty"`
	TokenHeader       *string `json:"token_header,omitempty"`
	TokenHeaderFormat *string `json:"token_header_format,omitempty"`
}

// Apply returns a copy of a with the supplied patch fields merged in.
func (p AuthOverridePatch) Apply(a AuthOverride) AuthOverride {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	if p.TokenIn != nil {
		a.TokenIn = strings.ToLower(strings.TrimSpace(*p.TokenIn))
	}
	set(&a.HeaderOverride, p.HeaderOverride)
	set(&a.RequestOverride, p.RequestOverride)
	set(&a.QueryParams, p.QueryParams)
	set(&a.TokenParam, p.TokenParam)
	set(&a.TokenHeader, p.TokenHeader)
	set(&a.TokenHeaderFormat, p.TokenHeaderFormat)
	return a
}
