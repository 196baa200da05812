// Package override turns a client request draft into the outbound request for
// one provider. Build is pure: it reads a config snapshot and never mutates it.
//
// Steps run in a fixed order and later steps may overwrite earlier ones:
//
//  1. strip hop-by-hop headers and any client credential (headers and query)
//  2. shallow-merge the request preset into a JSON object body
//  3. place the provider credential per auth_override.token_in
//  4. write the header preset, except onto the credential carrier header
package override

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/upstream"
)

// PresetNotFoundError reports an auth_override reference to a preset that is
// absent from the snapshot.
type PresetNotFoundError struct {
	Kind string // header_override or request_override
	Name string
}

func (e *PresetNotFoundError) Error() string {
	return fmt.Sprintf("%s preset %q not found", e.Kind, e.Name)
}

// Draft is the client request as received.
type Draft struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

// DraftFromRequest captures r with an already-read body.
func DraftFromRequest(r *http.Request, body []byte) Draft {
	return Draft{
		Method: r.Method,
		Header: r.Header.Clone(),
		Query:  r.URL.Query(),
		Body:   body,
	}
}

// Outbound is the final request to send upstream.
type Outbound struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// Carrier is the header holding the provider credential, empty when the
	// credential travels only in the query string.
	Carrier string
	// Mode is the effective token placement.
	Mode string
}

// Build produces the outbound request for provider p under the presets and
// auth override of snap.
func Build(d Draft, snap *config.Snapshot, p *config.Provider) (*Outbound, error) {
	auth := snap.Config.AuthOverride

	headerPreset, err := snap.HeaderPreset(auth.HeaderOverride)
	if err != nil {
		return nil, presetError(err)
	}
	requestPreset, err := snap.RequestPreset(auth.RequestOverride)
	if err != nil {
		return nil, presetError(err)
	}

	header := stripHeaders(d.Header)
	query := stripQuery(d.Query)

	body, err := mergeBody(d.Body, requestPreset)
	if err != nil {
		return nil, fmt.Errorf("apply request preset %q: %w", auth.RequestOverride, err)
	}

	target, err := url.Parse(p.APIBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse api_base_url for %s: %w", p.Name, err)
	}
	merged := target.Query()
	for k, vs := range query {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}

	key := p.Credential()
	mode := auth.Mode()
	var carrier string

	switch mode {
	case config.TokenInNone:
		name, value := upstream.For(p).NativeCredential(key)
		header.Set(name, value)
		carrier = name
	default:
		if extra, err := url.ParseQuery(auth.QueryParams); err == nil {
			for k, vs := range extra {
				for _, v := range vs {
					merged.Add(k, v)
				}
			}
		}
		if mode == config.TokenInHeader || mode == config.TokenInBoth {
			carrier = auth.Header()
			header.Set(carrier, strings.ReplaceAll(auth.HeaderFormat(), "{token}", key))
		}
		if mode == config.TokenInQuery || mode == config.TokenInBoth {
			merged.Set(auth.Param(snap.Config.TokenParam), key)
		}
	}

	applyHeaderPreset(header, headerPreset, carrier)

	target.RawQuery = merged.Encode()
	method := d.Method
	if method == "" {
		method = http.MethodPost
	}
	return &Outbound{
		Method:  method,
		URL:     target.String(),
		Header:  header,
		Body:    body,
		Carrier: carrier,
		Mode:    mode,
	}, nil
}

func presetError(err error) error {
	var nf *config.NotFoundError
	if errors.As(err, &nf) {
		return &PresetNotFoundError{Kind: nf.Kind, Name: nf.Name}
	}
	return err
}

// NewRequest materializes o as an *http.Request bound to ctx.
func (o *Outbound) NewRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, o.Method, o.URL, bytes.NewReader(o.Body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header = o.Header.Clone()
	return req, nil
}
