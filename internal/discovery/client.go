// Package discovery fetches the model identifiers a provider advertises.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/af-corp/ccproxy/internal/config"
	"github.com/af-corp/ccproxy/internal/override"
	"github.com/af-corp/ccproxy/internal/upstream"
	"github.com/tidwall/gjson"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
	maxErrorBody   = 512
)

// Options tune one FetchModels call.
type Options struct {
	Timeout time.Duration
	Filter  string
	Client  *http.Client
}

// FetchModels lists provider p's models from {base}/v1/models. The current
// token placement and header preset apply to the request. Config is never
// modified.
func FetchModels(ctx context.Context, snap *config.Snapshot, p *config.Provider, opts Options) ([]string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}

	target := *p
	target.APIBaseURL = upstream.ModelsURL(p)
	out, err := override.Build(override.Draft{Method: http.MethodGet, Header: http.Header{}}, snap, &target)
	if err != nil {
		return nil, fmt.Errorf("[%s] build models request: %w", p.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := out.NewRequest(ctx)
	if err != nil {
		return nil, &HTTPError{Provider: p.Name, Err: err}
	}
	req.Body = http.NoBody
	req.ContentLength = 0
	upstream.For(p).Decorate(req.Header)
	req.Header.Del("Content-Type")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &TimeoutError{Provider: p.Name, Timeout: timeout, Err: err}
		}
		return nil, &HTTPError{Provider: p.Name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, &TimeoutError{Provider: p.Name, Timeout: timeout, Err: err}
		}
		return nil, &HTTPError{Provider: p.Name, StatusCode: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Provider: p.Name, StatusCode: resp.StatusCode, Body: truncate(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &HTTPError{Provider: p.Name, StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	models, err := parseModelIDs(p.Name, body)
	if err != nil {
		return nil, err
	}
	return FilterModels(models, opts.Filter), nil
}

// parseModelIDs reads data[].id, accepting a bare array as well.
func parseModelIDs(provider string, body []byte) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, &ParseError{Provider: provider, Message: "models response is not JSON"}
	}
	root := gjson.ParseBytes(body)
	list := root.Get("data")
	if root.IsArray() {
		list = root
	}
	if !list.IsArray() {
		return nil, &ParseError{Provider: provider, Message: "models response has no data array"}
	}

	var ids []string
	list.ForEach(func(_, item gjson.Result) bool {
		if id := item.Get("id").String(); id != "" {
			ids = append(ids, id)
		}
		return true
	})
	if len(ids) == 0 {
		return nil, &ParseError{Provider: provider, Message: "empty model list"}
	}
	return ids, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
