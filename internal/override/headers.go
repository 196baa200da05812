package override

import (
	"net/http"
	"net/url"
	"strings"
)

// hopHeaders are never forwarded. Accept-Encoding is dropped so the outbound
// transport negotiates and decodes compression itself.
var hopHeaders = map[string]struct{}{
	"connection":          {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailers":            {},
	"transfer-encoding":   {},
	"upgrade":             {},
	"host":                {},
	"content-length":      {},
	"accept-encoding":     {},
}

// clientAuthHeaders carry the client's own credential for this proxy.
var clientAuthHeaders = map[string]struct{}{
	"authorization":        {},
	"x-api-key":            {},
	"anthropic-auth-token": {},
}

// clientTokenParams are query parameters that may carry the client's key.
var clientTokenParams = map[string]struct{}{
	"token":   {},
	"key":     {},
	"api_key": {},
	"apikey":  {},
}

// browserHeaders identify a browser client and are dropped when a header
// preset rewrites the client identity.
var browserHeaders = map[string]struct{}{
	"http-referer": {},
	"referer":      {},
	"x-title":      {},
	"origin":       {},
	"priority":     {},
}

// IsHopHeader reports whether name is hop-by-hop.
func IsHopHeader(name string) bool {
	_, ok := hopHeaders[strings.ToLower(name)]
	return ok
}

func stripHeaders(in http.Header) http.Header {
	out := make(http.Header, len(in))
	connectionTokens := map[string]struct{}{}
	for _, v := range in.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				connectionTokens[strings.ToLower(tok)] = struct{}{}
			}
		}
	}
	for k, vs := range in {
		lk := strings.ToLower(k)
		if _, hop := hopHeaders[lk]; hop {
			continue
		}
		if _, auth := clientAuthHeaders[lk]; auth {
			continue
		}
		if _, listed := connectionTokens[lk]; listed {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func stripQuery(in url.Values) url.Values {
	out := url.Values{}
	for k, vs := range in {
		if _, tok := clientTokenParams[strings.ToLower(k)]; tok {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func isBrowserHeader(lk string) bool {
	if _, ok := browserHeaders[lk]; ok {
		return true
	}
	return strings.HasPrefix(lk, "sec-ch-") || strings.HasPrefix(lk, "sec-fetch-")
}

// applyHeaderPreset writes preset onto h. The carrier header and hop-by-hop
// headers (Accept-Encoding among them) are reserved and never written by a
// preset.
func applyHeaderPreset(h http.Header, preset map[string]string, carrier string) {
	if len(preset) == 0 {
		return
	}
	for k := range h {
		if isBrowserHeader(strings.ToLower(k)) {
			delete(h, k)
		}
	}
	for k, v := range preset {
		if carrier != "" && strings.EqualFold(k, carrier) {
			continue
		}
		if IsHopHeader(k) {
			continue
		}
		h.Set(k, v)
	}
}
