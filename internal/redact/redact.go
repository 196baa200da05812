// Package redact masks provider and client credentials before they reach
// logs or the control-plane state view.
package redact

import (
	"net/http"
	"net/url"
	"strings"
)

var patterns = DefaultPatterns()

// credentialHeaders always have their values masked.
var credentialHeaders = map[string]struct{}{
	"authorization":        {},
	"proxy-authorization":  {},
	"x-api-key":            {},
	"api-key":              {},
	"anthropic-auth-token": {},
	"cookie":               {},
}

// credentialParams are query parameters whose values are masked.
var credentialParams = map[string]struct{}{
	"token":   {},
	"key":     {},
	"api_key": {},
	"apikey":  {},
}

// Key masks a single secret, keeping a short prefix for recognition.
func Key(key string) string {
	switch {
	case key == "":
		return ""
	case len(key) <= 8:
		return "****"
	case len(key) <= 16:
		return key[:3] + "****"
	default:
		return key[:7] + "****" + key[len(key)-4:]
	}
}

// String replaces every credential-shaped substring of s.
func String(s string) string {
	for _, p := range patterns {
		s = p.Regex.ReplaceAllStringFunc(s, func(m string) string {
			return "[REDACTED:" + p.Name + "]"
		})
	}
	return s
}

// Header returns a loggable copy of h. Values of credential headers and of
// any extra names (such as a custom token carrier) are masked; other values
// are scrubbed for credential shapes.
func Header(h http.Header, extra ...string) map[string]string {
	sensitive := make(map[string]struct{}, len(extra))
	for _, name := range extra {
		if name != "" {
			sensitive[strings.ToLower(name)] = struct{}{}
		}
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		v := strings.Join(vs, ", ")
		lk := strings.ToLower(k)
		_, cred := credentialHeaders[lk]
		_, custom := sensitive[lk]
		if cred || custom {
			out[k] = Key(v)
			continue
		}
		out[k] = String(v)
	}
	return out
}

// URL masks credential query parameters, plus any extra parameter names.
// Unparseable input is scrubbed as plain text.
func URL(raw string, extra ...string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return String(raw)
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	for k, vs := range q {
		lk := strings.ToLower(k)
		_, cred := credentialParams[lk]
		custom := false
		for _, name := range extra {
			if strings.EqualFold(name, k) {
				custom = true
			}
		}
		if !cred && !custom {
			continue
		}
		for i := range vs {
			vs[i] = Key(vs[i])
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// StripQuery returns raw without its query string and fragment.
func StripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return String(raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
