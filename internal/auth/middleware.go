package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/af-corp/ccproxy/internal/httputil"
	"github.com/af-corp/ccproxy/internal/redact"
)

// Credential sources, in the order they are checked.
const (
	MethodOpen      = "open"
	MethodHeader    = "header"
	MethodBearer    = "bearer"
	MethodAuthToken = "auth_token"
	MethodQuery     = "query"
	MethodBasic     = "basic"
)

// queryParams may carry the client key on the query string.
var queryParams = []string{"token", "key", "api_key"}

// Candidate is one presented credential.
type Candidate struct {
	Method string
	Value  string
}

// Candidates lists every credential r presents. Basic auth is included only
// when allowBasic is set; its password is the candidate value.
func Candidates(r *http.Request, allowBasic bool) []Candidate {
	var out []Candidate
	if v := strings.TrimSpace(r.Header.Get("x-api-key")); v != "" {
		out = append(out, Candidate{MethodHeader, v})
	}
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		out = append(out, Candidate{MethodBearer, strings.TrimSpace(authz[7:])})
	}
	if v := strings.TrimSpace(r.Header.Get("anthropic-auth-token")); v != "" {
		out = append(out, Candidate{MethodAuthToken, v})
	}
	q := r.URL.Query()
	for _, name := range queryParams {
		if v := q.Get(name); v != "" {
			out = append(out, Candidate{MethodQuery, v})
		}
	}
	if allowBasic {
		if _, pass, ok := r.BasicAuth(); ok && pass != "" {
			out = append(out, Candidate{MethodBasic, pass})
		}
	}
	return out
}

// Match returns the first candidate equal to key. Comparison is constant
// time per candidate.
func Match(candidates []Candidate, key string) (Candidate, bool) {
	for _, c := range candidates {
		if subtle.ConstantTimeCompare([]byte(c.Value), []byte(key)) == 1 {
			return c, true
		}
	}
	return Candidate{}, false
}

// Middleware returns a chi middleware that admits requests presenting the
// configured client key. key is read per request so a config reload takes
// effect immediately; an empty key admits everyone. allowBasic additionally
// accepts HTTP Basic with the key as password, for the dashboard.
func Middleware(key func() string, allowBasic bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			want := key()
			if want == "" {
				next.ServeHTTP(w, r.WithContext(ContextWithAuth(r.Context(), &AuthInfo{Method: MethodOpen})))
				return
			}

			candidates := Candidates(r, allowBasic)
			if len(candidates) == 0 {
				if allowBasic {
					w.Header().Set("WWW-Authenticate", `Basic realm="ccproxy"`)
				}
				httputil.WriteAuthError(w, reqID, "Missing API key. Use x-api-key, Authorization: Bearer <key> or ?token=<key>")
				return
			}

			match, ok := Match(candidates, want)
			if !ok {
				slog.Warn("auth failed: key mismatch", "request_id", reqID, "presented", redact.Key(candidates[0].Value), "method", candidates[0].Method)
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			ctx := ContextWithAuth(r.Context(), &AuthInfo{Method: match.Method})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
