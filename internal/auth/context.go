package auth

import "context"

type contextKey string

const authContextKey contextKey = "ccproxy_auth"

// AuthInfo describes how a client was admitted.
type AuthInfo struct {
	// Method is the credential source that matched: header, bearer,
	// auth_token, query or basic. "open" means no client key is configured.
	Method string
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
