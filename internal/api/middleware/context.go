package middleware

import (
	"context"
	"net"
	"net/http"
)

type contextKey string

const (
	keyPrefixKey    contextKey = "key_prefix"
	apiKeyScopesKey contextKey = "api_key_scopes"
)

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

// KeyPrefix returns the prefix of the API key that authenticated r.
func KeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

func setScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, apiKeyScopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(apiKeyScopesKey).([]string)
	return scopes
}

// Caller identifies who made r: the API key prefix when authenticated,
// otherwise the client IP.
func Caller(r *http.Request) string {
	if prefix, ok := KeyPrefix(r); ok {
		return prefix
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithKeyPrefix returns ctx carrying an authenticated key prefix and scopes
// (for testing).
func WithKeyPrefix(ctx context.Context, prefix string, scopes ...string) context.Context {
	return setScopes(setKeyPrefix(ctx, prefix), scopes)
}
