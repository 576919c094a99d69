package loader

import "context"

type tokenKey struct{}

// WithToken attaches a correlation token to ctx. Journal entries and log
// lines written while handling ctx carry it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the correlation token attached to ctx, or "".
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
