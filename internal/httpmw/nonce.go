package httpmw

import (
	"context"
	"crypto/rand"
	"encoding/base64"
)

type nonceKey struct{}

// WithNonce attaches a CSP nonce to the context.
func WithNonce(ctx context.Context, nonce string) context.Context {
	if nonce == "" {
		return ctx
	}
	return context.WithValue(ctx, nonceKey{}, nonce)
}

// NonceFromContext returns the request's CSP nonce, or "" if none.
func NonceFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(nonceKey{}).(string); ok {
		return s
	}
	return ""
}

func newNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
