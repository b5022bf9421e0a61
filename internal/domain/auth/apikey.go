package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// Scopes granted to API keys.
const (
	ScopeShop = "shop"
)

// APIKeyInfo holds the identity and permission data for a validated API key.
// Every key belongs to exactly one shopper.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	UserID  int64
	Name    string
	Scopes  []string
}

// HasScope reports whether the key was granted scope.
func (k *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// Hash returns the hex HMAC-SHA256 of key under pepper, the form keys are
// stored in.
func Hash(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

type principalKey struct{}

// WithPrincipal stores the authenticated key in ctx.
func WithPrincipal(ctx context.Context, k *APIKeyInfo) context.Context {
	return context.WithValue(ctx, principalKey{}, k)
}

// FromContext returns the authenticated key, if any.
func FromContext(ctx context.Context) (*APIKeyInfo, bool) {
	k, ok := ctx.Value(principalKey{}).(*APIKeyInfo)
	return k, ok
}
