package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-orders/internal/domain/auth"
	"github.com/xenking/bookshop-orders/pkg/httpmiddleware"
)

// HeaderAPIKey carries the shopper's API key.
const HeaderAPIKey = "api_key"

// HeaderCallbackSignature carries the hex HMAC-SHA256 of a callback body.
const HeaderCallbackSignature = "X-Callback-Signature"

// Security authenticates API requests via HMAC-SHA256 hashed API keys.
type Security struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository and HMAC
// pepper.
func NewSecurity(apikeys auth.Repository, pepper []byte) *Security {
	return &Security{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate resolves the shopper behind an API key. The stored hash is
// compared in constant time even though the lookup already matched it.
func (s *Security) Authenticate(r *http.Request) (*auth.APIKeyInfo, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return nil, errUnauthorized
	}
	hexHash := auth.Hash(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			return nil, errUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}
	if subtle.ConstantTimeCompare([]byte(hexHash), []byte(info.KeyHash)) != 1 {
		return nil, errUnauthorized
	}
	if !info.HasScope(auth.ScopeShop) {
		return nil, errForbidden
	}
	return info, nil
}

// RequireAPIKey rejects requests without a valid shopper key and stores the
// principal in the request context.
func (s *Security) RequireAPIKey() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, err := s.Authenticate(r)
			if err != nil {
				writeError(w, r, err)
				return
			}
			ctx := auth.WithPrincipal(r.Context(), info)
			ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.Int64("user_id", info.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userID returns the authenticated shopper. Handlers behind RequireAPIKey
// always have one.
func userID(r *http.Request) (int64, error) {
	info, ok := auth.FromContext(r.Context())
	if !ok {
		return 0, errUnauthorized
	}
	return info.UserID, nil
}

// SignCallback returns the signature a gateway sends for body.
func SignCallback(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyCallback checks the body signature when a secret is configured.
// A "sha256=" prefix on the header value is accepted.
func verifyCallback(secret, body []byte, header string) error {
	if len(secret) == 0 {
		return nil
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return errInvalidSignature
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return errInvalidSignature
	}
	return nil
}
