package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

var (
	errUnauthorized     = errors.New("unauthorized")
	errForbidden        = errors.New("api key lacks the required scope")
	errInvalidSignature = errors.New("invalid callback signature")
)

// retryAfterSeconds is advertised on transient failures.
const retryAfterSeconds = "1"

// apiError is the JSON error body.
type apiError struct {
	code    int
	message string
	details func(e *jx.Encoder)
}

// classify maps a domain error to its HTTP representation.
func classify(err error) apiError {
	var (
		bad          *badRequestError
		validation   *payment.ValidationError
		insufficient *catalog.InsufficientStockError
		unavailable  *catalog.UnavailableError
	)
	switch {
	case errors.As(err, &bad):
		return apiError{code: http.StatusBadRequest, message: bad.msg}
	case errors.As(err, &validation):
		return apiError{
			code:    http.StatusBadRequest,
			message: validation.Error(),
			details: func(e *jx.Encoder) {
				e.Field("field", func(e *jx.Encoder) { e.Str(validation.Field) })
			},
		}
	case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, checkout.ErrEmptyCart):
		return apiError{code: http.StatusBadRequest, message: err.Error()}
	case errors.As(err, &insufficient):
		return apiError{
			code:    http.StatusBadRequest,
			message: insufficient.Error(),
			details: func(e *jx.Encoder) {
				e.Field("bookId", func(e *jx.Encoder) { e.Int64(insufficient.BookID) })
				e.Field("title", func(e *jx.Encoder) { e.Str(insufficient.Title) })
				e.Field("available", func(e *jx.Encoder) { e.Int(insufficient.Available) })
				e.Field("requested", func(e *jx.Encoder) { e.Int(insufficient.Requested) })
			},
		}
	case errors.As(err, &unavailable):
		return apiError{
			code:    http.StatusBadRequest,
			message: unavailable.Error(),
			details: func(e *jx.Encoder) {
				e.Field("bookId", func(e *jx.Encoder) { e.Int64(unavailable.BookID) })
				e.Field("title", func(e *jx.Encoder) { e.Str(unavailable.Title) })
			},
		}
	case errors.Is(err, errUnauthorized), errors.Is(err, errInvalidSignature):
		return apiError{code: http.StatusUnauthorized, message: err.Error()}
	case errors.Is(err, errForbidden):
		return apiError{code: http.StatusForbidden, message: err.Error()}
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, payment.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, cart.ErrNotFound):
		return apiError{code: http.StatusNotFound, message: notFoundMessage(err)}
	case errors.Is(err, payment.ErrStaleTransition):
		return apiError{code: http.StatusConflict, message: err.Error()}
	case errors.Is(err, checkout.ErrTransient):
		return apiError{code: http.StatusServiceUnavailable, message: "temporarily unavailable, retry the request"}
	default:
		return apiError{code: http.StatusInternalServerError, message: "internal error"}
	}
}

func notFoundMessage(err error) string {
	for _, target := range []error{order.ErrNotFound, payment.ErrNotFound, catalog.ErrNotFound, cart.ErrNotFound} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "not found"
}

// writeError renders err and logs it when it is not a client error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	switch {
	case ae.code >= http.StatusInternalServerError && ae.code != http.StatusServiceUnavailable:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
	case ae.code == http.StatusServiceUnavailable:
		zctx.From(r.Context()).Warn("Transient failure", zap.Error(err))
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	writeJSON(w, ae.code, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Int(ae.code) })
			e.Field("message", func(e *jx.Encoder) { e.Str(ae.message) })
			if ae.details != nil {
				e.Field("details", func(e *jx.Encoder) { e.Obj(ae.details) })
			}
		})
	})
}
