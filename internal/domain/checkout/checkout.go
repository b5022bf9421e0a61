// Package checkout turns carts into orders and applies payment gateway
// callbacks. Every operation runs inside a single UnitOfWork transaction.
package checkout

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

var (
	// ErrEmptyCart is returned when checkout is attempted with no cart lines.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrTransient marks failures caused by lock contention, serialization
	// conflicts or timeouts. The whole operation is safe to retry.
	ErrTransient = errors.New("transient storage failure")
)

// Repos is the set of repositories bound to one transaction.
type Repos struct {
	Books    catalog.Repository
	Carts    cart.Repository
	Orders   order.Repository
	Payments payment.Repository
	// Events is nil when event publishing is disabled.
	Events EventRecorder
}

// UnitOfWork runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
}

// EventRecorder stores domain events in the same transaction as the state
// change they describe.
type EventRecorder interface {
	Record(ctx context.Context, e Event) error
}

// Request is the checkout input.
type Request struct {
	UserID          int64
	ShippingAddress *string
	PaymentMethod   *string
}

// Callback is a payment gateway notification.
type Callback struct {
	OrderID      int64
	Status       string
	Reference    *string
	CallbackData *string
}

// CallbackResult is the state after a callback has been applied.
type CallbackResult struct {
	Order   *order.Order
	Payment *payment.Payment
}
