package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the payment state reported by the external gateway.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

var (
	// ErrNotFound is returned when an order has no payment record.
	ErrNotFound = errors.New("payment not found")
	// ErrStaleTransition is returned in strict mode when a callback would move
	// a settled payment backwards.
	ErrStaleTransition = errors.New("payment status transition not allowed")
)

// ValidationError reports a malformed callback field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusSuccess, StatusFailed:
		return st, nil
	case "":
		return "", &ValidationError{Field: "status", Message: "required"}
	default:
		return "", &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("invalid value %q, valid: pending, success, failed", s),
		}
	}
}

// CheckTransition enforces monotonic progress: a successful payment is final
// and a failed one may only be retried into success.
func CheckTransition(from, to Status) error {
	if from == to {
		return nil
	}
	switch from {
	case StatusSuccess:
		return errors.Wrapf(ErrStaleTransition, "%s -> %s", from, to)
	case StatusFailed:
		if to == StatusPending {
			return errors.Wrapf(ErrStaleTransition, "%s -> %s", from, to)
		}
	}
	return nil
}

// Payment is the single payment record attached to an order.
type Payment struct {
	ID           int64
	OrderID      int64
	Method       *string
	Amount       decimal.Decimal
	Status       Status
	Reference    *string
	CallbackData *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Update carries a callback's changes. Nil pointers leave the stored value as is.
type Update struct {
	Status       Status
	Reference    *string
	CallbackData *string
}

// Repository persists payments.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByOrderID(ctx context.Context, orderID int64) (*Payment, error)
	// GetByOrderIDForUpdate is GetByOrderID with a row lock held until the
	// enclosing transaction ends.
	GetByOrderIDForUpdate(ctx context.Context, orderID int64) (*Payment, error)
	GetByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64]*Payment, error)
	Apply(ctx context.Context, id int64, u Update) (*Payment, error)
}
