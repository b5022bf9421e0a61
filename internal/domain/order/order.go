package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var (
	// ErrNotFound is returned when an order does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateNumber is returned by Repository.Create when the order
	// number is already taken.
	ErrDuplicateNumber = errors.New("order number already exists")
)

// ParseStatus validates an order status filter.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("invalid order status %q", s)
	}
}

// Order is an immutable purchase record. Total is fixed at creation.
type Order struct {
	ID              int64
	UserID          int64
	Number          string
	Total           decimal.Decimal
	Status          Status
	ShippingAddress *string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Lines   []Line
	Payment *payment.Payment
}

// Line is a price snapshot of one book at purchase time.
type Line struct {
	ID       int64
	OrderID  int64
	BookID   int64
	Quantity int
	Price    decimal.Decimal
	Subtotal decimal.Decimal

	// Book is a read-side summary of the referenced book; it may reflect
	// later catalog edits and is never used for pricing.
	Book *catalog.Book
}

// NewLine snapshots price and computes the subtotal.
func NewLine(bookID int64, quantity int, price decimal.Decimal) Line {
	return Line{
		BookID:   bookID,
		Quantity: quantity,
		Price:    price,
		Subtotal: price.Mul(decimal.NewFromInt(int64(quantity))).Round(2),
	}
}

// SumLines returns the order total for lines, rounded half-up to cents.
func SumLines(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal)
	}
	return sum.Round(2)
}

// ListFilter narrows ListByUser.
type ListFilter struct {
	Status *Status
}

// Repository persists orders and their lines.
type Repository interface {
	// Create inserts the order row and fills ID and timestamps. It returns
	// ErrDuplicateNumber without aborting the transaction when the number
	// collides.
	Create(ctx context.Context, o *Order) error
	CreateLines(ctx context.Context, orderID int64, lines []Line) error
	GetForUser(ctx context.Context, userID, id int64) (*Order, error)
	// GetForUpdate loads an order by id and locks the row.
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	ListByUser(ctx context.Context, userID int64, f ListFilter) ([]Order, error)
	Lines(ctx context.Context, orderIDs []int64) (map[int64][]Line, error)
	SetStatus(ctx context.Context, id int64, status Status) error
}
