package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
)

var (
	// ErrNotFound is returned when a cart line does not belong to the user.
	ErrNotFound = errors.New("cart item not found")
	// ErrInvalidQuantity is returned for quantities below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

// Line is one book in a user's cart, joined with the current book record.
type Line struct {
	ID       int64
	UserID   int64
	BookID   int64
	Quantity int
	Book     catalog.Book
}

// Subtotal is the current price of the line. It is informational only;
// checkout snapshots prices on its own.
func (l Line) Subtotal() decimal.Decimal {
	return l.Book.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total sums the subtotals of lines rounded to currency precision.
func Total(lines []Line) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum.Round(2)
}

// Repository persists cart lines.
type Repository interface {
	// ListForCheckout returns the user's lines ordered by book id and locks
	// them for the rest of the enclosing transaction.
	ListForCheckout(ctx context.Context, userID int64) ([]Line, error)
	List(ctx context.Context, userID int64) ([]Line, error)
	Get(ctx context.Context, userID, id int64) (*Line, error)
	GetByBook(ctx context.Context, userID, bookID int64) (*Line, error)
	Create(ctx context.Context, userID, bookID int64, quantity int) (int64, error)
	SetQuantity(ctx context.Context, userID, id int64, quantity int) error
	Delete(ctx context.Context, userID, id int64) error
	Clear(ctx context.Context, userID int64) error
}
