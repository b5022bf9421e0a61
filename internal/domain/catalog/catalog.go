package catalog

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested book does not exist or is inactive.
var ErrNotFound = errors.New("book not found")

// Book is a catalog entry available for purchase.
type Book struct {
	ID         int64
	Title      string
	Author     string
	ISBN       string
	Price      decimal.Decimal
	Stock      int
	Active     bool
	CoverImage string
}

// InsufficientStockError reports that a book cannot cover the requested quantity.
type InsufficientStockError struct {
	BookID    int64
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: available %d", e.Title, e.Available)
}

// UnavailableError reports that a book has been deactivated.
type UnavailableError struct {
	BookID int64
	Title  string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("book %q is no longer available", e.Title)
}

// Repository defines catalog reads and the conditional stock decrement.
type Repository interface {
	List(ctx context.Context) ([]Book, error)
	GetByID(ctx context.Context, id int64) (*Book, error)
	// DecrementStock subtracts quantity from the stock of an active book.
	// It reports false when the book has less than quantity in stock or is
	// inactive; no row is changed in that case.
	DecrementStock(ctx context.Context, id int64, quantity int) (bool, error)
}
