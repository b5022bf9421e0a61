package cart

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
)

// Service implements cart mutations with the same stock checks a shopper
// sees at checkout. The checks here are advisory; checkout re-validates.
type Service struct {
	lines Repository
	books catalog.Repository
}

// NewService creates a cart Service.
func NewService(lines Repository, books catalog.Repository) *Service {
	return &Service{lines: lines, books: books}
}

// List returns the user's cart lines.
func (s *Service) List(ctx context.Context, userID int64) ([]Line, error) {
	lines, err := s.lines.List(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	return lines, nil
}

// Add puts quantity copies of a book into the cart, merging with an existing
// line for the same book.
func (s *Service) Add(ctx context.Context, userID, bookID int64, quantity int) (*Line, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	book, err := s.activeBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	existing, err := s.lines.GetByBook(ctx, userID, bookID)
	switch {
	case errors.Is(err, ErrNotFound):
		if book.Stock < quantity {
			return nil, &catalog.InsufficientStockError{
				BookID: book.ID, Title: book.Title, Available: book.Stock, Requested: quantity,
			}
		}
		id, err := s.lines.Create(ctx, userID, bookID, quantity)
		if err != nil {
			return nil, errors.Wrap(err, "create cart line")
		}
		return &Line{ID: id, UserID: userID, BookID: bookID, Quantity: quantity, Book: *book}, nil
	case err != nil:
		return nil, errors.Wrap(err, "get cart line")
	}

	total := existing.Quantity + quantity
	if book.Stock < total {
		return nil, &catalog.InsufficientStockError{
			BookID: book.ID, Title: book.Title, Available: book.Stock, Requested: total,
		}
	}
	if err := s.lines.SetQuantity(ctx, userID, existing.ID, total); err != nil {
		return nil, errors.Wrap(err, "update cart line")
	}
	existing.Quantity = total
	existing.Book = *book
	return existing, nil
}

// SetQuantity replaces the quantity of one of the user's lines.
func (s *Service) SetQuantity(ctx context.Context, userID, id int64, quantity int) (*Line, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	line, err := s.lines.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if line.Book.Stock < quantity {
		return nil, &catalog.InsufficientStockError{
			BookID: line.BookID, Title: line.Book.Title, Available: line.Book.Stock, Requested: quantity,
		}
	}
	if err := s.lines.SetQuantity(ctx, userID, id, quantity); err != nil {
		return nil, errors.Wrap(err, "update cart line")
	}
	line.Quantity = quantity
	return line, nil
}

// Remove deletes one of the user's lines.
func (s *Service) Remove(ctx context.Context, userID, id int64) error {
	return s.lines.Delete(ctx, userID, id)
}

func (s *Service) activeBook(ctx context.Context, id int64) (*catalog.Book, error) {
	book, err := s.books.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrap(err, "get book")
	}
	if !book.Active {
		return nil, catalog.ErrNotFound
	}
	return book, nil
}
