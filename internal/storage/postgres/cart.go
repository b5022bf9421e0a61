package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
)

const (
	cartLineSelect = `SELECT c.id, c.user_id, c.book_id, c.quantity,
			b.id, b.title, b.author, COALESCE(b.isbn, ''), b.price, b.stock, b.active, COALESCE(b.cover_image, '')
		FROM cart_items c
		JOIN books b ON b.id = c.book_id`

	listCartSQL = cartLineSelect + ` WHERE c.user_id = $1 ORDER BY c.book_id`

	// Cart rows are locked so two checkouts by the same user serialize; the
	// second one sees an empty cart.
	listCartForCheckoutSQL = listCartSQL + ` FOR UPDATE OF c`

	getCartLineSQL = cartLineSelect + ` WHERE c.user_id = $1 AND c.id = $2`

	getCartLineByBookSQL = cartLineSelect + ` WHERE c.user_id = $1 AND c.book_id = $2`

	createCartLineSQL = `INSERT INTO cart_items (user_id, book_id, quantity) VALUES ($1, $2, $3) RETURNING id`

	setCartQuantitySQL = `UPDATE cart_items SET quantity = $3, updated_at = now() WHERE user_id = $1 AND id = $2`

	deleteCartLineSQL = `DELETE FROM cart_items WHERE user_id = $1 AND id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db DBTX
}

// NewCartRepository returns a CartRepository that uses db.
func NewCartRepository(db DBTX) *CartRepository {
	return &CartRepository{db: db}
}

// ListForCheckout returns the user's lines ordered by book id and locks them.
func (r *CartRepository) ListForCheckout(ctx context.Context, userID int64) ([]cart.Line, error) {
	rows, err := r.db.Query(ctx, listCartForCheckoutSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("locking cart of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// List returns the user's lines ordered by book id.
func (r *CartRepository) List(ctx context.Context, userID int64) ([]cart.Line, error) {
	rows, err := r.db.Query(ctx, listCartSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanCartLine)
}

// Get returns one of the user's lines.
func (r *CartRepository) Get(ctx context.Context, userID, id int64) (*cart.Line, error) {
	return r.getOne(ctx, getCartLineSQL, userID, id)
}

// GetByBook returns the user's line for a book.
func (r *CartRepository) GetByBook(ctx context.Context, userID, bookID int64) (*cart.Line, error) {
	return r.getOne(ctx, getCartLineByBookSQL, userID, bookID)
}

func (r *CartRepository) getOne(ctx context.Context, sql string, userID, key int64) (*cart.Line, error) {
	rows, err := r.db.Query(ctx, sql, userID, key)
	if err != nil {
		return nil, fmt.Errorf("getting cart line %d: %w", key, err)
	}
	l, err := pgx.CollectExactlyOneRow(rows, scanCartLine)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cart.ErrNotFound
		}
		return nil, fmt.Errorf("getting cart line %d: %w", key, err)
	}
	return &l, nil
}

// Create inserts a new line and returns its id.
func (r *CartRepository) Create(ctx context.Context, userID, bookID int64, quantity int) (int64, error) {
	var id int64
	if err := r.db.QueryRow(ctx, createCartLineSQL, userID, bookID, quantity).Scan(&id); err != nil {
		return 0, fmt.Errorf("creating cart line: %w", err)
	}
	return id, nil
}

// SetQuantity replaces the quantity of a line.
func (r *CartRepository) SetQuantity(ctx context.Context, userID, id int64, quantity int) error {
	tag, err := r.db.Exec(ctx, setCartQuantitySQL, userID, id, quantity)
	if err != nil {
		return fmt.Errorf("updating cart line %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// Delete removes a line.
func (r *CartRepository) Delete(ctx context.Context, userID, id int64) error {
	tag, err := r.db.Exec(ctx, deleteCartLineSQL, userID, id)
	if err != nil {
		return fmt.Errorf("deleting cart line %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrNotFound
	}
	return nil
}

// Clear removes every line of the user.
func (r *CartRepository) Clear(ctx context.Context, userID int64) error {
	if _, err := r.db.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of user %d: %w", userID, err)
	}
	return nil
}

func scanCartLine(row pgx.CollectableRow) (cart.Line, error) {
	var l cart.Line
	err := row.Scan(
		&l.ID, &l.UserID, &l.BookID, &l.Quantity,
		&l.Book.ID, &l.Book.Title, &l.Book.Author, &l.Book.ISBN,
		&l.Book.Price, &l.Book.Stock, &l.Book.Active, &l.Book.CoverImage,
	)
	return l, err
}
