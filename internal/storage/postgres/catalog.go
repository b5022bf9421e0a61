package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
)

const (
	bookColumns = `id, title, author, COALESCE(isbn, ''), price, stock, active, COALESCE(cover_image, '')`

	listBooksSQL = `SELECT ` + bookColumns + ` FROM books WHERE active ORDER BY id`

	getBookByIDSQL = `SELECT ` + bookColumns + ` FROM books WHERE id = $1`

	decrementStockSQL = `UPDATE books SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2 AND active`

	upsertBookSQL = `INSERT INTO books (title, author, isbn, price, stock, cover_image)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''))
		ON CONFLICT (isbn) DO UPDATE SET
			title = EXCLUDED.title,
			author = EXCLUDED.author,
			price = EXCLUDED.price,
			stock = EXCLUDED.stock,
			cover_image = COALESCE(EXCLUDED.cover_image, books.cover_image),
			updated_at = now()`
)

var _ catalog.Repository = (*BookRepository)(nil)

// BookRepository implements catalog.Repository backed by PostgreSQL.
type BookRepository struct {
	db DBTX
}

// NewBookRepository returns a BookRepository that uses db.
func NewBookRepository(db DBTX) *BookRepository {
	return &BookRepository{db: db}
}

// List returns all active books ordered by ID.
func (r *BookRepository) List(ctx context.Context) ([]catalog.Book, error) {
	rows, err := r.db.Query(ctx, listBooksSQL)
	if err != nil {
		return nil, fmt.Errorf("listing books: %w", err)
	}
	return pgx.CollectRows(rows, scanBook)
}

// GetByID returns a book regardless of its active flag.
func (r *BookRepository) GetByID(ctx context.Context, id int64) (*catalog.Book, error) {
	rows, err := r.db.Query(ctx, getBookByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting book %d: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBook)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting book %d: %w", id, err)
	}
	return &b, nil
}

// DecrementStock performs the conditional decrement. Zero affected rows means
// the book is inactive or has less than quantity left.
func (r *BookRepository) DecrementStock(ctx context.Context, id int64, quantity int) (bool, error) {
	tag, err := r.db.Exec(ctx, decrementStockSQL, id, quantity)
	if err != nil {
		return false, fmt.Errorf("decrementing stock of book %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert inserts books or refreshes them by ISBN in one batch. It returns the
// number of rows written.
func (r *BookRepository) Upsert(ctx context.Context, books []catalog.Book) (int64, error) {
	if len(books) == 0 {
		return 0, nil
	}
	b := &pgx.Batch{}
	var written int64
	for _, book := range books {
		b.Queue(upsertBookSQL,
			book.Title, book.Author, book.ISBN, book.Price, book.Stock, book.CoverImage,
		).Exec(func(tag pgconn.CommandTag) error {
			written += tag.RowsAffected()
			return nil
		})
	}
	if err := r.db.SendBatch(ctx, b).Close(); err != nil {
		return written, fmt.Errorf("upserting books: %w", err)
	}
	return written, nil
}

func scanBook(row pgx.CollectableRow) (catalog.Book, error) {
	var b catalog.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &b.Price, &b.Stock, &b.Active, &b.CoverImage)
	return b, err
}
