package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/order"
)

const (
	orderColumns = `id, user_id, order_number, total_amount, status, shipping_address, created_at, updated_at`

	// A taken number yields no row instead of a unique violation, which would
	// abort the surrounding transaction.
	createOrderSQL = `INSERT INTO orders (user_id, order_number, total_amount, status, shipping_address)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_number) DO NOTHING
		RETURNING id, created_at, updated_at`

	createOrderLineSQL = `INSERT INTO order_items (order_id, book_id, quantity, price, subtotal)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	getOrderForUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	getOrderForUpdateSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC`

	listOrderLinesSQL = `SELECT oi.id, oi.order_id, oi.book_id, oi.quantity, oi.price, oi.subtotal,
			b.id, b.title, b.author, b.price, COALESCE(b.cover_image, '')
		FROM order_items oi
		JOIN books b ON b.id = oi.book_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.book_id`

	setOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses db.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts the order row. It returns order.ErrDuplicateNumber when the
// order number is taken, leaving the transaction usable.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := r.db.QueryRow(ctx, createOrderSQL,
		o.UserID, o.Number, o.Total, string(o.Status), o.ShippingAddress,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return order.ErrDuplicateNumber
		}
		return fmt.Errorf("creating order %q: %w", o.Number, err)
	}
	return nil
}

// CreateLines inserts lines in one batch and fills their IDs.
func (r *OrderRepository) CreateLines(ctx context.Context, orderID int64, lines []order.Line) error {
	b := &pgx.Batch{}
	for i := range lines {
		l := &lines[i]
		l.OrderID = orderID
		b.Queue(createOrderLineSQL, orderID, l.BookID, l.Quantity, l.Price, l.Subtotal).
			QueryRow(func(row pgx.Row) error {
				return row.Scan(&l.ID)
			})
	}
	if err := r.db.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("creating lines of order %d: %w", orderID, err)
	}
	return nil
}

// GetForUser returns an order owned by userID.
func (r *OrderRepository) GetForUser(ctx context.Context, userID, id int64) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUserSQL, id, userID)
}

// GetForUpdate returns an order and locks its row.
func (r *OrderRepository) GetForUpdate(ctx context.Context, id int64) (*order.Order, error) {
	return r.getOne(ctx, getOrderForUpdateSQL, id)
}

func (r *OrderRepository) getOne(ctx context.Context, sql string, args ...any) (*order.Order, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("getting order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID int64, f order.ListFilter) ([]order.Order, error) {
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	rows, err := r.db.Query(ctx, listOrdersByUserSQL, userID, status)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %d: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// Lines returns the lines of the given orders keyed by order id, each with a
// summary of its book.
func (r *OrderRepository) Lines(ctx context.Context, orderIDs []int64) (map[int64][]order.Line, error) {
	rows, err := r.db.Query(ctx, listOrderLinesSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("listing order lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanOrderLine)
	if err != nil {
		return nil, fmt.Errorf("listing order lines: %w", err)
	}

	out := make(map[int64][]order.Line, len(orderIDs))
	for _, l := range lines {
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, nil
}

// SetStatus updates the order status.
func (r *OrderRepository) SetStatus(ctx context.Context, id int64, status order.Status) error {
	tag, err := r.db.Exec(ctx, setOrderStatusSQL, id, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Number, &o.Total, &status,
		&o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanOrderLine(row pgx.CollectableRow) (order.Line, error) {
	var (
		l order.Line
		b catalog.Book
	)
	err := row.Scan(
		&l.ID, &l.OrderID, &l.BookID, &l.Quantity, &l.Price, &l.Subtotal,
		&b.ID, &b.Title, &b.Author, &b.Price, &b.CoverImage,
	)
	l.Book = &b
	return l, err
}
