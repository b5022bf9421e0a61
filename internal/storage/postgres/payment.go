package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

const (
	paymentColumns = `id, order_id, payment_method, amount, status, payment_reference, callback_data, created_at, updated_at`

	createPaymentSQL = `INSERT INTO payments (order_id, payment_method, amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	// The schema allows several payments per order; the earliest one is
	// the order's payment.
	getPaymentByOrderSQL = `SELECT ` + paymentColumns + ` FROM payments
		WHERE order_id = $1 ORDER BY id LIMIT 1`

	getPaymentByOrderForUpdateSQL = getPaymentByOrderSQL + ` FOR UPDATE`

	listPaymentsByOrdersSQL = `SELECT DISTINCT ON (order_id) ` + paymentColumns + ` FROM payments
		WHERE order_id = ANY($1) ORDER BY order_id, id`

	applyPaymentSQL = `UPDATE payments SET
			status = $2,
			payment_reference = COALESCE($3, payment_reference),
			callback_data = COALESCE($4, callback_data),
			updated_at = now()
		WHERE id = $1
		RETURNING ` + paymentColumns
)

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository implements payment.Repository backed by PostgreSQL.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository returns a PaymentRepository that uses db.
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment and fills its ID and timestamps.
func (r *PaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	err := r.db.QueryRow(ctx, createPaymentSQL, p.OrderID, p.Method, p.Amount, string(p.Status)).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("creating payment for order %d: %w", p.OrderID, err)
	}
	return nil
}

// GetByOrderID returns the payment of an order.
func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID int64) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByOrderSQL, orderID)
}

// GetByOrderIDForUpdate returns the payment of an order and locks its row.
func (r *PaymentRepository) GetByOrderIDForUpdate(ctx context.Context, orderID int64) (*payment.Payment, error) {
	return r.getOne(ctx, getPaymentByOrderForUpdateSQL, orderID)
}

func (r *PaymentRepository) getOne(ctx context.Context, sql string, orderID int64) (*payment.Payment, error) {
	rows, err := r.db.Query(ctx, sql, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting payment of order %d: %w", orderID, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("getting payment of order %d: %w", orderID, err)
	}
	return &p, nil
}

// GetByOrderIDs returns payments keyed by order id. Orders without a payment
// are absent from the map.
func (r *PaymentRepository) GetByOrderIDs(ctx context.Context, orderIDs []int64) (map[int64]*payment.Payment, error) {
	rows, err := r.db.Query(ctx, listPaymentsByOrdersSQL, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	list, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	out := make(map[int64]*payment.Payment, len(list))
	for i := range list {
		out[list[i].OrderID] = &list[i]
	}
	return out, nil
}

// Apply sets the status and, when provided, the reference and callback data.
func (r *PaymentRepository) Apply(ctx context.Context, id int64, u payment.Update) (*payment.Payment, error) {
	rows, err := r.db.Query(ctx, applyPaymentSQL, id, string(u.Status), u.Reference, u.CallbackData)
	if err != nil {
		return nil, fmt.Errorf("updating payment %d: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanPayment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payment.ErrNotFound
		}
		return nil, fmt.Errorf("updating payment %d: %w", id, err)
	}
	return &p, nil
}

func scanPayment(row pgx.CollectableRow) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Method, &p.Amount, &status,
		&p.Reference, &p.CallbackData, &p.CreatedAt, &p.UpdatedAt,
	)
	p.Status = payment.Status(status)
	return p, err
}
