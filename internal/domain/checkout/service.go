package checkout

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

const instrumentationName = "github.com/xenking/bookshop-orders/internal/domain/checkout"

// Options tune the Service.
type Options struct {
	// OrderNumberAttempts bounds order number regeneration on collision.
	OrderNumberAttempts int
	// StrictTransitions rejects callbacks that move a settled payment
	// backwards. When false callbacks are applied as delivered.
	StrictTransitions bool

	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Now            func() time.Time
}

func (o *Options) setDefaults() {
	if o.OrderNumberAttempts <= 0 {
		o.OrderNumberAttempts = 5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Service orchestrates checkout and payment callbacks.
type Service struct {
	uow     UnitOfWork
	numbers OrderNumbers
	opts    Options

	tracer    trace.Tracer
	checkouts metric.Int64Counter
	callbacks metric.Int64Counter
}

// OrderNumbers generates candidate order numbers.
type OrderNumbers interface {
	Next() string
}

// NewService creates a checkout Service.
func NewService(uow UnitOfWork, numbers OrderNumbers, opts Options) (*Service, error) {
	opts.setDefaults()
	if opts.TracerProvider == nil || opts.MeterProvider == nil {
		return nil, errors.New("tracer and meter providers are required")
	}
	meter := opts.MeterProvider.Meter(instrumentationName)

	checkouts, err := meter.Int64Counter("bookshop.checkout.count",
		metric.WithDescription("Checkout attempts by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "checkout counter")
	}
	callbacks, err := meter.Int64Counter("bookshop.payment.callback.count",
		metric.WithDescription("Payment callbacks by incoming status and result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "callback counter")
	}

	return &Service{
		uow:       uow,
		numbers:   numbers,
		opts:      opts,
		tracer:    opts.TracerProvider.Tracer(instrumentationName),
		checkouts: checkouts,
		callbacks: callbacks,
	}, nil
}

// Checkout converts the user's cart into an order with a pending payment.
// Either every row change commits or none does.
func (s *Service) Checkout(ctx context.Context, req Request) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "Checkout",
		trace.WithAttributes(attribute.Int64("user.id", req.UserID)),
	)
	defer func() {
		s.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultLabel(rerr))))
		endSpan(span, rerr)
	}()

	var placed *order.Order
	if err := s.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		o, err := s.placeOrder(ctx, r, req)
		if err != nil {
			return err
		}
		placed = o
		return nil
	}); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("order.id", placed.ID),
		attribute.String("order.number", placed.Number),
	)
	zctx.From(ctx).Info("Order placed",
		zap.Int64("user_id", req.UserID),
		zap.Int64("order_id", placed.ID),
		zap.String("order_number", placed.Number),
		zap.String("total", placed.Total.StringFixed(2)),
		zap.Int("lines", len(placed.Lines)),
	)
	return placed, nil
}

func (s *Service) placeOrder(ctx context.Context, r Repos, req Request) (*order.Order, error) {
	items, err := r.Carts.ListForCheckout(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list cart")
	}
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	// Rows are locked and decremented in book id order so concurrent
	// checkouts over overlapping books cannot deadlock.
	slices.SortFunc(items, func(a, b cart.Line) int { return cmp.Compare(a.BookID, b.BookID) })

	lines := make([]order.Line, len(items))
	for i, item := range items {
		if !item.Book.Active {
			return nil, &catalog.UnavailableError{BookID: item.BookID, Title: item.Book.Title}
		}
		if item.Book.Stock < item.Quantity {
			return nil, &catalog.InsufficientStockError{
				BookID:    item.BookID,
				Title:     item.Book.Title,
				Available: item.Book.Stock,
				Requested: item.Quantity,
			}
		}
		lines[i] = order.NewLine(item.BookID, item.Quantity, item.Book.Price)
		book := item.Book
		lines[i].Book = &book
	}

	o := &order.Order{
		UserID:          req.UserID,
		Total:           order.SumLines(lines),
		Status:          order.StatusPending,
		ShippingAddress: req.ShippingAddress,
	}
	if err := s.createOrder(ctx, r.Orders, o); err != nil {
		return nil, err
	}
	if err := r.Orders.CreateLines(ctx, o.ID, lines); err != nil {
		return nil, errors.Wrap(err, "create order lines")
	}
	o.Lines = lines

	for _, l := range lines {
		if err := decrementStock(ctx, r.Books, l.BookID, l.Quantity); err != nil {
			return nil, err
		}
	}

	p := &payment.Payment{
		OrderID: o.ID,
		Method:  req.PaymentMethod,
		Amount:  o.Total,
		Status:  payment.StatusPending,
	}
	if err := r.Payments.Create(ctx, p); err != nil {
		return nil, errors.Wrap(err, "create payment")
	}
	o.Payment = p

	if r.Events != nil {
		if err := r.Events.Record(ctx, orderCreatedEvent(o, s.opts.Now())); err != nil {
			return nil, errors.Wrap(err, "record order event")
		}
	}

	if err := r.Carts.Clear(ctx, req.UserID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return o, nil
}

func (s *Service) createOrder(ctx context.Context, orders order.Repository, o *order.Order) error {
	for attempt := 1; attempt <= s.opts.OrderNumberAttempts; attempt++ {
		o.Number = s.numbers.Next()
		err := orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, order.ErrDuplicateNumber) {
			return errors.Wrap(err, "create order")
		}
		zctx.From(ctx).Warn("Order number collision",
			zap.String("order_number", o.Number),
			zap.Int("attempt", attempt),
		)
	}
	return errors.Wrapf(ErrTransient, "order number collided %d times", s.opts.OrderNumberAttempts)
}

// decrementStock applies the conditional decrement. A rejected decrement is
// resolved into the business error the caller can act on.
func decrementStock(ctx context.Context, books catalog.Repository, bookID int64, quantity int) error {
	ok, err := books.DecrementStock(ctx, bookID, quantity)
	if err != nil {
		return errors.Wrap(err, "decrement stock")
	}
	if ok {
		return nil
	}
	book, err := books.GetByID(ctx, bookID)
	if err != nil {
		return errors.Wrap(err, "reload book")
	}
	if !book.Active {
		return &catalog.UnavailableError{BookID: book.ID, Title: book.Title}
	}
	return &catalog.InsufficientStockError{
		BookID:    book.ID,
		Title:     book.Title,
		Available: book.Stock,
		Requested: quantity,
	}
}

// ApplyPaymentCallback records a gateway status update on the payment and
// moves the order accordingly. Stock is never restored on failure.
func (s *Service) ApplyPaymentCallback(ctx context.Context, cb Callback) (_ *CallbackResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "ApplyPaymentCallback",
		trace.WithAttributes(
			attribute.Int64("order.id", cb.OrderID),
			attribute.String("payment.status", cb.Status),
		),
	)
	defer func() {
		s.callbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", cb.Status),
			attribute.String("result", resultLabel(rerr)),
		))
		endSpan(span, rerr)
	}()

	if cb.OrderID <= 0 {
		return nil, &payment.ValidationError{Field: "orderId", Message: "required"}
	}
	status, err := payment.ParseStatus(cb.Status)
	if err != nil {
		return nil, err
	}

	var (
		res      CallbackResult
		previous payment.Status
	)
	if err := s.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		o, err := r.Orders.GetForUpdate(ctx, cb.OrderID)
		if err != nil {
			return err
		}
		p, err := r.Payments.GetByOrderIDForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		previous = p.Status

		if s.opts.StrictTransitions {
			if err := payment.CheckTransition(p.Status, status); err != nil {
				return err
			}
		}

		p, err = r.Payments.Apply(ctx, p.ID, payment.Update{
			Status:       status,
			Reference:    cb.Reference,
			CallbackData: cb.CallbackData,
		})
		if err != nil {
			return errors.Wrap(err, "update payment")
		}

		if next := orderStatusFor(status); o.Status != next {
			if err := r.Orders.SetStatus(ctx, o.ID, next); err != nil {
				return errors.Wrap(err, "update order status")
			}
			o.Status = next
		}

		if r.Events != nil {
			if err := r.Events.Record(ctx, paymentUpdatedEvent(o, p, previous, s.opts.Now())); err != nil {
				return errors.Wrap(err, "record payment event")
			}
		}

		res = CallbackResult{Order: o, Payment: p}
		return nil
	}); err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Payment callback applied",
		zap.Int64("order_id", res.Order.ID),
		zap.String("previous_status", string(previous)),
		zap.String("payment_status", string(res.Payment.Status)),
		zap.String("order_status", string(res.Order.Status)),
	)
	return &res, nil
}

func orderStatusFor(s payment.Status) order.Status {
	if s == payment.StatusSuccess {
		return order.StatusProcessing
	}
	return order.StatusPending
}

// ListOrders returns the user's orders, newest first, with lines and payment.
func (s *Service) ListOrders(ctx context.Context, userID int64, f order.ListFilter) ([]order.Order, error) {
	var orders []order.Order
	if err := s.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		list, err := r.Orders.ListByUser(ctx, userID, f)
		if err != nil {
			return errors.Wrap(err, "list orders")
		}
		if err := attachDetails(ctx, r, list); err != nil {
			return err
		}
		orders = list
		return nil
	}); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder returns one of the user's orders with lines and payment.
func (s *Service) GetOrder(ctx context.Context, userID, id int64) (*order.Order, error) {
	var o *order.Order
	if err := s.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		found, err := r.Orders.GetForUser(ctx, userID, id)
		if err != nil {
			return err
		}
		list := []order.Order{*found}
		if err := attachDetails(ctx, r, list); err != nil {
			return err
		}
		o = &list[0]
		return nil
	}); err != nil {
		return nil, err
	}
	return o, nil
}

// PaymentStatus returns the payment of one of the user's orders. The order
// is returned without lines.
func (s *Service) PaymentStatus(ctx context.Context, userID, orderID int64) (*order.Order, error) {
	var o *order.Order
	if err := s.uow.Do(ctx, func(ctx context.Context, r Repos) error {
		found, err := r.Orders.GetForUser(ctx, userID, orderID)
		if err != nil {
			return err
		}
		p, err := r.Payments.GetByOrderID(ctx, found.ID)
		if err != nil {
			return err
		}
		found.Payment = p
		o = found
		return nil
	}); err != nil {
		return nil, err
	}
	return o, nil
}

func attachDetails(ctx context.Context, r Repos, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}
	lines, err := r.Orders.Lines(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "load order lines")
	}
	payments, err := r.Payments.GetByOrderIDs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "load payments")
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
		orders[i].Payment = payments[orders[i].ID]
	}
	return nil
}

func resultLabel(err error) string {
	var (
		stockErr       *catalog.InsufficientStockError
		unavailableErr *catalog.UnavailableError
		validationErr  *payment.ValidationError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &unavailableErr):
		return "unavailable"
	case errors.As(err, &validationErr):
		return "invalid"
	case errors.Is(err, order.ErrNotFound), errors.Is(err, payment.ErrNotFound):
		return "not_found"
	case errors.Is(err, payment.ErrStaleTransition):
		return "stale"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
	}
	span.End()
}
