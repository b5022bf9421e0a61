// Package handler exposes the bookshop over HTTP with JSON bodies encoded by jx.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/pkg/httpmiddleware"
)

// Orders is the order side of the shop, implemented by *checkout.Service.
type Orders interface {
	Checkout(ctx context.Context, req checkout.Request) (*order.Order, error)
	ApplyPaymentCallback(ctx context.Context, cb checkout.Callback) (*checkout.CallbackResult, error)
	ListOrders(ctx context.Context, userID int64, f order.ListFilter) ([]order.Order, error)
	GetOrder(ctx context.Context, userID, id int64) (*order.Order, error)
	PaymentStatus(ctx context.Context, userID, orderID int64) (*order.Order, error)
}

// Carts is implemented by *cart.Service.
type Carts interface {
	List(ctx context.Context, userID int64) ([]cart.Line, error)
	Add(ctx context.Context, userID, bookID int64, quantity int) (*cart.Line, error)
	SetQuantity(ctx context.Context, userID, id int64, quantity int) (*cart.Line, error)
	Remove(ctx context.Context, userID, id int64) error
}

var (
	_ Orders = (*checkout.Service)(nil)
	_ Carts  = (*cart.Service)(nil)
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// CallbackSecret enables X-Callback-Signature verification on payment
	// callbacks. Empty disables it.
	CallbackSecret []byte
	// MaxBodyBytes caps request bodies. Defaults to 64 KiB.
	MaxBodyBytes int64
}

// Handler serves the /api routes.
type Handler struct {
	books  catalog.Repository
	carts  Carts
	orders Orders

	callbackSecret []byte
	maxBodyBytes   int64
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, books catalog.Repository, carts Carts, orders Orders) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	return &Handler{
		books:          books,
		carts:          carts,
		orders:         orders,
		callbackSecret: cfg.CallbackSecret,
		maxBodyBytes:   cfg.MaxBodyBytes,
	}
}

// Register mounts the API on mux. Shopper routes are wrapped with auth;
// the catalog and the payment gateway callback are public.
func (h *Handler) Register(mux *http.ServeMux, auth httpmiddleware.Middleware) {
	private := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	mux.HandleFunc("GET /api/books", h.ListBooks)
	mux.HandleFunc("GET /api/books/{id}", h.GetBook)

	private("GET /api/cart", h.GetCart)
	private("POST /api/cart", h.AddToCart)
	private("PUT /api/cart/{id}", h.UpdateCartItem)
	private("DELETE /api/cart/{id}", h.RemoveCartItem)

	private("POST /api/orders/checkout", h.Checkout)
	private("GET /api/orders", h.ListOrders)
	private("GET /api/orders/{id}", h.GetOrder)

	mux.HandleFunc("POST /api/payments/callback", h.PaymentCallback)
	private("GET /api/payments/status/{orderId}", h.PaymentStatus)
}
