package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop-orders/internal/domain/auth"
	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

// --- Mock implementations ---

type mockBooks struct {
	books []catalog.Book
	err   error
}

func (m *mockBooks) List(context.Context) ([]catalog.Book, error) {
	return m.books, m.err
}

func (m *mockBooks) GetByID(_ context.Context, id int64) (*catalog.Book, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.books {
		if m.books[i].ID == id {
			return &m.books[i], nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (m *mockBooks) DecrementStock(context.Context, int64, int) (bool, error) {
	return false, errors.New("not used")
}

type mockCarts struct {
	lines []cart.Line
	err   error

	addedBook int64
	addedQty  int
	removedID int64
}

func (m *mockCarts) List(context.Context, int64) ([]cart.Line, error) {
	return m.lines, m.err
}

func (m *mockCarts) Add(_ context.Context, userID, bookID int64, quantity int) (*cart.Line, error) {
	m.addedBook, m.addedQty = bookID, quantity
	if m.err != nil {
		return nil, m.err
	}
	return &cart.Line{ID: 1, UserID: userID, BookID: bookID, Quantity: quantity, Book: testBook()}, nil
}

func (m *mockCarts) SetQuantity(_ context.Context, userID, id int64, quantity int) (*cart.Line, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &cart.Line{ID: id, UserID: userID, BookID: 1, Quantity: quantity, Book: testBook()}, nil
}

func (m *mockCarts) Remove(_ context.Context, _, id int64) error {
	m.removedID = id
	return m.err
}

type mockOrders struct {
	order *order.Order
	err   error

	lastRequest  checkout.Request
	lastCallback checkout.Callback
	lastFilter   order.ListFilter
	lastUserID   int64
}

func (m *mockOrders) Checkout(_ context.Context, req checkout.Request) (*order.Order, error) {
	m.lastRequest = req
	return m.order, m.err
}

func (m *mockOrders) ApplyPaymentCallback(_ context.Context, cb checkout.Callback) (*checkout.CallbackResult, error) {
	m.lastCallback = cb
	if m.err != nil {
		return nil, m.err
	}
	return &checkout.CallbackResult{Order: m.order, Payment: m.order.Payment}, nil
}

func (m *mockOrders) ListOrders(_ context.Context, userID int64, f order.ListFilter) ([]order.Order, error) {
	m.lastUserID, m.lastFilter = userID, f
	if m.err != nil {
		return nil, m.err
	}
	return []order.Order{*m.order}, nil
}

func (m *mockOrders) GetOrder(_ context.Context, userID, _ int64) (*order.Order, error) {
	m.lastUserID = userID
	return m.order, m.err
}

func (m *mockOrders) PaymentStatus(_ context.Context, userID, _ int64) (*order.Order, error) {
	m.lastUserID = userID
	return m.order, m.err
}

type mockAPIKeys struct {
	keys map[string]*auth.APIKeyInfo
	err  error
}

func (m *mockAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	k, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return k, nil
}

// --- Helpers ---

var testPepper = []byte("pepper")

const (
	shopperKey = "shopper-key"
	readerKey  = "reader-key"
)

func testBook() catalog.Book {
	return catalog.Book{
		ID: 1, Title: "Dune", Author: "Frank Herbert", ISBN: "9780441172719",
		Price: decimal.RequireFromString("12.5"), Stock: 4, Active: true,
	}
}

func testOrder() *order.Order {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := testBook()
	return &order.Order{
		ID: 7, UserID: 42, Number: "ORD-1-ABCDEF12",
		Total: decimal.RequireFromString("25"), Status: order.StatusPending,
		CreatedAt: now, UpdatedAt: now,
		Lines: []order.Line{{
			ID: 1, OrderID: 7, BookID: 1, Quantity: 2,
			Price: b.Price, Subtotal: decimal.RequireFromString("25"), Book: &b,
		}},
		Payment: &payment.Payment{
			ID: 3, OrderID: 7, Amount: decimal.RequireFromString("25"),
			Status: payment.StatusPending, CreatedAt: now, UpdatedAt: now,
		},
	}
}

type fixture struct {
	books  *mockBooks
	carts  *mockCarts
	orders *mockOrders
	server http.Handler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		books:  &mockBooks{books: []catalog.Book{testBook(), {ID: 2, Title: "Hidden", Price: decimal.NewFromInt(1)}}},
		carts:  &mockCarts{},
		orders: &mockOrders{order: testOrder()},
	}
	keys := &mockAPIKeys{keys: map[string]*auth.APIKeyInfo{
		auth.Hash(testPepper, shopperKey): {
			ID: "k1", KeyHash: auth.Hash(testPepper, shopperKey), UserID: 42, Scopes: []string{auth.ScopeShop},
		},
		auth.Hash(testPepper, readerKey): {
			ID: "k2", KeyHash: auth.Hash(testPepper, readerKey), UserID: 43,
		},
	}}

	mux := http.NewServeMux()
	NewHandler(cfg, f.books, f.carts, f.orders).Register(mux, NewSecurity(keys, testPepper).RequireAPIKey())
	f.server = mux
	return f
}

func (f *fixture) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(HeaderAPIKey, shopperKey)
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] == "" {
			req.Header.Del(headers[i])
			continue
		}
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

// --- Tests ---

func TestListBooks(t *testing.T) {
	f := newFixture(t, Config{})
	f.books.books = f.books.books[:1]

	w := f.do(http.MethodGet, "/api/books", "", HeaderAPIKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"price":12.50`)
	assert.Contains(t, w.Body.String(), `"title":"Dune"`)
}

func TestGetBook(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/books/1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/books/2", "").Code, "inactive")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/books/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/books/abc", "").Code)
}

func TestAuth(t *testing.T) {
	f := newFixture(t, Config{})

	tests := []struct {
		name string
		key  string
		code int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"unknown", "nope", http.StatusUnauthorized},
		{"no shop scope", readerKey, http.StatusForbidden},
		{"valid", shopperKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodGet, "/api/orders/7", "", HeaderAPIKey, tt.key)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, int64(42), f.orders.lastUserID)
}

func TestAuth_RepositoryError(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(Config{}, &mockBooks{}, &mockCarts{}, &mockOrders{}).
		Register(mux, NewSecurity(&mockAPIKeys{err: errors.New("db down")}, testPepper).RequireAPIKey())

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set(HeaderAPIKey, shopperKey)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCheckout(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/api/orders/checkout", `{"shippingAddress":"1 Main St","extra":[1,2]}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotNil(t, f.orders.lastRequest.ShippingAddress)
	assert.Equal(t, "1 Main St", *f.orders.lastRequest.ShippingAddress)
	assert.Equal(t, int64(42), f.orders.lastRequest.UserID)

	body := w.Body.String()
	assert.Contains(t, body, `"orderNumber":"ORD-1-ABCDEF12"`)
	assert.Contains(t, body, `"totalAmount":25.00`)
	assert.Contains(t, body, `"status":"pending"`)
	assert.Contains(t, body, `"createdAt":"2025-03-01T12:00:00Z"`)
}

func TestCheckout_EmptyBody(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodPost, "/api/orders/checkout", "")
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, f.orders.lastRequest.ShippingAddress)
}

func TestCheckout_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
		want string
	}{
		{
			name: "empty cart",
			err:  checkout.ErrEmptyCart,
			code: http.StatusBadRequest,
			want: `{"code":400,"message":"cart is empty"}`,
		},
		{
			name: "insufficient stock",
			err: errors.Wrap(&catalog.InsufficientStockError{
				BookID: 1, Title: "Dune", Available: 1, Requested: 2,
			}, "checkout"),
			code: http.StatusBadRequest,
			want: `{"code":400,"message":"insufficient stock for \"Dune\": available 1",
				"details":{"bookId":1,"title":"Dune","available":1,"requested":2}}`,
		},
		{
			name: "unavailable",
			err:  &catalog.UnavailableError{BookID: 1, Title: "Dune"},
			code: http.StatusBadRequest,
			want: `{"code":400,"message":"book \"Dune\" is no longer available","details":{"bookId":1,"title":"Dune"}}`,
		},
		{
			name: "transient",
			err:  errors.Wrap(checkout.ErrTransient, "lock timeout"),
			code: http.StatusServiceUnavailable,
			want: `{"code":503,"message":"temporarily unavailable, retry the request"}`,
		},
		{
			name: "internal",
			err:  errors.New("boom"),
			code: http.StatusInternalServerError,
			want: `{"code":500,"message":"internal error"}`,
		},
		{
			name: "malformed body",
			body: `{"shippingAddress":`,
			code: http.StatusBadRequest,
		},
		{
			name: "wrong type",
			body: `{"shippingAddress":5}`,
			code: http.StatusBadRequest,
			want: `{"code":400,"message":"shippingAddress must be a string"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.orders.err = tt.err

			w := f.do(http.MethodPost, "/api/orders/checkout", tt.body)
			assert.Equal(t, tt.code, w.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, w.Body.String())
			}
			if tt.code == http.StatusServiceUnavailable {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			}
		})
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/api/orders?status=processing", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, f.orders.lastFilter.Status)
	assert.Equal(t, order.StatusProcessing, *f.orders.lastFilter.Status)
	assert.True(t, strings.HasPrefix(w.Body.String(), `[{"id":7`))

	w = f.do(http.MethodGet, "/api/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.orders.lastFilter.Status)

	w = f.do(http.MethodGet, "/api/orders?status=shipped", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	f := newFixture(t, Config{})
	f.orders.err = order.ErrNotFound

	w := f.do(http.MethodGet, "/api/orders/7", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"code":404,"message":"order not found"}`, w.Body.String())
}

func TestPaymentCallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want checkout.Callback
	}{
		{
			name: "full",
			body: `{"orderId":7,"status":"success","paymentReference":"PAY-1","callbackData":{"a":1}}`,
			want: checkout.Callback{OrderID: 7, Status: "success", Reference: ptr("PAY-1"), CallbackData: ptr(`{"a":1}`)},
		},
		{
			name: "string data",
			body: `{"orderId":7,"status":"failed","callbackData":"declined"}`,
			want: checkout.Callback{OrderID: 7, Status: "failed", CallbackData: ptr("declined")},
		},
		{
			name: "nulls",
			body: `{"orderId":7,"status":"pending","paymentReference":null,"callbackData":null}`,
			want: checkout.Callback{OrderID: 7, Status: "pending"},
		},
		{
			name: "missing fields left for the service",
			body: `{}`,
			want: checkout.Callback{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})

			w := f.do(http.MethodPost, "/api/payments/callback", tt.body, HeaderAPIKey, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, tt.want, f.orders.lastCallback)
			assert.Contains(t, w.Body.String(), `"payment":{"id":3`)
		})
	}
}

func TestPaymentCallback_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
		want string
	}{
		{
			name: "orderId not a number",
			body: `{"orderId":"7","status":"success"}`,
			code: http.StatusBadRequest,
			want: `{"code":400,"message":"orderId: must be a positive integer","details":{"field":"orderId"}}`,
		},
		{
			name: "service validation",
			body: `{"orderId":7,"status":"paid"}`,
			err:  &payment.ValidationError{Field: "status", Message: "invalid"},
			code: http.StatusBadRequest,
			want: `{"code":400,"message":"status: invalid","details":{"field":"status"}}`,
		},
		{
			name: "unknown order",
			body: `{"orderId":999,"status":"success"}`,
			err:  order.ErrNotFound,
			code: http.StatusNotFound,
		},
		{
			name: "missing payment",
			body: `{"orderId":7,"status":"success"}`,
			err:  payment.ErrNotFound,
			code: http.StatusNotFound,
			want: `{"code":404,"message":"payment not found"}`,
		},
		{
			name: "stale transition",
			body: `{"orderId":7,"status":"pending"}`,
			err:  errors.Wrap(payment.ErrStaleTransition, "success -> pending"),
			code: http.StatusConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.orders.err = tt.err

			w := f.do(http.MethodPost, "/api/payments/callback", tt.body)
			assert.Equal(t, tt.code, w.Code)
			if tt.want != "" {
				assert.JSONEq(t, tt.want, w.Body.String())
			}
		})
	}
}

func TestPaymentCallback_Signature(t *testing.T) {
	secret := []byte("gateway-secret")
	body := `{"orderId":7,"status":"success"}`
	f := newFixture(t, Config{CallbackSecret: secret})

	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodPost, "/api/payments/callback", body).Code)
	assert.Equal(t, http.StatusUnauthorized,
		f.do(http.MethodPost, "/api/payments/callback", body, HeaderCallbackSignature, SignCallback(secret, []byte("{}"))).Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodPost, "/api/payments/callback", body, HeaderCallbackSignature, SignCallback(secret, []byte(body))).Code)
	assert.Equal(t, http.StatusOK,
		f.do(http.MethodPost, "/api/payments/callback", body, HeaderCallbackSignature, "sha256="+SignCallback(secret, []byte(body))).Code)
}

func TestPaymentStatus(t *testing.T) {
	f := newFixture(t, Config{})

	w := f.do(http.MethodGet, "/api/payments/status/7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), `{"orderId":7,"orderNumber":"ORD-1-ABCDEF12","orderStatus":"pending","payment":{`))
	assert.Equal(t, int64(42), f.orders.lastUserID)

	f.orders.err = order.ErrNotFound
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/payments/status/8", "").Code)
}

func TestCart(t *testing.T) {
	f := newFixture(t, Config{})
	f.carts.lines = []cart.Line{{ID: 1, UserID: 42, BookID: 1, Quantity: 2, Book: testBook()}}

	w := f.do(http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":25.00,"itemCount":2`)

	w = f.do(http.MethodPost, "/api/cart", `{"bookId":1}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(1), f.carts.addedBook)
	assert.Equal(t, 1, f.carts.addedQty, "quantity defaults to one")

	w = f.do(http.MethodPost, "/api/cart", `{"quantity":2}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/cart/1", `{"quantity":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"quantity":3`)

	w = f.do(http.MethodDelete, "/api/cart/5", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, int64(5), f.carts.removedID)
}

func TestCart_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid quantity", cart.ErrInvalidQuantity, http.StatusBadRequest},
		{"not found", cart.ErrNotFound, http.StatusNotFound},
		{"book not found", catalog.ErrNotFound, http.StatusNotFound},
		{"insufficient", &catalog.InsufficientStockError{BookID: 1, Title: "Dune", Available: 1, Requested: 5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.carts.err = tt.err
			assert.Equal(t, tt.code, f.do(http.MethodPut, "/api/cart/1", `{"quantity":5}`).Code)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	f := newFixture(t, Config{MaxBodyBytes: 16})

	w := f.do(http.MethodPost, "/api/orders/checkout", `{"shippingAddress":"a very long address"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func ptr[T any](v T) *T { return &v }
