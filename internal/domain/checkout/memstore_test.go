package checkout

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

// memState is the whole store; memStore swaps it back on rollback.
type memState struct {
	books    map[int64]catalog.Book
	cart     map[int64]cart.Line
	orders   map[int64]order.Order
	lines    map[int64][]order.Line
	payments map[int64]payment.Payment
	events   []Event
	nextID   int64
}

func (s *memState) clone() memState {
	lines := make(map[int64][]order.Line, len(s.lines))
	for k, v := range s.lines {
		lines[k] = slices.Clone(v)
	}
	return memState{
		books:    maps.Clone(s.books),
		cart:     maps.Clone(s.cart),
		orders:   maps.Clone(s.orders),
		lines:    lines,
		payments: maps.Clone(s.payments),
		events:   slices.Clone(s.events),
		nextID:   s.nextID,
	}
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore is an in-memory UnitOfWork. Transactions are fully serialized.
type memStore struct {
	mu sync.Mutex
	st memState

	withEvents bool
	// duplicates makes the next N order inserts report a number collision.
	duplicates int
	// failPayment is returned from Payments.Create when set.
	failPayment error
	// beforeDecrement runs once before the first stock decrement.
	beforeDecrement func(st *memState)
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		books:    map[int64]catalog.Book{},
		cart:     map[int64]cart.Line{},
		orders:   map[int64]order.Order{},
		lines:    map[int64][]order.Line{},
		payments: map[int64]payment.Payment{},
		nextID:   1000,
	}}
}

func (m *memStore) Do(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	r := Repos{
		Books:    memBooks{m},
		Carts:    memCarts{m},
		Orders:   memOrders{m},
		Payments: memPayments{m},
	}
	if m.withEvents {
		r.Events = memEvents{m}
	}
	if err := fn(ctx, r); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// Test helpers; they take the lock like a separate transaction would.

func (m *memStore) addBook(b catalog.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.books[b.ID] = b
}

func (m *memStore) addToCart(userID, bookID int64, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.st.id()
	m.st.cart[id] = cart.Line{ID: id, UserID: userID, BookID: bookID, Quantity: qty}
}

func (m *memStore) book(id int64) catalog.Book {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.books[id]
}

func (m *memStore) cartSize(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.st.cart {
		if l.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) counts() (orders, lines, payments int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ls := range m.st.lines {
		lines += len(ls)
	}
	return len(m.st.orders), lines, len(m.st.payments)
}

func (m *memStore) storedPayment(orderID int64) (payment.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.st.payments[orderID]
	return p, ok
}

func (m *memStore) storedOrder(id int64) order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.orders[id]
}

func (m *memStore) recorded() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.st.events)
}

type memBooks struct{ m *memStore }

func (r memBooks) List(context.Context) ([]catalog.Book, error) {
	return slices.Collect(maps.Values(r.m.st.books)), nil
}

func (r memBooks) GetByID(_ context.Context, id int64) (*catalog.Book, error) {
	b, ok := r.m.st.books[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &b, nil
}

func (r memBooks) DecrementStock(_ context.Context, id int64, quantity int) (bool, error) {
	if hook := r.m.beforeDecrement; hook != nil {
		r.m.beforeDecrement = nil
		hook(&r.m.st)
	}
	b, ok := r.m.st.books[id]
	if !ok || !b.Active || b.Stock < quantity {
		return false, nil
	}
	b.Stock -= quantity
	r.m.st.books[id] = b
	return true, nil
}

type memCarts struct{ m *memStore }

func (r memCarts) ListForCheckout(ctx context.Context, userID int64) ([]cart.Line, error) {
	return r.List(ctx, userID)
}

func (r memCarts) List(_ context.Context, userID int64) ([]cart.Line, error) {
	var out []cart.Line
	for _, l := range r.m.st.cart {
		if l.UserID != userID {
			continue
		}
		l.Book = r.m.st.books[l.BookID]
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b cart.Line) int { return cmp.Compare(a.BookID, b.BookID) })
	return out, nil
}

func (r memCarts) Get(_ context.Context, userID, id int64) (*cart.Line, error) {
	l, ok := r.m.st.cart[id]
	if !ok || l.UserID != userID {
		return nil, cart.ErrNotFound
	}
	l.Book = r.m.st.books[l.BookID]
	return &l, nil
}

func (r memCarts) GetByBook(_ context.Context, userID, bookID int64) (*cart.Line, error) {
	for _, l := range r.m.st.cart {
		if l.UserID == userID && l.BookID == bookID {
			l.Book = r.m.st.books[l.BookID]
			return &l, nil
		}
	}
	return nil, cart.ErrNotFound
}

func (r memCarts) Create(_ context.Context, userID, bookID int64, quantity int) (int64, error) {
	id := r.m.st.id()
	r.m.st.cart[id] = cart.Line{ID: id, UserID: userID, BookID: bookID, Quantity: quantity}
	return id, nil
}

func (r memCarts) SetQuantity(_ context.Context, userID, id int64, quantity int) error {
	l, ok := r.m.st.cart[id]
	if !ok || l.UserID != userID {
		return cart.ErrNotFound
	}
	l.Quantity = quantity
	r.m.st.cart[id] = l
	return nil
}

func (r memCarts) Delete(_ context.Context, userID, id int64) error {
	l, ok := r.m.st.cart[id]
	if !ok || l.UserID != userID {
		return cart.ErrNotFound
	}
	delete(r.m.st.cart, id)
	return nil
}

func (r memCarts) Clear(_ context.Context, userID int64) error {
	maps.DeleteFunc(r.m.st.cart, func(_ int64, l cart.Line) bool { return l.UserID == userID })
	return nil
}

type memOrders struct{ m *memStore }

func (r memOrders) Create(_ context.Context, o *order.Order) error {
	if r.m.duplicates > 0 {
		r.m.duplicates--
		return order.ErrDuplicateNumber
	}
	for _, existing := range r.m.st.orders {
		if existing.Number == o.Number {
			return order.ErrDuplicateNumber
		}
	}
	o.ID = r.m.st.id()
	stored := *o
	stored.Lines, stored.Payment = nil, nil
	r.m.st.orders[o.ID] = stored
	return nil
}

func (r memOrders) CreateLines(_ context.Context, orderID int64, lines []order.Line) error {
	for i := range lines {
		lines[i].ID = r.m.st.id()
		lines[i].OrderID = orderID
	}
	r.m.st.lines[orderID] = append(r.m.st.lines[orderID], lines...)
	return nil
}

func (r memOrders) GetForUser(_ context.Context, userID, id int64) (*order.Order, error) {
	o, ok := r.m.st.orders[id]
	if !ok || o.UserID != userID {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (r memOrders) GetForUpdate(_ context.Context, id int64) (*order.Order, error) {
	o, ok := r.m.st.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

func (r memOrders) ListByUser(_ context.Context, userID int64, f order.ListFilter) ([]order.Order, error) {
	var out []order.Order
	for _, o := range r.m.st.orders {
		if o.UserID != userID || (f.Status != nil && o.Status != *f.Status) {
			continue
		}
		out = append(out, o)
	}
	slices.SortFunc(out, func(a, b order.Order) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

func (r memOrders) Lines(_ context.Context, orderIDs []int64) (map[int64][]order.Line, error) {
	out := make(map[int64][]order.Line, len(orderIDs))
	for _, id := range orderIDs {
		if ls, ok := r.m.st.lines[id]; ok {
			out[id] = slices.Clone(ls)
		}
	}
	return out, nil
}

func (r memOrders) SetStatus(_ context.Context, id int64, status order.Status) error {
	o, ok := r.m.st.orders[id]
	if !ok {
		return order.ErrNotFound
	}
	o.Status = status
	r.m.st.orders[id] = o
	return nil
}

type memPayments struct{ m *memStore }

func (r memPayments) Create(_ context.Context, p *payment.Payment) error {
	if r.m.failPayment != nil {
		return r.m.failPayment
	}
	if _, ok := r.m.st.orders[p.OrderID]; !ok {
		return fmt.Errorf("order %d does not exist", p.OrderID)
	}
	p.ID = r.m.st.id()
	r.m.st.payments[p.OrderID] = *p
	return nil
}

func (r memPayments) GetByOrderID(_ context.Context, orderID int64) (*payment.Payment, error) {
	p, ok := r.m.st.payments[orderID]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return &p, nil
}

func (r memPayments) GetByOrderIDForUpdate(ctx context.Context, orderID int64) (*payment.Payment, error) {
	return r.GetByOrderID(ctx, orderID)
}

func (r memPayments) GetByOrderIDs(_ context.Context, orderIDs []int64) (map[int64]*payment.Payment, error) {
	out := make(map[int64]*payment.Payment, len(orderIDs))
	for _, id := range orderIDs {
		if p, ok := r.m.st.payments[id]; ok {
			out[id] = &p
		}
	}
	return out, nil
}

func (r memPayments) Apply(_ context.Context, id int64, u payment.Update) (*payment.Payment, error) {
	for orderID, p := range r.m.st.payments {
		if p.ID != id {
			continue
		}
		p.Status = u.Status
		if u.Reference != nil {
			p.Reference = u.Reference
		}
		if u.CallbackData != nil {
			p.CallbackData = u.CallbackData
		}
		r.m.st.payments[orderID] = p
		return &p, nil
	}
	return nil, payment.ErrNotFound
}

type memEvents struct{ m *memStore }

func (r memEvents) Record(_ context.Context, e Event) error {
	r.m.st.events = append(r.m.st.events, e)
	return nil
}
