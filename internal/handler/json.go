package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
	"github.com/xenking/bookshop-orders/internal/domain/catalog"
	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

// badRequestError is a malformed request detected before reaching the domain.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, badRequest("request body exceeds %d bytes", maxErr.Limit)
		}
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

// decodeObject walks the top-level object of body. An empty body is an empty
// object. Field errors raised by fn are returned as is; anything else is a
// syntax error.
func decodeObject(body []byte, fn func(d *jx.Decoder, key string) error) error {
	if len(body) == 0 {
		return nil
	}
	d := jx.DecodeBytes(body)
	if err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		return fn(d, string(key))
	}); err != nil {
		var (
			bad        *badRequestError
			validation *payment.ValidationError
		)
		switch {
		case errors.As(err, &bad):
			return bad
		case errors.As(err, &validation):
			return validation
		}
		return badRequest("invalid JSON body: %s", err)
	}
	return nil
}

// optString reads a string or null.
func optString(d *jx.Decoder, field string) (*string, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, badRequest("%s must be a string", field)
	}
}

func intField(d *jx.Decoder, field string) (int64, error) {
	if d.Next() != jx.Number {
		return 0, badRequest("%s must be an integer", field)
	}
	v, err := d.Int64()
	if err != nil {
		return 0, badRequest("%s must be an integer", field)
	}
	return v, nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, r.PathValue(name))
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, code int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Num(jx.Num(d.StringFixed(2)))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeOptString(e *jx.Encoder, s *string) {
	if s == nil {
		e.Null()
		return
	}
	e.Str(*s)
}

func encodeBook(e *jx.Encoder, b *catalog.Book) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(b.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(b.Title) })
		e.Field("author", func(e *jx.Encoder) { e.Str(b.Author) })
		e.Field("isbn", func(e *jx.Encoder) { e.Str(b.ISBN) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, b.Price) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(b.Stock) })
		if b.CoverImage != "" {
			e.Field("coverImage", func(e *jx.Encoder) { e.Str(b.CoverImage) })
		}
	})
}

// encodeBookSummary is the book as shown inside cart and order lines.
func encodeBookSummary(e *jx.Encoder, b *catalog.Book) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(b.ID) })
		e.Field("title", func(e *jx.Encoder) { e.Str(b.Title) })
		e.Field("author", func(e *jx.Encoder) { e.Str(b.Author) })
		if b.CoverImage != "" {
			e.Field("coverImage", func(e *jx.Encoder) { e.Str(b.CoverImage) })
		}
	})
}

func encodeCartLine(e *jx.Encoder, l *cart.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(l.ID) })
		e.Field("bookId", func(e *jx.Encoder) { e.Int64(l.BookID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, l.Book.Price) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal()) })
		e.Field("book", func(e *jx.Encoder) { encodeBookSummary(e, &l.Book) })
	})
}

func encodePayment(e *jx.Encoder, p *payment.Payment) {
	if p == nil {
		e.Null()
		return
	}
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(p.OrderID) })
		e.Field("paymentMethod", func(e *jx.Encoder) { encodeOptString(e, p.Method) })
		e.Field("amount", func(e *jx.Encoder) { encodeMoney(e, p.Amount) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		e.Field("paymentReference", func(e *jx.Encoder) { encodeOptString(e, p.Reference) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, p.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, p.UpdatedAt) })
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("totalAmount", func(e *jx.Encoder) { encodeMoney(e, o.Total) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("shippingAddress", func(e *jx.Encoder) { encodeOptString(e, o.ShippingAddress) })
		e.Field("createdAt", func(e *jx.Encoder) { encodeTime(e, o.CreatedAt) })
		e.Field("updatedAt", func(e *jx.Encoder) { encodeTime(e, o.UpdatedAt) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range o.Lines {
					encodeOrderLine(e, &o.Lines[i])
				}
			})
		})
		e.Field("payment", func(e *jx.Encoder) { encodePayment(e, o.Payment) })
	})
}

func encodeOrderLine(e *jx.Encoder, l *order.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Int64(l.ID) })
		e.Field("bookId", func(e *jx.Encoder) { e.Int64(l.BookID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("price", func(e *jx.Encoder) { encodeMoney(e, l.Price) })
		e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, l.Subtotal) })
		if l.Book != nil {
			e.Field("book", func(e *jx.Encoder) { encodeBookSummary(e, l.Book) })
		}
	})
}
