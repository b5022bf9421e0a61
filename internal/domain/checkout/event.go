package checkout

import (
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/bookshop-orders/internal/domain/order"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

// Event topics.
const (
	TopicOrderCreated   = "order.created"
	TopicPaymentUpdated = "payment.updated"
)

// Event is a JSON-encoded domain event keyed by order id.
type Event struct {
	Topic   string
	Key     string
	Payload []byte
}

func orderCreatedEvent(o *order.Order, at time.Time) Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("userId", func(e *jx.Encoder) { e.Int64(o.UserID) })
		e.Field("totalAmount", func(e *jx.Encoder) { e.Str(o.Total.StringFixed(2)) })
		e.Field("lines", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("bookId", func(e *jx.Encoder) { e.Int64(l.BookID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						e.Field("price", func(e *jx.Encoder) { e.Str(l.Price.StringFixed(2)) })
					})
				}
			})
		})
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})
	return Event{
		Topic:   TopicOrderCreated,
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: e.Bytes(),
	}
}

func paymentUpdatedEvent(o *order.Order, p *payment.Payment, previous payment.Status, at time.Time) Event {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Int64(o.ID) })
		e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
		e.Field("orderStatus", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("paymentId", func(e *jx.Encoder) { e.Int64(p.ID) })
		e.Field("previousStatus", func(e *jx.Encoder) { e.Str(string(previous)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(p.Status)) })
		if p.Reference != nil {
			e.Field("paymentReference", func(e *jx.Encoder) { e.Str(*p.Reference) })
		}
		e.Field("occurredAt", func(e *jx.Encoder) { e.Str(at.UTC().Format(time.RFC3339Nano)) })
	})
	return Event{
		Topic:   TopicPaymentUpdated,
		Key:     strconv.FormatInt(o.ID, 10),
		Payload: e.Bytes(),
	}
}
