package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/domain/payment"
)

// PaymentCallback applies a payment gateway notification. It is not behind
// API key auth; the body is signed instead when a secret is configured.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := verifyCallback(h.callbackSecret, body, r.Header.Get(HeaderCallbackSignature)); err != nil {
		writeError(w, r, err)
		return
	}
	cb, err := decodeCallback(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.orders.ApplyPaymentCallback(r.Context(), cb)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			e.Field("payment", func(e *jx.Encoder) { encodePayment(e, res.Payment) })
		})
	})
}

// decodeCallback reads {orderId, status, paymentReference?, callbackData?}.
// Missing required fields are left zero for the service to reject.
// callbackData is stored verbatim: a JSON string as its value, anything
// else as its raw JSON text.
func decodeCallback(body []byte) (checkout.Callback, error) {
	var cb checkout.Callback
	err := decodeObject(body, func(d *jx.Decoder, key string) error {
		switch key {
		case "orderId":
			if d.Next() != jx.Number {
				return &payment.ValidationError{Field: "orderId", Message: "must be a positive integer"}
			}
			v, err := d.Int64()
			if err != nil {
				return &payment.ValidationError{Field: "orderId", Message: "must be a positive integer"}
			}
			cb.OrderID = v
		case "status":
			if d.Next() != jx.String {
				return &payment.ValidationError{Field: "status", Message: "must be a string"}
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			cb.Status = v
		case "paymentReference":
			v, err := optString(d, key)
			if err != nil {
				return err
			}
			cb.Reference = v
		case "callbackData":
			switch d.Next() {
			case jx.Null:
				return d.Null()
			case jx.String:
				v, err := d.Str()
				if err != nil {
					return err
				}
				cb.CallbackData = &v
			default:
				raw, err := d.Raw()
				if err != nil {
					return err
				}
				s := raw.String()
				cb.CallbackData = &s
			}
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return checkout.Callback{}, err
	}
	return cb, nil
}

// PaymentStatus returns the payment of one of the shopper's orders.
func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orderID, err := pathID(r, "orderId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.PaymentStatus(r.Context(), uid, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orderId", func(e *jx.Encoder) { e.Int64(o.ID) })
			e.Field("orderNumber", func(e *jx.Encoder) { e.Str(o.Number) })
			e.Field("orderStatus", func(e *jx.Encoder) { e.Str(string(o.Status)) })
			e.Field("payment", func(e *jx.Encoder) { encodePayment(e, o.Payment) })
		})
	})
}
