package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bookshop-orders/internal/domain/checkout"
	"github.com/xenking/bookshop-orders/internal/domain/order"
)

// Checkout converts the shopper's cart into an order.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := checkout.Request{UserID: uid}
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		switch key {
		case "shippingAddress":
			v, err := optString(d, key)
			req.ShippingAddress = v
			return err
		case "paymentMethod":
			v, err := optString(d, key)
			req.PaymentMethod = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

// ListOrders returns the shopper's orders, newest first, optionally
// filtered by ?status=.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var f order.ListFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := order.ParseStatus(raw)
		if err != nil {
			writeError(w, r, badRequest("%s", err))
			return
		}
		f.Status = &st
	}

	orders, err := h.orders.ListOrders(r.Context(), uid, f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range orders {
				encodeOrder(e, &orders[i])
			}
		})
	})
}

// GetOrder returns one of the shopper's orders.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), uid, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}
