package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bookshop-orders/internal/domain/cart"
)

// GetCart returns the shopper's cart with current prices.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	lines, err := h.carts.List(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	count := 0
	for _, l := range lines {
		count += l.Quantity
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("items", func(e *jx.Encoder) {
				e.Arr(func(e *jx.Encoder) {
					for i := range lines {
						encodeCartLine(e, &lines[i])
					}
				})
			})
			e.Field("total", func(e *jx.Encoder) { encodeMoney(e, cart.Total(lines)) })
			e.Field("itemCount", func(e *jx.Encoder) { e.Int(count) })
		})
	})
}

// AddToCart adds a book to the cart, merging with an existing line.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
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

	var bookID int64
	quantity := int64(1)
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		switch key {
		case "bookId":
			v, err := intField(d, key)
			bookID = v
			return err
		case "quantity":
			v, err := intField(d, key)
			quantity = v
			return err
		default:
			return d.Skip()
		}
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if bookID <= 0 {
		writeError(w, r, badRequest("bookId is required"))
		return
	}

	line, err := h.carts.Add(r.Context(), uid, bookID, int(quantity))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCartLine(e, line) })
}

// UpdateCartItem replaces the quantity of a cart line.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
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
	body, err := h.readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var quantity int64
	if err := decodeObject(body, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := intField(d, key)
		quantity = v
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	line, err := h.carts.SetQuantity(r.Context(), uid, id, int(quantity))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCartLine(e, line) })
}

// RemoveCartItem deletes a cart line.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
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
	if err := h.carts.Remove(r.Context(), uid, id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
