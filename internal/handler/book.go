package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
)

// ListBooks returns every active book.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.books.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range books {
				encodeBook(e, &books[i])
			}
		})
	})
}

// GetBook returns one active book.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	book, err := h.books.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !book.Active {
		writeError(w, r, catalog.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeBook(e, book) })
}
