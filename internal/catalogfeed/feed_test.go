package catalogfeed

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop-orders/db"
)

func TestDecodeArray_Seed(t *testing.T) {
	books, err := DecodeArray(db.SeedBooks)
	require.NoError(t, err)
	require.NotEmpty(t, books)

	first := books[0]
	assert.Equal(t, "1984", first.Title)
	assert.Equal(t, "George Orwell", first.Author)
	assert.Equal(t, "9780451524935", first.ISBN)
	assert.True(t, first.Price.Equal(decimal.RequireFromString("70000")))
	assert.Equal(t, 45, first.Stock)
	assert.True(t, first.Active)
}

func TestDecodeLine(t *testing.T) {
	b, err := DecodeLine([]byte(`{"title":"Dune","author":"Frank Herbert","isbn":"978-0-441-17271-9","price":12.5,"stock":3,"publisher":"Ace"}`))
	require.NoError(t, err)
	assert.Equal(t, "9780441172719", b.ISBN)
	assert.Equal(t, "12.50", b.Price.StringFixed(2))
	assert.Equal(t, 3, b.Stock)
}

func TestDecodeLine_Invalid(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"not json", `title=Dune`},
		{"missing title", `{"author":"A","isbn":"9780441172719","price":"1","stock":1}`},
		{"short isbn", `{"title":"T","author":"A","isbn":"123","price":"1","stock":1}`},
		{"negative price", `{"title":"T","author":"A","isbn":"9780441172719","price":"-1","stock":1}`},
		{"negative stock", `{"title":"T","author":"A","isbn":"9780441172719","price":"1","stock":-1}`},
		{"bad price", `{"title":"T","author":"A","isbn":"9780441172719","price":true,"stock":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLine([]byte(tt.line))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeISBN(t *testing.T) {
	assert.Equal(t, "080442957X", NormalizeISBN(" 0-8044-2957-x "))
}
