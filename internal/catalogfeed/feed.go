// Package catalogfeed decodes book records from seed files and supplier feeds.
// Seed files hold one JSON array; feeds hold one JSON object per line.
package catalogfeed

import (
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop-orders/internal/domain/catalog"
)

// DecodeArray decodes a JSON array of book records.
func DecodeArray(data []byte) ([]catalog.Book, error) {
	var books []catalog.Book
	d := jx.DecodeBytes(data)
	if err := d.Arr(func(d *jx.Decoder) error {
		b, err := decodeBook(d)
		if err != nil {
			return errors.Wrapf(err, "book %d", len(books))
		}
		books = append(books, b)
		return nil
	}); err != nil {
		return nil, err
	}
	return books, nil
}

// DecodeLine decodes one feed line.
func DecodeLine(line []byte) (catalog.Book, error) {
	return decodeBook(jx.DecodeBytes(line))
}

func decodeBook(d *jx.Decoder) (catalog.Book, error) {
	b := catalog.Book{Active: true}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "title":
			b.Title, err = d.Str()
		case "author":
			b.Author, err = d.Str()
		case "isbn":
			var s string
			s, err = d.Str()
			b.ISBN = NormalizeISBN(s)
		case "price":
			b.Price, err = decodePrice(d)
		case "stock":
			b.Stock, err = d.Int()
		case "coverImage", "cover_image":
			b.CoverImage, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return catalog.Book{}, errors.Wrap(err, "decode book")
	}
	if err := Validate(b); err != nil {
		return catalog.Book{}, err
	}
	return b, nil
}

// decodePrice accepts "12.50" as well as 12.50.
func decodePrice(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		raw = n.String()
	default:
		return decimal.Decimal{}, errors.New("price must be a string or number")
	}
	p, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse price %q", raw)
	}
	return p, nil
}

// NormalizeISBN strips separators so that feeds can be matched by ISBN.
func NormalizeISBN(s string) string {
	return strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(strings.TrimSpace(s)))
}

// Validate rejects records that cannot be sold.
func Validate(b catalog.Book) error {
	switch {
	case b.Title == "":
		return errors.New("title is required")
	case b.Author == "":
		return errors.New("author is required")
	case len(b.ISBN) != 10 && len(b.ISBN) != 13:
		return errors.Errorf("isbn %q must have 10 or 13 characters", b.ISBN)
	case b.Price.IsNegative():
		return errors.Errorf("price %s is negative", b.Price)
	case b.Stock < 0:
		return errors.Errorf("stock %d is negative", b.Stock)
	}
	return nil
}
