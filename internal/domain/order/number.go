package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NumberGenerator produces human-readable order numbers of the form
// ORD-<unix millis>-<8 hex>. Uniqueness is enforced by the ledger.
type NumberGenerator struct {
	now  func() time.Time
	rand func() string
}

// NewNumberGenerator returns a generator backed by the wall clock and
// random UUIDs.
func NewNumberGenerator() *NumberGenerator {
	return &NumberGenerator{
		now: time.Now,
		rand: func() string {
			id := uuid.New()
			return strings.ToUpper(fmt.Sprintf("%x", id[:4]))
		},
	}
}

// Next returns a fresh order number.
func (g *NumberGenerator) Next() string {
	return fmt.Sprintf("ORD-%d-%s", g.now().UnixMilli(), g.rand())
}
