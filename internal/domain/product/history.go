package product

import "time"

type Direction string

const (
	DirectionAdd      Direction = "add"
	DirectionSubtract Direction = "subtract"
)

func (d Direction) Valid() bool {
	return d == DirectionAdd || d == DirectionSubtract
}

// Reason classifies why stock moved.
type Reason string

const (
	ReasonPurchase   Reason = "PURCHASE"
	ReasonSale       Reason = "SALE"
	ReasonReturn     Reason = "RETURN"
	ReasonDamage     Reason = "DAMAGE"
	ReasonAdjustment Reason = "ADJUSTMENT"
)

// HistoryRecord is one append-only audit entry for a stock mutation.
// Records are written in the same transaction as the stock value and are
// never updated or deleted afterwards.
type HistoryRecord struct {
	ID            string
	ProductID     string
	Delta         int
	Direction     Direction
	Reason        Reason
	Reference     string
	PreviousStock int
	NewStock      int
	RecordedAt    time.Time
}

// Consistent reports whether the recorded stock movement matches delta and
// direction.
func (r HistoryRecord) Consistent() bool {
	switch r.Direction {
	case DirectionAdd:
		return r.NewStock-r.PreviousStock == r.Delta
	case DirectionSubtract:
		return r.PreviousStock-r.NewStock == r.Delta
	default:
		return false
	}
}
