package product

type AlertKind string

const (
	AlertLowStock   AlertKind = "LOW_STOCK"
	AlertOutOfStock AlertKind = "OUT_OF_STOCK"
)

// AlertEvent is derived from a stock level and a threshold. It is never
// persisted; if nobody listens when it fires, it is lost.
type AlertEvent struct {
	ProductID      string
	CurrentStock   int
	ThresholdStock int
	Kind           AlertKind
}

// EvaluateAlert returns the alert triggered by the given stock level, if any.
// OUT_OF_STOCK takes priority over LOW_STOCK.
func EvaluateAlert(productID string, currentStock, threshold int) (AlertEvent, bool) {
	e := AlertEvent{
		ProductID:      productID,
		CurrentStock:   currentStock,
		ThresholdStock: threshold,
	}
	switch {
	case currentStock <= 0:
		e.Kind = AlertOutOfStock
		return e, true
	case currentStock <= threshold:
		e.Kind = AlertLowStock
		return e, true
	default:
		return AlertEvent{}, false
	}
}
