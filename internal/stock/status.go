package stock

// Status classifies a stock quantity against the shop's low-stock threshold.
type Status string

const (
	StatusOut     Status = "out_of_stock"
	StatusLow     Status = "low_stock"
	StatusInStock Status = "in_stock"
)

// IsOutOfStock reports whether nothing is left to sell. Negative quantities
// (oversold inventory) count as out of stock.
func IsOutOfStock(qty int) bool {
	return qty <= 0
}

// IsLowStock reports whether qty is above zero but at or below threshold.
// A threshold of zero means nothing is ever low.
func IsLowStock(qty, threshold int) bool {
	return qty > 0 && qty <= threshold
}

// Classify returns the status bucket for qty.
func Classify(qty, threshold int) Status {
	switch {
	case IsOutOfStock(qty):
		return StatusOut
	case IsLowStock(qty, threshold):
		return StatusLow
	default:
		return StatusInStock
	}
}
