package domain

import "strings"

func ValidateSaleLines(op string, lines []SaleLine) error {
	if len(lines) == 0 {
		return Validation(op, "lines", "sale requires at least one line")
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return Validation(op, "product_id", "product_id is required")
		}
		if line.Quantity <= 0 {
			return Validation(op, "quantity", "quantity for %s must be greater than zero", line.ProductID)
		}
		if line.UnitPrice < 0 {
			return Validation(op, "unit_price", "unit_price for %s must not be negative", line.ProductID)
		}
	}
	return nil
}

// Settle returns the recorded tender and change. Cash must cover the total;
// other tenders are recorded at exactly the total.
func Settle(op string, method string, tendered int64, total int64) (int64, int64, error) {
	if method != PaymentCash {
		return total, 0, nil
	}
	if tendered < total {
		return 0, 0, Validation(op, "amount_tendered", "cash tendered %d is less than total %d", tendered, total)
	}
	return tendered, tendered - total, nil
}

// CumulativeQuantities sums requested quantity per product across lines.
func CumulativeQuantities(lines []SaleLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.ProductID] += line.Quantity
	}
	return out
}
