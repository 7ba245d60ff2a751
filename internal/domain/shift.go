package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var majorVarianceThreshold = decimal.NewFromInt(1)

type CloseFigures struct {
	ExpectedCash    int64
	Variance        int64
	VariancePercent decimal.Decimal
	VarianceLevel   string
}

// ComputeClose derives the cash reconciliation for a shift close. Only cash
// tender counts toward the drawer.
func ComputeClose(openingCash int64, cashSales int64, actualCash int64) CloseFigures {
	expected := openingCash + cashSales
	variance := actualCash - expected
	pct := VariancePercent(variance, expected)
	return CloseFigures{
		ExpectedCash:    expected,
		Variance:        variance,
		VariancePercent: pct,
		VarianceLevel:   varianceLevel(variance, pct),
	}
}

// VariancePercent is variance over expected cash, in percent, rounded to two
// places. An empty drawer with any variance reports ±100.
func VariancePercent(variance int64, expected int64) decimal.Decimal {
	if variance == 0 {
		return decimal.Zero
	}
	if expected == 0 {
		if variance > 0 {
			return decimal.NewFromInt(100)
		}
		return decimal.NewFromInt(-100)
	}
	return decimal.NewFromInt(variance).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(expected)).
		Round(2)
}

func varianceLevel(variance int64, pct decimal.Decimal) string {
	if variance == 0 {
		return VarianceBalanced
	}
	if pct.Abs().GreaterThanOrEqual(majorVarianceThreshold) {
		return VarianceMajor
	}
	return VarianceMinor
}

// CheckVarianceNotes rejects a non-zero variance closed without a note.
func CheckVarianceNotes(op string, variance int64, notes string) error {
	if variance != 0 && strings.TrimSpace(notes) == "" {
		return Validation(op, "variance_notes", "variance of %d requires variance_notes", variance)
	}
	return nil
}

// SummarizePayments aggregates paid sales per tender method, sorted by method.
func SummarizePayments(sales []Sale) (cashSales int64, breakdown []PaymentTotal) {
	byMethod := map[string]*PaymentTotal{}
	for _, sale := range sales {
		if sale.Status != SaleStatusPaid {
			continue
		}
		row, ok := byMethod[sale.PaymentMethod]
		if !ok {
			row = &PaymentTotal{Method: sale.PaymentMethod}
			byMethod[sale.PaymentMethod] = row
		}
		row.Count++
		row.Amount += sale.Total
		if sale.PaymentMethod == PaymentCash {
			cashSales += sale.Total
		}
	}
	breakdown = make([]PaymentTotal, 0, len(byMethod))
	for _, row := range byMethod {
		breakdown = append(breakdown, *row)
	}
	sort.Slice(breakdown, func(i, j int) bool {
		return breakdown[i].Method < breakdown[j].Method
	})
	return cashSales, breakdown
}
