package procurement

import "github.com/odyssey-erp/odyssey-stock/internal/shared"

// POLineTotal is quantity x cost x (1 + tax/100), rounded to cents.
func POLineTotal(qty, unitCost, taxRate float64) float64 {
	return shared.RoundAmount(qty * unitCost * (1 + taxRate/100))
}

// GRNLineTotal is received x cost + tax amount, rounded to cents.
func GRNLineTotal(qty, unitCost, taxAmount float64) float64 {
	return shared.RoundAmount(qty*unitCost + taxAmount)
}

// SOLineTotal is quantity x cost, rounded to cents.
func SOLineTotal(qty, unitCost float64) float64 {
	return shared.RoundAmount(qty * unitCost)
}

func sumPO(items []POItem) float64 {
	var total float64
	for _, it := range items {
		total += it.TotalAmount
	}
	return shared.RoundAmount(total)
}

func sumGRN(items []GRNItem) float64 {
	var total float64
	for _, it := range items {
		total += it.TotalAmount
	}
	return shared.RoundAmount(total)
}

func sumSO(items []SOItem) float64 {
	var total float64
	for _, it := range items {
		total += it.TotalAmount
	}
	return shared.RoundAmount(total)
}
