// Package ledger holds the pure arithmetic of the inventory costing and
// production ledger: weighted-average costing, recipe scaling, wastage
// aggregation, and reorder suggestions. Nothing here touches storage; the
// service and store layers call in with loaded state and persist the results.
package ledger

import "github.com/shopspring/decimal"

// anomalyFactor is the price threshold multiplier: a purchase whose unit
// cost exceeds the running average by more than 30% is flagged.
var anomalyFactor = decimal.RequireFromString("1.3")

// UnitCost returns totalCost / quantity. Callers must validate quantity > 0
// first.
func UnitCost(totalCost, quantity decimal.Decimal) decimal.Decimal {
	return totalCost.Div(quantity)
}

// NextAverageCost computes the weighted-average unit cost after receiving a
// purchase of the given quantity at the given unit cost. When current stock
// is zero or negative the historical average carries no weight and the new
// unit cost becomes the average outright.
func NextAverageCost(currentStock, averageCost, quantity, unitCost decimal.Decimal) decimal.Decimal {
	if currentStock.Sign() <= 0 {
		return unitCost
	}
	existingValue := currentStock.Mul(averageCost)
	incomingValue := quantity.Mul(unitCost)
	return existingValue.Add(incomingValue).Div(currentStock.Add(quantity))
}

// IsPriceAnomaly reports whether a purchase's unit cost exceeds the current
// average by strictly more than 30%. An ingredient with no cost history
// (average <= 0) is never anomalous.
func IsPriceAnomaly(averageCost, unitCost decimal.Decimal) bool {
	if averageCost.Sign() <= 0 {
		return false
	}
	return unitCost.GreaterThan(averageCost.Mul(anomalyFactor))
}
