package ledger

import (
	"bakehouse/backend/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SummarizeRunWastage reduces a run's per-ingredient wastage to equivalent
// finished-goods pieces. A single badly overused ingredient limits how many
// extra pieces could have been made, so the aggregate is the binding
// constraint: the maximum waste percentage when any ingredient was overused,
// otherwise the minimum savings percentage. Usages with zero theoretical
// amount contribute nothing.
func SummarizeRunWastage(usages []domain.IngredientUsage, quantityProduced decimal.Decimal) (pieces decimal.Decimal, isWaste bool) {
	var (
		maxWastePct   decimal.Decimal
		minSavingsPct decimal.Decimal
		haveWaste     bool
		haveSavings   bool
	)
	for _, u := range usages {
		if u.TheoreticalAmount.Sign() <= 0 {
			continue
		}
		pct := u.Wastage.Div(u.TheoreticalAmount).Mul(hundred)
		switch {
		case pct.Sign() > 0:
			if !haveWaste || pct.GreaterThan(maxWastePct) {
				maxWastePct = pct
			}
			haveWaste = true
		case pct.Sign() < 0:
			abs := pct.Abs()
			if !haveSavings || abs.LessThan(minSavingsPct) {
				minSavingsPct = abs
			}
			haveSavings = true
		}
	}
	if haveWaste {
		return maxWastePct.Div(hundred).Mul(quantityProduced), true
	}
	if haveSavings {
		return minSavingsPct.Div(hundred).Mul(quantityProduced), false
	}
	return decimal.Zero, false
}
