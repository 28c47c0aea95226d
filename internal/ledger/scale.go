package ledger

import (
	"bakehouse/backend/internal/domain"

	"github.com/shopspring/decimal"
)

// ScaleRecipe computes the theoretical amount of each recipe ingredient
// needed to produce quantityProduced units. Recipes are calibrated against
// their standard yield, so each item scales by quantityProduced / yield.
// StandardYield is validated positive when the recipe is saved.
func ScaleRecipe(recipe *domain.Recipe, quantityProduced decimal.Decimal) map[string]decimal.Decimal {
	ratio := quantityProduced.Div(recipe.StandardYield)
	amounts := make(map[string]decimal.Decimal, len(recipe.Items))
	for _, item := range recipe.Items {
		amounts[item.IngredientID] = item.Quantity.Mul(ratio)
	}
	return amounts
}

// Wastage is actual consumption minus the theoretical requirement. Positive
// means overuse, negative means saving.
func Wastage(actual, theoretical decimal.Decimal) decimal.Decimal {
	return actual.Sub(theoretical)
}
