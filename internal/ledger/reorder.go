package ledger

import (
	"fmt"
	"strings"

	"bakehouse/backend/internal/domain"

	"github.com/shopspring/decimal"
)

var minSuggestedOrder = decimal.NewFromInt(10)

// NeedsReorder reports whether stock has fallen to or below the reorder
// point. Equality counts: sitting exactly at the reorder point is the signal
// to buy.
func NeedsReorder(currentStock, reorderPoint decimal.Decimal) bool {
	return currentStock.LessThanOrEqual(reorderPoint)
}

// SuggestedOrderQty proposes how much to buy: twice the shortfall so the
// next delivery lasts a while, floored at a minimum order of 10 units.
func SuggestedOrderQty(currentStock, reorderPoint decimal.Decimal) decimal.Decimal {
	shortfall := reorderPoint.Sub(currentStock)
	suggested := shortfall.Mul(decimal.NewFromInt(2))
	if suggested.LessThan(minSuggestedOrder) {
		return minSuggestedOrder
	}
	return suggested
}

// RenderShoppingListText formats the shopping list as plain text for pasting
// into a chat message. The line template is fixed so the output is stable
// for a given item list.
func RenderShoppingListText(items []domain.ShoppingListItem) string {
	if len(items) == 0 {
		return "Shopping List\nAll ingredients are sufficiently stocked."
	}
	var b strings.Builder
	b.WriteString("Shopping List\n")
	for _, item := range items {
		fmt.Fprintf(&b, "- %s: stock %s %s, buy %s %s\n",
			item.Name,
			item.CurrentStock.String(), item.Unit,
			item.SuggestedQty.String(), item.Unit)
	}
	return strings.TrimRight(b.String(), "\n")
}
