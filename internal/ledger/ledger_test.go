package ledger

import (
	"testing"

	"bakehouse/backend/internal/domain"

	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return d
}

func TestNextAverageCostBootstrap(t *testing.T) {
	// Empty ingredient: a 10-unit purchase for 100 sets the average to 10.
	unitCost := UnitCost(dec(t, "100"), dec(t, "10"))
	avg := NextAverageCost(decimal.Zero, decimal.Zero, dec(t, "10"), unitCost)
	if !avg.Equal(dec(t, "10")) {
		t.Fatalf("bootstrap average = %s, want 10", avg)
	}
}

func TestNextAverageCostNegativeStockBootstraps(t *testing.T) {
	avg := NextAverageCost(dec(t, "-3"), dec(t, "7"), dec(t, "10"), dec(t, "4"))
	if !avg.Equal(dec(t, "4")) {
		t.Fatalf("average after negative-stock purchase = %s, want 4", avg)
	}
}

func TestNextAverageCostWeighted(t *testing.T) {
	// 100 units at avg 5, buy 50 more at unit cost 8: (100*5 + 50*8) / 150 = 6.
	avg := NextAverageCost(dec(t, "100"), dec(t, "5"), dec(t, "50"), dec(t, "8"))
	if !avg.Equal(dec(t, "6")) {
		t.Fatalf("weighted average = %s, want 6", avg)
	}
}

func TestNextAverageCostAssociative(t *testing.T) {
	// Two sequential purchases must land on the same average as one batched
	// weighted average over both.
	start := dec(t, "20")
	startAvg := dec(t, "3")

	avg1 := NextAverageCost(start, startAvg, dec(t, "10"), dec(t, "6"))
	stock1 := start.Add(dec(t, "10"))
	avg2 := NextAverageCost(stock1, avg1, dec(t, "5"), dec(t, "12"))

	// Batched: total value / total quantity.
	totalValue := start.Mul(startAvg).Add(dec(t, "10").Mul(dec(t, "6"))).Add(dec(t, "5").Mul(dec(t, "12")))
	batched := totalValue.Div(start.Add(dec(t, "10")).Add(dec(t, "5")))
	if !avg2.Equal(batched) {
		t.Fatalf("sequential average %s != batched average %s", avg2, batched)
	}
}

func TestIsPriceAnomalyBoundary(t *testing.T) {
	avg := dec(t, "10")
	cases := []struct {
		unitCost string
		want     bool
	}{
		{"13", false},    // exactly 30% over is not an anomaly
		{"13.01", true},  // strictly past the threshold
		{"12.99", false},
		{"26", true},
	}
	for _, tc := range cases {
		if got := IsPriceAnomaly(avg, dec(t, tc.unitCost)); got != tc.want {
			t.Errorf("IsPriceAnomaly(10, %s) = %v, want %v", tc.unitCost, got, tc.want)
		}
	}
}

func TestIsPriceAnomalyNoHistory(t *testing.T) {
	if IsPriceAnomaly(decimal.Zero, dec(t, "1000")) {
		t.Fatal("ingredient with no cost history must not be flagged")
	}
}

func TestScaleRecipe(t *testing.T) {
	recipe := &domain.Recipe{
		StandardYield: dec(t, "100"),
		Items: []domain.RecipeItem{
			{IngredientID: "ing-flour", Quantity: dec(t, "2.5")},
			{IngredientID: "ing-sugar", Quantity: dec(t, "0.8")},
		},
	}
	amounts := ScaleRecipe(recipe, dec(t, "250"))
	if got := amounts["ing-flour"]; !got.Equal(dec(t, "6.25")) {
		t.Errorf("flour = %s, want 6.25", got)
	}
	if got := amounts["ing-sugar"]; !got.Equal(dec(t, "2")) {
		t.Errorf("sugar = %s, want 2", got)
	}
}

func TestWastageSign(t *testing.T) {
	if w := Wastage(dec(t, "11"), dec(t, "10")); w.Sign() <= 0 {
		t.Errorf("overuse wastage = %s, want positive", w)
	}
	if w := Wastage(dec(t, "9"), dec(t, "10")); w.Sign() >= 0 {
		t.Errorf("saving wastage = %s, want negative", w)
	}
	if w := Wastage(dec(t, "10"), dec(t, "10")); w.Sign() != 0 {
		t.Errorf("exact consumption wastage = %s, want zero", w)
	}
}

func usage(t *testing.T, theoretical, actual string) domain.IngredientUsage {
	t.Helper()
	th := dec(t, theoretical)
	ac := dec(t, actual)
	return domain.IngredientUsage{
		TheoreticalAmount: th,
		ActualAmount:      ac,
		Wastage:           ac.Sub(th),
	}
}

func TestSummarizeRunWastageBindingWaste(t *testing.T) {
	// 10% and 25% overuse: the binding constraint is the worst ingredient.
	usages := []domain.IngredientUsage{
		usage(t, "10", "11"),   // +10%
		usage(t, "4", "5"),     // +25%
		usage(t, "2", "1.9"),   // saving, ignored once waste exists
	}
	pieces, isWaste := SummarizeRunWastage(usages, dec(t, "200"))
	if !isWaste {
		t.Fatal("expected waste summary")
	}
	if !pieces.Equal(dec(t, "50")) {
		t.Fatalf("pieces = %s, want 50 (25%% of 200)", pieces)
	}
}

func TestSummarizeRunWastageBindingSavings(t *testing.T) {
	// 20% and 5% savings: the binding constraint is the smallest saving.
	usages := []domain.IngredientUsage{
		usage(t, "10", "8"),    // -20%
		usage(t, "20", "19"),   // -5%
	}
	pieces, isWaste := SummarizeRunWastage(usages, dec(t, "100"))
	if isWaste {
		t.Fatal("expected savings summary")
	}
	if !pieces.Equal(dec(t, "5")) {
		t.Fatalf("pieces = %s, want 5 (5%% of 100)", pieces)
	}
}

func TestSummarizeRunWastageZero(t *testing.T) {
	usages := []domain.IngredientUsage{
		usage(t, "10", "10"),
		{TheoreticalAmount: decimal.Zero, ActualAmount: dec(t, "1"), Wastage: dec(t, "1")},
	}
	pieces, isWaste := SummarizeRunWastage(usages, dec(t, "100"))
	if isWaste || pieces.Sign() != 0 {
		t.Fatalf("summary = (%s, %v), want (0, false)", pieces, isWaste)
	}
}

func TestNeedsReorder(t *testing.T) {
	if !NeedsReorder(dec(t, "5"), dec(t, "5")) {
		t.Error("stock at the reorder point must trigger a reorder")
	}
	if NeedsReorder(dec(t, "5.01"), dec(t, "5")) {
		t.Error("stock above the reorder point must not trigger a reorder")
	}
}

func TestSuggestedOrderQty(t *testing.T) {
	if got := SuggestedOrderQty(dec(t, "2"), dec(t, "10")); !got.Equal(dec(t, "16")) {
		t.Errorf("suggested = %s, want 16 (twice the shortfall)", got)
	}
	// A tiny shortfall still gets the minimum order of 10.
	if got := SuggestedOrderQty(dec(t, "4.5"), dec(t, "5")); !got.Equal(dec(t, "10")) {
		t.Errorf("suggested = %s, want the 10-unit floor", got)
	}
}

func TestRenderShoppingListTextStable(t *testing.T) {
	items := []domain.ShoppingListItem{
		{Name: "Bread Flour", Unit: "kg", CurrentStock: dec(t, "3"), SuggestedQty: dec(t, "14")},
		{Name: "Butter", Unit: "kg", CurrentStock: dec(t, "0.5"), SuggestedQty: dec(t, "10")},
	}
	want := "Shopping List\n" +
		"- Bread Flour: stock 3 kg, buy 14 kg\n" +
		"- Butter: stock 0.5 kg, buy 10 kg"
	if got := RenderShoppingListText(items); got != want {
		t.Fatalf("share text:\n%s\nwant:\n%s", got, want)
	}
	// Same input renders the same text.
	if RenderShoppingListText(items) != RenderShoppingListText(items) {
		t.Fatal("share text rendering is not deterministic")
	}
}

func TestRenderShoppingListTextEmpty(t *testing.T) {
	got := RenderShoppingListText(nil)
	if got != "Shopping List\nAll ingredients are sufficiently stocked." {
		t.Fatalf("empty-list share text = %q", got)
	}
}
