package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bakehouse/backend/internal/domain"
	"bakehouse/backend/internal/store"
)

func TestDeleteProductionRunRestoresStock(t *testing.T) {
	databaseURL := os.Getenv("BAKEHOUSE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set BAKEHOUSE_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	ingredientID := fmt.Sprintf("ing-run-it-%d", stamp)
	productID := fmt.Sprintf("prod-run-it-%d", stamp)
	runID := fmt.Sprintf("run-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM production_run_usages WHERE run_id = $1`, runID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM production_runs WHERE id = $1`, runID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM ingredients WHERE id = $1`, ingredientID)
	})

	now := time.Now().UTC()
	if _, err := s.CreateIngredient(ctx, domain.Ingredient{
		ID:                 ingredientID,
		Name:               "Integration Flour",
		Unit:               domain.UnitKg,
		CurrentStock:       decimal.RequireFromString("10"),
		ReorderPoint:       decimal.RequireFromString("2"),
		AverageCostPerUnit: decimal.RequireFromString("1.5"),
		LastPurchasedPrice: decimal.RequireFromString("1.5"),
		UpdatedAt:          now,
	}); err != nil {
		t.Fatalf("create ingredient: %v", err)
	}

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:           productID,
		Name:         "Integration Loaf",
		SellingPrice: decimal.RequireFromString("3.5"),
		IsActive:     true,
		CreatedAt:    now,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	theoretical := decimal.RequireFromString("2")
	actual := decimal.RequireFromString("2.4")
	run := domain.ProductionRun{
		ID:               runID,
		ProductID:        productID,
		Chef:             "integration",
		QuantityProduced: decimal.RequireFromString("4"),
		DateProduced:     now,
		Usages: []domain.IngredientUsage{{
			IngredientID:      ingredientID,
			TheoreticalAmount: theoretical,
			ActualAmount:      actual,
			Wastage:           actual.Sub(theoretical),
		}},
	}
	if _, err := s.CreateProductionRun(ctx, run, false); err != nil {
		t.Fatalf("create production run: %v", err)
	}

	consumed, err := s.GetIngredient(ctx, ingredientID)
	if err != nil {
		t.Fatalf("get ingredient after run: %v", err)
	}
	if !consumed.CurrentStock.Equal(decimal.RequireFromString("7.6")) {
		t.Fatalf("expected stock 7.6 after run, got %s", consumed.CurrentStock)
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product after run: %v", err)
	}
	if product.StockQuantity != 4 {
		t.Fatalf("expected product stock 4 after run, got %d", product.StockQuantity)
	}

	if _, err := s.DeleteProductionRun(ctx, runID); err != nil {
		t.Fatalf("delete production run: %v", err)
	}

	restored, err := s.GetIngredient(ctx, ingredientID)
	if err != nil {
		t.Fatalf("get ingredient after delete: %v", err)
	}
	if !restored.CurrentStock.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("expected stock restored to 10, got %s", restored.CurrentStock)
	}
	if !restored.AverageCostPerUnit.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("expected average cost untouched at 1.5, got %s", restored.AverageCostPerUnit)
	}

	if _, err := s.GetProductionRun(ctx, runID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected deleted run to be gone, got %v", err)
	}
}
