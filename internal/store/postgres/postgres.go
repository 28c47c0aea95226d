package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bakehouse/backend/internal/domain"
	"bakehouse/backend/internal/ledger"
	"bakehouse/backend/internal/store"
	"bakehouse/backend/internal/xid"
)

// serializableAttempts bounds the retry loop on serialization failures
// (SQLSTATE 40001) and deadlocks (40P01) before surfacing ErrConflict.
const serializableAttempts = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateIngredient(ctx context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error) {
	if ingredient.Name == "" || !domain.ValidUnit(ingredient.Unit) {
		return nil, store.ErrInvalidQuantity
	}
	if ingredient.ID == "" {
		ingredient.ID = xid.New("ing")
	}
	ingredient.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingredients (id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ingredient.ID, ingredient.Name, ingredient.Unit,
		ingredient.CurrentStock, ingredient.ReorderPoint,
		ingredient.AverageCostPerUnit, ingredient.LastPurchasedPrice, ingredient.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := ingredient
	return &created, nil
}

func (s *Store) GetIngredient(ctx context.Context, id string) (*domain.Ingredient, error) {
	var ing domain.Ingredient
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
		FROM ingredients
		WHERE id = $1
	`, id).Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.CurrentStock, &ing.ReorderPoint,
		&ing.AverageCostPerUnit, &ing.LastPurchasedPrice, &ing.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &ing, nil
}

func (s *Store) ListIngredients(ctx context.Context) ([]domain.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
		FROM ingredients
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIngredients(rows)
}

func (s *Store) UpdateIngredient(ctx context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error) {
	if ingredient.Name == "" || !domain.ValidUnit(ingredient.Unit) {
		return nil, store.ErrInvalidQuantity
	}

	// Stock and costing columns stay untouched here; only the ledger
	// operations may move them.
	var updated domain.Ingredient
	err := s.db.QueryRowContext(ctx, `
		UPDATE ingredients
		SET name = $2, unit = $3, reorder_point = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
	`, ingredient.ID, ingredient.Name, ingredient.Unit, ingredient.ReorderPoint).
		Scan(&updated.ID, &updated.Name, &updated.Unit, &updated.CurrentStock, &updated.ReorderPoint,
			&updated.AverageCostPerUnit, &updated.LastPurchasedPrice, &updated.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) LowStockIngredients(ctx context.Context) ([]domain.Ingredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
		FROM ingredients
		WHERE current_stock <= reorder_point
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanIngredients(rows)
}

// RecordPurchase computes the weighted-average costing update against the
// row-locked ingredient so two concurrent purchases can never build the new
// average from a stale stock/average pair.
func (s *Store) RecordPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, *domain.Ingredient, error) {
	if purchase.Quantity.Sign() <= 0 {
		return nil, nil, store.ErrInvalidQuantity
	}
	if purchase.TotalCost.Sign() < 0 {
		return nil, nil, store.ErrInvalidCost
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.PurchaseDate.IsZero() {
		purchase.PurchaseDate = time.Now().UTC()
	}

	var (
		createdPurchase domain.Purchase
		updatedIng      domain.Ingredient
	)
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		var ing domain.Ingredient
		err := tx.QueryRowContext(ctx, `
			SELECT id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
			FROM ingredients
			WHERE id = $1
			FOR UPDATE
		`, purchase.IngredientID).Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.CurrentStock, &ing.ReorderPoint,
			&ing.AverageCostPerUnit, &ing.LastPurchasedPrice, &ing.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		unitCost := ledger.UnitCost(purchase.TotalCost, purchase.Quantity)
		p := purchase
		p.UnitCost = unitCost
		p.IsPriceAnomaly = ledger.IsPriceAnomaly(ing.AverageCostPerUnit, unitCost)
		p.IngredientName = ing.Name

		newAverage := ledger.NextAverageCost(ing.CurrentStock, ing.AverageCostPerUnit, p.Quantity, unitCost)
		newStock := ing.CurrentStock.Add(p.Quantity)

		err = tx.QueryRowContext(ctx, `
			UPDATE ingredients
			SET current_stock = $2, average_cost_per_unit = $3, last_purchased_price = $4, updated_at = now()
			WHERE id = $1
			RETURNING id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
		`, ing.ID, newStock, newAverage, unitCost).
			Scan(&updatedIng.ID, &updatedIng.Name, &updatedIng.Unit, &updatedIng.CurrentStock, &updatedIng.ReorderPoint,
				&updatedIng.AverageCostPerUnit, &updatedIng.LastPurchasedPrice, &updatedIng.UpdatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchases (id, ingredient_id, quantity, total_cost, unit_cost, vendor, notes, purchased_by, purchase_date, is_price_anomaly)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, p.ID, p.IngredientID, p.Quantity, p.TotalCost, p.UnitCost,
			nullIfEmpty(p.Vendor), nullIfEmpty(p.Notes), nullIfEmpty(p.PurchasedBy),
			p.PurchaseDate, p.IsPriceAnomaly)
		if err != nil {
			return err
		}

		createdPurchase = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &createdPurchase, &updatedIng, nil
}

func (s *Store) ListPurchases(ctx context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, error) {
	query := `
		SELECT p.id, p.ingredient_id, i.name, p.quantity, p.total_cost, p.unit_cost,
		       COALESCE(p.vendor, ''), COALESCE(p.notes, ''), COALESCE(p.purchased_by, ''),
		       p.purchase_date, p.is_price_anomaly
		FROM purchases p
		JOIN ingredients i ON i.id = p.ingredient_id
		WHERE 1=1
	`
	args := make([]any, 0, 4)
	if filter.IngredientID != "" {
		args = append(args, filter.IngredientID)
		query += ` AND p.ingredient_id = $1`
	}
	if filter.AnomalyOnly {
		query += ` AND p.is_price_anomaly = true`
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += ` AND p.purchase_date >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY p.purchase_date DESC, p.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	purchases := make([]domain.Purchase, 0, 64)
	for rows.Next() {
		var p domain.Purchase
		if err := rows.Scan(&p.ID, &p.IngredientID, &p.IngredientName, &p.Quantity, &p.TotalCost, &p.UnitCost,
			&p.Vendor, &p.Notes, &p.PurchasedBy, &p.PurchaseDate, &p.IsPriceAnomaly); err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return purchases, nil
}

func (s *Store) RecordAdjustment(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, *domain.Ingredient, error) {
	if adjustment.QuantityChange.Sign() == 0 || !domain.ValidAdjustmentReason(adjustment.Reason) {
		return nil, nil, store.ErrInvalidQuantity
	}
	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}

	var (
		createdAdj domain.StockAdjustment
		updatedIng domain.Ingredient
	)
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			UPDATE ingredients
			SET current_stock = current_stock + $2, updated_at = now()
			WHERE id = $1
			RETURNING id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
		`, adjustment.IngredientID, adjustment.QuantityChange).
			Scan(&updatedIng.ID, &updatedIng.Name, &updatedIng.Unit, &updatedIng.CurrentStock, &updatedIng.ReorderPoint,
				&updatedIng.AverageCostPerUnit, &updatedIng.LastPurchasedPrice, &updatedIng.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		a := adjustment
		a.IngredientName = updatedIng.Name
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_adjustments (id, ingredient_id, quantity_change, reason, actor, notes, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, a.ID, a.IngredientID, a.QuantityChange, a.Reason, nullIfEmpty(a.Actor), nullIfEmpty(a.Notes), a.CreatedAt)
		if err != nil {
			return err
		}
		createdAdj = a
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &createdAdj, &updatedIng, nil
}

func (s *Store) DeleteAdjustment(ctx context.Context, id string) (*domain.Ingredient, error) {
	var restored domain.Ingredient
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		var (
			ingredientID string
			change       decimal.Decimal
		)
		err := tx.QueryRowContext(ctx, `
			DELETE FROM stock_adjustments
			WHERE id = $1
			RETURNING ingredient_id, quantity_change
		`, id).Scan(&ingredientID, &change)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		return tx.QueryRowContext(ctx, `
			UPDATE ingredients
			SET current_stock = current_stock - $2, updated_at = now()
			WHERE id = $1
			RETURNING id, name, unit, current_stock, reorder_point, average_cost_per_unit, last_purchased_price, updated_at
		`, ingredientID, change).
			Scan(&restored.ID, &restored.Name, &restored.Unit, &restored.CurrentStock, &restored.ReorderPoint,
				&restored.AverageCostPerUnit, &restored.LastPurchasedPrice, &restored.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &restored, nil
}

func (s *Store) ListAdjustments(ctx context.Context, filter domain.AdjustmentFilter) ([]domain.StockAdjustment, error) {
	query := `
		SELECT a.id, a.ingredient_id, i.name, a.quantity_change, a.reason,
		       COALESCE(a.actor, ''), COALESCE(a.notes, ''), a.created_at
		FROM stock_adjustments a
		JOIN ingredients i ON i.id = a.ingredient_id
		WHERE 1=1
	`
	args := make([]any, 0, 3)
	if filter.IngredientID != "" {
		args = append(args, filter.IngredientID)
		query += ` AND a.ingredient_id = $1`
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += ` AND a.created_at >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY a.created_at DESC, a.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	adjustments := make([]domain.StockAdjustment, 0, 64)
	for rows.Next() {
		var a domain.StockAdjustment
		if err := rows.Scan(&a.ID, &a.IngredientID, &a.IngredientName, &a.QuantityChange, &a.Reason,
			&a.Actor, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SellingPrice.Sign() < 0 {
		return nil, store.ErrInvalidCost
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	product.IsActive = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, selling_price, stock_quantity, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.Name, nullIfEmpty(product.Description), product.SellingPrice,
		product.StockQuantity, product.IsActive, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), selling_price, stock_quantity, is_active, created_at
		FROM products
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Description, &p.SellingPrice, &p.StockQuantity, &p.IsActive, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), selling_price, stock_quantity, is_active, created_at
		FROM products
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.SellingPrice, &p.StockQuantity, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.SellingPrice.Sign() < 0 {
		return nil, store.ErrInvalidCost
	}

	var updated domain.Product
	err := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, selling_price = $4, is_active = $5
		WHERE id = $1
		RETURNING id, name, COALESCE(description, ''), selling_price, stock_quantity, is_active, created_at
	`, product.ID, product.Name, nullIfEmpty(product.Description), product.SellingPrice, product.IsActive).
		Scan(&updated.ID, &updated.Name, &updated.Description, &updated.SellingPrice,
			&updated.StockQuantity, &updated.IsActive, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) UpsertRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	if recipe.StandardYield.Sign() <= 0 || len(recipe.Items) == 0 {
		return nil, store.ErrInvalidRecipe
	}
	for _, item := range recipe.Items {
		if item.Quantity.Sign() <= 0 {
			return nil, store.ErrInvalidRecipe
		}
	}

	var saved domain.Recipe
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		var productName string
		err := tx.QueryRowContext(ctx, `SELECT name FROM products WHERE id = $1`, recipe.ProductID).Scan(&productName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		r := recipe
		err = tx.QueryRowContext(ctx, `SELECT id FROM recipes WHERE product_id = $1`, r.ProductID).Scan(&r.ID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if r.ID == "" {
				r.ID = xid.New("rcp")
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO recipes (id, product_id, instructions, standard_yield)
				VALUES ($1,$2,$3,$4)
			`, r.ID, r.ProductID, nullIfEmpty(r.Instructions), r.StandardYield)
			if err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			_, err = tx.ExecContext(ctx, `
				UPDATE recipes SET instructions = $2, standard_yield = $3 WHERE id = $1
			`, r.ID, nullIfEmpty(r.Instructions), r.StandardYield)
			if err != nil {
				return err
			}
			if _, err = tx.ExecContext(ctx, `DELETE FROM recipe_items WHERE recipe_id = $1`, r.ID); err != nil {
				return err
			}
		}

		for i, item := range r.Items {
			err = tx.QueryRowContext(ctx, `
				SELECT name, unit FROM ingredients WHERE id = $1
			`, item.IngredientID).Scan(&r.Items[i].IngredientName, &r.Items[i].Unit)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return store.ErrNotFound
				}
				return err
			}
			if _, err = tx.ExecContext(ctx, `
				INSERT INTO recipe_items (recipe_id, ingredient_id, quantity)
				VALUES ($1,$2,$3)
			`, r.ID, item.IngredientID, item.Quantity); err != nil {
				return err
			}
		}

		r.ProductName = productName
		saved = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *Store) GetRecipeByProduct(ctx context.Context, productID string) (*domain.Recipe, error) {
	var r domain.Recipe
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.product_id, p.name, COALESCE(r.instructions, ''), r.standard_yield
		FROM recipes r
		JOIN products p ON p.id = r.product_id
		WHERE r.product_id = $1
	`, productID).Scan(&r.ID, &r.ProductID, &r.ProductName, &r.Instructions, &r.StandardYield)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.recipeItems(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Items = items
	return &r, nil
}

func (s *Store) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.product_id, p.name, COALESCE(r.instructions, ''), r.standard_yield
		FROM recipes r
		JOIN products p ON p.id = r.product_id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipes := make([]domain.Recipe, 0, 32)
	for rows.Next() {
		var r domain.Recipe
		if err := rows.Scan(&r.ID, &r.ProductID, &r.ProductName, &r.Instructions, &r.StandardYield); err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recipes {
		items, err := s.recipeItems(ctx, recipes[i].ID)
		if err != nil {
			return nil, err
		}
		recipes[i].Items = items
	}
	return recipes, nil
}

func (s *Store) recipeItems(ctx context.Context, recipeID string) ([]domain.RecipeItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ri.ingredient_id, i.name, i.unit, ri.quantity
		FROM recipe_items ri
		JOIN ingredients i ON i.id = ri.ingredient_id
		WHERE ri.recipe_id = $1
		ORDER BY i.name
	`, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.RecipeItem, 0, 8)
	for rows.Next() {
		var item domain.RecipeItem
		if err := rows.Scan(&item.IngredientID, &item.IngredientName, &item.Unit, &item.Quantity); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateProductionRun locks the touched ingredient rows in ascending id
// order so two runs sharing ingredients serialize without deadlocking, then
// applies the consumption, the product increment, and the run insert in one
// transaction.
func (s *Store) CreateProductionRun(ctx context.Context, run domain.ProductionRun, allowNegativeStock bool) (*domain.ProductionRun, error) {
	if run.QuantityProduced.Sign() <= 0 {
		return nil, store.ErrInvalidQuantity
	}
	for _, u := range run.Usages {
		if u.ActualAmount.Sign() < 0 {
			return nil, store.ErrInvalidQuantity
		}
	}
	if run.ID == "" {
		run.ID = xid.New("run")
	}
	if run.DateProduced.IsZero() {
		run.DateProduced = time.Now().UTC()
	}

	ingredientIDs := make([]string, 0, len(run.Usages))
	for _, u := range run.Usages {
		ingredientIDs = append(ingredientIDs, u.IngredientID)
	}
	sort.Strings(ingredientIDs)

	var created domain.ProductionRun
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		var productName string
		err := tx.QueryRowContext(ctx, `
			SELECT name FROM products WHERE id = $1 FOR UPDATE
		`, run.ProductID).Scan(&productName)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, name, unit, current_stock
			FROM ingredients
			WHERE id = ANY($1)
			ORDER BY id
			FOR UPDATE
		`, ingredientIDs)
		if err != nil {
			return err
		}
		type lockedIngredient struct {
			name  string
			unit  string
			stock decimal.Decimal
		}
		locked := make(map[string]lockedIngredient, len(ingredientIDs))
		for rows.Next() {
			var (
				id  string
				ing lockedIngredient
			)
			if err := rows.Scan(&id, &ing.name, &ing.unit, &ing.stock); err != nil {
				rows.Close()
				return err
			}
			locked[id] = ing
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		r := run
		r.ProductName = productName
		for i, u := range r.Usages {
			ing, ok := locked[u.IngredientID]
			if !ok {
				return store.ErrNotFound
			}
			if !allowNegativeStock && ing.stock.Sub(u.ActualAmount).Sign() < 0 {
				return store.ErrInsufficientStock
			}
			r.Usages[i].IngredientName = ing.name
			r.Usages[i].Unit = ing.unit
		}

		for _, u := range r.Usages {
			if _, err := tx.ExecContext(ctx, `
				UPDATE ingredients
				SET current_stock = current_stock - $2, updated_at = now()
				WHERE id = $1
			`, u.IngredientID, u.ActualAmount); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity + $2 WHERE id = $1
		`, r.ProductID, r.QuantityProduced.IntPart()); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO production_runs (id, product_id, chef, quantity_produced, date_produced, notes)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, r.ID, r.ProductID, nullIfEmpty(r.Chef), r.QuantityProduced, r.DateProduced, nullIfEmpty(r.Notes)); err != nil {
			return err
		}
		for _, u := range r.Usages {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO production_run_usages (run_id, ingredient_id, theoretical_amount, actual_amount, wastage)
				VALUES ($1,$2,$3,$4,$5)
			`, r.ID, u.IngredientID, u.TheoreticalAmount, u.ActualAmount, u.Wastage); err != nil {
				return err
			}
		}

		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteProductionRun restores each ingredient by the recorded actual
// amount, not the theoretical one, and never touches average cost.
func (s *Store) DeleteProductionRun(ctx context.Context, id string) (*domain.ProductionRun, error) {
	var deleted domain.ProductionRun
	err := s.withSerializableRetry(ctx, func(tx *sql.Tx) error {
		run, err := loadRunTx(ctx, tx, id, true)
		if err != nil {
			return err
		}

		for _, u := range run.Usages {
			if _, err := tx.ExecContext(ctx, `
				UPDATE ingredients
				SET current_stock = current_stock + $2, updated_at = now()
				WHERE id = $1
			`, u.IngredientID, u.ActualAmount); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE products SET stock_quantity = stock_quantity - $2 WHERE id = $1
		`, run.ProductID, run.QuantityProduced.IntPart()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM production_run_usages WHERE run_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM production_runs WHERE id = $1`, id); err != nil {
			return err
		}

		deleted = *run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

func (s *Store) GetProductionRun(ctx context.Context, id string) (*domain.ProductionRun, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	run, err := loadRunTx(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

func loadRunTx(ctx context.Context, tx *sql.Tx, id string, forUpdate bool) (*domain.ProductionRun, error) {
	query := `
		SELECT r.id, r.product_id, p.name, COALESCE(r.chef, ''), r.quantity_produced, r.date_produced, COALESCE(r.notes, '')
		FROM production_runs r
		JOIN products p ON p.id = r.product_id
		WHERE r.id = $1
	`
	if forUpdate {
		query += ` FOR UPDATE OF r`
	}

	var run domain.ProductionRun
	err := tx.QueryRowContext(ctx, query, id).
		Scan(&run.ID, &run.ProductID, &run.ProductName, &run.Chef, &run.QuantityProduced, &run.DateProduced, &run.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT u.ingredient_id, i.name, i.unit, u.theoretical_amount, u.actual_amount, u.wastage
		FROM production_run_usages u
		JOIN ingredients i ON i.id = u.ingredient_id
		WHERE u.run_id = $1
		ORDER BY u.ingredient_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u domain.IngredientUsage
		if err := rows.Scan(&u.IngredientID, &u.IngredientName, &u.Unit, &u.TheoreticalAmount, &u.ActualAmount, &u.Wastage); err != nil {
			return nil, err
		}
		run.Usages = append(run.Usages, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) ListProductionRuns(ctx context.Context, filter domain.ProductionRunFilter) ([]domain.ProductionRun, error) {
	query := `
		SELECT r.id, r.product_id, p.name, COALESCE(r.chef, ''), r.quantity_produced, r.date_produced, COALESCE(r.notes, '')
		FROM production_runs r
		JOIN products p ON p.id = r.product_id
		WHERE 1=1
	`
	args := make([]any, 0, 3)
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += ` AND r.product_id = $1`
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += ` AND r.date_produced >= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY r.date_produced DESC, r.id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]domain.ProductionRun, 0, 32)
	for rows.Next() {
		var run domain.ProductionRun
		if err := rows.Scan(&run.ID, &run.ProductID, &run.ProductName, &run.Chef,
			&run.QuantityProduced, &run.DateProduced, &run.Notes); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range runs {
		usageRows, err := s.db.QueryContext(ctx, `
			SELECT u.ingredient_id, i.name, i.unit, u.theoretical_amount, u.actual_amount, u.wastage
			FROM production_run_usages u
			JOIN ingredients i ON i.id = u.ingredient_id
			WHERE u.run_id = $1
			ORDER BY u.ingredient_id
		`, runs[i].ID)
		if err != nil {
			return nil, err
		}
		for usageRows.Next() {
			var u domain.IngredientUsage
			if err := usageRows.Scan(&u.IngredientID, &u.IngredientName, &u.Unit,
				&u.TheoreticalAmount, &u.ActualAmount, &u.Wastage); err != nil {
				usageRows.Close()
				return nil, err
			}
			runs[i].Usages = append(runs[i].Usages, u)
		}
		if err := usageRows.Err(); err != nil {
			usageRows.Close()
			return nil, err
		}
		usageRows.Close()
	}
	return runs, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, nullIfEmpty(entry.EntityID), nullIfEmpty(entry.Detail), entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	query := `
		SELECT id, actor_username, actor_role, action, entity_type, COALESCE(entity_id, ''), COALESCE(detail, ''), created_at
		FROM audit_logs
		ORDER BY created_at DESC, id DESC
	`
	args := make([]any, 0, 1)
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $1`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 64)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || !domain.ValidRole(user.Role) {
		return store.ErrInvalidQuantity
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var u domain.UserAccount
		if err := rows.Scan(&u.Username, &u.Password, &u.Role, &u.Active, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// withSerializableRetry runs fn in a serializable transaction, retrying a
// bounded number of times when postgres aborts the transaction with a
// serialization failure or deadlock. Anything else is surfaced as-is.
func (s *Store) withSerializableRetry(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < serializableAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
		} else {
			_ = tx.Rollback()
		}

		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
	}
	return errors.Join(store.ErrConflict, lastErr)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func scanIngredients(rows *sql.Rows) ([]domain.Ingredient, error) {
	ingredients := make([]domain.Ingredient, 0, 64)
	for rows.Next() {
		var ing domain.Ingredient
		if err := rows.Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.CurrentStock, &ing.ReorderPoint,
			&ing.AverageCostPerUnit, &ing.LastPurchasedPrice, &ing.UpdatedAt); err != nil {
			return nil, err
		}
		ingredients = append(ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ingredients, nil
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
