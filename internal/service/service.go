package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bakehouse/backend/internal/cache"
	"bakehouse/backend/internal/domain"
	"bakehouse/backend/internal/ledger"
	"bakehouse/backend/internal/notify"
	"bakehouse/backend/internal/store"
	"bakehouse/backend/internal/xid"
)

// ErrForbidden is returned when the acting user's role does not permit the
// operation.
var ErrForbidden = errors.New("forbidden role")

const shoppingListCacheKey = "shopping-list"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// AllowNegativeStock lets production runs drive ingredient stock below
	// zero instead of failing with ErrInsufficientStock.
	AllowNegativeStock bool
	// ShoppingListTTL bounds how stale a cached shopping list may get.
	ShoppingListTTL time.Duration
}

type Service struct {
	repo               store.Repository
	publisher          notify.Publisher
	listCache          cache.ShoppingListCache
	allowNegativeStock bool
	shoppingListTTL    time.Duration
}

func New(repo store.Repository, publisher notify.Publisher, listCache cache.ShoppingListCache, opts Options) *Service {
	if publisher == nil {
		publisher = notify.NoopPublisher{}
	}
	if listCache == nil {
		listCache = cache.NoopShoppingListCache{}
	}
	if opts.ShoppingListTTL <= 0 {
		opts.ShoppingListTTL = 30 * time.Second
	}

	return &Service{
		repo:               repo,
		publisher:          publisher,
		listCache:          listCache,
		allowNegativeStock: opts.AllowNegativeStock,
		shoppingListTTL:    opts.ShoppingListTTL,
	}
}

func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrForbidden
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return actor, ErrForbidden
}

func (s *Service) ListIngredients(ctx context.Context) ([]domain.Ingredient, error) {
	return s.repo.ListIngredients(ctx)
}

func (s *Service) GetIngredient(ctx context.Context, id string) (domain.Ingredient, error) {
	ing, err := s.repo.GetIngredient(ctx, id)
	if err != nil {
		return domain.Ingredient{}, err
	}
	return *ing, nil
}

func (s *Service) CreateIngredient(ctx context.Context, req domain.IngredientCreateRequest) (domain.Ingredient, error) {
	_, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStorekeeper)
	if err != nil {
		return domain.Ingredient{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || !domain.ValidUnit(req.Unit) {
		return domain.Ingredient{}, store.ErrInvalidQuantity
	}
	if req.ReorderPoint.Sign() < 0 {
		return domain.Ingredient{}, store.ErrInvalidQuantity
	}

	created, err := s.repo.CreateIngredient(ctx, domain.Ingredient{
		ID:           xid.New("ing"),
		Name:         req.Name,
		Unit:         req.Unit,
		ReorderPoint: req.ReorderPoint,
	})
	if err != nil {
		return domain.Ingredient{}, err
	}

	s.logAudit(ctx, "ingredient_create", "ingredient", created.ID, fmt.Sprintf("name=%s,unit=%s", created.Name, created.Unit))
	return *created, nil
}

func (s *Service) UpdateIngredient(ctx context.Context, id string, req domain.IngredientUpdateRequest) (domain.Ingredient, error) {
	_, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStorekeeper)
	if err != nil {
		return domain.Ingredient{}, err
	}

	existing, err := s.repo.GetIngredient(ctx, id)
	if err != nil {
		return domain.Ingredient{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Ingredient{}, store.ErrInvalidQuantity
		}
		updated.Name = name
	}
	if req.Unit != nil {
		if !domain.ValidUnit(*req.Unit) {
			return domain.Ingredient{}, store.ErrInvalidQuantity
		}
		updated.Unit = *req.Unit
	}
	if req.ReorderPoint != nil {
		if req.ReorderPoint.Sign() < 0 {
			return domain.Ingredient{}, store.ErrInvalidQuantity
		}
		updated.ReorderPoint = *req.ReorderPoint
	}

	saved, err := s.repo.UpdateIngredient(ctx, updated)
	if err != nil {
		return domain.Ingredient{}, err
	}

	s.logAudit(ctx, "ingredient_update", "ingredient", saved.ID, fmt.Sprintf("name=%s,reorder_point=%s", saved.Name, saved.ReorderPoint))
	return *saved, nil
}

// RecordPurchase applies the weighted-average costing update and stock
// increment for a received delivery. The anomaly flag is advisory: a flagged
// purchase is still recorded, and an event is emitted so someone can look at
// the invoice.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseCreateRequest) (domain.PurchaseResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStorekeeper)
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	if req.IngredientID == "" || req.Quantity.Sign() <= 0 {
		return domain.PurchaseResponse{}, store.ErrInvalidQuantity
	}
	if req.TotalCost.Sign() < 0 {
		return domain.PurchaseResponse{}, store.ErrInvalidCost
	}

	purchase, ingredient, err := s.repo.RecordPurchase(ctx, domain.Purchase{
		ID:           xid.New("pur"),
		IngredientID: req.IngredientID,
		Quantity:     req.Quantity,
		TotalCost:    req.TotalCost,
		Vendor:       strings.TrimSpace(req.Vendor),
		Notes:        strings.TrimSpace(req.Notes),
		PurchasedBy:  actor.Username,
		PurchaseDate: time.Now().UTC(),
	})
	if err != nil {
		return domain.PurchaseResponse{}, err
	}

	s.logAudit(ctx, "purchase_record", "purchase", purchase.ID,
		fmt.Sprintf("ingredient=%s,qty=%s,total=%s,anomaly=%t", purchase.IngredientID, purchase.Quantity, purchase.TotalCost, purchase.IsPriceAnomaly))
	s.invalidateShoppingList(ctx)

	s.publish(ctx, notify.EventPurchaseRecorded, map[string]string{
		"purchase_id":   purchase.ID,
		"ingredient":    ingredient.Name,
		"quantity":      purchase.Quantity.String(),
		"unit_cost":     purchase.UnitCost.String(),
		"current_stock": ingredient.CurrentStock.String(),
	})
	if purchase.IsPriceAnomaly {
		s.publish(ctx, notify.EventPriceAnomaly, map[string]string{
			"purchase_id": purchase.ID,
			"ingredient":  ingredient.Name,
			"unit_cost":   purchase.UnitCost.String(),
			"average":     ingredient.AverageCostPerUnit.String(),
		})
	}

	return domain.PurchaseResponse{Purchase: *purchase, Ingredient: *ingredient}, nil
}

func (s *Service) ListPurchases(ctx context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, error) {
	return s.repo.ListPurchases(ctx, filter)
}

// RecordAdjustment applies a signed manual stock delta. It never touches the
// weighted-average cost.
func (s *Service) RecordAdjustment(ctx context.Context, req domain.AdjustmentCreateRequest) (domain.AdjustmentResponse, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStorekeeper)
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}

	if req.IngredientID == "" || req.QuantityChange.Sign() == 0 {
		return domain.AdjustmentResponse{}, store.ErrInvalidQuantity
	}
	if !domain.ValidAdjustmentReason(req.Reason) {
		return domain.AdjustmentResponse{}, store.ErrInvalidQuantity
	}

	adjustment, ingredient, err := s.repo.RecordAdjustment(ctx, domain.StockAdjustment{
		ID:             xid.New("adj"),
		IngredientID:   req.IngredientID,
		QuantityChange: req.QuantityChange,
		Reason:         req.Reason,
		Actor:          actor.Username,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.AdjustmentResponse{}, err
	}

	s.logAudit(ctx, "adjustment_record", "adjustment", adjustment.ID,
		fmt.Sprintf("ingredient=%s,change=%s,reason=%s", adjustment.IngredientID, adjustment.QuantityChange, adjustment.Reason))
	s.invalidateShoppingList(ctx)
	s.publish(ctx, notify.EventStockAdjustment, map[string]string{
		"adjustment_id": adjustment.ID,
		"ingredient":    ingredient.Name,
		"change":        adjustment.QuantityChange.String(),
		"reason":        adjustment.Reason,
	})
	s.notifyIfLowStock(ctx, ingredient)

	return domain.AdjustmentResponse{Adjustment: *adjustment, Ingredient: *ingredient}, nil
}

func (s *Service) DeleteAdjustment(ctx context.Context, id string) (domain.Ingredient, error) {
	_, err := requireRole(ctx, domain.RoleAdmin, domain.RoleStorekeeper)
	if err != nil {
		return domain.Ingredient{}, err
	}

	restored, err := s.repo.DeleteAdjustment(ctx, id)
	if err != nil {
		return domain.Ingredient{}, err
	}

	s.logAudit(ctx, "adjustment_delete", "adjustment", id, fmt.Sprintf("ingredient=%s", restored.ID))
	s.invalidateShoppingList(ctx)
	return *restored, nil
}

func (s *Service) ListAdjustments(ctx context.Context, filter domain.AdjustmentFilter) ([]domain.StockAdjustment, error) {
	return s.repo.ListAdjustments(ctx, filter)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	_, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.SellingPrice.Sign() < 0 {
		return domain.Product{}, store.ErrInvalidCost
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:           xid.New("prod"),
		Name:         req.Name,
		Description:  strings.TrimSpace(req.Description),
		SellingPrice: req.SellingPrice,
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.SellingPrice))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	_, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidCost
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.Sign() < 0 {
			return domain.Product{}, store.ErrInvalidCost
		}
		updated.SellingPrice = *req.SellingPrice
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s", saved.Name))
	return *saved, nil
}

func (s *Service) ListRecipes(ctx context.Context) ([]domain.Recipe, error) {
	return s.repo.ListRecipes(ctx)
}

func (s *Service) GetRecipeByProduct(ctx context.Context, productID string) (domain.Recipe, error) {
	recipe, err := s.repo.GetRecipeByProduct(ctx, productID)
	if err != nil {
		return domain.Recipe{}, err
	}
	return *recipe, nil
}

// UpsertRecipe replaces a product's recipe. A non-positive standard yield is
// rejected here so scaling never has to deal with it.
func (s *Service) UpsertRecipe(ctx context.Context, req domain.RecipeUpsertRequest) (domain.Recipe, error) {
	_, err := requireRole(ctx, domain.RoleAdmin, domain.RoleChef)
	if err != nil {
		return domain.Recipe{}, err
	}

	if req.ProductID == "" || req.StandardYield.Sign() <= 0 || len(req.Items) == 0 {
		return domain.Recipe{}, store.ErrInvalidRecipe
	}
	seen := make(map[string]bool, len(req.Items))
	for _, item := range req.Items {
		if item.IngredientID == "" || item.Quantity.Sign() <= 0 {
			return domain.Recipe{}, store.ErrInvalidRecipe
		}
		if seen[item.IngredientID] {
			return domain.Recipe{}, store.ErrInvalidRecipe
		}
		seen[item.IngredientID] = true
	}

	saved, err := s.repo.UpsertRecipe(ctx, domain.Recipe{
		ProductID:     req.ProductID,
		Instructions:  strings.TrimSpace(req.Instructions),
		StandardYield: req.StandardYield,
		Items:         req.Items,
	})
	if err != nil {
		return domain.Recipe{}, err
	}

	s.logAudit(ctx, "recipe_upsert", "recipe", saved.ID, fmt.Sprintf("product=%s,yield=%s,items=%d", saved.ProductID, saved.StandardYield, len(saved.Items)))
	return *saved, nil
}

// CreateProductionRun scales the product's recipe to the produced quantity,
// merges the chef's actual-consumption overrides, and applies the whole
// stock movement atomically. An override is honored only when positive;
// zero or negative reports fall back to the theoretical amount.
func (s *Service) CreateProductionRun(ctx context.Context, req domain.ProductionRunCreateRequest) (domain.ProductionRun, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleChef)
	if err != nil {
		return domain.ProductionRun{}, err
	}

	if req.ProductID == "" || req.QuantityProduced.Sign() <= 0 {
		return domain.ProductionRun{}, store.ErrInvalidQuantity
	}

	recipe, err := s.repo.GetRecipeByProduct(ctx, req.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ProductionRun{}, store.ErrMissingRecipe
		}
		return domain.ProductionRun{}, err
	}

	theoretical := ledger.ScaleRecipe(recipe, req.QuantityProduced)

	overrides := make(map[string]decimal.Decimal, len(req.UsageOverrides))
	for _, o := range req.UsageOverrides {
		if o.ActualAmount.Sign() > 0 {
			overrides[o.IngredientID] = o.ActualAmount
		}
	}

	usages := make([]domain.IngredientUsage, 0, len(recipe.Items))
	for _, item := range recipe.Items {
		th := theoretical[item.IngredientID]
		actual := th
		if o, ok := overrides[item.IngredientID]; ok {
			actual = o
		}
		usages = append(usages, domain.IngredientUsage{
			IngredientID:      item.IngredientID,
			TheoreticalAmount: th,
			ActualAmount:      actual,
			Wastage:           ledger.Wastage(actual, th),
		})
	}

	created, err := s.repo.CreateProductionRun(ctx, domain.ProductionRun{
		ID:               xid.New("run"),
		ProductID:        req.ProductID,
		Chef:             actor.Username,
		QuantityProduced: req.QuantityProduced,
		DateProduced:     time.Now().UTC(),
		Notes:            strings.TrimSpace(req.Notes),
		Usages:           usages,
	}, s.allowNegativeStock)
	if err != nil {
		return domain.ProductionRun{}, err
	}

	s.logAudit(ctx, "production_run_create", "production_run", created.ID,
		fmt.Sprintf("product=%s,qty=%s", created.ProductID, created.QuantityProduced))
	s.invalidateShoppingList(ctx)
	s.publish(ctx, notify.EventProductionComplete, map[string]string{
		"run_id":   created.ID,
		"product":  created.ProductName,
		"quantity": created.QuantityProduced.String(),
	})
	s.notifyLowStockUsages(ctx, created.Usages)

	return *created, nil
}

// DeleteProductionRun undoes exactly what the forward transaction did:
// ingredients get back the recorded actual amounts, the product loses the
// produced quantity, average costs stay put.
func (s *Service) DeleteProductionRun(ctx context.Context, id string) (domain.ProductionRun, error) {
	_, err := requireRole(ctx, domain.RoleAdmin, domain.RoleChef)
	if err != nil {
		return domain.ProductionRun{}, err
	}

	deleted, err := s.repo.DeleteProductionRun(ctx, id)
	if err != nil {
		return domain.ProductionRun{}, err
	}

	s.logAudit(ctx, "production_run_delete", "production_run", id,
		fmt.Sprintf("product=%s,qty=%s", deleted.ProductID, deleted.QuantityProduced))
	s.invalidateShoppingList(ctx)
	s.publish(ctx, notify.EventProductionReversed, map[string]string{
		"run_id":   deleted.ID,
		"product":  deleted.ProductName,
		"quantity": deleted.QuantityProduced.String(),
	})

	return *deleted, nil
}

func (s *Service) GetProductionRun(ctx context.Context, id string) (domain.ProductionRun, error) {
	run, err := s.repo.GetProductionRun(ctx, id)
	if err != nil {
		return domain.ProductionRun{}, err
	}
	return *run, nil
}

func (s *Service) ListProductionRuns(ctx context.Context, filter domain.ProductionRunFilter) ([]domain.ProductionRun, error) {
	return s.repo.ListProductionRuns(ctx, filter)
}

// GetShoppingList scans for ingredients at or below their reorder point and
// renders the shareable text. Results are cached briefly; every stock
// mutation invalidates the cache.
func (s *Service) GetShoppingList(ctx context.Context) (domain.ShoppingListResponse, error) {
	if cached, ok, err := s.listCache.Get(ctx, shoppingListCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: shopping list cache read failed: %v", err)
	}

	low, err := s.repo.LowStockIngredients(ctx)
	if err != nil {
		return domain.ShoppingListResponse{}, err
	}

	items := make([]domain.ShoppingListItem, 0, len(low))
	for _, ing := range low {
		items = append(items, domain.ShoppingListItem{
			IngredientID: ing.ID,
			Name:         ing.Name,
			Unit:         ing.Unit,
			CurrentStock: ing.CurrentStock,
			ReorderPoint: ing.ReorderPoint,
			SuggestedQty: ledger.SuggestedOrderQty(ing.CurrentStock, ing.ReorderPoint),
		})
	}

	resp := domain.ShoppingListResponse{
		Items:       items,
		ShareText:   ledger.RenderShoppingListText(items),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.listCache.Set(ctx, shoppingListCacheKey, &resp, s.shoppingListTTL); err != nil {
		log.Printf("[service] WARN: shopping list cache write failed: %v", err)
	}
	return resp, nil
}

// GetRunWastageSummary reduces a run's wastage to equivalent finished-goods
// pieces for history views.
func (s *Service) GetRunWastageSummary(ctx context.Context, runID string) (domain.RunWastageSummary, error) {
	run, err := s.repo.GetProductionRun(ctx, runID)
	if err != nil {
		return domain.RunWastageSummary{}, err
	}

	pieces, isWaste := ledger.SummarizeRunWastage(run.Usages, run.QuantityProduced)
	return domain.RunWastageSummary{RunID: run.ID, Pieces: pieces, IsWaste: isWaste}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	_, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]string) {
	err := s.publisher.Publish(ctx, notify.Event{
		Type: eventType,
		At:   time.Now().UTC(),
		Data: data,
	})
	if err != nil {
		log.Printf("[service] WARN: failed to publish %s event: %v", eventType, err)
	}
}

func (s *Service) notifyIfLowStock(ctx context.Context, ingredient *domain.Ingredient) {
	if ingredient == nil {
		return
	}
	if !ledger.NeedsReorder(ingredient.CurrentStock, ingredient.ReorderPoint) {
		return
	}
	s.publish(ctx, notify.EventLowStock, map[string]string{
		"ingredient":    ingredient.Name,
		"current_stock": ingredient.CurrentStock.String(),
		"reorder_point": ingredient.ReorderPoint.String(),
	})
}

func (s *Service) notifyLowStockUsages(ctx context.Context, usages []domain.IngredientUsage) {
	for _, u := range usages {
		ing, err := s.repo.GetIngredient(ctx, u.IngredientID)
		if err != nil {
			continue
		}
		s.notifyIfLowStock(ctx, ing)
	}
}

func (s *Service) invalidateShoppingList(ctx context.Context) {
	if err := s.listCache.Invalidate(ctx, shoppingListCacheKey); err != nil {
		log.Printf("[service] WARN: shopping list cache invalidation failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s: %v", action, entityID, err)
	}
}
