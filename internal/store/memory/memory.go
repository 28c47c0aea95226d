package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bakehouse/backend/internal/domain"
	"bakehouse/backend/internal/ledger"
	"bakehouse/backend/internal/store"
	"bakehouse/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	ingredients   map[string]domain.Ingredient
	purchases     map[string]domain.Purchase
	adjustments   map[string]domain.StockAdjustment
	products      map[string]domain.Product
	recipesByProd map[string]domain.Recipe
	runsByID      map[string]domain.ProductionRun
	auditLogs     []domain.AuditLog
	usersByName   map[string]domain.UserAccount
}

// New returns an empty in-memory store, mostly useful in tests.
func New() *Store {
	return &Store{
		ingredients:   make(map[string]domain.Ingredient),
		purchases:     make(map[string]domain.Purchase),
		adjustments:   make(map[string]domain.StockAdjustment),
		products:      make(map[string]domain.Product),
		recipesByProd: make(map[string]domain.Recipe),
		runsByID:      make(map[string]domain.ProductionRun),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		usersByName:   make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD, SEED_STOREKEEPER_PASSWORD
// and SEED_CHEF_PASSWORD environment variables. If unset, hardcoded dev
// defaults are used with a warning printed to stdout. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL is
// set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	keeperPwd := envOr("SEED_STOREKEEPER_PASSWORD", "keeper123")
	chefPwd := envOr("SEED_CHEF_PASSWORD", "chef123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STOREKEEPER_PASSWORD") == "" || os.Getenv("SEED_CHEF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD, SEED_STOREKEEPER_PASSWORD and SEED_CHEF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"storekeeper", keeperPwd, domain.RoleStorekeeper},
		{"chef", chefPwd, domain.RoleChef},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	ingredients := []domain.Ingredient{
		{ID: "ing-flour", Name: "Bread Flour", Unit: domain.UnitKg, CurrentStock: dec("25"), ReorderPoint: dec("10"), AverageCostPerUnit: dec("1.2"), LastPurchasedPrice: dec("1.25"), UpdatedAt: now},
		{ID: "ing-sugar", Name: "Caster Sugar", Unit: domain.UnitKg, CurrentStock: dec("8"), ReorderPoint: dec("5"), AverageCostPerUnit: dec("1.8"), LastPurchasedPrice: dec("1.8"), UpdatedAt: now},
		{ID: "ing-butter", Name: "Butter", Unit: domain.UnitKg, CurrentStock: dec("4"), ReorderPoint: dec("6"), AverageCostPerUnit: dec("9.5"), LastPurchasedPrice: dec("10"), UpdatedAt: now},
		{ID: "ing-eggs", Name: "Eggs", Unit: domain.UnitPcs, CurrentStock: dec("90"), ReorderPoint: dec("60"), AverageCostPerUnit: dec("0.3"), LastPurchasedPrice: dec("0.32"), UpdatedAt: now},
		{ID: "ing-milk", Name: "Whole Milk", Unit: domain.UnitL, CurrentStock: dec("12"), ReorderPoint: dec("8"), AverageCostPerUnit: dec("1.1"), LastPurchasedPrice: dec("1.1"), UpdatedAt: now},
		{ID: "ing-yeast", Name: "Instant Yeast", Unit: domain.UnitG, CurrentStock: dec("400"), ReorderPoint: dec("250"), AverageCostPerUnit: dec("0.02"), LastPurchasedPrice: dec("0.02"), UpdatedAt: now},
	}

	products := []domain.Product{
		{ID: "prod-burger-bun", Name: "Burger Bun", Description: "Soft white burger bun", SellingPrice: dec("0.9"), StockQuantity: 40, IsActive: true, CreatedAt: now},
		{ID: "prod-sponge-cake", Name: "Sponge Cake", Description: "Classic vanilla sponge", SellingPrice: dec("12"), StockQuantity: 6, IsActive: true, CreatedAt: now},
		{ID: "prod-croissant", Name: "Croissant", Description: "Butter croissant", SellingPrice: dec("2.2"), StockQuantity: 18, IsActive: true, CreatedAt: now},
	}

	recipes := []domain.Recipe{
		{
			ID: "rcp-burger-bun", ProductID: "prod-burger-bun", StandardYield: dec("20"),
			Instructions: "Knead, proof 1h, shape, proof 40m, bake at 190C.",
			Items: []domain.RecipeItem{
				{IngredientID: "ing-flour", Quantity: dec("1.2")},
				{IngredientID: "ing-sugar", Quantity: dec("0.1")},
				{IngredientID: "ing-butter", Quantity: dec("0.15")},
				{IngredientID: "ing-milk", Quantity: dec("0.6")},
				{IngredientID: "ing-yeast", Quantity: dec("14")},
			},
		},
		{
			ID: "rcp-sponge-cake", ProductID: "prod-sponge-cake", StandardYield: dec("2"),
			Instructions: "Whisk eggs and sugar to ribbon stage, fold flour, bake at 170C.",
			Items: []domain.RecipeItem{
				{IngredientID: "ing-flour", Quantity: dec("0.5")},
				{IngredientID: "ing-sugar", Quantity: dec("0.5")},
				{IngredientID: "ing-eggs", Quantity: dec("10")},
				{IngredientID: "ing-butter", Quantity: dec("0.1")},
			},
		},
	}

	s := New()
	for _, ing := range ingredients {
		s.ingredients[ing.ID] = ing
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	for _, r := range recipes {
		s.recipesByProd[r.ProductID] = r
	}
	s.usersByName = seedUsers()
	return s
}

func (s *Store) CreateIngredient(_ context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ingredient.Name == "" || !domain.ValidUnit(ingredient.Unit) {
		return nil, store.ErrInvalidQuantity
	}
	if ingredient.ID == "" {
		ingredient.ID = xid.New("ing")
	}
	if _, exists := s.ingredients[ingredient.ID]; exists {
		return nil, store.ErrConflict
	}
	ingredient.UpdatedAt = time.Now().UTC()
	s.ingredients[ingredient.ID] = ingredient
	created := ingredient
	return &created, nil
}

func (s *Store) GetIngredient(_ context.Context, id string) (*domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ing, exists := s.ingredients[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyIng := ing
	return &copyIng, nil
}

func (s *Store) ListIngredients(_ context.Context) ([]domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ingredients := make([]domain.Ingredient, 0, len(s.ingredients))
	for _, ing := range s.ingredients {
		ingredients = append(ingredients, ing)
	}
	slices.SortFunc(ingredients, func(a, b domain.Ingredient) int {
		return cmpString(a.Name, b.Name)
	})
	return ingredients, nil
}

func (s *Store) UpdateIngredient(_ context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.ingredients[ingredient.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if ingredient.Name == "" || !domain.ValidUnit(ingredient.Unit) {
		return nil, store.ErrInvalidQuantity
	}

	// Stock and costing fields are owned by the ledger operations; an
	// update can only touch the descriptive fields.
	existing.Name = ingredient.Name
	existing.Unit = ingredient.Unit
	existing.ReorderPoint = ingredient.ReorderPoint
	existing.UpdatedAt = time.Now().UTC()
	s.ingredients[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) LowStockIngredients(_ context.Context) ([]domain.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	low := make([]domain.Ingredient, 0)
	for _, ing := range s.ingredients {
		if ledger.NeedsReorder(ing.CurrentStock, ing.ReorderPoint) {
			low = append(low, ing)
		}
	}
	slices.SortFunc(low, func(a, b domain.Ingredient) int {
		return cmpString(a.Name, b.Name)
	})
	return low, nil
}

func (s *Store) RecordPurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, *domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, exists := s.ingredients[purchase.IngredientID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if purchase.Quantity.Sign() <= 0 {
		return nil, nil, store.ErrInvalidQuantity
	}
	if purchase.TotalCost.Sign() < 0 {
		return nil, nil, store.ErrInvalidCost
	}

	unitCost := ledger.UnitCost(purchase.TotalCost, purchase.Quantity)
	purchase.UnitCost = unitCost
	purchase.IsPriceAnomaly = ledger.IsPriceAnomaly(ing.AverageCostPerUnit, unitCost)
	purchase.IngredientName = ing.Name
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.PurchaseDate.IsZero() {
		purchase.PurchaseDate = time.Now().UTC()
	}

	ing.AverageCostPerUnit = ledger.NextAverageCost(ing.CurrentStock, ing.AverageCostPerUnit, purchase.Quantity, unitCost)
	ing.CurrentStock = ing.CurrentStock.Add(purchase.Quantity)
	ing.LastPurchasedPrice = unitCost
	ing.UpdatedAt = time.Now().UTC()

	s.ingredients[ing.ID] = ing
	s.purchases[purchase.ID] = purchase

	createdPurchase := purchase
	updatedIng := ing
	return &createdPurchase, &updatedIng, nil
}

func (s *Store) ListPurchases(_ context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Purchase, 0, len(s.purchases))
	for _, p := range s.purchases {
		if filter.IngredientID != "" && p.IngredientID != filter.IngredientID {
			continue
		}
		if filter.AnomalyOnly && !p.IsPriceAnomaly {
			continue
		}
		if filter.Since != nil && p.PurchaseDate.Before(*filter.Since) {
			continue
		}
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Purchase) int {
		if a.PurchaseDate.Equal(b.PurchaseDate) {
			return cmpString(b.ID, a.ID)
		}
		if a.PurchaseDate.After(b.PurchaseDate) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) RecordAdjustment(_ context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, *domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, exists := s.ingredients[adjustment.IngredientID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	if adjustment.QuantityChange.Sign() == 0 {
		return nil, nil, store.ErrInvalidQuantity
	}
	if !domain.ValidAdjustmentReason(adjustment.Reason) {
		return nil, nil, store.ErrInvalidQuantity
	}

	if adjustment.ID == "" {
		adjustment.ID = xid.New("adj")
	}
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	adjustment.IngredientName = ing.Name

	ing.CurrentStock = ing.CurrentStock.Add(adjustment.QuantityChange)
	ing.UpdatedAt = time.Now().UTC()

	s.ingredients[ing.ID] = ing
	s.adjustments[adjustment.ID] = adjustment

	createdAdj := adjustment
	updatedIng := ing
	return &createdAdj, &updatedIng, nil
}

func (s *Store) DeleteAdjustment(_ context.Context, id string) (*domain.Ingredient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	adj, exists := s.adjustments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	ing, exists := s.ingredients[adj.IngredientID]
	if !exists {
		return nil, store.ErrNotFound
	}

	ing.CurrentStock = ing.CurrentStock.Sub(adj.QuantityChange)
	ing.UpdatedAt = time.Now().UTC()
	s.ingredients[ing.ID] = ing
	delete(s.adjustments, id)

	restored := ing
	return &restored, nil
}

func (s *Store) ListAdjustments(_ context.Context, filter domain.AdjustmentFilter) ([]domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockAdjustment, 0, len(s.adjustments))
	for _, adj := range s.adjustments {
		if filter.IngredientID != "" && adj.IngredientID != filter.IngredientID {
			continue
		}
		if filter.Since != nil && adj.CreatedAt.Before(*filter.Since) {
			continue
		}
		result = append(result, adj)
	}
	slices.SortFunc(result, func(a, b domain.StockAdjustment) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.SellingPrice.Sign() < 0 {
		return nil, store.ErrInvalidCost
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	product.IsActive = true
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.SellingPrice.Sign() < 0 {
		return nil, store.ErrInvalidCost
	}

	// StockQuantity moves only with production runs.
	existing.Name = product.Name
	existing.Description = product.Description
	existing.SellingPrice = product.SellingPrice
	existing.IsActive = product.IsActive
	s.products[existing.ID] = existing
	updated := existing
	return &updated, nil
}

func (s *Store) UpsertRecipe(_ context.Context, recipe domain.Recipe) (*domain.Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[recipe.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if recipe.StandardYield.Sign() <= 0 || len(recipe.Items) == 0 {
		return nil, store.ErrInvalidRecipe
	}
	for i, item := range recipe.Items {
		ing, ok := s.ingredients[item.IngredientID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if item.Quantity.Sign() <= 0 {
			return nil, store.ErrInvalidRecipe
		}
		recipe.Items[i].IngredientName = ing.Name
		recipe.Items[i].Unit = ing.Unit
	}

	if existing, ok := s.recipesByProd[recipe.ProductID]; ok {
		recipe.ID = existing.ID
	} else if recipe.ID == "" {
		recipe.ID = xid.New("rcp")
	}
	recipe.ProductName = product.Name
	s.recipesByProd[recipe.ProductID] = recipe
	saved := recipe
	return &saved, nil
}

func (s *Store) GetRecipeByProduct(_ context.Context, productID string) (*domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipe, exists := s.recipesByProd[productID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRecipe := recipe
	copyRecipe.Items = slices.Clone(recipe.Items)
	return &copyRecipe, nil
}

func (s *Store) ListRecipes(_ context.Context) ([]domain.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recipes := make([]domain.Recipe, 0, len(s.recipesByProd))
	for _, r := range s.recipesByProd {
		r.Items = slices.Clone(r.Items)
		recipes = append(recipes, r)
	}
	slices.SortFunc(recipes, func(a, b domain.Recipe) int {
		return cmpString(a.ProductName, b.ProductName)
	})
	return recipes, nil
}

func (s *Store) CreateProductionRun(_ context.Context, run domain.ProductionRun, allowNegativeStock bool) (*domain.ProductionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[run.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if run.QuantityProduced.Sign() <= 0 {
		return nil, store.ErrInvalidQuantity
	}

	// Validate the whole usage set before touching any row: the run either
	// applies completely or not at all.
	for _, u := range run.Usages {
		ing, ok := s.ingredients[u.IngredientID]
		if !ok {
			return nil, store.ErrNotFound
		}
		if u.ActualAmount.Sign() < 0 {
			return nil, store.ErrInvalidQuantity
		}
		if !allowNegativeStock && ing.CurrentStock.Sub(u.ActualAmount).Sign() < 0 {
			return nil, store.ErrInsufficientStock
		}
	}

	if run.ID == "" {
		run.ID = xid.New("run")
	}
	if run.DateProduced.IsZero() {
		run.DateProduced = time.Now().UTC()
	}
	run.ProductName = product.Name

	now := time.Now().UTC()
	for i, u := range run.Usages {
		ing := s.ingredients[u.IngredientID]
		ing.CurrentStock = ing.CurrentStock.Sub(u.ActualAmount)
		ing.UpdatedAt = now
		s.ingredients[ing.ID] = ing
		run.Usages[i].IngredientName = ing.Name
		run.Usages[i].Unit = ing.Unit
	}
	product.StockQuantity += run.QuantityProduced.IntPart()
	s.products[product.ID] = product

	run.Usages = slices.Clone(run.Usages)
	s.runsByID[run.ID] = run
	created := run
	created.Usages = slices.Clone(run.Usages)
	return &created, nil
}

func (s *Store) DeleteProductionRun(_ context.Context, id string) (*domain.ProductionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	now := time.Now().UTC()
	for _, u := range run.Usages {
		ing, ok := s.ingredients[u.IngredientID]
		if !ok {
			continue
		}
		// Restore the physically consumed amount, not the theoretical one.
		ing.CurrentStock = ing.CurrentStock.Add(u.ActualAmount)
		ing.UpdatedAt = now
		s.ingredients[ing.ID] = ing
	}
	if product, ok := s.products[run.ProductID]; ok {
		product.StockQuantity -= run.QuantityProduced.IntPart()
		s.products[product.ID] = product
	}
	delete(s.runsByID, id)

	deleted := run
	deleted.Usages = slices.Clone(run.Usages)
	return &deleted, nil
}

func (s *Store) GetProductionRun(_ context.Context, id string) (*domain.ProductionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRun := run
	copyRun.Usages = slices.Clone(run.Usages)
	return &copyRun, nil
}

func (s *Store) ListProductionRuns(_ context.Context, filter domain.ProductionRunFilter) ([]domain.ProductionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductionRun, 0, len(s.runsByID))
	for _, run := range s.runsByID {
		if filter.ProductID != "" && run.ProductID != filter.ProductID {
			continue
		}
		if filter.Since != nil && run.DateProduced.Before(*filter.Since) {
			continue
		}
		run.Usages = slices.Clone(run.Usages)
		result = append(result, run)
	}
	slices.SortFunc(result, func(a, b domain.ProductionRun) int {
		if a.DateProduced.Equal(b.DateProduced) {
			return cmpString(b.ID, a.ID)
		}
		if a.DateProduced.After(b.DateProduced) {
			return -1
		}
		return 1
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" || !domain.ValidRole(user.Role) {
		return store.ErrInvalidQuantity
	}
	if _, exists := s.usersByName[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, u := range s.usersByName {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByName[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

func cmpString(a, b string) int {
	return strings.Compare(a, b)
}
