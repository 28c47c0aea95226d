package store

import (
	"context"
	"errors"

	"bakehouse/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInvalidCost       = errors.New("invalid cost")
	ErrMissingRecipe     = errors.New("product has no recipe")
	ErrInvalidRecipe     = errors.New("invalid recipe")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflicting concurrent update")
)

// Repository is the persistence boundary of the ledger. Every mutating call
// is atomic: either all of its row changes land or none do. Purchase,
// adjustment, and production-run methods carry the stock/costing side
// effects so that the computation and the write share one transaction.
type Repository interface {
	CreateIngredient(ctx context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error)
	GetIngredient(ctx context.Context, id string) (*domain.Ingredient, error)
	ListIngredients(ctx context.Context) ([]domain.Ingredient, error)
	UpdateIngredient(ctx context.Context, ingredient domain.Ingredient) (*domain.Ingredient, error)
	LowStockIngredients(ctx context.Context) ([]domain.Ingredient, error)

	// RecordPurchase applies the weighted-average costing update and the
	// stock increment, and persists the purchase row, in one transaction.
	RecordPurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, *domain.Ingredient, error)
	ListPurchases(ctx context.Context, filter domain.PurchaseFilter) ([]domain.Purchase, error)

	RecordAdjustment(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, *domain.Ingredient, error)
	DeleteAdjustment(ctx context.Context, id string) (*domain.Ingredient, error)
	ListAdjustments(ctx context.Context, filter domain.AdjustmentFilter) ([]domain.StockAdjustment, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	UpsertRecipe(ctx context.Context, recipe domain.Recipe) (*domain.Recipe, error)
	GetRecipeByProduct(ctx context.Context, productID string) (*domain.Recipe, error)
	ListRecipes(ctx context.Context) ([]domain.Recipe, error)

	// CreateProductionRun consumes ingredient stock by each usage's actual
	// amount and increments product stock, atomically with the run insert.
	// When allowNegativeStock is false the run fails with
	// ErrInsufficientStock instead of driving any ingredient negative.
	CreateProductionRun(ctx context.Context, run domain.ProductionRun, allowNegativeStock bool) (*domain.ProductionRun, error)
	// DeleteProductionRun restores ingredient stock by the recorded actual
	// amounts and decrements product stock, atomically with the delete.
	DeleteProductionRun(ctx context.Context, id string) (*domain.ProductionRun, error)
	GetProductionRun(ctx context.Context, id string) (*domain.ProductionRun, error)
	ListProductionRuns(ctx context.Context, filter domain.ProductionRunFilter) ([]domain.ProductionRun, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
