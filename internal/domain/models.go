package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Units of measure an ingredient can be tracked in.
const (
	UnitKg  = "kg"
	UnitG   = "g"
	UnitL   = "l"
	UnitMl  = "ml"
	UnitPcs = "pcs"
)

func ValidUnit(unit string) bool {
	switch unit {
	case UnitKg, UnitG, UnitL, UnitMl, UnitPcs:
		return true
	}
	return false
}

// Reasons a manual stock adjustment can carry. Adjustments never touch the
// weighted-average cost, whatever the reason.
const (
	AdjustmentReasonWaste     = "waste"
	AdjustmentReasonTheft     = "theft"
	AdjustmentReasonAudit     = "audit"
	AdjustmentReasonReturn    = "return"
	AdjustmentReasonPackaging = "packaging_usage"
)

func ValidAdjustmentReason(reason string) bool {
	switch reason {
	case AdjustmentReasonWaste, AdjustmentReasonTheft, AdjustmentReasonAudit,
		AdjustmentReasonReturn, AdjustmentReasonPackaging:
		return true
	}
	return false
}

// Ingredient is the single owner of stock and costing state. CurrentStock and
// the cost fields are mutated only through ledger operations (purchase,
// adjustment, production run); they are never writable directly.
type Ingredient struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Unit               string          `json:"unit"`
	CurrentStock       decimal.Decimal `json:"current_stock"`
	ReorderPoint       decimal.Decimal `json:"reorder_point"`
	AverageCostPerUnit decimal.Decimal `json:"average_cost_per_unit"`
	LastPurchasedPrice decimal.Decimal `json:"last_purchased_price"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type IngredientCreateRequest struct {
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
}

type IngredientUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Unit         *string          `json:"unit,omitempty"`
	ReorderPoint *decimal.Decimal `json:"reorder_point,omitempty"`
}

// Purchase is an append-only costing event. UnitCost and IsPriceAnomaly are
// derived at insert time and immutable afterwards.
type Purchase struct {
	ID             string          `json:"id"`
	IngredientID   string          `json:"ingredient_id"`
	IngredientName string          `json:"ingredient_name,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	TotalCost      decimal.Decimal `json:"total_cost"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	Vendor         string          `json:"vendor,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	PurchasedBy    string          `json:"purchased_by,omitempty"`
	PurchaseDate   time.Time       `json:"purchase_date"`
	IsPriceAnomaly bool            `json:"is_price_anomaly"`
}

type PurchaseCreateRequest struct {
	IngredientID string          `json:"ingredient_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Vendor       string          `json:"vendor"`
	Notes        string          `json:"notes"`
}

type PurchaseResponse struct {
	Purchase   Purchase   `json:"purchase"`
	Ingredient Ingredient `json:"ingredient"`
}

type PurchaseFilter struct {
	IngredientID string
	AnomalyOnly  bool
	Since        *time.Time
	Limit        int
}

// StockAdjustment is a signed manual correction. Positive adds stock,
// negative removes it. Deleting an adjustment subtracts the same delta back.
type StockAdjustment struct {
	ID             string          `json:"id"`
	IngredientID   string          `json:"ingredient_id"`
	IngredientName string          `json:"ingredient_name,omitempty"`
	QuantityChange decimal.Decimal `json:"quantity_change"`
	Reason         string          `json:"reason"`
	Actor          string          `json:"actor,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type AdjustmentCreateRequest struct {
	IngredientID   string          `json:"ingredient_id"`
	QuantityChange decimal.Decimal `json:"quantity_change"`
	Reason         string          `json:"reason"`
	Notes          string          `json:"notes"`
}

type AdjustmentResponse struct {
	Adjustment StockAdjustment `json:"adjustment"`
	Ingredient Ingredient      `json:"ingredient"`
}

type AdjustmentFilter struct {
	IngredientID string
	Since        *time.Time
	Limit        int
}

// Product is a finished good. StockQuantity moves only with production runs
// (incremented on create, decremented on delete).
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	StockQuantity int64           `json:"stock_quantity"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	SellingPrice decimal.Decimal `json:"selling_price"`
}

type ProductUpdateRequest struct {
	Name         *string          `json:"name,omitempty"`
	Description  *string          `json:"description,omitempty"`
	SellingPrice *decimal.Decimal `json:"selling_price,omitempty"`
	IsActive     *bool            `json:"is_active,omitempty"`
}

// RecipeItem is one line of a recipe: the quantity of an ingredient required
// per StandardYield units of output.
type RecipeItem struct {
	IngredientID   string          `json:"ingredient_id"`
	IngredientName string          `json:"ingredient_name,omitempty"`
	Unit           string          `json:"unit,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
}

// Recipe calibrates ingredient quantities against a standard yield. Yield
// must be validated positive at creation time; scaling assumes it.
type Recipe struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name,omitempty"`
	Instructions  string          `json:"instructions,omitempty"`
	StandardYield decimal.Decimal `json:"standard_yield"`
	Items         []RecipeItem    `json:"items"`
}

type RecipeUpsertRequest struct {
	ProductID     string          `json:"product_id"`
	Instructions  string          `json:"instructions"`
	StandardYield decimal.Decimal `json:"standard_yield"`
	Items         []RecipeItem    `json:"items"`
}

// IngredientUsage records theoretical vs actual consumption for one
// ingredient in one production run. Wastage = actual - theoretical.
type IngredientUsage struct {
	IngredientID      string          `json:"ingredient_id"`
	IngredientName    string          `json:"ingredient_name,omitempty"`
	Unit              string          `json:"unit,omitempty"`
	TheoreticalAmount decimal.Decimal `json:"theoretical_amount"`
	ActualAmount      decimal.Decimal `json:"actual_amount"`
	Wastage           decimal.Decimal `json:"wastage"`
}

// UsageOverride is the chef's reported actual consumption for one
// ingredient. Overrides <= 0 are ignored and the theoretical amount is used.
type UsageOverride struct {
	IngredientID string          `json:"ingredient_id"`
	ActualAmount decimal.Decimal `json:"actual_amount"`
}

// ProductionRun is the unit of atomicity for the production ledger: created
// with its full usage set or not at all, deleted the same way.
type ProductionRun struct {
	ID               string            `json:"id"`
	ProductID        string            `json:"product_id"`
	ProductName      string            `json:"product_name,omitempty"`
	Chef             string            `json:"chef,omitempty"`
	QuantityProduced decimal.Decimal   `json:"quantity_produced"`
	DateProduced     time.Time         `json:"date_produced"`
	Notes            string            `json:"notes,omitempty"`
	Usages           []IngredientUsage `json:"usages"`
}

type ProductionRunCreateRequest struct {
	ProductID        string          `json:"product_id"`
	QuantityProduced decimal.Decimal `json:"quantity_produced"`
	Notes            string          `json:"notes"`
	UsageOverrides   []UsageOverride `json:"usage_overrides,omitempty"`
}

type ProductionRunFilter struct {
	ProductID string
	Since     *time.Time
	Limit     int
}

type ShoppingListItem struct {
	IngredientID string          `json:"ingredient_id"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	SuggestedQty decimal.Decimal `json:"suggested_qty"`
}

type ShoppingListResponse struct {
	Items       []ShoppingListItem `json:"items"`
	ShareText   string             `json:"share_text"`
	GeneratedAt string             `json:"generated_at"`
}

// RunWastageSummary reduces a run's per-ingredient wastage to equivalent
// finished-goods pieces. IsWaste is false both for savings and for the zero
// case (Pieces tells them apart).
type RunWastageSummary struct {
	RunID   string          `json:"run_id"`
	Pieces  decimal.Decimal `json:"pieces"`
	IsWaste bool            `json:"is_waste"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type User struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

// Roles understood by the API layer. Storekeepers run the inventory ledger,
// chefs run production, cashiers only read finished goods.
const (
	RoleAdmin       = "admin"
	RoleStorekeeper = "storekeeper"
	RoleChef        = "chef"
	RoleCashier     = "cashier"
)

func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleStorekeeper, RoleChef, RoleCashier:
		return true
	}
	return false
}
