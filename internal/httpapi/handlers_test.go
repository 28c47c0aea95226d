package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"bakehouse/backend/internal/domain"
	"bakehouse/backend/internal/service"
	"bakehouse/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, service.Options{})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// loginAs obtains an access token for one of the seeded accounts.
func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleIngredients_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ingredients", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleIngredients_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "admin", "admin123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/ingredients", token, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ingredients"] == nil {
		t.Fatalf("expected ingredients key in response, got %v", body)
	}
}

func TestHandlePurchases_RecordsAndFlagsAnomaly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "storekeeper", "keeper123")

	// Seeded flour averages 1.2 per kg. A unit cost of 2.0 is well over the
	// 30% threshold and must come back flagged, but still recorded.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"ingredient_id": "ing-flour",
		"quantity":      "10",
		"total_cost":    "20",
		"vendor":        "Mill & Co",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Purchase struct {
			IsPriceAnomaly bool `json:"is_price_anomaly"`
		} `json:"purchase"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Purchase.IsPriceAnomaly {
		t.Fatalf("expected purchase to be flagged as price anomaly")
	}
}

func TestHandlePurchases_BadQuantityIs400(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "storekeeper", "keeper123")
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/purchases", token, map[string]any{
		"ingredient_id": "ing-flour",
		"quantity":      "0",
		"total_cost":    "5",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProductionRuns_MissingRecipeIs422(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "chef", "chef123")

	// prod-croissant is seeded without a recipe.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/production-runs", token, map[string]any{
		"product_id":        "prod-croissant",
		"quantity_produced": "12",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProductionRuns_InsufficientStockIs409(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "chef", "chef123")

	// 2000 buns need 120 kg flour against 25 kg on hand.
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/production-runs", token, map[string]any{
		"product_id":        "prod-burger-bun",
		"quantity_produced": "2000",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProductionRuns_CreateAndDelete(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := loginAs(t, handler, "chef", "chef123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/production-runs", token, map[string]any{
		"product_id":        "prod-burger-bun",
		"quantity_produced": "20",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Run struct {
			ID string `json:"id"`
		} `json:"production_run"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Run.ID == "" {
		t.Fatalf("expected production run id in response")
	}

	wastage := doJSON(t, handler, http.MethodGet, "/api/v1/production-runs/"+created.Run.ID+"/wastage-summary", token, nil)
	if wastage.Code != http.StatusOK {
		t.Fatalf("expected 200 from wastage summary, got %d (body: %s)", wastage.Code, wastage.Body.String())
	}

	deleted := doJSON(t, handler, http.MethodDelete, "/api/v1/production-runs/"+created.Run.ID, token, nil)
	if deleted.Code != http.StatusOK {
		t.Fatalf("expected 200 from delete, got %d (body: %s)", deleted.Code, deleted.Body.String())
	}

	missing := doJSON(t, handler, http.MethodGet, "/api/v1/production-runs/"+created.Run.ID, token, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", missing.Code)
	}
}

func TestHandleShoppingList_RoleMapping(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	chefToken := loginAs(t, handler, "chef", "chef123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/shopping-list", chefToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for chef, got %d", rec.Code)
	}

	keeperToken := loginAs(t, handler, "storekeeper", "keeper123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/shopping-list", keeperToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for storekeeper, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.ShoppingListResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// ing-butter is seeded below its reorder point.
	if len(body.Items) == 0 {
		t.Fatalf("expected at least one shopping list item")
	}
	if body.ShareText == "" {
		t.Fatalf("expected share text to be rendered")
	}
}

func TestHandleAuditLogs_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	keeperToken := loginAs(t, handler, "storekeeper", "keeper123")
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", keeperToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for storekeeper, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
