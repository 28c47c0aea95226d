package cache

import (
	"context"
	"time"

	"bakehouse/backend/internal/domain"
)

// ShoppingListCache shields the reorder scan from repeated dashboard polls.
// Entries are short-lived and invalidated after any stock mutation.
type ShoppingListCache interface {
	Get(ctx context.Context, key string) (*domain.ShoppingListResponse, bool, error)
	Set(ctx context.Context, key string, value *domain.ShoppingListResponse, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

type NoopShoppingListCache struct{}

func (NoopShoppingListCache) Get(_ context.Context, _ string) (*domain.ShoppingListResponse, bool, error) {
	return nil, false, nil
}

func (NoopShoppingListCache) Set(_ context.Context, _ string, _ *domain.ShoppingListResponse, _ time.Duration) error {
	return nil
}

func (NoopShoppingListCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
