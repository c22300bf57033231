package redirect

import (
	"context"
	"time"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

// Cache is optional. A nil Cache runs the resolver store-only.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type LinkStore interface {
	// GetActiveLinkBySlug returns a domain not_found error for unknown or
	// inactive slugs.
	GetActiveLinkBySlug(ctx context.Context, slug string) (*domain.LinkDescriptor, error)
	ListActiveLinks(ctx context.Context, limit int) ([]domain.LinkDescriptor, error)
}
