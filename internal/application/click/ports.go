package click

import (
	"context"
	"time"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

type ClickStore interface {
	// InsertClick appends the click and bumps the link's total_clicks in
	// the same transaction.
	InsertClick(ctx context.Context, c *domain.Click) error
}

// VelocityCounter is optional. Without it the velocity signal is skipped.
type VelocityCounter interface {
	IncrWithExpiry(ctx context.Context, key string, window time.Duration) (int64, error)
}
