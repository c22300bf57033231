package attribution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

// Tx is the set of writes attribution needs. The store hands out an
// implementation bound to the webhook event's transaction, so either all
// of them land or none do.
type Tx interface {
	// FindLinkForAttribution matches a link whose slug equals token or
	// slug, or whose id equals linkID. A literal token match wins over the
	// extracted slug. It returns nil, nil when nothing matches.
	FindLinkForAttribution(ctx context.Context, token, slug, linkID string) (*domain.AttributionTarget, error)

	// InsertConversion returns inserted=false when order_id already exists.
	InsertConversion(ctx context.Context, c *domain.Conversion) (inserted bool, err error)
	InsertCommission(ctx context.Context, c *domain.Commission) error
	IncrementLinkConversions(ctx context.Context, linkID string, revenue decimal.Decimal) error
	InsertOutbox(ctx context.Context, msg domain.OutboxMessage) error
}
