package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

// txRepo is the attribution.Tx bound to a webhook event's transaction.
type txRepo struct {
	tx  *sql.Tx
	now func() time.Time
}

func (r *txRepo) FindLinkForAttribution(ctx context.Context, token, slug, linkID string) (*domain.AttributionTarget, error) {
	var (
		t        domain.AttributionTarget
		commType string
	)
	err := r.tx.QueryRowContext(ctx, findLinkForAttributionSQL, token, slug, linkID).Scan(
		&t.LinkID, &t.Slug, &t.InfluencerID,
		&t.Program.ID, &t.Program.MerchantID, &commType, &t.Program.CommissionValue, &t.Program.CookieWindowDays,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find link for attribution", err)
	}
	t.Program.CommissionType = domain.CommissionType(commType)
	if !t.Program.CommissionType.Valid() {
		return nil, fmt.Errorf("program %s: invalid commission type %q in db", t.Program.ID, commType)
	}
	return &t, nil
}

func (r *txRepo) InsertConversion(ctx context.Context, c *domain.Conversion) (bool, error) {
	res, err := r.tx.ExecContext(ctx, insertConversionSQL,
		c.ID, c.TrackingLinkID, c.WebhookEventID, c.OrderID, c.OrderAmount,
		c.CommissionAmount, c.Currency, c.SubID, string(c.Status), c.ConvertedAt,
	)
	if err != nil {
		return false, storageErr("insert conversion", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr("insert conversion", err)
	}
	return n == 1, nil
}

func (r *txRepo) InsertCommission(ctx context.Context, c *domain.Commission) error {
	_, err := r.tx.ExecContext(ctx, insertCommissionSQL,
		c.ID, c.InfluencerID, c.ProgramID, c.ConversionID,
		c.GrossAmount, c.PlatformFee, c.NetAmount, string(c.Status), c.CreatedAt,
	)
	return storageErr("insert commission", err)
}

func (r *txRepo) IncrementLinkConversions(ctx context.Context, linkID string, revenue decimal.Decimal) error {
	res, err := r.tx.ExecContext(ctx, incrementLinkConversionsSQL, linkID, revenue)
	if err != nil {
		return storageErr("increment link conversions", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storageErr("increment link conversions", fmt.Errorf("link %s not found", linkID))
	}
	return nil
}

func (r *txRepo) InsertOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	occurred := msg.OccurredAt
	if occurred.IsZero() {
		occurred = r.now()
	}
	_, err := r.tx.ExecContext(ctx, insertOutboxSQL,
		msg.ID, msg.MessageID, msg.RoutingKey, string(msg.Payload), occurred.UTC(),
	)
	return storageErr("insert outbox", err)
}
