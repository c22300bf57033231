package attribution

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

type fakeTx struct {
	links       map[string]*domain.AttributionTarget // by slug
	conversions map[string]*domain.Conversion        // by order id
	commissions []*domain.Commission
	outbox      []domain.OutboxMessage
	revenue     map[string]decimal.Decimal
	conversionN map[string]int

	lookups       [][3]string
	commissionErr error
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		links:       map[string]*domain.AttributionTarget{},
		conversions: map[string]*domain.Conversion{},
		revenue:     map[string]decimal.Decimal{},
		conversionN: map[string]int{},
	}
}

func (f *fakeTx) FindLinkForAttribution(_ context.Context, token, slug, linkID string) (*domain.AttributionTarget, error) {
	f.lookups = append(f.lookups, [3]string{token, slug, linkID})
	if t, ok := f.links[token]; ok {
		return t, nil
	}
	if t, ok := f.links[slug]; ok {
		return t, nil
	}
	for _, t := range f.links {
		if linkID != "" && t.LinkID == linkID {
			return t, nil
		}
	}
	return nil, nil
}

func (f *fakeTx) InsertConversion(_ context.Context, c *domain.Conversion) (bool, error) {
	if _, ok := f.conversions[c.OrderID]; ok {
		return false, nil
	}
	f.conversions[c.OrderID] = c
	return true, nil
}

func (f *fakeTx) InsertCommission(_ context.Context, c *domain.Commission) error {
	if f.commissionErr != nil {
		return f.commissionErr
	}
	f.commissions = append(f.commissions, c)
	return nil
}

func (f *fakeTx) IncrementLinkConversions(_ context.Context, linkID string, revenue decimal.Decimal) error {
	f.revenue[linkID] = f.revenue[linkID].Add(revenue)
	f.conversionN[linkID]++
	return nil
}

func (f *fakeTx) InsertOutbox(_ context.Context, msg domain.OutboxMessage) error {
	f.outbox = append(f.outbox, msg)
	return nil
}

func seededTx() *fakeTx {
	tx := newFakeTx()
	tx.links["abc123"] = &domain.AttributionTarget{
		LinkID:       "link-1",
		Slug:         "abc123",
		InfluencerID: "inf-1",
		Program: domain.Program{
			ID:              "prog-1",
			CommissionType:  domain.CommissionPercent,
			CommissionValue: dec("0.20"),
		},
	}
	return tx
}

func TestAttribute(t *testing.T) {
	ctx := context.Background()

	t.Run("matched_event_books_conversion_and_commission", func(t *testing.T) {
		tx := seededTx()
		svc := New(dec("0.20"), metrics.New())

		res, err := svc.Attribute(ctx, tx, Input{
			WebhookEventID:     "wh-1",
			Source:             "refersion",
			OrderID:            "O1",
			OrderAmount:        dec("75.00"),
			ReportedCommission: dec("15.00"),
			Currency:           "USD",
			SubID:              "abc123",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeConverted, res.Outcome)
		require.NotEmpty(t, res.ConversionID)

		conv := tx.conversions["O1"]
		require.NotNil(t, conv)
		assert.Equal(t, res.ConversionID, conv.ID)
		assert.Equal(t, "link-1", conv.TrackingLinkID)
		assert.Equal(t, "wh-1", conv.WebhookEventID)
		assert.Equal(t, domain.ConversionPending, conv.Status)

		require.Len(t, tx.commissions, 1)
		comm := tx.commissions[0]
		assert.Equal(t, conv.ID, comm.ConversionID)
		assert.Equal(t, "inf-1", comm.InfluencerID)
		assert.Equal(t, domain.CommissionPending, comm.Status)
		assert.Equal(t, "15.00", comm.GrossAmount.StringFixed(2))
		assert.Equal(t, "3.00", comm.PlatformFee.StringFixed(2))
		assert.Equal(t, "12.00", comm.NetAmount.StringFixed(2))

		assert.Equal(t, 1, tx.conversionN["link-1"])
		assert.Equal(t, "75.00", tx.revenue["link-1"].StringFixed(2))

		require.Len(t, tx.outbox, 1)
		assert.Equal(t, domain.RoutingKeyConversionCreated, tx.outbox[0].RoutingKey)
		var evt domain.ConversionCreated
		require.NoError(t, json.Unmarshal(tx.outbox[0].Payload, &evt))
		assert.Equal(t, "12.00", evt.NetAmount)
		assert.Equal(t, "O1", evt.OrderID)
	})

	t.Run("composite_subid_resolves_slug", func(t *testing.T) {
		tx := seededTx()
		res, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{
			OrderID: "O2", OrderAmount: dec("10"), SubID: "inf-1_abc123_1700000000",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeConverted, res.Outcome)
		assert.Equal(t, [3]string{"inf-1_abc123_1700000000", "abc123", ""}, tx.lookups[0])
	})

	t.Run("literal_token_wins_over_extracted_slug", func(t *testing.T) {
		tx := seededTx()
		tx.links["123"] = &domain.AttributionTarget{LinkID: "link-other", Slug: "123", InfluencerID: "inf-2",
			Program: domain.Program{ID: "prog-1", CommissionType: domain.CommissionPercent, CommissionValue: dec("0.20")}}
		tx.links["abc_123"] = &domain.AttributionTarget{LinkID: "link-underscore", Slug: "abc_123", InfluencerID: "inf-3",
			Program: domain.Program{ID: "prog-1", CommissionType: domain.CommissionPercent, CommissionValue: dec("0.20")}}

		res, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{
			OrderID: "O7", OrderAmount: dec("10"), SubID: "abc_123",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeConverted, res.Outcome)
		assert.Equal(t, "link-underscore", tx.conversions["O7"].TrackingLinkID)
		assert.Equal(t, [3]string{"abc_123", "abc_123", ""}, tx.lookups[0])
	})

	t.Run("composite_subid_with_underscored_slug", func(t *testing.T) {
		tx := seededTx()
		tx.links["summer_sale"] = &domain.AttributionTarget{LinkID: "link-summer", Slug: "summer_sale", InfluencerID: "inf-4",
			Program: domain.Program{ID: "prog-1", CommissionType: domain.CommissionPercent, CommissionValue: dec("0.20")}}

		res, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{
			OrderID: "O8", OrderAmount: dec("10"), SubID: "a1b2c3d4_summer_sale_1700000000",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeConverted, res.Outcome)
		assert.Equal(t, "link-summer", tx.conversions["O8"].TrackingLinkID)
	})

	t.Run("affiliate_id_matches_link_id", func(t *testing.T) {
		tx := seededTx()
		res, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{
			OrderID: "O3", OrderAmount: dec("10"), AffiliateID: "link-1",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeConverted, res.Outcome)
	})

	t.Run("unknown_subid_is_no_match_not_error", func(t *testing.T) {
		tx := seededTx()
		res, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{
			OrderID: "O4", OrderAmount: dec("10"), SubID: "nope",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeNoMatch, res.Outcome)
		assert.Empty(t, tx.conversions)
		assert.Empty(t, tx.outbox)
	})

	t.Run("missing_subid_skips_lookup", func(t *testing.T) {
		tx := seededTx()
		res, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{OrderID: "O5"})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeNoMatch, res.Outcome)
		assert.Empty(t, tx.lookups)
	})

	t.Run("existing_order_is_silent_noop", func(t *testing.T) {
		tx := seededTx()
		svc := New(dec("0.20"), nil)
		in := Input{OrderID: "O6", OrderAmount: dec("75.00"), SubID: "abc123"}

		first, err := svc.Attribute(ctx, tx, Input{WebhookEventID: "wh-a", OrderID: in.OrderID, OrderAmount: in.OrderAmount, SubID: in.SubID})
		require.NoError(t, err)
		require.Equal(t, domain.OutcomeConverted, first.Outcome)

		second, err := svc.Attribute(ctx, tx, Input{WebhookEventID: "wh-b", OrderID: in.OrderID, OrderAmount: in.OrderAmount, SubID: in.SubID})
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeOrderExists, second.Outcome)
		assert.Empty(t, second.ConversionID)

		assert.Len(t, tx.conversions, 1)
		assert.Len(t, tx.commissions, 1)
		assert.Len(t, tx.outbox, 1)
		assert.Equal(t, 1, tx.conversionN["link-1"])
	})

	t.Run("write_failure_propagates", func(t *testing.T) {
		tx := seededTx()
		tx.commissionErr = errors.New("connection reset")
		_, err := New(dec("0.20"), nil).Attribute(ctx, tx, Input{OrderID: "O7", OrderAmount: dec("1"), SubID: "abc123"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert commission")
	})

	t.Run("matched_without_order_id_is_validation_error", func(t *testing.T) {
		_, err := New(dec("0.20"), nil).Attribute(ctx, seededTx(), Input{SubID: "abc123"})
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})
}
