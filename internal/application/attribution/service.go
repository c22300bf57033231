package attribution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

// Input is a conversion reported by a network, already validated.
type Input struct {
	WebhookEventID string
	Source         string
	OrderID        string
	OrderAmount    decimal.Decimal
	// ReportedCommission is what the network thinks the commission is.
	// The program rate is authoritative; this is only compared and logged.
	ReportedCommission decimal.Decimal
	Currency           string
	SubID              string
	AffiliateID        string
	OccurredAt         time.Time
}

type Result struct {
	Outcome      domain.Outcome
	ConversionID string
	Amounts      Amounts
}

type Service struct {
	feeRate decimal.Decimal
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(feeRate decimal.Decimal, m *metrics.Metrics) *Service {
	return &Service{
		feeRate: feeRate,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) FeeRate() decimal.Decimal { return s.feeRate }

// Attribute matches in to a tracking link and books the conversion and
// its commission through tx. An unmatched event or an already booked
// order is a normal outcome, not an error.
func (s *Service) Attribute(ctx context.Context, tx Tx, in Input) (Result, error) {
	log := zlog.With().
		Str("source", in.Source).
		Str("webhook_event_id", in.WebhookEventID).
		Str("order_id", in.OrderID).
		Logger()

	token := strings.TrimSpace(in.SubID)
	slug := ExtractSlug(token)
	if token == "" && in.AffiliateID == "" {
		s.metrics.RecordAttribution(string(domain.OutcomeNoMatch))
		log.Warn().Msg("attribution_no_match: no sub-identifier")
		return Result{Outcome: domain.OutcomeNoMatch}, nil
	}

	target, err := tx.FindLinkForAttribution(ctx, token, slug, in.AffiliateID)
	if err != nil {
		return Result{}, fmt.Errorf("find link for %q: %w", in.SubID, err)
	}
	if target == nil {
		s.metrics.RecordAttribution(string(domain.OutcomeNoMatch))
		log.Warn().Str("subid", in.SubID).Str("slug", slug).Msg("attribution_no_match")
		return Result{Outcome: domain.OutcomeNoMatch}, nil
	}

	if in.OrderID == "" {
		return Result{}, domain.ErrValidation("order_id is required for attribution")
	}

	amounts, err := ComputeCommission(target.Program, in.OrderAmount, s.feeRate)
	if err != nil {
		return Result{}, err
	}
	if !in.ReportedCommission.IsZero() && !in.ReportedCommission.Equal(amounts.Gross) {
		log.Info().
			Str("reported", in.ReportedCommission.StringFixed(domain.MinorUnitPlaces)).
			Str("computed", amounts.Gross.StringFixed(domain.MinorUnitPlaces)).
			Msg("reported commission differs from program rate")
	}

	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	conv := &domain.Conversion{
		ID:               uuid.NewString(),
		TrackingLinkID:   target.LinkID,
		WebhookEventID:   in.WebhookEventID,
		OrderID:          in.OrderID,
		OrderAmount:      domain.RoundMinor(in.OrderAmount),
		CommissionAmount: amounts.Gross,
		Currency:         in.Currency,
		SubID:            in.SubID,
		Status:           domain.ConversionPending,
		ConvertedAt:      occurred,
	}
	inserted, err := tx.InsertConversion(ctx, conv)
	if err != nil {
		return Result{}, fmt.Errorf("insert conversion: %w", err)
	}
	if !inserted {
		s.metrics.RecordAttribution(string(domain.OutcomeOrderExists))
		log.Warn().Str("link_id", target.LinkID).Msg("attribution_skipped: order already converted")
		return Result{Outcome: domain.OutcomeOrderExists}, nil
	}

	comm := &domain.Commission{
		ID:           uuid.NewString(),
		InfluencerID: target.InfluencerID,
		ProgramID:    target.Program.ID,
		ConversionID: conv.ID,
		GrossAmount:  amounts.Gross,
		PlatformFee:  amounts.Fee,
		NetAmount:    amounts.Net,
		Status:       domain.CommissionPending,
		CreatedAt:    s.now(),
	}
	if err := tx.InsertCommission(ctx, comm); err != nil {
		return Result{}, fmt.Errorf("insert commission: %w", err)
	}

	if err := tx.IncrementLinkConversions(ctx, target.LinkID, conv.OrderAmount); err != nil {
		return Result{}, fmt.Errorf("increment link stats: %w", err)
	}

	msg, err := conversionCreatedMessage(conv, comm, target)
	if err != nil {
		return Result{}, err
	}
	if err := tx.InsertOutbox(ctx, msg); err != nil {
		return Result{}, fmt.Errorf("insert outbox: %w", err)
	}

	s.metrics.RecordAttribution(string(domain.OutcomeConverted))
	log.Info().
		Str("conversion_id", conv.ID).
		Str("link_id", target.LinkID).
		Str("net", amounts.Net.StringFixed(domain.MinorUnitPlaces)).
		Msg("conversion_attributed")

	return Result{Outcome: domain.OutcomeConverted, ConversionID: conv.ID, Amounts: amounts}, nil
}

func conversionCreatedMessage(conv *domain.Conversion, comm *domain.Commission, t *domain.AttributionTarget) (domain.OutboxMessage, error) {
	body, err := json.Marshal(domain.ConversionCreated{
		ConversionID:   conv.ID,
		WebhookEventID: conv.WebhookEventID,
		OrderID:        conv.OrderID,
		TrackingLinkID: t.LinkID,
		InfluencerID:   t.InfluencerID,
		ProgramID:      t.Program.ID,
		OrderAmount:    conv.OrderAmount.StringFixed(domain.MinorUnitPlaces),
		GrossAmount:    comm.GrossAmount.StringFixed(domain.MinorUnitPlaces),
		PlatformFee:    comm.PlatformFee.StringFixed(domain.MinorUnitPlaces),
		NetAmount:      comm.NetAmount.StringFixed(domain.MinorUnitPlaces),
		Currency:       conv.Currency,
		OccurredAt:     conv.ConvertedAt,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal conversion.created: %w", err)
	}
	return domain.OutboxMessage{
		ID:         uuid.NewString(),
		MessageID:  conv.ID,
		RoutingKey: domain.RoutingKeyConversionCreated,
		Payload:    body,
		OccurredAt: conv.ConvertedAt,
	}, nil
}
