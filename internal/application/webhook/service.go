package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/application/attribution"
	"github.com/baechuer/affiliate-tracker/internal/domain"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

// Result is returned to every caller, duplicate or not. Concurrent calls
// for the same key all see the same WebhookEventID.
type Result struct {
	IsDuplicate    bool
	WebhookEventID string
	ConversionID   string
	Outcome        domain.Outcome
}

type Service struct {
	store      EventStore
	attributor Attributor
	metrics    *metrics.Metrics
	now        func() time.Time
}

func New(store EventStore, attributor Attributor, m *metrics.Metrics) *Service {
	return &Service{
		store:      store,
		attributor: attributor,
		metrics:    m,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest parses a raw delivery and processes it. Validation failures
// return before anything is stored.
func (s *Service) Ingest(ctx context.Context, source string, meta Meta, body []byte) (Result, error) {
	p, err := ParsePayload(source, meta, body)
	if err != nil {
		s.metrics.RecordWebhook(source, "invalid")
		return Result{}, err
	}
	return s.Process(ctx, p, body)
}

// Process records the delivery exactly once per (source, external id).
// The call that creates the row also attributes it, in the same
// transaction. Store failures surface as storage_unavailable so the
// sender retries.
func (s *Service) Process(ctx context.Context, p Payload, raw []byte) (Result, error) {
	source := p.Source()
	log := zlog.With().
		Str("source", source).
		Str("external_event_id", p.ExternalEventID()).
		Str("event_type", p.EventType()).
		Logger()

	if !json.Valid(raw) {
		raw = nil
	}
	ev := &domain.WebhookEvent{
		ID:              uuid.NewString(),
		Source:          source,
		ExternalEventID: p.ExternalEventID(),
		EventType:       p.EventType(),
		Payload:         raw,
		CreatedAt:       s.now(),
	}

	claim, err := s.store.ProcessWebhook(ctx, ev, func(ctx context.Context, tx attribution.Tx, eventID string) (Processed, error) {
		report, ok := p.Conversion()
		if !ok {
			return Processed{Outcome: domain.OutcomeUnhandled}, nil
		}
		res, err := s.attributor.Attribute(ctx, tx, attribution.Input{
			WebhookEventID:     eventID,
			Source:             source,
			OrderID:            report.OrderID,
			OrderAmount:        report.OrderAmount,
			ReportedCommission: report.ReportedCommission,
			Currency:           report.Currency,
			SubID:              report.SubID,
			AffiliateID:        report.AffiliateID,
			OccurredAt:         report.OccurredAt,
		})
		if err != nil {
			return Processed{}, err
		}
		return Processed{Outcome: res.Outcome, ConversionID: res.ConversionID}, nil
	})
	if err != nil {
		s.metrics.RecordWebhookFailure(source)
		if domain.HasCode(err, domain.CodeValidation) {
			log.Warn().Err(err).Msg("webhook_rejected")
			return Result{}, err
		}
		log.Error().Err(err).Msg("webhook_failed")
		if !domain.HasCode(err, domain.CodeStorageUnavailable) {
			err = domain.ErrStorageUnavailable("process webhook", err)
		}
		return Result{}, err
	}

	if claim.Duplicate {
		s.metrics.RecordWebhook(source, string(domain.OutcomeDuplicate))
		s.metrics.RecordWebhookDuplicate(source)
		log.Info().
			Str("webhook_event_id", claim.WebhookEventID).
			Msg("webhook_duplicate")
		return Result{
			IsDuplicate:    true,
			WebhookEventID: claim.WebhookEventID,
			ConversionID:   claim.ConversionID,
			Outcome:        domain.OutcomeDuplicate,
		}, nil
	}

	outcome := claim.Processed.Outcome
	s.metrics.RecordWebhook(source, string(outcome))
	log.Info().
		Str("webhook_event_id", claim.WebhookEventID).
		Str("outcome", string(outcome)).
		Str("conversion_id", claim.ConversionID).
		Msg("webhook_processed")

	return Result{
		WebhookEventID: claim.WebhookEventID,
		ConversionID:   claim.ConversionID,
		Outcome:        outcome,
	}, nil
}

// StatusCode is the HTTP status a delivery with this outcome receives.
// It is also stored on the event row.
func StatusCode(o domain.Outcome) int {
	switch o {
	case domain.OutcomeConverted:
		return http.StatusCreated
	case domain.OutcomeDuplicate:
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}
