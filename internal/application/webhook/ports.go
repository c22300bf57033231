package webhook

import (
	"context"

	"github.com/baechuer/affiliate-tracker/internal/application/attribution"
	"github.com/baechuer/affiliate-tracker/internal/domain"
)

// Processed is what the owning call decided about a new event. The store
// writes it onto the event row before committing.
type Processed struct {
	Outcome      domain.Outcome
	ConversionID string
}

// ProcessFunc runs inside the transaction that created the event row.
// Returning an error rolls the row back so the sender's retry starts
// from scratch.
type ProcessFunc func(ctx context.Context, tx attribution.Tx, webhookEventID string) (Processed, error)

// Claim is the outcome of the atomic insert-or-return on
// (source, external_event_id).
type Claim struct {
	WebhookEventID string
	ConversionID   string
	Duplicate      bool
	Processed      Processed
}

type EventStore interface {
	// ProcessWebhook inserts ev or, when (Source, ExternalEventID) already
	// exists, returns the existing row with Duplicate set. fn only runs for
	// the call that inserted the row.
	ProcessWebhook(ctx context.Context, ev *domain.WebhookEvent, fn ProcessFunc) (Claim, error)
}

type Attributor interface {
	Attribute(ctx context.Context, tx attribution.Tx, in attribution.Input) (attribution.Result, error)
}
