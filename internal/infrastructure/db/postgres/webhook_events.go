package postgres

import (
	"context"
	"database/sql"
	"errors"

	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/affiliate-tracker/internal/application/webhook"
	"github.com/baechuer/affiliate-tracker/internal/domain"
)

var outcomeNotes = map[domain.Outcome]string{
	domain.OutcomeNoMatch:     "no matching tracking link",
	domain.OutcomeOrderExists: "order already converted",
	domain.OutcomeUnhandled:   "event type not attributed",
}

type payloadRejectedError struct{ err error }

func (e *payloadRejectedError) Error() string { return e.err.Error() }
func (e *payloadRejectedError) Unwrap() error { return e.err }

// ProcessWebhook claims (source, external_event_id) and, when this call
// created the row, runs fn in the same transaction. If fn fails nothing
// is kept, so the sender's retry is processed as new.
//
// A payload that parses as JSON but that jsonb refuses is dropped and the
// claim retried without it, so the delivery is still recorded once.
func (r *Repo) ProcessWebhook(ctx context.Context, ev *domain.WebhookEvent, fn webhook.ProcessFunc) (webhook.Claim, error) {
	claim, err := r.processWebhook(ctx, ev, fn, jsonArg(ev.Payload))
	var rejected *payloadRejectedError
	if errors.As(err, &rejected) && ev.Payload != nil {
		zlog.Warn().
			Err(rejected.err).
			Str("source", ev.Source).
			Str("external_event_id", ev.ExternalEventID).
			Msg("webhook payload rejected by store, recording without payload")
		return r.processWebhook(ctx, ev, fn, nil)
	}
	return claim, err
}

func (r *Repo) processWebhook(ctx context.Context, ev *domain.WebhookEvent, fn webhook.ProcessFunc, payload any) (webhook.Claim, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return webhook.Claim{}, storageErr("begin webhook tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		id           string
		conversionID sql.NullString
		inserted     bool
	)
	err = tx.QueryRowContext(ctx, claimWebhookEventSQL,
		ev.ID, ev.Source, ev.ExternalEventID, ev.EventType, payload, ev.CreatedAt,
	).Scan(&id, &conversionID, &inserted)
	if err != nil && payload != nil && isUntranslatable(err) {
		return webhook.Claim{}, &payloadRejectedError{err: err}
	}
	if err != nil {
		return webhook.Claim{}, storageErr("claim webhook event", err)
	}

	if !inserted {
		if err := tx.Commit(); err != nil {
			return webhook.Claim{}, storageErr("commit webhook claim", err)
		}
		return webhook.Claim{
			WebhookEventID: id,
			ConversionID:   conversionID.String,
			Duplicate:      true,
		}, nil
	}

	p, err := fn(ctx, &txRepo{tx: tx, now: r.now}, id)
	if err != nil {
		return webhook.Claim{}, storageErr("process webhook event", err)
	}

	_, err = tx.ExecContext(ctx, completeWebhookEventSQL,
		id, webhook.StatusCode(p.Outcome), nullIfEmpty(outcomeNotes[p.Outcome]),
		nullIfEmpty(p.ConversionID), r.now(),
	)
	if err != nil {
		return webhook.Claim{}, storageErr("complete webhook event", err)
	}

	if err := tx.Commit(); err != nil {
		return webhook.Claim{}, storageErr("commit webhook event", err)
	}
	return webhook.Claim{
		WebhookEventID: id,
		ConversionID:   p.ConversionID,
		Processed:      p,
	}, nil
}
