package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/affiliate-tracker/internal/application/attribution"
	"github.com/baechuer/affiliate-tracker/internal/application/webhook"
	"github.com/baechuer/affiliate-tracker/internal/domain"
)

func testEvent() *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:              "wh-new",
		Source:          "refersion",
		ExternalEventID: "evt_1",
		EventType:       "sale",
		Payload:         []byte(`{"order_id":"O1"}`),
		CreatedAt:       fixedNow,
	}
}

var claimColumns = []string{"id", "conversion_id", "inserted"}

func TestRepo_ProcessWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("new_event_runs_fn_and_records_outcome", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (source, external_event_id)")).
			WithArgs("wh-new", "refersion", "evt_1", "sale", `{"order_id":"O1"}`, fixedNow).
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-new", nil, true))
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs("wh-new", 201, nil, "conv-1", fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		var gotID string
		claim, err := r.ProcessWebhook(ctx, testEvent(), func(ctx context.Context, tx attribution.Tx, id string) (webhook.Processed, error) {
			gotID = id
			assert.NotNil(t, tx)
			return webhook.Processed{Outcome: domain.OutcomeConverted, ConversionID: "conv-1"}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, "wh-new", gotID)
		assert.False(t, claim.Duplicate)
		assert.Equal(t, "wh-new", claim.WebhookEventID)
		assert.Equal(t, "conv-1", claim.ConversionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no_match_records_note", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-new", nil, true))
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs("wh-new", 200, "no matching tracking link", nil, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := r.ProcessWebhook(ctx, testEvent(), func(context.Context, attribution.Tx, string) (webhook.Processed, error) {
			return webhook.Processed{Outcome: domain.OutcomeNoMatch}, nil
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate_returns_existing_row_without_fn", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-original", "conv-1", false))
		mock.ExpectCommit()

		called := false
		claim, err := r.ProcessWebhook(ctx, testEvent(), func(context.Context, attribution.Tx, string) (webhook.Processed, error) {
			called = true
			return webhook.Processed{}, nil
		})
		require.NoError(t, err)
		assert.False(t, called)
		assert.True(t, claim.Duplicate)
		assert.Equal(t, "wh-original", claim.WebhookEventID)
		assert.Equal(t, "conv-1", claim.ConversionID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fn_failure_rolls_back_claim", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-new", nil, true))
		mock.ExpectRollback()

		_, err := r.ProcessWebhook(ctx, testEvent(), func(context.Context, attribution.Tx, string) (webhook.Processed, error) {
			return webhook.Processed{}, errors.New("insert commission: boom")
		})
		require.Error(t, err)
		assert.True(t, domain.HasCode(err, domain.CodeStorageUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("validation_error_keeps_its_code", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-new", nil, true))
		mock.ExpectRollback()

		_, err := r.ProcessWebhook(ctx, testEvent(), func(context.Context, attribution.Tx, string) (webhook.Processed, error) {
			return webhook.Processed{}, domain.ErrValidation("order_id is required")
		})
		assert.True(t, domain.HasCode(err, domain.CodeValidation))
	})

	t.Run("store_down", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin().WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

		_, err := r.ProcessWebhook(ctx, testEvent(), nil)
		assert.True(t, domain.HasCode(err, domain.CodeStorageUnavailable))
	})

	t.Run("empty_payload_is_null", func(t *testing.T) {
		r, mock := newMockRepo(t)
		ev := testEvent()
		ev.Payload = nil
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WithArgs("wh-new", "refersion", "evt_1", "sale", nil, fixedNow).
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-new", "c", false))
		mock.ExpectCommit()

		_, err := r.ProcessWebhook(ctx, ev, nil)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("payload_rejected_by_jsonb_is_recorded_without_it", func(t *testing.T) {
		r, mock := newMockRepo(t)
		ev := testEvent()
		ev.Payload = []byte(`{"event_id":"evt_1","metadata":{"n":"\u0000"}}`)

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WithArgs("wh-new", "refersion", "evt_1", "sale", string(ev.Payload), fixedNow).
			WillReturnError(&pgconn.PgError{Code: "22P05", Message: "unsupported Unicode escape sequence"})
		mock.ExpectRollback()
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WithArgs("wh-new", "refersion", "evt_1", "sale", nil, fixedNow).
			WillReturnRows(sqlmock.NewRows(claimColumns).AddRow("wh-new", nil, true))
		mock.ExpectExec("UPDATE webhook_events").
			WithArgs("wh-new", 200, "no matching tracking link", nil, fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		calls := 0
		claim, err := r.ProcessWebhook(ctx, ev, func(context.Context, attribution.Tx, string) (webhook.Processed, error) {
			calls++
			return webhook.Processed{Outcome: domain.OutcomeNoMatch}, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, "wh-new", claim.WebhookEventID)
		assert.False(t, claim.Duplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other_claim_errors_are_not_retried", func(t *testing.T) {
		r, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO webhook_events").
			WillReturnError(&pgconn.PgError{Code: "57014", Message: "canceling statement due to statement timeout"})
		mock.ExpectRollback()

		_, err := r.ProcessWebhook(ctx, testEvent(), nil)
		assert.True(t, domain.HasCode(err, domain.CodeStorageUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
