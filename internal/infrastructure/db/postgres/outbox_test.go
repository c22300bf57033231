package postgres

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, routingKey, messageID string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, routingKey+"/"+messageID)
	return nil
}

var outboxColumns = []string{"id", "message_id", "routing_key", "body", "attempts"}

func expectClaim(mock sqlmock.Sqlmock, rows *sqlmock.Rows, ids ...string) {
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'pending' WHERE status = 'processing'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").WithArgs(outboxBatchSize).WillReturnRows(rows)
	for _, id := range ids {
		mock.ExpectExec(regexp.QuoteMeta("status = 'processing'")).
			WithArgs(id, fixedNow.Add(outboxReservation)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()
}

func TestOutbox_PublishesAndMarksSent(t *testing.T) {
	r, mock := newMockRepo(t)
	pub := &recordingPublisher{}

	expectClaim(mock, sqlmock.NewRows(outboxColumns).
		AddRow("o1", "conv-1", "conversion.created", []byte(`{}`), 0).
		AddRow("o2", "conv-2", "conversion.created", []byte(`{}`), 2), "o1", "o2")
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).WithArgs("o1", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'sent'")).WithArgs("o2", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := r.processOutboxBatch(context.Background(), pub, metrics.New(), zerolog.Nop(), outboxBatchSize)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"conversion.created/conv-1", "conversion.created/conv-2"}, pub.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_FailureSchedulesRetry(t *testing.T) {
	r, mock := newMockRepo(t)
	pub := &recordingPublisher{err: errors.New("NO_ROUTE: conversion.created")}

	expectClaim(mock, sqlmock.NewRows(outboxColumns).
		AddRow("o1", "conv-1", "conversion.created", []byte(`{}`), 1), "o1")
	mock.ExpectExec(regexp.QuoteMeta("attempts = attempts + 1, next_retry_at")).
		WithArgs("o1", sqlmock.AnyArg(), "NO_ROUTE: conversion.created").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := r.processOutboxBatch(context.Background(), pub, nil, zerolog.Nop(), outboxBatchSize)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_LastAttemptIsDead(t *testing.T) {
	r, mock := newMockRepo(t)
	pub := &recordingPublisher{err: errors.New("publish nack")}

	expectClaim(mock, sqlmock.NewRows(outboxColumns).
		AddRow("o1", "conv-1", "conversion.created", []byte(`{}`), outboxMaxAttempts-1), "o1")
	mock.ExpectExec(regexp.QuoteMeta("SET status = 'dead'")).
		WithArgs("o1", "publish nack").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := r.processOutboxBatch(context.Background(), pub, nil, zerolog.Nop(), outboxBatchSize)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutbox_EmptyBatch(t *testing.T) {
	r, mock := newMockRepo(t)
	expectClaim(mock, sqlmock.NewRows(outboxColumns))

	n, err := r.processOutboxBatch(context.Background(), &recordingPublisher{}, nil, zerolog.Nop(), outboxBatchSize)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxBackoff(t *testing.T) {
	assert.GreaterOrEqual(t, outboxBackoff(0), time.Second)
	assert.Less(t, outboxBackoff(3), 9*time.Second)
	assert.LessOrEqual(t, outboxBackoff(40), 30*time.Minute+time.Second)
}
