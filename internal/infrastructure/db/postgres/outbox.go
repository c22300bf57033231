package postgres

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/affiliate-tracker/internal/logger"
	"github.com/baechuer/affiliate-tracker/internal/metrics"
)

// OutboxPublisher delivers one outbox row. messageID is stable across
// retries so consumers can dedupe.
type OutboxPublisher interface {
	PublishEvent(ctx context.Context, routingKey, messageID string, body []byte) error
}

type outboxRow struct {
	ID         string
	MessageID  string
	RoutingKey string
	Body       []byte
	Attempts   int
}

// SKIP LOCKED lets several instances poll the same table.
const selectOutboxClaimsSQL = `
SELECT id, message_id, routing_key, body, attempts
FROM event_outbox
WHERE status = 'pending'
  AND next_retry_at <= NOW()
ORDER BY next_retry_at ASC, created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED
`

const updateOutboxClaimSQL = `
UPDATE event_outbox
SET next_retry_at = $2,
    status = 'processing'
WHERE id = $1
`

const markOutboxSentSQL = `
UPDATE event_outbox
SET status = 'sent',
    sent_at = $2,
    last_error = NULL
WHERE id = $1
`

const markOutboxFailedSQL = `
UPDATE event_outbox
SET status = 'pending',
    attempts = attempts + 1,
    next_retry_at = $2,
    last_error = $3
WHERE id = $1
`

const markOutboxDeadSQL = `
UPDATE event_outbox
SET status = 'dead',
    attempts = attempts + 1,
    last_error = $2
WHERE id = $1
`

// Rows stuck in processing after a crash go back to pending once their
// reservation lapses.
const releaseStaleOutboxSQL = `
UPDATE event_outbox
SET status = 'pending'
WHERE status = 'processing' AND next_retry_at <= NOW()
`

const (
	outboxMaxAttempts  = 10
	outboxBatchSize    = 20
	outboxPollInterval = 500 * time.Millisecond
	outboxReservation  = 30 * time.Second
)

func outboxBackoff(attempts int) time.Duration {
	sec := math.Min(math.Pow(2, float64(attempts)), 1800)
	return time.Duration(sec)*time.Second + time.Duration(rand.Intn(1000))*time.Millisecond
}

// StartOutboxWorker polls event_outbox and publishes due rows until ctx
// is cancelled. The returned channel closes when the worker has exited.
func (r *Repo) StartOutboxWorker(ctx context.Context, pub OutboxPublisher, m *metrics.Metrics) <-chan struct{} {
	done := make(chan struct{})
	log := logger.Component("outbox_worker")

	go func() {
		defer close(done)

		// spread instances that start together
		time.Sleep(time.Duration(rand.Intn(1000)) * time.Millisecond)
		ticker := time.NewTicker(outboxPollInterval)
		defer ticker.Stop()

		var lastErr string
		var lastAt time.Time

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("stopped")
				return
			case <-ticker.C:
				if _, err := r.processOutboxBatch(ctx, pub, m, log, outboxBatchSize); err != nil {
					if ctx.Err() != nil {
						continue
					}
					// rate-limit identical errors
					if err.Error() != lastErr || time.Since(lastAt) > 10*time.Second {
						log.Warn().Err(err).Msg("outbox batch failed")
						lastErr = err.Error()
						lastAt = time.Now()
					}
				} else {
					lastErr = ""
				}
			}
		}
	}()
	return done
}

// processOutboxBatch claims due rows in a short transaction, then
// publishes each one outside of it and records the result.
func (r *Repo) processOutboxBatch(ctx context.Context, pub OutboxPublisher, m *metrics.Metrics, log zerolog.Logger, limit int) (int, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.db.ExecContext(claimCtx, releaseStaleOutboxSQL); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(claimCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(claimCtx, selectOutboxClaimsSQL, limit)
	if err != nil {
		return 0, err
	}

	var batch []outboxRow
	for rows.Next() {
		var item outboxRow
		if err := rows.Scan(&item.ID, &item.MessageID, &item.RoutingKey, &item.Body, &item.Attempts); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if len(batch) == 0 {
		return 0, tx.Commit()
	}

	reservation := r.now().Add(outboxReservation)
	for _, item := range batch {
		if _, err := tx.ExecContext(claimCtx, updateOutboxClaimSQL, item.ID, reservation); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	for _, item := range batch {
		r.publishOutboxItem(ctx, pub, m, log, item)
	}
	return len(batch), nil
}

func (r *Repo) publishOutboxItem(ctx context.Context, pub OutboxPublisher, m *metrics.Metrics, log zerolog.Logger, item outboxRow) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := pub.PublishEvent(pubCtx, item.RoutingKey, item.MessageID, item.Body)
	cancel()

	resCtx, cancelRes := context.WithTimeout(ctx, 3*time.Second)
	defer cancelRes()

	if err == nil {
		m.RecordOutbox("sent")
		if _, uerr := r.db.ExecContext(resCtx, markOutboxSentSQL, item.ID, r.now()); uerr != nil {
			log.Warn().Err(uerr).Str("message_id", item.MessageID).Msg("mark outbox sent failed")
		}
		return
	}

	if item.Attempts+1 >= outboxMaxAttempts {
		m.RecordOutbox("dead")
		log.Error().Err(err).
			Str("message_id", item.MessageID).
			Str("routing_key", item.RoutingKey).
			Int("attempts", item.Attempts+1).
			Msg("outbox message dead-lettered")
		_, _ = r.db.ExecContext(resCtx, markOutboxDeadSQL, item.ID, err.Error())
		return
	}

	m.RecordOutbox("retry")
	next := r.now().Add(outboxBackoff(item.Attempts))
	_, _ = r.db.ExecContext(resCtx, markOutboxFailedSQL, item.ID, next, err.Error())
}
