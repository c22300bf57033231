package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

// InsertClick appends c and bumps the link's click counter in one
// transaction. A duplicate click id means an earlier attempt already
// committed, so it counts as success.
func (r *Repo) InsertClick(ctx context.Context, c *domain.Click) error {
	flags, err := json.Marshal(c.FraudFlags)
	if err != nil {
		return fmt.Errorf("marshal fraud flags: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return storageErr("begin click tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, insertClickSQL,
		c.ID, c.TrackingLinkID, c.IPHash, c.UserAgent, c.Referer, c.DeviceFingerprint,
		c.Platform, c.Browser, c.SubID, c.FraudScore, string(flags), c.ClickedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return storageErr("insert click", err)
	}

	if _, err := tx.ExecContext(ctx, incrementLinkClicksSQL, c.TrackingLinkID); err != nil {
		return storageErr("increment link clicks", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit click", err)
	}
	return nil
}
