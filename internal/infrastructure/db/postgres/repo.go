package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func scanLink(row interface{ Scan(...any) error }) (domain.LinkDescriptor, error) {
	var l domain.LinkDescriptor
	err := row.Scan(
		&l.ID, &l.Slug, &l.InfluencerID, &l.ProgramID,
		&l.ProductID, &l.DestinationURL, &l.SubID,
		&l.CookieWindowDays,
	)
	return l, err
}

func (r *Repo) GetActiveLinkBySlug(ctx context.Context, slug string) (*domain.LinkDescriptor, error) {
	l, err := scanLink(r.db.QueryRowContext(ctx, getActiveLinkBySlugSQL, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound("link not found")
	}
	if err != nil {
		return nil, storageErr("get link by slug", err)
	}
	return &l, nil
}

func (r *Repo) ListActiveLinks(ctx context.Context, limit int) ([]domain.LinkDescriptor, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, listActiveLinksSQL, limit)
	if err != nil {
		return nil, storageErr("list active links", err)
	}
	defer rows.Close()

	out := make([]domain.LinkDescriptor, 0, limit)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, storageErr("scan link", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list active links", err)
	}
	return out, nil
}
