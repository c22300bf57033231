package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/baechuer/affiliate-tracker/internal/domain"
)

const (
	uniqueViolation         = "23505"
	untranslatableCharacter = "22P05"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// isUntranslatable reports a value jsonb cannot hold, such as a \u0000
// escape inside otherwise valid JSON.
func isUntranslatable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == untranslatableCharacter
}

// storageErr tags err as storage_unavailable unless it already carries a
// domain code.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *domain.AppError
	if errors.As(err, &ae) {
		return err
	}
	return domain.ErrStorageUnavailable(op, err)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func jsonArg(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
