package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"teams_archiver/internal/domain"
)

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// classify tags a store error with its kind. Integrity violations (class
// 23) mean an index invariant broke and are never retried; everything
// else is treated as a momentary store outage.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return domain.NewError(domain.ConstraintViolation, err)
	}
	return domain.NewError(domain.TransientStoreError, err)
}
