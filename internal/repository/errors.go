package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stemsi/exstem-kiosk/internal/model"
)

// classify marks data exceptions (class 22) and integrity violations (class 23) as
// model.ErrMalformedData so callers drop them instead of retrying.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "23":
			return fmt.Errorf("%s: %s (%s): %w", op, pgErr.Message, pgErr.Code, model.ErrMalformedData)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
