package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/yungbote/chatcore-backend/internal/platform/apierr"
)

// mapErr translates driver failures into the api error taxonomy. Errors that
// already carry a taxonomy kind pass through untouched.
func mapErr(op string, what string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apierr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apierr.NotFound(what)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := strings.TrimSpace(pgErr.Code)
		switch {
		case code == "23505":
			return apierr.Conflict("duplicate", op+": "+pgErr.Message)
		case code == "40001", code == "40P01", code == "55P03":
			return apierr.StoreUnavailable(op, err)
		case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"), strings.HasPrefix(code, "53"):
			return apierr.StoreUnavailable(op, err)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key") {
		return apierr.Conflict("duplicate", op+": "+err.Error())
	}
	return apierr.StoreUnavailable(op, err)
}
