package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrUpstream         = errors.New("upstream generation error")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrConflict         = errors.New("conflict")
)

// QuotaInfo is attached to QuotaExceeded errors so callers can present a wait time.
type QuotaInfo struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

type Error struct {
	Status int
	Code   string
	Err    error
	Quota  *QuotaInfo

	kind error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the taxonomy sentinel the error was built with.
func (e *Error) Is(target error) bool {
	return e != nil && e.kind != nil && target == e.kind
}

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Status: http.StatusBadRequest, Code: "validation_error", Err: fmt.Errorf(format, args...), kind: ErrValidation}
}

func NotFound(what string) *Error {
	return &Error{Status: http.StatusNotFound, Code: "not_found", Err: fmt.Errorf("%s not found", what), kind: ErrNotFound}
}

func Forbidden(msg string) *Error {
	if msg == "" {
		msg = "forbidden"
	}
	return &Error{Status: http.StatusForbidden, Code: "forbidden", Err: errors.New(msg), kind: ErrForbidden}
}

func QuotaExceeded(q QuotaInfo) *Error {
	return &Error{
		Status: http.StatusTooManyRequests,
		Code:   "quota_exceeded",
		Err:    fmt.Errorf("quota exceeded: %d of %d remaining, resets at %s", q.Remaining, q.Limit, q.ResetAt.UTC().Format(time.RFC3339)),
		Quota:  &q,
		kind:   ErrQuotaExceeded,
	}
}

func Upstream(err error) *Error {
	if err == nil {
		err = errors.New("generation failed")
	}
	return &Error{Status: http.StatusBadGateway, Code: "upstream_error", Err: fmt.Errorf("generation failed: %w", err), kind: ErrUpstream}
}

func StoreUnavailable(op string, err error) *Error {
	if err == nil {
		err = errors.New("unavailable")
	}
	return &Error{Status: http.StatusServiceUnavailable, Code: "store_unavailable", Err: fmt.Errorf("%s: %w", op, err), kind: ErrStoreUnavailable}
}

func Conflict(code string, msg string) *Error {
	if code == "" {
		code = "conflict"
	}
	return &Error{Status: http.StatusConflict, Code: code, Err: errors.New(msg), kind: ErrConflict}
}

// Retryable reports whether the caller may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrUpstream) || errors.Is(err, ErrStoreUnavailable)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e, true
	}
	return nil, false
}
