package calculation

import (
	"errors"
	"fmt"
)

// Kind classifies failures at the calculation boundary.
type Kind int

const (
	KindUnexpected Kind = iota
	KindInvalid
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	default:
		return "unexpected"
	}
}

var (
	ErrInvalidRequest      = errors.New("invalid calculation request")
	ErrFlagNotFound        = errors.New("flag not found")
	ErrCalculationNotFound = errors.New("energy calculation not found")
)

// Error carries the Kind and failing operation alongside the cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err. Errors not produced by this package are
// KindUnexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

func invalid(op, format string, args ...any) error {
	return &Error{Kind: KindInvalid, Op: op, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidRequest}, args...)...)}
}

func notFound(op string, sentinel error, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("%w: %s", sentinel, id)}
}

func unexpected(op string, err error) error {
	return &Error{Kind: KindUnexpected, Op: op, Err: err}
}
