// Package apperr defines the three error kinds surfaced by the betting
// engine. Every error leaving the engine wraps exactly one of them.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConstraint means a business rule was violated. The wrapped message
	// explains which rule and is safe to show to players.
	ErrConstraint = errors.New("constraint violation")

	// ErrInternal means storage or infrastructure failed.
	ErrInternal = errors.New("internal error")
)

// Kind classifies an error by the sentinel it wraps.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConstraint
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConstraint:
		return "constraint"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// KindOf reports the kind of err. Errors wrapping none of the sentinels
// report KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConstraint):
		return KindConstraint
	case errors.Is(err, ErrInternal):
		return KindInternal
	default:
		return KindUnknown
	}
}

// NotFound builds an ErrNotFound for the named entity.
func NotFound(entity, key string) error {
	return fmt.Errorf("%s %s: %w", entity, key, ErrNotFound)
}

// Constraint builds an ErrConstraint with a player-facing message.
func Constraint(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraint, fmt.Sprintf(format, args...))
}

// Internal wraps err as ErrInternal unless it is already a NotFound or
// Constraint error, which pass through unchanged.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConstraint) || errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}
