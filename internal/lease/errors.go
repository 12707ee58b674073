package lease

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no claimable item (or no such item) exists.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that the caller does not own a live lease on the item.
	ErrConflict = errors.New("lease conflict")
	// ErrInvalid reports a malformed request such as an empty holder.
	ErrInvalid = errors.New("invalid request")
)

// Error carries the operation and item behind a lease failure. It unwraps to
// one of the package sentinels so callers can use errors.Is.
type Error struct {
	Op     string
	ItemID int64
	Err    error
}

func (e *Error) Error() string {
	if e.ItemID != 0 {
		return fmt.Sprintf("%s item %d: %v", e.Op, e.ItemID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for transport status mapping.
func (e *Error) ErrorKind() string {
	switch {
	case errors.Is(e.Err, ErrNotFound):
		return "not_found"
	case errors.Is(e.Err, ErrConflict):
		return "conflict"
	case errors.Is(e.Err, ErrInvalid):
		return "validation"
	default:
		return "internal"
	}
}

func newError(op string, id int64, err error) error {
	return &Error{Op: op, ItemID: id, Err: err}
}
